package lwm2m

import (
	"strings"
	"testing"
)

func TestRegisterCoreObjectsInstallsAllThree(t *testing.T) {
	reg := NewRegistry(0)
	RegisterCoreObjects(reg)

	ids := map[uint16]bool{}
	for _, o := range reg.Objects() {
		ids[o.ID] = true
		if !o.IsCore {
			t.Fatalf("object %d registered by RegisterCoreObjects is not marked IsCore", o.ID)
		}
	}
	for _, want := range []uint16{SecurityObjectID, ServerObjectID, DeviceObjectID} {
		if !ids[want] {
			t.Fatalf("RegisterCoreObjects did not register object %d", want)
		}
	}
}

func TestDeviceObjectInstanceReadWrite(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(NewDeviceObject())
	if _, err := reg.CreateInstance(DeviceObjectID, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	p := ResourcePath(DeviceObjectID, 0, 0)
	if err := reg.SetString(p, "Foundries.io"); err != nil {
		t.Fatalf("SetString manufacturer: %v", err)
	}
	got, err := reg.GetString(p)
	if err != nil {
		t.Fatalf("GetString manufacturer: %v", err)
	}
	if got != "Foundries.io" {
		t.Fatalf("manufacturer = %q, want %q", got, "Foundries.io")
	}
}

func TestDeviceObjectOnlyOneInstanceAllowed(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(NewDeviceObject())
	if _, err := reg.CreateInstance(DeviceObjectID, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if _, err := reg.CreateInstance(DeviceObjectID, 1); err == nil {
		t.Fatalf("CreateInstance allowed a second Device instance, want ErrResource")
	}
}

func TestDeviceObjectBatteryLevelIsU8(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(NewDeviceObject())
	if _, err := reg.CreateInstance(DeviceObjectID, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	p := ResourcePath(DeviceObjectID, 0, 9)
	if err := reg.SetUint(p, TypeU8, 300); err != nil {
		t.Fatalf("SetUint: %v", err)
	}
	got, err := reg.GetUint(p)
	if err != nil {
		t.Fatalf("GetUint: %v", err)
	}
	if got != 300&0xff {
		t.Fatalf("battery level = %d, want %d (truncated to u8)", got, 300&0xff)
	}
}

func TestServerObjectLifetimeWritable(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(NewServerObject())
	if _, err := reg.CreateInstance(ServerObjectID, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	p := ResourcePath(ServerObjectID, 0, 1)
	if err := reg.SetUint(p, TypeU32, 86400); err != nil {
		t.Fatalf("SetUint lifetime: %v", err)
	}
	got, err := reg.GetUint(p)
	if err != nil {
		t.Fatalf("GetUint lifetime: %v", err)
	}
	if got != 86400 {
		t.Fatalf("lifetime = %d, want 86400", got)
	}
}

func TestSecurityObjectServerURIReadOnly(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(NewSecurityObject())
	if _, err := reg.CreateInstance(SecurityObjectID, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	p := ResourcePath(SecurityObjectID, 0, 0)
	if err := reg.SetString(p, "coaps://example.invalid"); err == nil {
		t.Fatalf("SetString on the read-only Server URI resource succeeded, want ErrAccess")
	}
}

func TestBuildRegistrationPayloadHidesSecurityEvenWhenRegistered(t *testing.T) {
	reg := NewRegistry(0)
	RegisterCoreObjects(reg)
	if _, err := reg.CreateInstance(SecurityObjectID, 0); err != nil {
		t.Fatalf("CreateInstance security: %v", err)
	}
	if _, err := reg.CreateInstance(DeviceObjectID, 0); err != nil {
		t.Fatalf("CreateInstance device: %v", err)
	}

	payload := BuildRegistrationPayload(reg, int(FormatSenMLCBOR))
	if strings.Contains(payload, "</0>") || strings.Contains(payload, "</0/") {
		t.Fatalf("registration payload %q must not advertise the Security object", payload)
	}
	if !strings.Contains(payload, "</3>") {
		t.Fatalf("registration payload %q is missing the Device object", payload)
	}
}
