package lwm2m

import (
	"errors"
	"testing"
)

func testObject() *Object {
	obj := &Object{
		ID:           3,
		MaxInstances: 1,
		Fields: []Field{
			{ResourceID: 0, Type: TypeString, Permissions: PermRead | PermWrite},
			{ResourceID: 9, Type: TypeU8, Permissions: PermRead | PermWrite},
			{ResourceID: 4, Type: TypeOpaque, Permissions: PermExecute},
		},
	}
	obj.CreateFunc = DefaultCreateFunc(obj)
	return obj
}

func TestRegistryCreateInstanceLifecycle(t *testing.T) {
	reg := NewRegistry(0)
	obj := testObject()
	reg.RegisterObject(obj)

	if _, err := reg.CreateInstance(99, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("create on unknown object: err = %v, want ErrNotFound", err)
	}

	inst, err := reg.CreateInstance(3, 0)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if len(inst.Resources) != 3 {
		t.Fatalf("len(Resources) = %d, want 3", len(inst.Resources))
	}

	if _, err := reg.CreateInstance(3, 0); !errors.Is(err, ErrExist) {
		t.Fatalf("duplicate create: err = %v, want ErrExist", err)
	}
	if _, err := reg.CreateInstance(3, 1); !errors.Is(err, ErrResource) {
		t.Fatalf("over-capacity create: err = %v, want ErrResource", err)
	}

	if err := reg.DeleteInstance(3, 0); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
}

func TestRegistrySetGetString(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(testObject())
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	p := ResourcePath(3, 0, 0)
	if err := reg.SetString(p, "hello"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	got, err := reg.GetString(p)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "hello" {
		t.Fatalf("GetString = %q, want %q", got, "hello")
	}
}

func TestRegistryWriteDeniedReadOnly(t *testing.T) {
	reg := NewRegistry(0)
	obj := &Object{
		ID: 3,
		Fields: []Field{
			{ResourceID: 0, Type: TypeString, Permissions: PermRead},
		},
	}
	obj.CreateFunc = DefaultCreateFunc(obj)
	reg.RegisterObject(obj)
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := reg.SetString(ResourcePath(3, 0, 0), "x"); !errors.Is(err, ErrAccess) {
		t.Fatalf("SetString on read-only resource: err = %v, want ErrAccess", err)
	}
}

func TestRegistryUintTruncation(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(testObject())
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	p := ResourcePath(3, 0, 9)
	if err := reg.SetUint(p, TypeU8, 300); err != nil {
		t.Fatalf("SetUint: %v", err)
	}
	got, err := reg.GetUint(p)
	if err != nil {
		t.Fatalf("GetUint: %v", err)
	}
	if want := uint64(300 & 0xff); got != want {
		t.Fatalf("GetUint = %d, want %d", got, want)
	}
}

type countingNotifier struct{ n int }

func (c *countingNotifier) NotifyPathChanged(p Path) { c.n++ }

func TestRegistryNotifiesOnChange(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(testObject())
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	cn := &countingNotifier{}
	reg.SetNotifier(cn)

	p := ResourcePath(3, 0, 0)
	if err := reg.SetString(p, "a"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := reg.SetString(p, "a"); err != nil {
		t.Fatalf("SetString (no-op write): %v", err)
	}
	if err := reg.SetString(p, "b"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if cn.n != 2 {
		t.Fatalf("notify count = %d, want 2 (unchanged write should not notify)", cn.n)
	}
}

func TestRegistrySetBulk(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(testObject())
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	items := []BulkItem{
		{Path: ResourcePath(3, 0, 0), Type: TypeString, Value: "m"},
		{Path: ResourcePath(3, 0, 9), Type: TypeU8, Value: uint64(42)},
	}
	if err := reg.SetBulk(items); err != nil {
		t.Fatalf("SetBulk: %v", err)
	}
	if v, _ := reg.GetString(ResourcePath(3, 0, 0)); v != "m" {
		t.Fatalf("GetString = %q, want %q", v, "m")
	}
	if v, _ := reg.GetUint(ResourcePath(3, 0, 9)); v != 42 {
		t.Fatalf("GetUint = %d, want 42", v)
	}
}

func TestRegistrySetBulkRejectsUnknownPath(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterObject(testObject())
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	items := []BulkItem{
		{Path: ResourcePath(3, 0, 0), Type: TypeString, Value: "m"},
		{Path: ResourcePath(3, 0, 99), Type: TypeU8, Value: uint64(1)},
	}
	if err := reg.SetBulk(items); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetBulk with unknown path: err = %v, want ErrNotFound", err)
	}
	if v, _ := reg.GetString(ResourcePath(3, 0, 0)); v != "" {
		t.Fatalf("GetString after rejected batch = %q, want empty (no partial apply)", v)
	}
}
