package lwm2m

import (
	"testing"

	"github.com/matrix-org/go-coap/v2/message/codes"
)

func newDispatchTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(0)
	obj := &Object{
		ID:           3,
		MaxInstances: 1,
		Fields: []Field{
			{ResourceID: 0, Type: TypeString, Permissions: PermRead | PermWrite},
			{ResourceID: 4, Type: TypeU8, Permissions: PermExecute},
		},
	}
	obj.CreateFunc = DefaultCreateFunc(obj)
	reg.RegisterObject(obj)
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := reg.SetString(ResourcePath(3, 0, 0), "hello"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	return reg
}

func senmlBody(t *testing.T, p Path, v string) []byte {
	t.Helper()
	w := newSenMLCBORWriter()
	if err := w.PutString(p, v); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	body, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return body
}

func TestDispatcherHandleGET(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{
		Method: MethodGET,
		Path:   ResourcePath(3, 0, 0),
		Accept: uint16(FormatSenMLCBOR), HaveAccept: true,
	})
	if resp.Code != codes.Content {
		t.Fatalf("code = %v, want Content", resp.Code)
	}
	if len(resp.Body) == 0 {
		t.Fatalf("body is empty")
	}
}

func TestDispatcherHandleGETDiscover(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{
		Method: MethodGET,
		Path:   InstancePath(3, 0),
		Accept: uint16(FormatLinkFormat), HaveAccept: true,
	})
	if resp.Code != codes.Content {
		t.Fatalf("code = %v, want Content", resp.Code)
	}
	if resp.ContentFormat != uint16(FormatLinkFormat) {
		t.Fatalf("content format = %v, want link-format", resp.ContentFormat)
	}
}

func TestDispatcherHandleWriteReplace(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	p := ResourcePath(3, 0, 0)
	resp := d.Handle(&Request{
		Method: MethodPUT, Path: p,
		ContentFormat: uint16(FormatSenMLCBOR), HaveFormat: true,
		Body: senmlBody(t, p, "updated"),
	})
	if resp.Code != codes.Changed {
		t.Fatalf("code = %v, want Changed", resp.Code)
	}
	got, err := reg.GetString(p)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "updated" {
		t.Fatalf("value = %q, want %q", got, "updated")
	}
}

func TestDispatcherHandleCreate(t *testing.T) {
	reg := NewRegistry(0)
	obj := &Object{
		ID:           3,
		MaxInstances: 2,
		Fields: []Field{
			{ResourceID: 0, Type: TypeString, Permissions: PermRead | PermWrite},
		},
	}
	obj.CreateFunc = DefaultCreateFunc(obj)
	reg.RegisterObject(obj)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{
		Method: MethodPOST, Path: ObjectPath(3),
		ContentFormat: uint16(FormatSenMLCBOR), HaveFormat: true,
		Body: senmlBody(t, ResourcePath(3, 7, 0), "created"),
	})
	if resp.Code != codes.Created {
		t.Fatalf("code = %v, want Created", resp.Code)
	}
	got, err := reg.GetString(ResourcePath(3, 7, 0))
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "created" {
		t.Fatalf("value = %q, want %q", got, "created")
	}
}

func TestDispatcherHandleDelete(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{Method: MethodDELETE, Path: InstancePath(3, 0)})
	if resp.Code != codes.Deleted {
		t.Fatalf("code = %v, want Deleted", resp.Code)
	}
	if _, err := reg.GetString(ResourcePath(3, 0, 0)); err == nil {
		t.Fatalf("resource still readable after delete")
	}
}

func TestDispatcherHandleDeleteWrongLevel(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{Method: MethodDELETE, Path: ObjectPath(3)})
	if resp.Code != CoAPStatus(ErrInvalid) {
		t.Fatalf("code = %v, want mapped ErrInvalid", resp.Code)
	}
}

func TestDispatcherHandleExecute(t *testing.T) {
	reg := NewRegistry(0)
	var gotArgs string
	obj := &Object{
		ID: 3,
		Fields: []Field{
			{ResourceID: 4, Type: TypeU8, Permissions: PermExecute},
		},
	}
	obj.CreateFunc = func(inst *ObjectInstance) error {
		inst.Resources = append(inst.Resources, &Resource{ID: 4, Type: TypeU8, Hooks: Hooks{
			ExecuteFunc: func(inst *ObjectInstance, args string) error {
				gotArgs = args
				return nil
			},
		}})
		return nil
	}
	reg.RegisterObject(obj)
	if _, err := reg.CreateInstance(3, 0); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{Method: MethodPOST, Path: ResourcePath(3, 0, 4), Body: []byte("go")})
	if resp.Code != codes.Changed {
		t.Fatalf("code = %v, want Changed", resp.Code)
	}
	if gotArgs != "go" {
		t.Fatalf("args passed to ExecuteFunc = %q, want %q", gotArgs, "go")
	}
}

func TestDispatcherHandleExecuteDeniedWithoutHook(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{Method: MethodPOST, Path: ResourcePath(3, 0, 4)})
	if resp.Code != CoAPStatus(ErrMethodDenied) {
		t.Fatalf("code = %v, want mapped ErrMethodDenied", resp.Code)
	}
}

type denyAll struct{}

func (denyAll) Allowed(string, Path, Method) bool { return false }

func TestDispatcherAccessControlDenied(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))
	d.ACL = denyAll{}

	resp := d.Handle(&Request{Method: MethodGET, Path: ResourcePath(3, 0, 0)})
	if resp.Code != CoAPStatus(ErrAccess) {
		t.Fatalf("code = %v, want mapped ErrAccess", resp.Code)
	}
}

func TestDispatcherHandleWriteAttributes(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	p := ResourcePath(3, 0, 0)
	resp := d.Handle(&Request{
		Method: MethodPUT, Path: p,
		Query: map[string]string{"pmin": "5", "pmax": "60"},
	})
	if resp.Code != codes.Changed {
		t.Fatalf("code = %v, want Changed", resp.Code)
	}
	eff := reg.Attrs().Effective(p, 0, 0)
	if !eff.HavePMin || eff.PMin != 5 {
		t.Fatalf("pmin = %+v, want 5", eff)
	}
	if !eff.HavePMax || eff.PMax != 60 {
		t.Fatalf("pmax = %+v, want 60", eff)
	}
}

func TestDispatcherHandleWriteAttributesInvalid(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{
		Method: MethodPUT, Path: ResourcePath(3, 0, 0),
		Query: map[string]string{"pmin": "not-a-number"},
	})
	if resp.Code == codes.Changed {
		t.Fatalf("code = Changed, want an error response for invalid pmin")
	}
}

func TestDispatcherHandleObserveRequest(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	n := NewNotificationEngine(reg, 0, 0, nil)
	d := NewDispatcher(reg, n)

	resp := d.Handle(&Request{
		Method: MethodGET, Path: ResourcePath(3, 0, 0),
		Accept: uint16(FormatSenMLCBOR), HaveAccept: true,
		Observe: 0, HaveObserve: true,
		ServerAddr: "server1", Token: []byte{1, 2},
	})
	if resp.Code != codes.Content {
		t.Fatalf("code = %v, want Content", resp.Code)
	}
	if len(resp.Body) == 0 {
		t.Fatalf("observe response body empty")
	}
}

func TestDispatcherHandleCompositeWrite(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	p := ResourcePath(3, 0, 0)
	w := newSenMLCBORWriter()
	if err := w.PutString(p, "bulked"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	body, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	resp := d.Handle(&Request{
		Method: MethodIPATCH, Path: p,
		ContentFormat: uint16(FormatSenMLCBOR), HaveFormat: true,
		Body: body,
	})
	if resp.Code != codes.Changed {
		t.Fatalf("code = %v, want Changed", resp.Code)
	}
	got, err := reg.GetString(p)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "bulked" {
		t.Fatalf("value = %q, want %q", got, "bulked")
	}
}

func TestDispatcherHandleCompositeRead(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg, NewNotificationEngine(reg, 0, 0, nil))

	resp := d.Handle(&Request{
		Method: MethodFETCH,
		Paths:  []Path{ResourcePath(3, 0, 0)},
		Accept: uint16(FormatSenMLCBOR), HaveAccept: true,
	})
	if resp.Code != codes.Content {
		t.Fatalf("code = %v, want Content", resp.Code)
	}
	if len(resp.Body) == 0 {
		t.Fatalf("composite read body empty")
	}
}
