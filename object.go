package lwm2m

import "fmt"

// ObjectVersion is the major.minor version of an Object definition.
type ObjectVersion struct {
	Major, Minor uint8
}

func (v ObjectVersion) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Field is a static descriptor for one Resource within an Object, per
// spec.md §3 "Object field": (res_id, permissions, optional, data_type).
type Field struct {
	ResourceID   uint16
	Permissions  Permission
	Optional     bool
	Type         ResourceType
	Multiple     bool // resource holds more than one ResourceInstance
	MaxInstances int  // 0 = unbounded (bounded only by ResourceInstances cap)
}

// CreateFunc allocates the per-instance Resource storage for a newly
// created ObjectInstance. UserCreateFunc, if set, runs after CreateFunc and
// may reject the instance (its error tears the instance back down).
type CreateFunc func(inst *ObjectInstance) error

// DeleteFunc tears down any object-specific state an instance held.
// UserDeleteFunc errors are logged but never block the delete, matching
// spec.md §7's recovery rule.
type DeleteFunc func(inst *ObjectInstance) error

// Object is the static descriptor for an LwM2M Object: its id, version,
// field list and lifecycle hooks. Register once via Registry.RegisterObject.
type Object struct {
	ID           uint16
	Version      ObjectVersion
	IsCore       bool
	Fields       []Field
	MaxInstances int // 0 = unbounded

	CreateFunc     CreateFunc
	UserCreateFunc CreateFunc
	DeleteFunc     DeleteFunc
	UserDeleteFunc DeleteFunc
}

// DefaultCreateFunc builds a CreateFunc that allocates one Resource per
// Field declared on obj, sized to field.MaxInstances (or 8 slots for an
// unbounded Multiple field, 1 otherwise). Objects that need bespoke
// per-instance state set their own CreateFunc instead; this covers the
// common case of a plain data-holding object like Device or Server.
func DefaultCreateFunc(obj *Object) CreateFunc {
	return func(inst *ObjectInstance) error {
		for _, f := range obj.Fields {
			capacity := f.MaxInstances
			if capacity == 0 {
				if f.Multiple {
					capacity = 8
				} else {
					capacity = 1
				}
			}
			inst.Resources = append(inst.Resources, NewResource(f.ResourceID, f.Type, f.Permissions, f.Multiple, capacity))
		}
		return nil
	}
}

// Field looks up a field descriptor by resource id.
func (o *Object) Field(resID uint16) (Field, bool) {
	for _, f := range o.Fields {
		if f.ResourceID == resID {
			return f, true
		}
	}
	return Field{}, false
}

// ObjectInstance is a live instance of an Object: an id unique within the
// object, and the resource array backing it.
type ObjectInstance struct {
	Object     *Object
	InstanceID uint16
	Resources  []*Resource
}

// Resource looks up a live resource by id within the instance.
func (oi *ObjectInstance) Resource(resID uint16) (*Resource, bool) {
	for _, r := range oi.Resources {
		if r.ID == resID {
			return r, true
		}
	}
	return nil, false
}

// Hooks bundles the five optional per-Resource callbacks from spec.md §3.
// This is the Go rendering of design note §9's "callback pointers ->
// sum-type events": rather than one dispatch function keyed by an event
// enum, each hook is its own typed function value, set to nil when unused.
type Hooks struct {
	ReadFunc      func(ri *ResourceInstance) error
	PreWriteFunc  func(ri *ResourceInstance, pending []byte) ([]byte, error)
	PostWriteFunc func(ri *ResourceInstance) error
	ValidateFunc  func(ri *ResourceInstance, pending []byte) error
	ExecuteFunc   func(inst *ObjectInstance, args string) error
}

// Resource is one field of a live ObjectInstance: a fixed number of
// ResourceInstance slots (the capacity given to NewResource) plus its hooks.
type Resource struct {
	ID          uint16
	Type        ResourceType
	Permissions Permission
	Multiple    bool
	Hooks       Hooks

	instances []*ResourceInstance
}

// NewResource allocates a Resource with room for capacity instance slots
// (1 for a single-instance resource).
func NewResource(id uint16, t ResourceType, perms Permission, multiple bool, capacity int) *Resource {
	if capacity < 1 {
		capacity = 1
	}
	r := &Resource{ID: id, Type: t, Permissions: perms, Multiple: multiple}
	r.instances = make([]*ResourceInstance, capacity)
	for i := range r.instances {
		r.instances[i] = &ResourceInstance{ResourceInstanceID: NotCreated}
	}
	return r
}

// Instance returns the created resource-instance whose id is idx (0 for a
// single-instance resource), or nil and false if no slot holds that id.
func (r *Resource) Instance(idx uint16) (*ResourceInstance, bool) {
	for _, ri := range r.instances {
		if ri.ResourceInstanceID == idx {
			return ri, true
		}
	}
	return nil, false
}

// Instances returns every live (created) resource-instance in slot order.
func (r *Resource) Instances() []*ResourceInstance {
	var live []*ResourceInstance
	for _, ri := range r.instances {
		if ri.ResourceInstanceID != NotCreated {
			live = append(live, ri)
		}
	}
	return live
}

// claimSlot returns a free slot for creating resource-instance idx, or
// ErrResource if the resource's fixed capacity is exhausted.
func (r *Resource) claimSlot(idx uint16) (*ResourceInstance, error) {
	if ri, ok := r.Instance(idx); ok {
		return ri, nil
	}
	for _, ri := range r.instances {
		if ri.ResourceInstanceID == NotCreated {
			ri.ResourceInstanceID = idx
			return ri, nil
		}
	}
	return nil, fmt.Errorf("%w: resource %d instance pool exhausted", ErrResource, r.ID)
}

// ResourceInstance is a single typed storage cell. Per spec.md §3's
// invariant, STRING data always carries a trailing NUL not counted in Len,
// while OPAQUE's Len is the exact byte count.
type ResourceInstance struct {
	ResourceInstanceID uint16
	Data               []byte
	ReadOnly           bool

	// typed scalar storage; Data is authoritative for STRING/OPAQUE, these
	// fields back the numeric/bool/time/objlnk types.
	u64    uint64
	i64    int64
	b      bool
	f      float64
	objlnk ObjLnk
}

// Len reports the logical length: byte count for OPAQUE, string length
// (excluding the NUL terminator) for STRING.
func (ri *ResourceInstance) Len() int { return len(ri.Data) }
