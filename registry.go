package lwm2m

import (
	"fmt"
	"math"
	"sync"
)

// ChangeNotifier is implemented by the observation engine (observe.go) and
// invoked by the registry whenever a writable, readable resource actually
// changes value, per spec.md §4.1 step (g).
type ChangeNotifier interface {
	NotifyPathChanged(p Path)
}

// Registry is the process-wide, intentionally-global store of registered
// Objects and live Object Instances described in spec.md §1 Non-goals
// ("running without a process-wide registry ... is a non-goal") and §4.1.
// The package declares a DefaultRegistry instance, while NewEngine builds
// its own; the type itself carries no hidden globals, so tests can build
// isolated instances.
type Registry struct {
	mu sync.Mutex

	objects   []*Object
	instances []*ObjectInstance
	attrs     *AttributePool
	notifier  ChangeNotifier
}

// NewRegistry builds an empty registry with an attribute pool bounded to
// attrCapacity entries (0 = unbounded, used by tests).
func NewRegistry(attrCapacity int) *Registry {
	return &Registry{attrs: NewAttributePool(attrCapacity)}
}

// DefaultRegistry is the package-wide singleton registry, matching
// spec.md's documented "process-wide mutable state" design (§9).
var DefaultRegistry = NewRegistry(64)

// SetNotifier installs the observation engine as the registry's change
// notifier. Called once during Engine construction.
func (r *Registry) SetNotifier(n ChangeNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// RegisterObject appends obj to the process-wide object list.
func (r *Registry) RegisterObject(obj *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = append(r.objects, obj)
}

// UnregisterObject removes obj from the object list and evicts every
// observer whose path's obj_id matches, per spec.md §4.1.
func (r *Registry) UnregisterObject(obj *Object) {
	r.mu.Lock()
	var kept []*ObjectInstance
	for _, inst := range r.instances {
		if inst.Object == obj {
			r.attrs.ClearAll(InstancePath(obj.ID, inst.InstanceID))
			continue
		}
		kept = append(kept, inst)
	}
	r.instances = kept
	for i, o := range r.objects {
		if o == obj {
			r.objects = append(r.objects[:i], r.objects[i+1:]...)
			break
		}
	}
	notifier := r.notifier
	r.mu.Unlock()
	if notifier != nil {
		if c, ok := notifier.(interface{ CancelByPath(Path) }); ok {
			c.CancelByPath(ObjectPath(obj.ID))
		} else {
			notifier.NotifyPathChanged(ObjectPath(obj.ID))
		}
	}
}

// Objects returns the registered objects.
func (r *Registry) Objects() []*Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Object, len(r.objects))
	copy(out, r.objects)
	return out
}

func (r *Registry) findObject(objID uint16) *Object {
	for _, o := range r.objects {
		if o.ID == objID {
			return o
		}
	}
	return nil
}

// Instances returns the live instances of the given object, in insertion
// order (level-1 READ enumerates them in this order).
func (r *Registry) Instances(objID uint16) []*ObjectInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ObjectInstance
	for _, inst := range r.instances {
		if inst.Object.ID == objID {
			out = append(out, inst)
		}
	}
	return out
}

func (r *Registry) findInstance(objID, instID uint16) *ObjectInstance {
	for _, inst := range r.instances {
		if inst.Object.ID == objID && inst.InstanceID == instID {
			return inst
		}
	}
	return nil
}

// CreateInstance allocates a new ObjectInstance under objID with id instID,
// per spec.md §4.1's exact error semantics: ErrNotFound for an unknown
// object, ErrResource when instance capacity is reached, ErrExist when
// instID is already live.
func (r *Registry) CreateInstance(objID, instID uint16) (*ObjectInstance, error) {
	r.mu.Lock()
	obj := r.findObject(objID)
	if obj == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: object %d", ErrNotFound, objID)
	}
	if obj.MaxInstances > 0 {
		count := 0
		for _, inst := range r.instances {
			if inst.Object == obj {
				count++
			}
		}
		if count >= obj.MaxInstances {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: object %d instance capacity reached", ErrResource, objID)
		}
	}
	if r.findInstance(objID, instID) != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: instance %d/%d", ErrExist, objID, instID)
	}
	inst := &ObjectInstance{Object: obj, InstanceID: instID}
	r.instances = append(r.instances, inst)
	r.mu.Unlock()

	if obj.CreateFunc != nil {
		if err := obj.CreateFunc(inst); err != nil {
			r.dropInstance(inst)
			return nil, err
		}
	}
	if obj.UserCreateFunc != nil {
		if err := obj.UserCreateFunc(inst); err != nil {
			r.destroyInstance(inst)
			return nil, err
		}
	}
	return inst, nil
}

func (r *Registry) dropInstance(inst *ObjectInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.instances {
		if e == inst {
			r.instances = append(r.instances[:i], r.instances[i+1:]...)
			return
		}
	}
}

// DeleteInstance tears down the instance at (objID, instID), per spec.md
// §4.1 and §7: UserDeleteFunc errors are logged but never block the delete.
func (r *Registry) DeleteInstance(objID, instID uint16) error {
	r.mu.Lock()
	inst := r.findInstance(objID, instID)
	r.mu.Unlock()
	if inst == nil {
		return fmt.Errorf("%w: instance %d/%d", ErrNotFound, objID, instID)
	}
	return r.destroyInstance(inst)
}

func (r *Registry) destroyInstance(inst *ObjectInstance) error {
	obj := inst.Object
	if obj.UserDeleteFunc != nil {
		if err := obj.UserDeleteFunc(inst); err != nil && DefaultLogger != nil {
			DefaultLogger.Printf("user_delete_cb for %d/%d failed (ignored): %v", obj.ID, inst.InstanceID, err)
		}
	}
	r.dropInstance(inst)

	r.mu.Lock()
	r.attrs.ClearAll(InstancePath(obj.ID, inst.InstanceID))
	for _, res := range inst.Resources {
		r.attrs.ClearAll(ResourcePath(obj.ID, inst.InstanceID, res.ID))
	}
	r.mu.Unlock()

	if obj.DeleteFunc != nil {
		return obj.DeleteFunc(inst)
	}
	return nil
}

// resolved is the result of walking a Path down to its four hierarchical
// objects, per spec.md §4.1's path_to_objs.
type resolved struct {
	Inst  *ObjectInstance
	Field *Field
	Res   *Resource
	RI    *ResourceInstance
}

// resolve implements path_to_objs: a missing resource-instance is not an
// error (RI is nil), but a missing resource or instance is (ErrNotFound).
func (r *Registry) resolve(p Path) (resolved, error) {
	if p.Level < 2 {
		return resolved{}, fmt.Errorf("%w: path %s below instance level", ErrInvalid, p)
	}
	r.mu.Lock()
	inst := r.findInstance(p.ObjectID, p.InstanceID)
	r.mu.Unlock()
	if inst == nil {
		return resolved{}, fmt.Errorf("%w: instance %s", ErrNotFound, p)
	}
	out := resolved{Inst: inst}
	if p.Level == 2 {
		return out, nil
	}
	field, ok := inst.Object.Field(p.ResourceID)
	if !ok {
		return resolved{}, fmt.Errorf("%w: resource %s", ErrNotFound, p)
	}
	out.Field = &field
	res, ok := inst.Resource(p.ResourceID)
	if !ok {
		return resolved{}, fmt.Errorf("%w: resource %s", ErrNotFound, p)
	}
	out.Res = res
	if p.Level == 3 {
		out.RI, _ = res.Instance(0)
		return out, nil
	}
	ri, _ := res.Instance(p.ResourceInstanceID)
	out.RI = ri
	return out, nil
}

// PathToObjs exposes the path_to_objs resolution for callers outside this
// package (the dispatcher and observation engine).
func (r *Registry) PathToObjs(p Path) (inst *ObjectInstance, field *Field, res *Resource, ri *ResourceInstance, err error) {
	out, err := r.resolve(p)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return out.Inst, out.Field, out.Res, out.RI, nil
}

// engineSet performs the single engine-set choke point described in
// spec.md §4.1 (a)-(g): validate path/permission, pre-write, validate,
// typed copy, post-write, then notify observers if the value actually
// changed and the field is readable.
func (r *Registry) engineSet(p Path, t ResourceType, encode func(ri *ResourceInstance) ([]byte, error), apply func(ri *ResourceInstance)) error {
	if p.Level < 3 {
		return fmt.Errorf("%w: write requires at least resource level, got %s", ErrInvalid, p)
	}
	out, err := r.resolve(p)
	if err != nil {
		return err
	}
	if out.Field.Type != t {
		return fmt.Errorf("%w: resource %s is %s, not %s", ErrInvalid, p, out.Field.Type, t)
	}
	if !out.Field.Permissions.Has(PermWrite) {
		return fmt.Errorf("%w: resource %s is read-only", ErrAccess, p)
	}
	idx := p.ResourceInstanceID
	if p.Level < 4 {
		idx = 0
	}
	r.mu.Lock()
	ri, err := out.Res.claimSlot(idx)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if ri.ReadOnly {
		return fmt.Errorf("%w: resource instance %s is read-only", ErrAccess, p)
	}

	pending, err := encode(ri)
	if err != nil {
		return err
	}
	if out.Res.Hooks.PreWriteFunc != nil {
		pending, err = out.Res.Hooks.PreWriteFunc(ri, pending)
		if err != nil {
			return err
		}
	}
	if out.Res.Hooks.ValidateFunc != nil {
		if err := out.Res.Hooks.ValidateFunc(ri, pending); err != nil {
			return err
		}
	}

	before := *ri
	beforeData := append([]byte(nil), ri.Data...)
	applyEncoded(ri, t, pending)
	apply(ri)
	changed := valueChanged(t, before, beforeData, ri)

	if out.Res.Hooks.PostWriteFunc != nil {
		if err := out.Res.Hooks.PostWriteFunc(ri); err != nil {
			return err
		}
	}
	if changed && out.Field.Permissions.Has(PermRead) {
		r.mu.Lock()
		notifier := r.notifier
		r.mu.Unlock()
		if notifier != nil {
			notifier.NotifyPathChanged(p)
		}
	}
	return nil
}

func applyEncoded(ri *ResourceInstance, t ResourceType, pending []byte) {
	if t == TypeString || t == TypeOpaque || t == TypeObjLnk {
		ri.Data = pending
	}
}

// valueChanged compares ri's post-write value against its pre-write
// snapshot (before/beforeData), per the type actually written: numeric,
// bool, and time resources never touch ri.Data, so comparing Data alone
// (as a byte-backed type would) always reports "unchanged" for them and
// silently drops their change notifications.
func valueChanged(t ResourceType, before ResourceInstance, beforeData []byte, ri *ResourceInstance) bool {
	switch t {
	case TypeString, TypeOpaque:
		return string(beforeData) != string(ri.Data)
	case TypeU8, TypeU16, TypeU32, TypeU64:
		return before.u64 != ri.u64
	case TypeS8, TypeS16, TypeS32, TypeS64:
		return before.i64 != ri.i64
	case TypeBool:
		return before.b != ri.b
	case TypeTime:
		return before.i64 != ri.i64
	case TypeFloat:
		return before.f != ri.f
	case TypeObjLnk:
		return before.objlnk != ri.objlnk
	default:
		return string(beforeData) != string(ri.Data)
	}
}

// SetString writes a STRING resource. Per spec.md §3/§8 invariant 1, the
// stored buffer always carries a trailing NUL excluded from Len().
func (r *Registry) SetString(p Path, v string) error {
	return r.engineSet(p, TypeString, func(ri *ResourceInstance) ([]byte, error) {
		return append([]byte(v), 0), nil
	}, func(ri *ResourceInstance) {
		if n := len(ri.Data); n > 0 && ri.Data[n-1] == 0 {
			ri.Data = ri.Data[:n-1]
		}
		ri.Data = append(append([]byte(nil), ri.Data...), 0)
	})
}

// GetString reads a STRING resource's value (without the NUL terminator).
func (r *Registry) GetString(p Path) (string, error) {
	out, err := r.resolve(p)
	if err != nil {
		return "", err
	}
	if out.RI == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	d := out.RI.Data
	if n := len(d); n > 0 && d[n-1] == 0 {
		d = d[:n-1]
	}
	return string(d), nil
}

// SetOpaque writes an OPAQUE resource. Per invariant 2, Len() is the exact
// byte count; no terminator is implied.
func (r *Registry) SetOpaque(p Path, v []byte) error {
	return r.engineSet(p, TypeOpaque, func(ri *ResourceInstance) ([]byte, error) {
		return append([]byte(nil), v...), nil
	}, func(ri *ResourceInstance) {})
}

// GetOpaque reads an OPAQUE resource's value.
func (r *Registry) GetOpaque(p Path) ([]byte, error) {
	out, err := r.resolve(p)
	if err != nil {
		return nil, err
	}
	if out.RI == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return append([]byte(nil), out.RI.Data...), nil
}

// SetUint writes an unsigned integer resource (U8/U16/U32/U64), truncating
// per the target width (spec.md §4.1 "numeric widening rules").
func (r *Registry) SetUint(p Path, t ResourceType, v uint64) error {
	v = truncateUint(v, t)
	return r.engineSet(p, t, func(ri *ResourceInstance) ([]byte, error) { return nil, nil },
		func(ri *ResourceInstance) { ri.u64 = v })
}

// GetUint reads an unsigned integer resource.
func (r *Registry) GetUint(p Path) (uint64, error) {
	out, err := r.resolve(p)
	if err != nil {
		return 0, err
	}
	if out.RI == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return out.RI.u64, nil
}

// SetInt writes a signed integer resource (S8/S16/S32/S64).
func (r *Registry) SetInt(p Path, t ResourceType, v int64) error {
	v = truncateInt(v, t)
	return r.engineSet(p, t, func(ri *ResourceInstance) ([]byte, error) { return nil, nil },
		func(ri *ResourceInstance) { ri.i64 = v })
}

// GetInt reads a signed integer resource.
func (r *Registry) GetInt(p Path) (int64, error) {
	out, err := r.resolve(p)
	if err != nil {
		return 0, err
	}
	if out.RI == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return out.RI.i64, nil
}

// SetBool writes a BOOL resource.
func (r *Registry) SetBool(p Path, v bool) error {
	return r.engineSet(p, TypeBool, func(ri *ResourceInstance) ([]byte, error) { return nil, nil },
		func(ri *ResourceInstance) { ri.b = v })
}

// GetBool reads a BOOL resource.
func (r *Registry) GetBool(p Path) (bool, error) {
	out, err := r.resolve(p)
	if err != nil {
		return false, err
	}
	if out.RI == nil {
		return false, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return out.RI.b, nil
}

// SetTime writes a TIME resource (unix seconds).
func (r *Registry) SetTime(p Path, v int64) error {
	return r.engineSet(p, TypeTime, func(ri *ResourceInstance) ([]byte, error) { return nil, nil },
		func(ri *ResourceInstance) { ri.i64 = v })
}

// GetTime reads a TIME resource (unix seconds).
func (r *Registry) GetTime(p Path) (int64, error) {
	out, err := r.resolve(p)
	if err != nil {
		return 0, err
	}
	if out.RI == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return out.RI.i64, nil
}

// SetFloat writes a FLOAT resource (IEEE-754 binary64), always stored as 8
// bytes per spec.md §4.1's invariant.
func (r *Registry) SetFloat(p Path, v float64) error {
	return r.engineSet(p, TypeFloat, func(ri *ResourceInstance) ([]byte, error) { return nil, nil },
		func(ri *ResourceInstance) { ri.f = v })
}

// GetFloat reads a FLOAT resource.
func (r *Registry) GetFloat(p Path) (float64, error) {
	out, err := r.resolve(p)
	if err != nil {
		return 0, err
	}
	if out.RI == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return out.RI.f, nil
}

// SetObjLnk writes an OBJLNK resource (pair of u16).
func (r *Registry) SetObjLnk(p Path, v ObjLnk) error {
	return r.engineSet(p, TypeObjLnk, func(ri *ResourceInstance) ([]byte, error) {
		return []byte{byte(v.ObjectID >> 8), byte(v.ObjectID), byte(v.InstanceID >> 8), byte(v.InstanceID)}, nil
	}, func(ri *ResourceInstance) {
		ri.objlnk = v
	})
}

// GetObjLnk reads an OBJLNK resource.
func (r *Registry) GetObjLnk(p Path) (ObjLnk, error) {
	out, err := r.resolve(p)
	if err != nil {
		return ObjLnk{}, err
	}
	if out.RI == nil {
		return ObjLnk{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return out.RI.objlnk, nil
}

// BulkItem is one entry of a SetBulk batch.
type BulkItem struct {
	Path  Path
	Type  ResourceType
	Value interface{} // matches Type: string, []byte, uint64, int64, bool, float64, ObjLnk
}

// SetBulk resolves every item's path before writing any of them, so an
// unknown path rejects the whole batch with nothing written or notified.
// Items are then written in order through the typed setters, each
// notifying its own observers; if a later write fails, the earlier items
// stay written and their observers have already been notified.
func (r *Registry) SetBulk(items []BulkItem) error {
	for _, it := range items {
		if _, err := r.resolve(it.Path); err != nil {
			return err
		}
	}
	var changed []Path
	for _, it := range items {
		var err error
		switch it.Type {
		case TypeString:
			err = r.SetString(it.Path, it.Value.(string))
		case TypeOpaque:
			err = r.SetOpaque(it.Path, it.Value.([]byte))
		case TypeU8, TypeU16, TypeU32, TypeU64:
			err = r.SetUint(it.Path, it.Type, it.Value.(uint64))
		case TypeS8, TypeS16, TypeS32, TypeS64:
			err = r.SetInt(it.Path, it.Type, it.Value.(int64))
		case TypeBool:
			err = r.SetBool(it.Path, it.Value.(bool))
		case TypeTime:
			err = r.SetTime(it.Path, it.Value.(int64))
		case TypeFloat:
			err = r.SetFloat(it.Path, it.Value.(float64))
		case TypeObjLnk:
			err = r.SetObjLnk(it.Path, it.Value.(ObjLnk))
		default:
			err = fmt.Errorf("%w: unknown type for %s", ErrInvalid, it.Path)
		}
		if err != nil {
			return fmt.Errorf("set_bulk: %s: %w", it.Path, err)
		}
		changed = append(changed, it.Path)
	}
	_ = changed // notifications already fired per-item inside engineSet
	return nil
}

// Attrs exposes the registry's attribute pool to the dispatcher and
// observation engine (write-attributes, inheritance).
func (r *Registry) Attrs() *AttributePool { return r.attrs }

// Float64Equal reports approximate equality within the 1e-9 tolerance
// spec.md §8 uses for FLOAT round-trips.
func Float64Equal(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
