package lwm2m

import (
	"errors"
	"fmt"
)

// encodePathInto serializes every readable resource at or below p into w,
// the single read-side choke point mirroring engineSet's write-side one:
// READ, NOTIFY payload rendering, and composite-read/observe all drive
// through this, so permission checks and type dispatch live in exactly one
// place rather than being duplicated per operation.
func encodePathInto(reg *Registry, w Writer, p Path) error {
	switch p.Level {
	case 1:
		return encodeObject(reg, w, p.ObjectID)
	case 2:
		inst, _, _, _, err := reg.PathToObjs(p)
		if err != nil {
			return err
		}
		return encodeInstance(reg, w, inst)
	case 3:
		return encodeResource(reg, w, p)
	case 4:
		return encodeResourceInstance(reg, w, p)
	default:
		return fmt.Errorf("%w: cannot read path %s", ErrInvalid, p)
	}
}

func encodeObject(reg *Registry, w Writer, objID uint16) error {
	insts := reg.Instances(objID)
	if err := w.PutBeginOI(ObjectPath(objID)); err != nil {
		return err
	}
	for _, inst := range insts {
		if err := encodeInstance(reg, w, inst); err != nil {
			return err
		}
	}
	return w.PutEndOI()
}

func encodeInstance(reg *Registry, w Writer, inst *ObjectInstance) error {
	p := InstancePath(inst.Object.ID, inst.InstanceID)
	if err := w.PutBeginRI(p); err != nil {
		return err
	}
	for _, f := range inst.Object.Fields {
		if !f.Permissions.Has(PermRead) {
			continue
		}
		rp := ResourcePath(inst.Object.ID, inst.InstanceID, f.ResourceID)
		if err := encodeResource(reg, w, rp); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
	}
	return w.PutEndRI()
}

func encodeResource(reg *Registry, w Writer, p Path) error {
	_, field, res, _, err := reg.PathToObjs(p)
	if err != nil {
		return err
	}
	if !field.Permissions.Has(PermRead) {
		return fmt.Errorf("%w: resource %s is not readable", ErrAccess, p)
	}
	if field.Multiple {
		if err := w.PutBeginR(p); err != nil {
			return err
		}
		for _, ri := range res.Instances() {
			rp := Path{ObjectID: p.ObjectID, InstanceID: p.InstanceID, ResourceID: p.ResourceID, ResourceInstanceID: ri.ResourceInstanceID, Level: 4}
			if err := encodeTypedValue(reg, w, rp, res.Type); err != nil {
				return err
			}
		}
		return w.PutEndR()
	}
	return encodeTypedValue(reg, w, p, res.Type)
}

func encodeResourceInstance(reg *Registry, w Writer, p Path) error {
	_, field, res, _, err := reg.PathToObjs(p)
	if err != nil {
		return err
	}
	if !field.Permissions.Has(PermRead) {
		return fmt.Errorf("%w: resource %s is not readable", ErrAccess, p)
	}
	return encodeTypedValue(reg, w, p, res.Type)
}

func encodeTypedValue(reg *Registry, w Writer, p Path, t ResourceType) error {
	switch t {
	case TypeString:
		v, err := reg.GetString(p)
		if err != nil {
			return err
		}
		return w.PutString(p, v)
	case TypeOpaque:
		v, err := reg.GetOpaque(p)
		if err != nil {
			return err
		}
		return w.PutOpaque(p, v)
	case TypeU8, TypeU16, TypeU32, TypeU64:
		v, err := reg.GetUint(p)
		if err != nil {
			return err
		}
		return w.PutS64(p, int64(v))
	case TypeS8:
		v, err := reg.GetInt(p)
		if err != nil {
			return err
		}
		return w.PutS8(p, int8(v))
	case TypeS16:
		v, err := reg.GetInt(p)
		if err != nil {
			return err
		}
		return w.PutS16(p, int16(v))
	case TypeS32:
		v, err := reg.GetInt(p)
		if err != nil {
			return err
		}
		return w.PutS32(p, int32(v))
	case TypeS64:
		v, err := reg.GetInt(p)
		if err != nil {
			return err
		}
		return w.PutS64(p, v)
	case TypeBool:
		v, err := reg.GetBool(p)
		if err != nil {
			return err
		}
		return w.PutBool(p, v)
	case TypeTime:
		v, err := reg.GetTime(p)
		if err != nil {
			return err
		}
		return w.PutTime(p, v)
	case TypeFloat:
		v, err := reg.GetFloat(p)
		if err != nil {
			return err
		}
		return w.PutFloat(p, v)
	case TypeObjLnk:
		v, err := reg.GetObjLnk(p)
		if err != nil {
			return err
		}
		return w.PutObjLnk(p, v)
	default:
		return fmt.Errorf("%w: unknown resource type for %s", ErrInvalid, p)
	}
}
