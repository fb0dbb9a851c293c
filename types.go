package lwm2m

import "fmt"

// ResourceType is one of the 14 LwM2M primitive data types a Resource can
// hold (each integer width counts as its own type).
type ResourceType uint8

const (
	TypeOpaque ResourceType = iota
	TypeString
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeS8
	TypeS16
	TypeS32
	TypeS64
	TypeBool
	TypeTime
	TypeFloat
	TypeObjLnk
)

func (t ResourceType) String() string {
	switch t {
	case TypeOpaque:
		return "opaque"
	case TypeString:
		return "string"
	case TypeU8, TypeU16, TypeU32, TypeU64:
		return "uint"
	case TypeS8, TypeS16, TypeS32, TypeS64:
		return "int"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeFloat:
		return "float"
	case TypeObjLnk:
		return "objlnk"
	default:
		return "unknown"
	}
}

// Permission is a bitmask of the operations allowed on a resource field.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExecute
)

func (p Permission) Has(perm Permission) bool { return p&perm != 0 }

// ObjLnk is the OBJLNK primitive: a pair of (object id, object instance id).
type ObjLnk struct {
	ObjectID   uint16
	InstanceID uint16
}

func (o ObjLnk) String() string { return fmt.Sprintf("%d:%d", o.ObjectID, o.InstanceID) }

// truncateUint narrows an unsigned value to the byte width implied by t.
// Mirrors the registry's "numeric widening rules: setting a wider value
// into a narrower resource truncates per the target type" invariant.
func truncateUint(v uint64, t ResourceType) uint64 {
	switch t {
	case TypeU8:
		return uint64(uint8(v))
	case TypeU16:
		return uint64(uint16(v))
	case TypeU32:
		return uint64(uint32(v))
	default:
		return v
	}
}

func truncateInt(v int64, t ResourceType) int64 {
	switch t {
	case TypeS8:
		return int64(int8(v))
	case TypeS16:
		return int64(int16(v))
	case TypeS32:
		return int64(int32(v))
	default:
		return v
	}
}
