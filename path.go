package lwm2m

import (
	"fmt"
	"strconv"
	"strings"
)

// NotCreated marks a resource-instance slot as free, per spec.md's
// "res_inst_id of NOT_CREATED when the slot is free" invariant.
const NotCreated = ^uint16(0)

// Path is the (obj, inst, res, res_inst, level) tuple addressing any node
// in the Object/Instance/Resource/Resource-Instance tree. Level 0 is root;
// higher levels make the lower-numbered fields meaningful.
type Path struct {
	ObjectID           uint16
	InstanceID         uint16
	ResourceID         uint16
	ResourceInstanceID uint16
	Level              int
}

// RootPath returns the level-0 path.
func RootPath() Path { return Path{} }

// ObjectPath returns a level-1 path.
func ObjectPath(objID uint16) Path { return Path{ObjectID: objID, Level: 1} }

// InstancePath returns a level-2 path.
func InstancePath(objID, instID uint16) Path {
	return Path{ObjectID: objID, InstanceID: instID, Level: 2}
}

// ResourcePath returns a level-3 path.
func ResourcePath(objID, instID, resID uint16) Path {
	return Path{ObjectID: objID, InstanceID: instID, ResourceID: resID, Level: 3}
}

// ResourceInstancePath returns a level-4 path.
func ResourceInstancePath(objID, instID, resID, resInstID uint16) Path {
	return Path{
		ObjectID: objID, InstanceID: instID, ResourceID: resID,
		ResourceInstanceID: resInstID, Level: 4,
	}
}

// ParsePath parses a "/a/b/c/d" URI-Path style string into a Path. An empty
// string or "/" parses to the root path (level 0).
func ParsePath(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return RootPath(), nil
	}
	segs := strings.Split(s, "/")
	if len(segs) > 4 {
		return Path{}, fmt.Errorf("%w: path %q has more than 4 segments", ErrInvalid, s)
	}
	var vals [4]uint16
	for i, seg := range segs {
		n, err := strconv.ParseUint(seg, 10, 16)
		if err != nil {
			return Path{}, fmt.Errorf("%w: bad path segment %q: %v", ErrInvalid, seg, err)
		}
		vals[i] = uint16(n)
	}
	p := Path{Level: len(segs)}
	if p.Level > 0 {
		p.ObjectID = vals[0]
	}
	if p.Level > 1 {
		p.InstanceID = vals[1]
	}
	if p.Level > 2 {
		p.ResourceID = vals[2]
	}
	if p.Level > 3 {
		p.ResourceInstanceID = vals[3]
	}
	return p, nil
}

// String renders the path back into "/a/b/c/d" form, down to its Level.
func (p Path) String() string {
	switch p.Level {
	case 0:
		return "/"
	case 1:
		return fmt.Sprintf("/%d", p.ObjectID)
	case 2:
		return fmt.Sprintf("/%d/%d", p.ObjectID, p.InstanceID)
	case 3:
		return fmt.Sprintf("/%d/%d/%d", p.ObjectID, p.InstanceID, p.ResourceID)
	default:
		return fmt.Sprintf("/%d/%d/%d/%d", p.ObjectID, p.InstanceID, p.ResourceID, p.ResourceInstanceID)
	}
}

// Less implements the total ordering from spec.md §3: objects ascending by
// id, then instances within an object, then resources, then instance ids;
// a shallower path sorts before any deeper path sharing its prefix.
func (p Path) Less(o Path) bool {
	if p.ObjectID != o.ObjectID {
		return p.ObjectID < o.ObjectID
	}
	if p.Level <= 1 || o.Level <= 1 {
		return p.Level < o.Level
	}
	if p.InstanceID != o.InstanceID {
		return p.InstanceID < o.InstanceID
	}
	if p.Level <= 2 || o.Level <= 2 {
		return p.Level < o.Level
	}
	if p.ResourceID != o.ResourceID {
		return p.ResourceID < o.ResourceID
	}
	if p.Level <= 3 || o.Level <= 3 {
		return p.Level < o.Level
	}
	return p.ResourceInstanceID < o.ResourceInstanceID
}

// Equal reports whether p and o address exactly the same node.
func (p Path) Equal(o Path) bool { return p == o }

// HasPrefix reports whether p's path chain starts with prefix, i.e. prefix
// is an ancestor of (or equal to) p. A level-1 observer path "/3" matches
// changes at "/3/0/1", per spec.md §4.5.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.Level > p.Level {
		return false
	}
	switch prefix.Level {
	case 0:
		return true
	case 1:
		return p.ObjectID == prefix.ObjectID
	case 2:
		return p.ObjectID == prefix.ObjectID && p.InstanceID == prefix.InstanceID
	case 3:
		return p.ObjectID == prefix.ObjectID && p.InstanceID == prefix.InstanceID && p.ResourceID == prefix.ResourceID
	default:
		return p == prefix
	}
}
