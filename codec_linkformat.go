package lwm2m

import (
	"fmt"
	"strconv"
	"strings"
)

// linkFormatWriter builds a CoRE Link-Format (RFC 6690) document, the
// payload format spec.md §4.2/§4.4/§4.6 mandates for Discover responses
// and Register/Update requests: "</obj>[;ver=M.m];...,</obj/inst>;...".
//
// Adapted from the teacher's CoAPPath (coap_paths.go), which builds and
// matches URL templates for an entirely different purpose (HTTP<->CoAP
// path aliasing). What's kept is the idea of a small, dependency-free
// string-builder rather than reaching for a templating library; the
// regexp/route-template machinery itself doesn't apply to link-format,
// which is pure concatenation, so it is not reused verbatim.
type linkFormatWriter struct {
	links []string
	cur   strings.Builder
}

func newLinkFormatWriter() *linkFormatWriter { return &linkFormatWriter{} }

func (w *linkFormatWriter) PutBegin() error { return nil }
func (w *linkFormatWriter) PutEnd() error   { return nil }

func (w *linkFormatWriter) PutBeginOI(p Path) error {
	w.links = append(w.links, "<"+p.String()+">")
	return nil
}
func (w *linkFormatWriter) PutEndOI() error { return nil }
func (w *linkFormatWriter) PutBeginRI(p Path) error {
	w.links = append(w.links, "<"+p.String()+">")
	return nil
}
func (w *linkFormatWriter) PutEndRI() error { return nil }
func (w *linkFormatWriter) PutBeginR(p Path) error {
	w.links = append(w.links, "<"+p.String()+">")
	return nil
}
func (w *linkFormatWriter) PutEndR() error { return nil }

// PutAttr appends a ";name=value" attribute to the most recently opened
// link. Link-format specific: not part of the generic Writer vtable
// because no other codec has an equivalent structural concept, but exposed
// so the dispatcher's Discover handler can annotate ver=/dim=/pmin=/pmax=.
func (w *linkFormatWriter) PutAttr(name, value string) error {
	if len(w.links) == 0 {
		return fmt.Errorf("%w: PutAttr with no open link", ErrInvalid)
	}
	w.links[len(w.links)-1] += ";" + name + "=" + value
	return nil
}

func (w *linkFormatWriter) PutCoreLink(links string) error {
	w.links = append(w.links, links)
	return nil
}

// The typed Put* calls are not meaningful for link-format (it only ever
// carries paths and attributes); they are no-ops rather than errors so a
// generic READ-style driver can call them without a format switch.
func (w *linkFormatWriter) PutS8(Path, int8) error       { return nil }
func (w *linkFormatWriter) PutS16(Path, int16) error     { return nil }
func (w *linkFormatWriter) PutS32(Path, int32) error     { return nil }
func (w *linkFormatWriter) PutS64(Path, int64) error     { return nil }
func (w *linkFormatWriter) PutTime(Path, int64) error    { return nil }
func (w *linkFormatWriter) PutString(Path, string) error { return nil }
func (w *linkFormatWriter) PutFloat(Path, float64) error { return nil }
func (w *linkFormatWriter) PutBool(Path, bool) error      { return nil }
func (w *linkFormatWriter) PutOpaque(Path, []byte) error  { return nil }
func (w *linkFormatWriter) PutObjLnk(Path, ObjLnk) error  { return nil }

func (w *linkFormatWriter) Bytes() ([]byte, error) {
	return []byte(strings.Join(w.links, ",")), nil
}

// BuildRegistrationPayload renders the link-format body for POST /rd and
// POST /rd/<ep>, per spec.md §4.6: "</>;ct=<default>, </obj>[;ver=...],
// </obj/inst>,... omitting Security and (at register time) Device except
// for instance links."
func BuildRegistrationPayload(reg *Registry, defaultFormat int) string {
	w := newLinkFormatWriter()
	_ = w.PutCoreLink(fmt.Sprintf("</>;ct=%d", defaultFormat))
	for _, obj := range reg.Objects() {
		if obj.ID == SecurityObjectID {
			continue
		}
		insts := reg.Instances(obj.ID)
		if len(insts) == 0 {
			continue
		}
		link := "<" + ObjectPath(obj.ID).String() + ">"
		if obj.Version.Major != 0 || obj.Version.Minor != 0 {
			link += ";ver=\"" + obj.Version.String() + "\""
		}
		w.links = append(w.links, link)
		for _, inst := range insts {
			w.links = append(w.links, "<"+InstancePath(obj.ID, inst.InstanceID).String()+">")
		}
	}
	b, _ := w.Bytes()
	return string(b)
}

// BuildDiscoverPayload renders the link-format body for a GET with
// Accept=link-format at path, per spec.md §4.4 DISCOVER: resource entries
// annotated with dim= for multi-instance resources, and with pmin/pmax
// only where a value is set on the resource's attribute chain (the
// engine-wide defaults are not emitted).
func BuildDiscoverPayload(reg *Registry, p Path, defaultPMin, defaultPMax int32) (string, error) {
	w := newLinkFormatWriter()
	switch p.Level {
	case 1:
		insts := reg.Instances(p.ObjectID)
		for _, inst := range insts {
			discoverInstance(w, reg, inst, defaultPMin, defaultPMax)
		}
	case 2:
		inst, _, _, _, err := reg.PathToObjs(p)
		if err != nil {
			return "", err
		}
		discoverInstance(w, reg, inst, defaultPMin, defaultPMax)
	case 3, 4:
		_, field, res, _, err := reg.PathToObjs(ResourcePath(p.ObjectID, p.InstanceID, p.ResourceID))
		if err != nil {
			return "", err
		}
		discoverResource(w, reg, p.ObjectID, p.InstanceID, *field, res, defaultPMin, defaultPMax)
	default:
		return "", fmt.Errorf("%w: discover at root not supported", ErrInvalid)
	}
	b, _ := w.Bytes()
	return string(b), nil
}

func discoverInstance(w *linkFormatWriter, reg *Registry, inst *ObjectInstance, defaultPMin, defaultPMax int32) {
	_ = w.PutBeginOI(InstancePath(inst.Object.ID, inst.InstanceID))
	for _, f := range inst.Object.Fields {
		res, ok := inst.Resource(f.ResourceID)
		if !ok {
			continue
		}
		discoverResource(w, reg, inst.Object.ID, inst.InstanceID, f, res, defaultPMin, defaultPMax)
	}
}

func discoverResource(w *linkFormatWriter, reg *Registry, objID, instID uint16, f Field, res *Resource, defaultPMin, defaultPMax int32) {
	p := ResourcePath(objID, instID, f.ResourceID)
	_ = w.PutBeginR(p)
	if f.Multiple {
		_ = w.PutAttr("dim", strconv.Itoa(len(res.Instances())))
	}
	eff := reg.Attrs().Effective(p, defaultPMin, defaultPMax)
	if eff.HavePMin {
		_ = w.PutAttr("pmin", strconv.Itoa(int(eff.PMin)))
	}
	if eff.HavePMax {
		_ = w.PutAttr("pmax", strconv.Itoa(int(eff.PMax)))
	}
}

// SecurityObjectID is the well-known LwM2M Security object id (/0),
// excluded from registration payloads per spec.md §4.6.
const SecurityObjectID uint16 = 0

// DeviceObjectID is the well-known LwM2M Device object id (/3).
const DeviceObjectID uint16 = 3

// ServerObjectID is the well-known LwM2M Server object id (/1).
const ServerObjectID uint16 = 1
