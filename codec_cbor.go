package lwm2m

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// senMLRecord mirrors one SenML-CBOR array entry (RFC 8428 + the OMA LwM2M
// "vlo" object-link extension, label 66). Field presence (nil pointers,
// zero strings) drives omitempty the same way the teacher's CBORCodec
// leans on encoding/json's omitempty semantics for its Matrix event
// conversions (cbor.go, cbor_codec.go), just keyed by SenML's integer
// labels instead of JSON object-link map keys.
type senMLRecord struct {
	BaseName    string   `cbor:"-2,keyasint,omitempty"`
	BaseTime    float64  `cbor:"-1,keyasint,omitempty"`
	Name        string   `cbor:"0,keyasint,omitempty"`
	Time        float64  `cbor:"6,keyasint,omitempty"`
	Value       *float64 `cbor:"2,keyasint,omitempty"`
	StringValue *string  `cbor:"3,keyasint,omitempty"`
	BoolValue   *bool    `cbor:"4,keyasint,omitempty"`
	DataValue   []byte   `cbor:"8,keyasint,omitempty"`
	ObjLnkValue *string  `cbor:"66,keyasint,omitempty"`
}

// senMLCBORWriter accumulates SenML-CBOR records for a READ/NOTIFY/
// composite-read response, per spec.md §4.2: "SenML-CBOR ... a compact
// binary encoding of the same bn/n/v/vs/vb/vlo/t record model used by
// SenML-JSON." Grounded on the teacher's cbor_codec.go CBORCodec, which
// wraps fxamacker/cbor/v2 for exactly this kind of compact binary
// marshal/unmarshal, generalized here from Matrix JSON events to SenML
// records.
type senMLCBORWriter struct {
	basePath string
	records  []senMLRecord
	err      error
}

func newSenMLCBORWriter() *senMLCBORWriter { return &senMLCBORWriter{} }

func (w *senMLCBORWriter) PutBegin() error { return nil }
func (w *senMLCBORWriter) PutEnd() error   { return nil }

func (w *senMLCBORWriter) setBase(p Path) {
	if w.basePath == "" {
		w.basePath = p.String()
		if w.basePath != "/" {
			w.basePath += "/"
		}
	}
}

func (w *senMLCBORWriter) PutBeginOI(p Path) error { w.setBase(p); return nil }
func (w *senMLCBORWriter) PutEndOI() error         { return nil }
func (w *senMLCBORWriter) PutBeginRI(p Path) error { w.setBase(p); return nil }
func (w *senMLCBORWriter) PutEndRI() error         { return nil }
func (w *senMLCBORWriter) PutBeginR(p Path) error  { w.setBase(p); return nil }
func (w *senMLCBORWriter) PutEndR() error          { return nil }

func (w *senMLCBORWriter) PutCoreLink(string) error {
	return fmt.Errorf("%w: SenML-CBOR does not carry link-format bodies", ErrUnsupported)
}

// name returns p's suffix relative to the writer's base path, the SenML "n"
// label, matching spec.md §4.2's "subsequent records carry only the path
// suffix beyond the base name."
func (w *senMLCBORWriter) name(p Path) string {
	full := p.String()
	if w.basePath == "" || w.basePath == "/" {
		return strings.TrimPrefix(full, "/")
	}
	return strings.TrimPrefix(full, w.basePath)
}

func (w *senMLCBORWriter) append(rec senMLRecord) error {
	if len(w.records) == 0 && w.basePath != "" {
		rec.BaseName = strings.TrimSuffix(w.basePath, "/")
		if rec.BaseName == "" {
			rec.BaseName = "/"
		}
	}
	w.records = append(w.records, rec)
	return nil
}

func (w *senMLCBORWriter) PutS8(p Path, v int8) error  { return w.putInt(p, int64(v)) }
func (w *senMLCBORWriter) PutS16(p Path, v int16) error { return w.putInt(p, int64(v)) }
func (w *senMLCBORWriter) PutS32(p Path, v int32) error { return w.putInt(p, int64(v)) }
func (w *senMLCBORWriter) PutS64(p Path, v int64) error { return w.putInt(p, v) }
func (w *senMLCBORWriter) PutTime(p Path, v int64) error {
	f := float64(v)
	return w.append(senMLRecord{Name: w.name(p), Value: &f})
}

func (w *senMLCBORWriter) putInt(p Path, v int64) error {
	f := float64(v)
	return w.append(senMLRecord{Name: w.name(p), Value: &f})
}

func (w *senMLCBORWriter) PutString(p Path, v string) error {
	s := v
	return w.append(senMLRecord{Name: w.name(p), StringValue: &s})
}
func (w *senMLCBORWriter) PutFloat(p Path, v float64) error {
	f := v
	return w.append(senMLRecord{Name: w.name(p), Value: &f})
}
func (w *senMLCBORWriter) PutBool(p Path, v bool) error {
	b := v
	return w.append(senMLRecord{Name: w.name(p), BoolValue: &b})
}
func (w *senMLCBORWriter) PutOpaque(p Path, v []byte) error {
	return w.append(senMLRecord{Name: w.name(p), DataValue: v})
}
func (w *senMLCBORWriter) PutObjLnk(p Path, v ObjLnk) error {
	s := v.String()
	return w.append(senMLRecord{Name: w.name(p), ObjLnkValue: &s})
}

func (w *senMLCBORWriter) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if len(w.records) == 0 {
		return cbor.Marshal([]senMLRecord{})
	}
	return cbor.Marshal(w.records)
}

// senMLCBORReader decodes a SenML-CBOR request body (WRITE, composite
// WRITE-ATTRIBUTES payloads are link-format/query based, not this codec)
// into successive (Path, value) pairs via Next(), mirroring the teacher's
// CBORToJSON two-step decode-then-walk shape from cbor_codec.go.
type senMLCBORReader struct {
	base    string
	records []senMLRecord
	idx     int
	err     error
}

func newSenMLCBORReader(body []byte) *senMLCBORReader {
	r := &senMLCBORReader{}
	if err := cbor.Unmarshal(body, &r.records); err != nil {
		r.err = fmt.Errorf("%w: %v", ErrWireFormat, err)
		return r
	}
	if len(r.records) > 0 && r.records[0].BaseName != "" {
		r.base = r.records[0].BaseName
	}
	return r
}

// Next resolves the i'th record's absolute Path (base name + suffix) and
// advances. The returned bool is the loop-continuation flag, not a
// per-record success flag; a malformed record surfaces via the error.
func (r *senMLCBORReader) Next() (Path, bool, error) {
	if r.err != nil {
		return Path{}, false, r.err
	}
	if r.idx >= len(r.records) {
		return Path{}, false, nil
	}
	rec := r.records[r.idx]
	r.idx++
	full := rec.Name
	if r.base != "" && r.base != "/" {
		full = r.base + "/" + strings.TrimPrefix(rec.Name, "/")
	} else if rec.Name != "" && !strings.HasPrefix(rec.Name, "/") {
		full = "/" + rec.Name
	}
	p, err := ParsePath(full)
	if err != nil {
		return Path{}, false, err
	}
	return p, true, nil
}

// curRecord returns the record most recently returned by Next, so the typed
// Get* calls below can pull its value without re-threading record state
// through every call site.
func (r *senMLCBORReader) curRecord() senMLRecord {
	if r.idx == 0 || r.idx > len(r.records) {
		return senMLRecord{}
	}
	return r.records[r.idx-1]
}

func (r *senMLCBORReader) GetS32() (int32, error) {
	rec := r.curRecord()
	if rec.Value == nil {
		return 0, fmt.Errorf("%w: record has no numeric value", ErrWireFormat)
	}
	return int32(*rec.Value), nil
}
func (r *senMLCBORReader) GetS64() (int64, error) {
	rec := r.curRecord()
	if rec.Value == nil {
		return 0, fmt.Errorf("%w: record has no numeric value", ErrWireFormat)
	}
	return int64(*rec.Value), nil
}
func (r *senMLCBORReader) GetTime() (int64, error) {
	return r.GetS64()
}
func (r *senMLCBORReader) GetString() (string, error) {
	rec := r.curRecord()
	if rec.StringValue == nil {
		return "", fmt.Errorf("%w: record has no string value", ErrWireFormat)
	}
	return *rec.StringValue, nil
}
func (r *senMLCBORReader) GetFloat() (float64, error) {
	rec := r.curRecord()
	if rec.Value == nil {
		return 0, fmt.Errorf("%w: record has no numeric value", ErrWireFormat)
	}
	return *rec.Value, nil
}
func (r *senMLCBORReader) GetBool() (bool, error) {
	rec := r.curRecord()
	if rec.BoolValue == nil {
		return false, fmt.Errorf("%w: record has no boolean value", ErrWireFormat)
	}
	return *rec.BoolValue, nil
}

// GetOpaque returns the whole data value in one call: SenML-CBOR carries
// the complete record in a single reassembled body, so octx is marked
// complete immediately rather than threaded across multiple calls.
func (r *senMLCBORReader) GetOpaque(octx *OpaqueContext) ([]byte, error) {
	rec := r.curRecord()
	if octx != nil {
		octx.Len = len(rec.DataValue)
		octx.Remaining = 0
		octx.LastBlock = true
	}
	return rec.DataValue, nil
}

func (r *senMLCBORReader) GetObjLnk() (ObjLnk, error) {
	rec := r.curRecord()
	if rec.ObjLnkValue == nil {
		return ObjLnk{}, fmt.Errorf("%w: record has no object link value", ErrWireFormat)
	}
	parts := strings.SplitN(*rec.ObjLnkValue, ":", 2)
	if len(parts) != 2 {
		return ObjLnk{}, fmt.Errorf("%w: malformed object link %q", ErrWireFormat, *rec.ObjLnkValue)
	}
	objID, err1 := strconv.ParseUint(parts[0], 10, 16)
	instID, err2 := strconv.ParseUint(parts[1], 10, 16)
	if err1 != nil || err2 != nil {
		return ObjLnk{}, fmt.Errorf("%w: malformed object link %q", ErrWireFormat, *rec.ObjLnkValue)
	}
	return ObjLnk{ObjectID: uint16(objID), InstanceID: uint16(instID)}, nil
}
