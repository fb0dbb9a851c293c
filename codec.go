package lwm2m

import (
	"fmt"

	"github.com/matrix-org/go-coap/v2/message"
)

// ContentFormat mirrors the CoAP Content-Format option values LwM2M uses,
// named per spec.md §4.2/§6.
const (
	FormatPlainText  message.MediaType = 1541
	FormatOctetStream message.MediaType = message.AppOctets
	FormatLinkFormat message.MediaType = message.AppLinkFormat
	FormatOMATLVOld  message.MediaType = 1542
	FormatOMATLV     message.MediaType = 11542
	FormatOMAJSONOld message.MediaType = 1543
	FormatOMAJSON    message.MediaType = 11543
	FormatSenMLJSON  message.MediaType = 110
	FormatSenMLCBOR  message.MediaType = 112
	FormatCBOR       message.MediaType = message.AppCBOR
)

// OpaqueContext threads streaming OPAQUE state across blockwise calls, per
// spec.md §4.2/§9: "the opaque 'remaining' state ... must be stored inside
// the block context so that multi-block writes of large opaques are
// resumable."
type OpaqueContext struct {
	Len       int
	Remaining int
	LastBlock bool
}

// Writer is the serialization vtable every codec implements, named after
// the C put_* calls from spec.md §4.2 but expressed as Go methods with
// idiomatic error returns instead of "bytes written or negative error".
type Writer interface {
	PutBegin() error
	PutEnd() error
	PutBeginOI(p Path) error
	PutEndOI() error
	PutBeginRI(p Path) error
	PutEndRI() error
	PutBeginR(p Path) error
	PutEndR() error

	PutCoreLink(links string) error

	PutS8(p Path, v int8) error
	PutS16(p Path, v int16) error
	PutS32(p Path, v int32) error
	PutS64(p Path, v int64) error
	PutTime(p Path, v int64) error
	PutString(p Path, v string) error
	PutFloat(p Path, v float64) error
	PutBool(p Path, v bool) error
	PutOpaque(p Path, v []byte) error
	PutObjLnk(p Path, v ObjLnk) error

	// Bytes returns the accumulated output. Called once, after the writer
	// has been driven through a full begin/...(resources)/end sequence.
	Bytes() ([]byte, error)
}

// Reader is the deserialization vtable every codec implements.
type Reader interface {
	GetS32() (int32, error)
	GetS64() (int64, error)
	GetTime() (int64, error)
	GetString() (string, error)
	GetFloat() (float64, error)
	GetBool() (bool, error)
	// GetOpaque is streaming: octx persists across blockwise calls and its
	// LastBlock flag is set once the payload is exhausted, per spec.md §4.2.
	GetOpaque(octx *OpaqueContext) ([]byte, error)
	GetObjLnk() (ObjLnk, error)
	// Next advances to the next encoded value/path pair, used by composite
	// and multi-resource reads. Returns false when exhausted.
	Next() (Path, bool, error)
}

// ReaderFactory builds a Reader bound to one request body.
type ReaderFactory func(body []byte) Reader

// WriterFactory builds a fresh Writer that accumulates into its own buffer.
type WriterFactory func() Writer

// CodecRegistry resolves Content-Format/Accept option values to a codec
// implementation, per spec.md §4.2: "A codec is selected by CoAP
// Content-Format and Accept options; an unknown content format ->
// ErrWireFormat -> COAP_UNSUPPORTED_CONTENT_FORMAT."
//
// Per spec.md's framing, only codecs the deployment actually compiles in
// are registered here; every other Content-Format value correctly yields
// ErrWireFormat, the same outcome a codec "compiled out" would produce.
type CodecRegistry struct {
	writers map[message.MediaType]WriterFactory
	readers map[message.MediaType]ReaderFactory
	// preference order for the default Accept, most to least preferred,
	// filtered down to whichever formats are actually registered.
	preference []message.MediaType
}

// NewCodecRegistry returns an empty registry; call RegisterCodec to wire in
// concrete implementations.
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{
		writers: make(map[message.MediaType]WriterFactory),
		readers: make(map[message.MediaType]ReaderFactory),
		// SenML-CBOR, then SenML-JSON, then CBOR, then OMA-TLV, per
		// spec.md §4.2's documented preference order.
		preference: []message.MediaType{FormatSenMLCBOR, FormatSenMLJSON, FormatCBOR, FormatOMATLV},
	}
}

// RegisterCodec wires a format's writer/reader factories in.
func (c *CodecRegistry) RegisterCodec(format message.MediaType, w WriterFactory, r ReaderFactory) {
	if w != nil {
		c.writers[format] = w
	}
	if r != nil {
		c.readers[format] = r
	}
}

// Writer resolves a Writer for the given Accept format. With haveFormat
// false, the documented default-Accept preference order applies.
func (c *CodecRegistry) Writer(format message.MediaType, haveFormat bool) (Writer, message.MediaType, error) {
	if haveFormat {
		if f, ok := c.writers[format]; ok {
			return f(), format, nil
		}
		return nil, 0, fmt.Errorf("%w: content format %d", ErrWireFormat, format)
	}
	for _, pref := range c.preference {
		if f, ok := c.writers[pref]; ok {
			return f(), pref, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: no codec compiled in", ErrWireFormat)
}

// Reader resolves a Reader for the given Content-Format.
func (c *CodecRegistry) Reader(format message.MediaType, body []byte) (Reader, error) {
	f, ok := c.readers[format]
	if !ok {
		return nil, fmt.Errorf("%w: content format %d", ErrWireFormat, format)
	}
	return f(body), nil
}

// DefaultCodecs returns a CodecRegistry with the two codecs this repo
// carries all the way through wired in: link-format (Discover/Register)
// and SenML-CBOR (everyday read/notify/write payloads).
func DefaultCodecs() *CodecRegistry {
	reg := NewCodecRegistry()
	reg.RegisterCodec(FormatLinkFormat, func() Writer { return newLinkFormatWriter() }, nil)
	reg.RegisterCodec(FormatSenMLCBOR,
		func() Writer { return newSenMLCBORWriter() },
		func(body []byte) Reader { return newSenMLCBORReader(body) },
	)
	return reg
}
