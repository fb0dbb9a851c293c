package lwm2m

import (
	"errors"

	"github.com/matrix-org/go-coap/v2/message/codes"
)

// Sentinel error kinds from spec.md §4.1/§7. Wrap these with fmt.Errorf's
// %w verb so callers can still errors.Is() against the kind while adding
// context, the same convention the teacher uses throughout coap_http.go.
var (
	ErrNotFound      = errors.New("not found")                     // NOENT
	ErrInvalid       = errors.New("invalid input")                 // EINVAL
	ErrAccess        = errors.New("access denied")                 // EACCES
	ErrResource      = errors.New("resource exhausted")            // NOMEM
	ErrExist         = errors.New("already exists")                // EEXIST
	ErrUnsupported   = errors.New("operation not supported")       // ENOTSUP
	ErrWireFormat    = errors.New("unsupported content format")    // ENOMSG
	ErrTooLarge      = errors.New("request entity too large")      // EFBIG
	ErrIncomplete    = errors.New("request entity incomplete")     // EFAULT (blockwise)
	ErrMethodDenied  = errors.New("method not allowed")            // EPERM
)

// CoAPStatus maps an error returned by a registry/dispatcher operation to
// the CoAP response code the dispatcher must send, per spec.md §4.4's
// table. Errors that match no sentinel become 5.00 Internal Server Error.
func CoAPStatus(err error) codes.Code {
	switch {
	case err == nil:
		return codes.Changed
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrMethodDenied):
		return codes.MethodNotAllowed
	case errors.Is(err, ErrExist):
		return codes.BadRequest
	case errors.Is(err, ErrIncomplete):
		return codes.RequestEntityIncomplete
	case errors.Is(err, ErrTooLarge):
		return codes.RequestEntityTooLarge
	case errors.Is(err, ErrUnsupported):
		return codes.NotImplemented
	case errors.Is(err, ErrWireFormat):
		return codes.UnsupportedMediaType
	case errors.Is(err, ErrAccess):
		return codes.Unauthorized
	case errors.Is(err, ErrInvalid):
		return codes.BadRequest
	default:
		return codes.InternalServerError
	}
}
