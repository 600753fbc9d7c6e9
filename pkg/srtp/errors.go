package srtp

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed-set error taxonomy visible to callers (spec.md §7).
type Kind int

const (
	KindNone Kind = iota
	KindSDPRequiresCrypto
	KindNotSupportedCrypto
	KindKeyLength
	KindTooBig
	KindInvalidOp
	KindIgnored
	KindNotSupported
	KindBug
	KindLibSRTP
)

func (k Kind) String() string {
	switch k {
	case KindSDPRequiresCrypto:
		return "ESDPREQCRYPTO"
	case KindNotSupportedCrypto:
		return "ENOTSUPCRYPTO"
	case KindKeyLength:
		return "EINKEYLEN"
	case KindTooBig:
		return "ETOOBIG"
	case KindInvalidOp:
		return "EINVALIDOP"
	case KindIgnored:
		return "EIGNORED"
	case KindNotSupported:
		return "ENOTSUP"
	case KindBug:
		return "EBUG"
	case KindLibSRTP:
		return "LIBSRTP"
	default:
		return "OK"
	}
}

// Error is the error type returned across the package's public operations. It
// carries a stable Kind plus, for KindLibSRTP, the wrapped primitive-library
// cause and its integer code when one can be determined.
type Error struct {
	Kind    Kind
	Message string
	Code    int
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("srtp: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("srtp: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Sentinel errors for errors.Is-style comparison by callers that only care
// about the kind.
var (
	ErrSDPRequiresCrypto  = newErr(KindSDPRequiresCrypto, "SDP negotiation demands crypto but none configured")
	ErrNotSupportedCrypto = newErr(KindNotSupportedCrypto, "crypto suite not in registry")
	ErrKeyLength          = newErr(KindKeyLength, "offered key shorter than suite key+salt length")
	ErrTooBig             = newErr(KindTooBig, "packet exceeds scratch buffer")
	ErrInvalidOp          = newErr(KindInvalidOp, "operation invalid before start")
	ErrIgnored            = newErr(KindIgnored, "keying method declined packet")
	ErrNotSupported       = newErr(KindNotSupported, "keying method not compiled in")
	ErrBug                = newErr(KindBug, "impossible path reached")
)

// Is implements errors.Is comparison by Kind so wrapped instances still match
// the package-level sentinels above.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// translatePrimitiveError maps an error returned by the external SRTP
// primitive library (pion/srtp) into the closed taxonomy. The primitive
// library does not expose integer status codes the way libsrtp does, so
// recognized causes are matched by message substring (a best-effort,
// documented fallback — see DESIGN.md); everything else becomes a generic
// LIBSRTP error preserving the original message, mirroring spec.md C3's
// "libsrtp error N" fallback for unknown codes.
func translatePrimitiveError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := asReplayError(err); ok {
		return e
	}
	return &Error{Kind: KindLibSRTP, Message: err.Error(), Cause: err}
}

// isReplayError classifies a translated error as a replay-window failure, which
// is the trigger for probation recovery in C4.
func isReplayError(e *Error) bool {
	return e != nil && e.Kind == KindLibSRTP && containsReplayMarker(e.Message)
}

func containsReplayMarker(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "replay") || strings.Contains(lower, "duplicat")
}

// asReplayError is split out so tests can exercise the classification in
// isolation without constructing a real pion/srtp error value.
func asReplayError(err error) (*Error, bool) {
	msg := err.Error()
	if containsReplayMarker(msg) {
		return &Error{Kind: KindLibSRTP, Message: msg, Cause: err}, true
	}
	return nil, false
}
