// Package watchererr defines the watcher fabric's error taxonomy: a
// small typed error carrying a Kind alongside the usual wrapped detail,
// so callers on both the client and server sides can branch on failure
// category (reconnect on Transport, drop-and-continue on Protocol,
// terminal on Resource) without parsing strings.
package watchererr

import "errors"

// Kind classifies a watcher fabric failure.
type Kind int

const (
	KindNone Kind = iota
	KindTransport
	KindProtocol
	KindResource
	KindInterrupt
	KindSemantic
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	case KindInterrupt:
		return "interrupt"
	case KindSemantic:
		return "semantic"
	case KindTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Error is the watcher fabric's structured error value: a Kind plus a
// human-readable detail and, usually, the underlying cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Detail + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, watchererr.New(watchererr.KindTimeout, "", nil)) or,
// more simply, compare the Kind returned by Of.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an Error of the given kind.
func New(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Of reports the Kind carried by err, or KindNone if err is not (or does
// not wrap) a watcher fabric Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
