// Package errdefs defines the failure kinds shared by the package manager
// components.
//
// Every component returns *Error values (or wraps them) so callers can
// classify a failure without string matching:
//
//	if errdefs.Is(err, errdefs.NotFound) { ... }
//	if errors.Is(err, errdefs.ErrAccessDenied) { ... }
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	InvalidArguments
	AccessDenied
	NotFound
	TransportError
	IncompleteDownload
	InvalidEnvelope
	InvalidSignature
	ExtractionFailure
	DependencyUnavailable
)

var kindNames = map[Kind]string{
	Unknown:               "unknown",
	InvalidArguments:      "invalid arguments",
	AccessDenied:          "access denied",
	NotFound:              "not found",
	TransportError:        "transport error",
	IncompleteDownload:    "incomplete download",
	InvalidEnvelope:       "invalid envelope",
	InvalidSignature:      "invalid signature",
	ExtractionFailure:     "extraction failure",
	DependencyUnavailable: "dependency unavailable",
}

// String returns the string representation of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Sentinels for errors.Is matching, one per kind.
var (
	ErrInvalidArguments      = errors.New(InvalidArguments.String())
	ErrAccessDenied          = errors.New(AccessDenied.String())
	ErrNotFound              = errors.New(NotFound.String())
	ErrTransport             = errors.New(TransportError.String())
	ErrIncompleteDownload    = errors.New(IncompleteDownload.String())
	ErrInvalidEnvelope       = errors.New(InvalidEnvelope.String())
	ErrInvalidSignature      = errors.New(InvalidSignature.String())
	ErrExtractionFailure     = errors.New(ExtractionFailure.String())
	ErrDependencyUnavailable = errors.New(DependencyUnavailable.String())
)

var sentinels = map[Kind]error{
	InvalidArguments:      ErrInvalidArguments,
	AccessDenied:          ErrAccessDenied,
	NotFound:              ErrNotFound,
	TransportError:        ErrTransport,
	IncompleteDownload:    ErrIncompleteDownload,
	InvalidEnvelope:       ErrInvalidEnvelope,
	InvalidSignature:      ErrInvalidSignature,
	ExtractionFailure:     ErrExtractionFailure,
	DependencyUnavailable: ErrDependencyUnavailable,
}

// Error is a classified failure. Package and Status are optional context;
// Status carries the remote HTTP status code when there was one.
type Error struct {
	Kind    Kind
	Package string
	Status  int
	Reason  string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Package != "" {
		msg = fmt.Sprintf("%s: %s", e.Package, msg)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && sentinel == target
}

// New creates a classified error with a reason.
func New(kind Kind, pkg, reason string) *Error {
	return &Error{Kind: kind, Package: pkg, Reason: reason}
}

// Newf creates a classified error with a formatted reason.
func Newf(kind Kind, pkg, format string, args ...any) *Error {
	return &Error{Kind: kind, Package: pkg, Reason: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, pkg, reason string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Package: pkg, Reason: reason, Err: err}
}

// WithStatus attaches a remote status code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// KindOf returns the kind of the outermost classified error in err's
// chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether any classified error in err's chain has the kind.
func Is(err error, kind Kind) bool {
	sentinel, ok := sentinels[kind]
	if !ok {
		return false
	}
	return errors.Is(err, sentinel)
}

// StatusOf returns the first non-zero remote status code in err's chain.
func StatusOf(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.Status != 0 {
			return e.Status
		}
		err = e.Err
	}
	return 0
}
