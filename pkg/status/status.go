// Package status classifies errors by the kind of response they
// demand, per the propagation policy of spec.md §7: status codes
// (transient-io, peer-fatal, disk-transient, disk-fatal, client-user,
// client-session) flow up through store, state, and consensus layers
// rather than being handled ad hoc at each call site.
package status

import "errors"

// Kind is one of the error kinds spec.md §7 enumerates.
type Kind int

const (
	// KindNone is the zero value: not a classified error.
	KindNone Kind = iota
	// KindTransientIO covers socket EAGAIN and partial frames; retry
	// on the event loop.
	KindTransientIO
	// KindPeerFatal covers a malformed message or wrong cluster name;
	// disconnect the peer and reconnect with backoff.
	KindPeerFatal
	// KindDiskTransient covers disk-full on append; enter disk-full
	// mode and retry every 10s.
	KindDiskTransient
	// KindDiskFatal covers an unrecoverable msync/rename/mmap failure;
	// the process aborts.
	KindDiskFatal
	// KindClientUser covers SQL syntax errors and constraint
	// violations; roll back the transaction and keep the session.
	KindClientUser
	// KindClientSession covers an unknown client id or a duplicate
	// connect with the same name; respond ERR and force-disconnect.
	KindClientSession
	// KindFull signals the log store has no room for an entry even
	// after expansion; the caller must wait for snapshot completion.
	KindFull
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient-io"
	case KindPeerFatal:
		return "peer-fatal"
	case KindDiskTransient:
		return "disk-transient"
	case KindDiskFatal:
		return "disk-fatal"
	case KindClientUser:
		return "client-user"
	case KindClientSession:
		return "client-session"
	case KindFull:
		return "full"
	default:
		return "none"
	}
}

// Error wraps an underlying error with a Kind, the unit errors.As
// inspects to decide how to propagate a failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a *Error of the given kind wrapping err.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or any error it wraps) was classified as kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// OfKind extracts the Kind of err, or KindNone if it was not
// classified via New.
func OfKind(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindNone
}
