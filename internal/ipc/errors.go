// Package ipc holds the error taxonomy shared by the transport and
// processor packages, the lxcpp subsystems and the host API (spec §7); the
// cargo codec returns plain errors. Each boundary that uses it exposes this
// single error sum type rather than a grab-bag of sentinel values.
package ipc

import "fmt"

// Kind classifies an Error into one of the taxonomy's four families plus
// the user-raised family.
type Kind int

const (
	// Transport
	KindPeerDisconnected Kind = iota
	KindTimeout
	KindClosing
	KindIOError

	// Protocol
	KindUnknownMethod
	KindInvalidFrame
	KindSerializationError

	// Runtime syscall
	KindPermissionDenied
	KindNotSupported
	KindBusy
	KindNotFound
	KindExists
	KindInvalidArgument
	KindKernelError

	// Lifecycle
	KindInvalidState
	KindHandshakeFailed
	KindTemplateFailed

	// User
	KindUserError

	// Protocol/dispatch housekeeping
	KindDuplicateID
	KindUnknownPeer
)

func (k Kind) String() string {
	switch k {
	case KindPeerDisconnected:
		return "peer_disconnected"
	case KindTimeout:
		return "timeout"
	case KindClosing:
		return "closing"
	case KindIOError:
		return "io_error"
	case KindUnknownMethod:
		return "unknown_method"
	case KindInvalidFrame:
		return "invalid_frame"
	case KindSerializationError:
		return "serialization_error"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotSupported:
		return "not_supported"
	case KindBusy:
		return "busy"
	case KindNotFound:
		return "not_found"
	case KindExists:
		return "exists"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindKernelError:
		return "kernel_error"
	case KindInvalidState:
		return "invalid_state"
	case KindHandshakeFailed:
		return "handshake_failed"
	case KindTemplateFailed:
		return "template_failed"
	case KindUserError:
		return "user_error"
	case KindDuplicateID:
		return "duplicate_id"
	case KindUnknownPeer:
		return "unknown_peer"
	default:
		return "unknown"
	}
}

// Error is the single error type crossing every ipc subsystem boundary.
type Error struct {
	Kind Kind

	// Errno holds the syscall errno for KindKernelError.
	Errno int
	// Step holds the handshake step number for KindHandshakeFailed.
	Step int
	// Code and Message carry a user_error's application-defined payload.
	Code    int
	Message string

	Err error // wrapped cause, if any
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindKernelError:
		if e.Err != nil {
			return fmt.Sprintf("kernel_error(errno=%d): %v", e.Errno, e.Err)
		}
		return fmt.Sprintf("kernel_error(errno=%d)", e.Errno)
	case KindHandshakeFailed:
		return fmt.Sprintf("handshake_failed(step=%d)", e.Step)
	case KindUserError:
		return fmt.Sprintf("user_error(code=%d): %s", e.Code, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a plain Error of the given kind, optionally wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// Wrap wraps cause with KindIOError unless cause is already an *Error.
func Wrap(cause error) *Error {
	if cause == nil {
		return nil
	}
	if e, ok := cause.(*Error); ok {
		return e
	}
	return &Error{Kind: KindIOError, Err: cause}
}

func Kernel(errno int, cause error) *Error {
	return &Error{Kind: KindKernelError, Errno: errno, Err: cause}
}

func Handshake(step int) *Error {
	return &Error{Kind: KindHandshakeFailed, Step: step}
}

func User(code int, message string) *Error {
	return &Error{Kind: KindUserError, Code: code, Message: message}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if asError(err, &e) {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func IsTimeout(err error) bool         { return Is(err, KindTimeout) }
func IsPeerDisconnected(err error) bool { return Is(err, KindPeerDisconnected) }
func IsClosing(err error) bool         { return Is(err, KindClosing) }
func IsInvalidState(err error) bool    { return Is(err, KindInvalidState) }
