// Package errs implements the tracing client's two-tier Fatal/Recoverable
// error taxonomy, kept in its own leaf package (mirroring internal/model)
// so every internal package and the public facade can construct and
// inspect these errors without an import cycle.
package errs

import (
	"errors"
	"fmt"
	"syscall"
)

// Tier classifies a Kind as Fatal (poisons the global error gate) or
// Recoverable (propagates to the caller without disabling the client).
type Tier uint8

const (
	Recoverable Tier = iota
	Fatal
)

func (t Tier) String() string {
	if t == Fatal {
		return "fatal"
	}
	return "recoverable"
}

// Kind enumerates the named error conditions the tracing client can report.
type Kind string

const (
	DaemonNotAvailable                     Kind = "daemon not available"
	DaemonNotConnected                     Kind = "daemon not connected"
	DaemonIsDisconnected                   Kind = "daemon is disconnected"
	DaemonTerminationDetectionFailed       Kind = "daemon termination detection failed"
	ServerConnectionNameOpenFailed         Kind = "server connection name open failed"
	MessageSendFailed                      Kind = "message send failed"
	InvalidArgument                        Kind = "invalid argument"
	InvalidBindingType                     Kind = "invalid binding type"
	ClientNotFound                         Kind = "client not found"
	BadFileDescriptor                      Kind = "bad file descriptor"
	SharedMemoryObjectRegistrationFailed   Kind = "shared memory object registration failed"
	SharedMemoryObjectHandleCreationFailed Kind = "shared memory object handle creation failed"
	SharedMemoryObjectUnregisterFailed     Kind = "shared memory object unregister failed"
	SharedMemoryObjectAlreadyRegistered    Kind = "shared memory object already registered"
	SharedMemoryObjectNotInTypedMemory     Kind = "shared memory object not in typed memory"
	SharedMemoryObjectFlagsRetrievalFailed Kind = "shared memory object flags retrieval failed"
	NoMoreSpaceForNewShmObject             Kind = "no more space for new shm object"
	TraceJobAllocatorInitializationFailed  Kind = "trace job allocator initialization failed"
	RingBufferFull                         Kind = "ring buffer full"
	RingBufferEmpty                        Kind = "ring buffer empty"
	RingBufferInvalidState                 Kind = "ring buffer invalid state"
	RingBufferNoEmptyElement               Kind = "ring buffer no empty element"
	RingBufferNoReadyElement               Kind = "ring buffer no ready element"
	RingBufferNotInitialized               Kind = "ring buffer not initialized"
	RingBufferTooLarge                     Kind = "ring buffer too large"
	GenericError                           Kind = "generic error"
)

// tiers is the authoritative Fatal/Recoverable classification for each Kind.
var tiers = map[Kind]Tier{
	DaemonNotAvailable:                     Fatal,
	DaemonNotConnected:                     Recoverable,
	DaemonIsDisconnected:                   Recoverable,
	DaemonTerminationDetectionFailed:       Fatal,
	ServerConnectionNameOpenFailed:         Fatal,
	MessageSendFailed:                      Recoverable,
	InvalidArgument:                        Fatal,
	InvalidBindingType:                     Fatal,
	ClientNotFound:                         Recoverable,
	BadFileDescriptor:                      Fatal,
	SharedMemoryObjectRegistrationFailed:   Fatal,
	SharedMemoryObjectHandleCreationFailed: Fatal,
	SharedMemoryObjectUnregisterFailed:     Fatal,
	SharedMemoryObjectAlreadyRegistered:    Recoverable,
	SharedMemoryObjectNotInTypedMemory:     Fatal,
	SharedMemoryObjectFlagsRetrievalFailed: Fatal,
	NoMoreSpaceForNewShmObject:             Fatal,
	TraceJobAllocatorInitializationFailed:  Fatal,
	RingBufferFull:                         Recoverable,
	RingBufferEmpty:                        Recoverable,
	RingBufferInvalidState:                 Recoverable,
	RingBufferNoEmptyElement:               Recoverable,
	RingBufferNoReadyElement:               Recoverable,
	RingBufferNotInitialized:               Recoverable,
	RingBufferTooLarge:                     Recoverable,
	GenericError:                           Recoverable,
}

// TierOf returns the Tier for a known Kind, defaulting to Recoverable for an
// unrecognized kind (never silently Fatal).
func TierOf(k Kind) Tier {
	if t, ok := tiers[k]; ok {
		return t
	}
	return Recoverable
}

// Error is a structured tracing-client error pairing an operation, a Kind,
// and its derived Tier, with optional errno context.
type Error struct {
	Op    string
	Kind  Kind
	Tier  Tier
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("tracing: %s: %s (%s)", e.Op, msg, e.Tier)
	}
	return fmt.Sprintf("tracing: %s (%s)", msg, e.Tier)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// New builds a structured error, deriving Tier from Kind.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Tier: TierOf(kind), Msg: msg}
}

// NewErrno builds a structured error carrying an originating errno.
func NewErrno(op string, kind Kind, errno syscall.Errno) *Error {
	return &Error{Op: op, Kind: kind, Tier: TierOf(kind), Errno: errno, Msg: errno.Error()}
}

// Wrap wraps inner under op, mapping a bare syscall.Errno to a Kind via
// mapErrnoToKind; a nil inner yields a nil *Error.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if te, ok := inner.(*Error); ok {
		return &Error{Op: op, Kind: te.Kind, Tier: te.Tier, Errno: te.Errno, Msg: te.Msg, Inner: te.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		kind := mapErrnoToKind(errno)
		return &Error{Op: op, Kind: kind, Tier: TierOf(kind), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Kind: GenericError, Tier: Recoverable, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToKind(errno syscall.Errno) Kind {
	switch errno {
	case syscall.ENOENT:
		return ClientNotFound
	case syscall.EEXIST:
		return SharedMemoryObjectAlreadyRegistered
	case syscall.EBADF:
		return BadFileDescriptor
	case syscall.EINVAL, syscall.E2BIG:
		return InvalidArgument
	case syscall.ENOSPC, syscall.ENOMEM:
		return NoMoreSpaceForNewShmObject
	case syscall.ETIMEDOUT:
		return MessageSendFailed
	case syscall.EPIPE, syscall.ECONNRESET, syscall.ECONNREFUSED:
		return DaemonIsDisconnected
	default:
		return GenericError
	}
}

// IsKind reports whether err is an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// IsFatal reports whether err is an *Error tagged Fatal.
func IsFatal(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Tier == Fatal
	}
	return false
}
