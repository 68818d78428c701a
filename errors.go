package tracing

import "github.com/qorix-group/tracingclient/internal/errs"

// Tier classifies an ErrorKind as Fatal (poisons the global error gate) or
// Recoverable (propagates to the caller without disabling the client).
type Tier = errs.Tier

const (
	Recoverable = errs.Recoverable
	Fatal       = errs.Fatal
)

// ErrorKind enumerates the tracing client's two-tier error taxonomy.
type ErrorKind = errs.Kind

const (
	KindDaemonNotAvailable                     = errs.DaemonNotAvailable
	KindDaemonNotConnected                     = errs.DaemonNotConnected
	KindDaemonIsDisconnected                   = errs.DaemonIsDisconnected
	KindDaemonTerminationDetectionFailed       = errs.DaemonTerminationDetectionFailed
	KindServerConnectionNameOpenFailed         = errs.ServerConnectionNameOpenFailed
	KindMessageSendFailed                      = errs.MessageSendFailed
	KindInvalidArgument                        = errs.InvalidArgument
	KindInvalidBindingType                     = errs.InvalidBindingType
	KindClientNotFound                         = errs.ClientNotFound
	KindBadFileDescriptor                      = errs.BadFileDescriptor
	KindSharedMemoryObjectRegistrationFailed   = errs.SharedMemoryObjectRegistrationFailed
	KindSharedMemoryObjectHandleCreationFailed = errs.SharedMemoryObjectHandleCreationFailed
	KindSharedMemoryObjectUnregisterFailed     = errs.SharedMemoryObjectUnregisterFailed
	KindSharedMemoryObjectAlreadyRegistered    = errs.SharedMemoryObjectAlreadyRegistered
	KindSharedMemoryObjectNotInTypedMemory     = errs.SharedMemoryObjectNotInTypedMemory
	KindSharedMemoryObjectFlagsRetrievalFailed = errs.SharedMemoryObjectFlagsRetrievalFailed
	KindNoMoreSpaceForNewShmObject             = errs.NoMoreSpaceForNewShmObject
	KindTraceJobAllocatorInitializationFailed  = errs.TraceJobAllocatorInitializationFailed
	KindRingBufferFull                         = errs.RingBufferFull
	KindRingBufferEmpty                        = errs.RingBufferEmpty
	KindRingBufferInvalidState                 = errs.RingBufferInvalidState
	KindRingBufferNoEmptyElement               = errs.RingBufferNoEmptyElement
	KindRingBufferNoReadyElement               = errs.RingBufferNoReadyElement
	KindRingBufferNotInitialized               = errs.RingBufferNotInitialized
	KindRingBufferTooLarge                     = errs.RingBufferTooLarge
	KindGenericError                           = errs.GenericError
)

// Error is the public structured error type returned by every facade method.
type Error = errs.Error

// TierOf, NewError, IsKind, and IsFatal re-export the internal/errs helpers
// so callers outside this module never need to import the internal package.
var (
	TierOf   = errs.TierOf
	NewError = errs.New
	IsKind   = errs.IsKind
	IsFatal  = errs.IsFatal
)

// WrapError wraps inner under op, mapping a bare syscall.Errno to an
// ErrorKind; a nil inner yields a nil *Error.
var WrapError = errs.Wrap
