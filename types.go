package tracing

import "github.com/qorix-group/tracingclient/internal/model"

// TraceClientId is an opaque integer assigned by the daemon, unique within
// the daemon. Zero is reserved "unassigned".
type TraceClientId = model.TraceClientId

const UnassignedClientID = model.UnassignedClientID

// AppIdType names an application instance; only its first 8 bytes are
// significant for registration identity.
type AppIdType = model.AppIdType

// BindingType selects the on-the-wire serialisation binding.
type BindingType = model.BindingType

const (
	BindingUndefined      = model.BindingUndefined
	BindingLoLa           = model.BindingLoLa
	BindingVector         = model.BindingVector
	BindingVectorZeroCopy = model.BindingVectorZeroCopy
)

// ShmObjectHandle is a daemon-assigned index; negative values are invalid.
type ShmObjectHandle = model.ShmObjectHandle

const InvalidShmObjectHandle = model.InvalidShmObjectHandle

// ConnectionState models the Daemon Communicator's connection lifecycle.
type ConnectionState = model.ConnectionState

const (
	StateNeverConnected = model.StateNeverConnected
	StateConnected      = model.StateConnected
	StateDisconnected   = model.StateDisconnected
)
