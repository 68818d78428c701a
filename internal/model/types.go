// Package model holds the data-model types shared across the tracing
// client's internal packages and the public facade, kept separate so the
// facade package and internal packages (registry, ring, ipc) can both
// depend on them without an import cycle.
package model

// TraceClientId is an opaque integer assigned by the daemon, unique within
// the daemon. Zero is reserved "unassigned".
type TraceClientId uint32

const UnassignedClientID TraceClientId = 0

// AppIdType names an application instance. Only the first 8 bytes are
// significant when determining registration identity.
type AppIdType []byte

// AppIDPrefixLen is the number of leading bytes of AppIdType that determine
// registration identity; duplicate calls with matching prefixes return the
// same client id.
const AppIDPrefixLen = 8

// AppIDPrefix returns the first AppIDPrefixLen bytes of id, zero-padded on
// the right if id is shorter.
func AppIDPrefix(id AppIdType) [AppIDPrefixLen]byte {
	var prefix [AppIDPrefixLen]byte
	copy(prefix[:], id)
	return prefix
}

// BindingType selects which on-the-wire serialisation binding ultimately
// carries a trace job's payload. Undefined is rejected at the facade.
type BindingType uint8

const (
	BindingUndefined BindingType = iota
	BindingLoLa
	BindingVector
	BindingVectorZeroCopy
)

func (b BindingType) String() string {
	switch b {
	case BindingLoLa:
		return "LoLa"
	case BindingVector:
		return "Vector"
	case BindingVectorZeroCopy:
		return "VectorZeroCopy"
	default:
		return "Undefined"
	}
}

// ShmObjectHandle is a daemon-assigned index; negative values are invalid.
type ShmObjectHandle int32

const InvalidShmObjectHandle ShmObjectHandle = -1

func (h ShmObjectHandle) Valid() bool {
	return h >= 0
}

// ConnectionState models the Daemon Communicator's externally observable
// connection lifecycle.
type ConnectionState uint8

const (
	StateNeverConnected ConnectionState = iota
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "NeverConnected"
	}
}
