// Package constants holds tunable defaults for the tracing client core.
package constants

import "time"

// Capacity and retry bounds.
const (
	// DefaultClientCapacity bounds the Client Registry's client table.
	DefaultClientCapacity = 32

	// DefaultShmCapacity bounds the Client Registry's shared-memory table.
	DefaultShmCapacity = 128

	// MaxRingCapacity is the largest ring buffer capacity that fits the
	// packed 15-bit start/end state word.
	MaxRingCapacity = 1 << 15

	// DefaultRingCapacity is used when Options.RingCapacity is zero.
	DefaultRingCapacity = 1024

	// GetElementRetries bounds the CAS retry loop in both the producer's
	// acquire_empty_slot and the consumer's fetch_ready_slot.
	GetElementRetries = 10
)

// Polling and timeout tunables.
//
// Faster Background Worker ticks reconnect sooner after a daemon restart at
// the cost of more wakeups.
const (
	// DefaultPollInterval is the Background Worker's tick period.
	DefaultPollInterval = 20 * time.Millisecond

	// MinPollInterval / MaxPollInterval name the usual range for
	// PollInterval. A caller-supplied PollInterval is not clamped to them.
	MinPollInterval = 10 * time.Millisecond
	MaxPollInterval = 100 * time.Millisecond

	// DefaultRequestTimeout bounds a single IPC request/response round trip.
	DefaultRequestTimeout = 250 * time.Millisecond

	// DefaultLivenessProbeInterval is the detector goroutine's pulse-equivalent
	// cadence on transports with no kernel peer-death notification.
	DefaultLivenessProbeInterval = 50 * time.Millisecond
)

// Shared-memory and socket path conventions.
const (
	// MetadataShmPrefix names the per-process typed-memory metadata region;
	// the full name is MetadataShmPrefix + decimal pid.
	MetadataShmPrefix = "/dev_tmd_"

	// DefaultRingPath and DefaultStatsPath name the ring buffer's two shared
	// memory regions. Implementation-chosen, stable across all processes
	// sharing one daemon.
	DefaultRingPath  = "/dev_shmem_trace_ring"
	DefaultStatsPath = "/dev_shmem_stat"

	// DefaultSocketPath names the daemon's IPC endpoint.
	DefaultSocketPath = "/tmp/tracing-daemon.sock"
)
