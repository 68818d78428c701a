package tracing

import "github.com/qorix-group/tracingclient/internal/constants"

// Re-exported tunables for public API consumers.
const (
	DefaultClientCapacity        = constants.DefaultClientCapacity
	DefaultShmCapacity           = constants.DefaultShmCapacity
	MaxRingCapacity              = constants.MaxRingCapacity
	DefaultRingCapacity          = constants.DefaultRingCapacity
	GetElementRetries            = constants.GetElementRetries
	DefaultPollInterval          = constants.DefaultPollInterval
	DefaultRequestTimeout        = constants.DefaultRequestTimeout
	DefaultLivenessProbeInterval = constants.DefaultLivenessProbeInterval
	DefaultSocketPath            = constants.DefaultSocketPath
	DefaultRingPath              = constants.DefaultRingPath
	DefaultStatsPath             = constants.DefaultStatsPath
)
