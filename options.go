package tracing

import (
	"time"

	"github.com/qorix-group/tracingclient/internal/constants"
	"github.com/qorix-group/tracingclient/internal/logging"
)

// Options configures a Client. At NewClient time zero-valued fields are
// replaced by DefaultOptions()'s values, a nil Logger by logging.Default().
// StatisticsEnabled is the exception: a false value is kept, so a zero
// Options disables statistics although DefaultOptions() enables them.
type Options struct {
	Logger *logging.Logger

	// PollInterval is the Background Worker's tick period.
	PollInterval time.Duration

	// ClientCapacity and ShmCapacity bound the Registry's two tables.
	ClientCapacity int
	ShmCapacity    int

	// RingCapacity is the ring buffer's fixed element count (<= 2^15).
	RingCapacity uint16

	// SocketPath names the daemon's IPC endpoint.
	SocketPath string

	// RingPath and StatsPath name the ring buffer's two shared-memory
	// regions. StatisticsEnabled toggles whether the stats region is
	// opened at all.
	RingPath          string
	StatsPath         string
	StatisticsEnabled bool
}

// DefaultOptions returns the tracing client's default tunables.
func DefaultOptions() Options {
	return Options{
		PollInterval:      constants.DefaultPollInterval,
		ClientCapacity:    constants.DefaultClientCapacity,
		ShmCapacity:       constants.DefaultShmCapacity,
		RingCapacity:      constants.DefaultRingCapacity,
		SocketPath:        constants.DefaultSocketPath,
		RingPath:          constants.DefaultRingPath,
		StatsPath:         constants.DefaultStatsPath,
		StatisticsEnabled: true,
	}
}

func (o *Options) setDefaults() {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ClientCapacity <= 0 {
		o.ClientCapacity = d.ClientCapacity
	}
	if o.ShmCapacity <= 0 {
		o.ShmCapacity = d.ShmCapacity
	}
	if o.RingCapacity == 0 {
		o.RingCapacity = d.RingCapacity
	}
	if o.SocketPath == "" {
		o.SocketPath = d.SocketPath
	}
	if o.RingPath == "" {
		o.RingPath = d.RingPath
	}
	if o.StatsPath == "" {
		o.StatsPath = d.StatsPath
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}
