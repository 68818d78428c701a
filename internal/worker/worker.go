// Package worker runs the single background thread that periodically
// reconnects to the daemon, replays cached pending registrations, and
// drains the ring buffer of completed trace jobs.
package worker

import (
	"sync"
	"time"

	"github.com/qorix-group/tracingclient/internal/logging"
	"github.com/qorix-group/tracingclient/internal/model"
	"github.com/qorix-group/tracingclient/internal/oscap"
	"github.com/qorix-group/tracingclient/internal/registry"
	"github.com/qorix-group/tracingclient/internal/ring"
)

// Communicator is the subset of the daemon connection's contract the
// Worker needs: connection lifecycle plus the registration calls it
// replays on behalf of cached pending entries. Its method set is a
// superset of registry.Communicator, so a *ipc.Communicator satisfies both
// without either package importing the other's concrete type.
type Communicator interface {
	IsConnected() bool
	Connect() error
	RegisterClient(binding model.BindingType, appIDPrefix [8]byte) (model.TraceClientId, error)
	RegisterSharedMemoryObjectFD(fd int32) (model.ShmObjectHandle, error)
	UnregisterSharedMemoryObject(handle model.ShmObjectHandle) error
	SubscribeToDaemonTerminationNotification(cb func())
}

// Notifier is an optional wake source for the tick loop: a successful Wait
// triggers an immediate tick instead of waiting out the rest of the current
// PollInterval. Left nil in Options, the Worker ticks on interval alone.
// internal/ring.IOUringNotifier satisfies this when built with -tags iouring.
type Notifier interface {
	Wait() error
	Close() error
}

// Options configures a Worker.
type Options struct {
	Comm         Communicator
	Registry     *registry.Registry
	Ring         *ring.Ring
	Shm          oscap.SharedMemory
	MetaPath     string
	MetaFD       int
	PollInterval time.Duration
	Notifier     Notifier
	Logger       *logging.Logger
}

// Worker owns the single background thread that keeps the daemon
// connection, the registry, and the ring buffer in sync with each other.
type Worker struct {
	comm     Communicator
	registry *registry.Registry
	ring     *ring.Ring
	shm      oscap.SharedMemory
	metaPath string
	metaFD   int
	interval time.Duration
	logger   *logging.Logger

	readyMu sync.RWMutex
	ready   bool

	metaMu         sync.Mutex
	metaRegistered bool
	metaHandle     model.ShmObjectHandle

	notifier Notifier
	wakeCh   chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs a stopped Worker. Call Start to begin ticking.
func New(opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		comm:     opts.Comm,
		registry: opts.Registry,
		ring:     opts.Ring,
		shm:      opts.Shm,
		metaPath: opts.MetaPath,
		metaFD:   opts.MetaFD,
		interval: opts.PollInterval,
		notifier: opts.Notifier,
		wakeCh:   make(chan struct{}, 1),
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Ready reports whether the library has completed at least one successful
// connect-and-register sequence, i.e. the "library ready to trace" flag.
func (w *Worker) Ready() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

// Start subscribes to daemon-death notifications and launches the tick
// loop goroutine, plus the notifier wait loop if one was configured.
func (w *Worker) Start() {
	w.comm.SubscribeToDaemonTerminationNotification(w.onDaemonDeath)
	if w.notifier != nil {
		go w.waitLoop()
	}
	go w.run()
}

// waitLoop blocks on the notifier and schedules an immediate tick on each
// wake, until the notifier errors (which Stop triggers by closing it).
func (w *Worker) waitLoop() {
	for {
		if err := w.notifier.Wait(); err != nil {
			return
		}
		select {
		case w.wakeCh <- struct{}{}:
		default:
		}
	}
}

// Stop requests the loop exit, waits for it to finish its shutdown
// sequence (unregister metadata region, unlink its file, close the ring),
// and returns. Safe to call more than once.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.shutdown()
			return
		case <-ticker.C:
			w.tick()
		case <-w.wakeCh:
			w.tick()
		}
	}
}

func (w *Worker) tick() {
	if !w.comm.IsConnected() {
		if err := w.comm.Connect(); err != nil {
			w.logger.Debug("daemon reconnect attempt failed", "err", err)
			return
		}
		w.registerMetadataRegion()
		w.setReady(true)
	}
	w.replayPending()
	w.processJobs()
}

// registerMetadataRegion registers the trace-metadata shared-memory region
// with the daemon the first time a connection succeeds.
func (w *Worker) registerMetadataRegion() {
	w.metaMu.Lock()
	defer w.metaMu.Unlock()
	if w.metaRegistered {
		return
	}
	handle, err := w.comm.RegisterSharedMemoryObjectFD(int32(w.metaFD))
	if err != nil {
		w.logger.Warn("failed to register trace-metadata region", "err", err)
		return
	}
	w.metaHandle = handle
	w.metaRegistered = true
}

// replayPending issues the synchronous IPC call for each cached pending
// client or shared-memory registration and updates the registry with the
// outcome.
func (w *Worker) replayPending() {
	for _, e := range w.registry.PendingClients() {
		remoteID, err := w.comm.RegisterClient(e.Binding, e.AppIDPrefix)
		w.registry.ResolveClientReplay(e.LocalID, remoteID, err)
	}
	for _, e := range w.registry.PendingShmObjects() {
		if e.State == registry.ShmPendingUnregister {
			err := w.comm.UnregisterSharedMemoryObject(e.RemoteHandle)
			w.registry.ResolveShmReplay(e.ClientLocalID, e.Key, false, model.InvalidShmObjectHandle, err)
			continue
		}
		handle, err := w.comm.RegisterSharedMemoryObjectFD(e.FD)
		w.registry.ResolveShmReplay(e.ClientLocalID, e.Key, true, handle, err)
	}
}

// processJobs drains any ready slots and delivers each job's completion
// notification. Persistent storage of the trace data itself happens out of
// process, via the daemon's own consumption of the same ring; this step is
// purely the local forwarding to each client's registered completion
// callback, since no synchronous completion guarantee to the caller is
// required.
func (w *Worker) processJobs() {
	for {
		desc, idx, err := w.ring.FetchReadySlot()
		if err != nil {
			return
		}
		if cb := w.registry.TraceDoneCB(desc.ClientLocalID); cb != nil {
			cb.Invoke()
		}
		w.ring.ReleaseSlot(idx)
	}
}

// onDaemonDeath is invoked by the connection's detector on daemon death. It
// resets the ring buffer once the use-count drops to one and clears the
// "ready to trace" and metadata-registered flags so the next tick
// reconnects and re-registers.
func (w *Worker) onDaemonDeath() {
	w.logger.Warn("daemon death detected, resetting ring and arming reconnect")
	w.setReady(false)

	w.metaMu.Lock()
	w.metaRegistered = false
	w.metaMu.Unlock()

	w.registry.MarkAllPending()

	if w.ring.GetUseCount() <= 1 {
		w.ring.Reset()
	}
}

func (w *Worker) shutdown() {
	if w.notifier != nil {
		if err := w.notifier.Close(); err != nil {
			w.logger.Warn("failed to close io_uring notifier", "err", err)
		}
	}

	w.metaMu.Lock()
	if w.metaRegistered {
		if err := w.comm.UnregisterSharedMemoryObject(w.metaHandle); err != nil {
			w.logger.Warn("failed to unregister trace-metadata region", "err", err)
		}
		w.metaRegistered = false
	}
	w.metaMu.Unlock()

	if err := w.shm.Close(w.metaFD); err != nil {
		w.logger.Warn("failed to close trace-metadata fd", "err", err)
	}
	if err := w.shm.Unlink(w.metaPath); err != nil {
		w.logger.Warn("failed to unlink trace-metadata region", "err", err)
	}
	if err := w.ring.Close(); err != nil {
		w.logger.Warn("failed to close ring buffer", "err", err)
	}
}
