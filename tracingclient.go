// Package tracing is a client library for submitting trace jobs to a
// tracing daemon over a lock-free shared-memory ring buffer, with client
// and shared-memory-object registration brokered over a Unix domain socket.
package tracing

import (
	"fmt"
	"sync"

	"github.com/qorix-group/tracingclient/internal/constants"
	"github.com/qorix-group/tracingclient/internal/errs"
	"github.com/qorix-group/tracingclient/internal/ipc"
	"github.com/qorix-group/tracingclient/internal/logging"
	"github.com/qorix-group/tracingclient/internal/oscap"
	"github.com/qorix-group/tracingclient/internal/registry"
	"github.com/qorix-group/tracingclient/internal/ring"
	"github.com/qorix-group/tracingclient/internal/scope"
	"github.com/qorix-group/tracingclient/internal/worker"
)

// metadataRegionSize is the size of the per-process trace-metadata typed
// shared-memory region allocated at construction.
const metadataRegionSize = 64

// Client is the tracing library's public facade. It owns the Daemon
// Communicator, the Background Worker, the Client & Shared-Memory
// Registry, and the ring buffer, and exposes the registration and tracing
// operations applications call directly.
type Client struct {
	opts     Options
	logger   *logging.Logger
	shm      oscap.SharedMemory
	comm     *ipc.Communicator
	registry *registry.Registry
	ring     *ring.Ring
	worker   *worker.Worker

	metaPath string
	metaFD   int

	gateMu sync.RWMutex
	gate   *errs.Error

	scopesMu sync.Mutex
	scopes   map[uint32]*scope.Scope
}

// NewClient allocates the per-process trace-metadata shared-memory region,
// creates or opens the ring buffer, and starts the Background Worker. The
// worker connects to the daemon asynchronously; the daemon need not be
// running yet, per the library's degrade-to-pending design.
func NewClient(opts Options) (*Client, error) {
	opts.setDefaults()

	shm := oscap.NewPosix()
	validator := oscap.NewPosixMemoryValidator()
	pid := (oscap.PosixProcess{}).Getpid()
	metaPath := fmt.Sprintf("%s%d", constants.MetadataShmPrefix, pid)

	metaFD, _, err := shm.OpenOrCreate(metaPath, metadataRegionSize, 0o600, true)
	if err != nil {
		return nil, errs.New("NewClient", errs.TraceJobAllocatorInitializationFailed, "open trace-metadata region: "+err.Error())
	}
	if err := (oscap.PosixACL{}).SetDefaultACL(metaPath, 0o600); err != nil {
		opts.Logger.Debug("failed to apply default ACL to trace-metadata region", "path", metaPath, "err", err)
	}

	r, err := ring.CreateOrOpen(shm, opts.RingPath, opts.StatsPath, opts.RingCapacity, true, opts.StatisticsEnabled)
	if err != nil {
		shm.Close(metaFD)
		return nil, errs.New("NewClient", errs.TraceJobAllocatorInitializationFailed, "create ring buffer: "+err.Error())
	}

	reg := registry.New(opts.ClientCapacity, opts.ShmCapacity, validator)

	comm := ipc.New(ipc.Options{
		ServiceName: opts.SocketPath,
		Logger:      opts.Logger,
	})

	// The io_uring wake path is opportunistic: it's only present in
	// binaries built with -tags iouring, and even then the host kernel
	// might not support it. Either way we fall back to interval polling.
	var notifier worker.Notifier
	if n, nerr := ring.NewIOUringNotifier(uint(opts.RingCapacity)); nerr == nil {
		r.SetNotifyFD(n.FD())
		notifier = n
	} else {
		opts.Logger.Debug("io_uring consumer wake path unavailable, polling on interval", "err", nerr)
	}

	w := worker.New(worker.Options{
		Comm:         comm,
		Registry:     reg,
		Ring:         r,
		Shm:          shm,
		MetaPath:     metaPath,
		MetaFD:       metaFD,
		PollInterval: opts.PollInterval,
		Notifier:     notifier,
		Logger:       opts.Logger,
	})

	c := &Client{
		opts:     opts,
		logger:   opts.Logger,
		shm:      shm,
		comm:     comm,
		registry: reg,
		ring:     r,
		worker:   w,
		metaPath: metaPath,
		metaFD:   metaFD,
		scopes:   make(map[uint32]*scope.Scope),
	}

	w.Start()
	return c, nil
}

// checkGate returns DaemonNotAvailable (fatal) if the global error gate has
// already latched, otherwise nil. Every public method calls it first.
func (c *Client) checkGate() error {
	c.gateMu.RLock()
	defer c.gateMu.RUnlock()
	if c.gate != nil {
		return errs.New("Client", errs.DaemonNotAvailable, "client is poisoned: "+c.gate.Error())
	}
	return nil
}

// gateResult latches the gate the first time a fatal error is observed,
// then returns err unchanged. Recoverable errors never latch the gate.
func (c *Client) gateResult(err error) error {
	if err == nil || !errs.IsFatal(err) {
		return err
	}
	c.gateMu.Lock()
	if c.gate == nil {
		if se, ok := err.(*errs.Error); ok {
			c.gate = se
		} else {
			c.gate = errs.Wrap("Client", err)
		}
	}
	c.gateMu.Unlock()
	return err
}

func (c *Client) scopeFor(localID uint32) *scope.Scope {
	c.scopesMu.Lock()
	defer c.scopesMu.Unlock()
	s, ok := c.scopes[localID]
	if !ok {
		s = scope.New()
		c.scopes[localID] = s
	}
	return s
}

// RegisterClient registers a client under binding/appID, idempotently by
// identity, and returns its local id. An empty appID is rejected as
// InvalidArgument and an Undefined binding as InvalidBindingType (both
// fatal).
func (c *Client) RegisterClient(binding BindingType, appID AppIdType) (uint32, error) {
	if err := c.checkGate(); err != nil {
		return 0, err
	}
	id, err := c.registry.RegisterClient(c.comm, binding, appID)
	return id, c.gateResult(err)
}

// Unregister removes a client and expires its trace-done callback scope so
// any in-flight asynchronous invocation becomes a no-op.
func (c *Client) Unregister(localID uint32) error {
	if err := c.checkGate(); err != nil {
		return err
	}
	c.registry.RemoveClient(localID)
	c.scopesMu.Lock()
	if s, ok := c.scopes[localID]; ok {
		s.Expire()
		delete(c.scopes, localID)
	}
	c.scopesMu.Unlock()
	return nil
}

// RegisterShmObjectByFD registers a typed-memory file descriptor on behalf
// of localID, returning a handle usable in later Trace calls.
func (c *Client) RegisterShmObjectByFD(localID uint32, fd int) (ShmObjectHandle, error) {
	if err := c.checkGate(); err != nil {
		return InvalidShmObjectHandle, err
	}
	h, err := c.registry.RegisterShmObjectByFD(c.comm, localID, fd)
	return h, c.gateResult(err)
}

// RegisterShmObjectByPath resolves path to a file descriptor via the OS
// capability layer, then registers it exactly as RegisterShmObjectByFD.
func (c *Client) RegisterShmObjectByPath(localID uint32, path string) (ShmObjectHandle, error) {
	if err := c.checkGate(); err != nil {
		return InvalidShmObjectHandle, err
	}
	h, err := c.registry.RegisterShmObjectByPath(c.comm, localID, path)
	return h, c.gateResult(err)
}

// UnregisterShmObject removes a shared-memory registration. An unknown
// handle is treated as an already-idempotent success.
func (c *Client) UnregisterShmObject(localID uint32, handle ShmObjectHandle) error {
	if err := c.checkGate(); err != nil {
		return err
	}
	return c.gateResult(c.registry.UnregisterShmObject(c.comm, localID, handle))
}

// RegisterTraceDoneCB registers a callback invoked by the Background
// Worker once a submitted trace job has been consumed. A nil callback is
// rejected as InvalidArgument (fatal); so is registering a second callback
// for the same client.
func (c *Client) RegisterTraceDoneCB(localID uint32, fn func()) error {
	if err := c.checkGate(); err != nil {
		return err
	}
	if fn == nil {
		return c.gateResult(errs.New("Client.RegisterTraceDoneCB", errs.InvalidArgument, "callback must not be nil"))
	}
	cb := c.scopeFor(localID).Bind(fn)
	return c.gateResult(c.registry.RegisterTraceDoneCB(localID, cb))
}

// Trace submits a trace job descriptor into the ring buffer for the
// daemon's consumer side to pick up. It requires the daemon to currently
// be connected; while disconnected it returns DaemonIsDisconnected
// (recoverable) rather than silently queuing, since the Registry — not the
// ring buffer — is what the Background Worker replays on reconnect.
func (c *Client) Trace(localID uint32, shmHandle ShmObjectHandle, offset, length uint64) error {
	if err := c.checkGate(); err != nil {
		return err
	}
	if !c.comm.IsConnected() {
		return c.gateResult(errs.New("Client.Trace", errs.DaemonIsDisconnected, "daemon not connected"))
	}
	entry, err := c.registry.GetClient(localID)
	if err != nil {
		return c.gateResult(err)
	}
	idx, rerr := c.ring.AcquireEmptySlot()
	if rerr != nil {
		return c.gateResult(mapRingError(rerr))
	}
	desc := ring.TraceJobDescriptor{
		ClientLocalID:  localID,
		ShmObjectIndex: int32(shmHandle),
		Offset:         offset,
		Length:         length,
		Binding:        uint8(entry.Binding),
	}
	c.ring.Fill(idx, desc, true)
	return nil
}

// ConnectionState reports whether the daemon has never been reached, is
// currently connected, or has disconnected since the last successful
// connection.
func (c *Client) ConnectionState() ConnectionState {
	return c.comm.State()
}

// Stats returns a snapshot of the ring buffer's producer/consumer
// counters, or the zero Snapshot if statistics were disabled.
func (c *Client) Stats() ring.Snapshot {
	if s := c.ring.Stats(); s != nil {
		return s.Snapshot()
	}
	return ring.Snapshot{}
}

// Close stops the Background Worker, which unregisters and unlinks the
// trace-metadata region and closes the ring buffer from the producer side,
// then closes the daemon connection. Close joins all client threads before
// returning.
func (c *Client) Close() error {
	c.worker.Stop()
	return c.comm.Close()
}

func mapRingError(err error) error {
	var kind errs.Kind
	switch err {
	case ring.ErrFull:
		kind = errs.RingBufferFull
	case ring.ErrEmpty:
		kind = errs.RingBufferEmpty
	case ring.ErrInvalidState:
		kind = errs.RingBufferInvalidState
	case ring.ErrNoEmptyElement:
		kind = errs.RingBufferNoEmptyElement
	case ring.ErrNoReadyElement:
		kind = errs.RingBufferNoReadyElement
	case ring.ErrNotInitialized:
		kind = errs.RingBufferNotInitialized
	case ring.ErrTooLarge:
		kind = errs.RingBufferTooLarge
	default:
		kind = errs.GenericError
	}
	return errs.New("Client.Trace", kind, err.Error())
}
