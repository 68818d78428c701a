// Package ipc implements the connection to the tracing daemon: a
// request/response state machine over a Unix-domain-socket connection plus
// asynchronous daemon-death detection.
package ipc

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/qorix-group/tracingclient/internal/constants"
	"github.com/qorix-group/tracingclient/internal/errs"
	"github.com/qorix-group/tracingclient/internal/logging"
	"github.com/qorix-group/tracingclient/internal/model"
	"github.com/qorix-group/tracingclient/internal/oscap"
	"github.com/qorix-group/tracingclient/internal/wire"
)

// Dialer opens the transport-level connection to an address resolved by
// Dispatch.OpenByName. The default dials a Unix-domain socket.
type Dialer func(addr string) (io.ReadWriteCloser, error)

func defaultDial(addr string) (io.ReadWriteCloser, error) {
	return net.Dial("unix", addr)
}

// Options configures a Communicator.
type Options struct {
	ServiceName           string
	Dispatch              oscap.Dispatch
	Dial                  Dialer
	Timer                 oscap.Timer
	RequestTimeout        time.Duration
	LivenessProbeInterval time.Duration
	Logger                *logging.Logger
}

func (o *Options) setDefaults() {
	if o.Dispatch == nil {
		o.Dispatch = oscap.PosixDispatch{}
	}
	if o.ServiceName == "" {
		o.ServiceName = constants.DefaultSocketPath
	}
	if o.Dial == nil {
		o.Dial = defaultDial
	}
	if o.Timer == nil {
		o.Timer = oscap.PosixTimer{}
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = constants.DefaultRequestTimeout
	}
	if o.LivenessProbeInterval <= 0 {
		o.LivenessProbeInterval = constants.DefaultLivenessProbeInterval
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Communicator owns a connection to the daemon and provides synchronous
// request/response primitives plus asynchronous daemon-death notification.
// Not safe for concurrent Connect/Close; request methods serialise through
// reqMu.
type Communicator struct {
	opts Options

	stateMu       sync.RWMutex
	state         connState
	conn          io.ReadWriteCloser
	remotePID     int32
	everConnected bool

	reqMu sync.Mutex

	termMu sync.RWMutex
	termCB func()

	detectorStop chan struct{}
	detectorDone chan struct{}
}

// New constructs a Communicator in the Closed state. Call Connect to open
// the connection.
func New(opts Options) *Communicator {
	opts.setDefaults()
	return &Communicator{opts: opts, state: stateClosed}
}

// IsConnected reports whether the Communicator is in the Open state.
func (c *Communicator) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state == stateOpen
}

// RemotePID returns the daemon's process id recorded at Connect, or 0 if
// never connected.
func (c *Communicator) RemotePID() int32 {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.remotePID
}

// State reports the externally observable connection lifecycle state.
func (c *Communicator) State() model.ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	switch {
	case c.state == stateOpen:
		return model.StateConnected
	case c.everConnected:
		return model.StateDisconnected
	default:
		return model.StateNeverConnected
	}
}

// SubscribeToDaemonTerminationNotification stores cb, invoked at most once
// per detected daemon death. Replacing a previous callback is allowed.
func (c *Communicator) SubscribeToDaemonTerminationNotification(cb func()) {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	c.termCB = cb
}

// Connect opens the IPC endpoint, performs the DaemonProcessId handshake,
// and arms the death-detection loop. Idempotent if already Open.
func (c *Communicator) Connect() error {
	c.stateMu.Lock()
	if c.state == stateOpen {
		c.stateMu.Unlock()
		return nil
	}
	c.state = stateOpening
	c.stateMu.Unlock()

	addr, err := c.opts.Dispatch.OpenByName(c.opts.ServiceName)
	if err != nil {
		c.setState(stateClosed)
		return errs.New("Communicator.Connect", errs.ServerConnectionNameOpenFailed, "resolve service name: "+err.Error())
	}

	conn, err := c.opts.Dial(addr)
	if err != nil {
		c.setState(stateClosed)
		return errs.New("Communicator.Connect", errs.ServerConnectionNameOpenFailed, "open connection: "+err.Error())
	}

	c.stateMu.Lock()
	c.conn = conn
	c.state = stateOpen
	c.everConnected = true
	c.stateMu.Unlock()

	resp, rerr := c.doRequest("Communicator.Connect", &wire.Request{Tag: wire.ReqDaemonProcessID})
	if rerr != nil {
		c.teardown()
		return rerr
	}

	c.stateMu.Lock()
	c.remotePID = resp.DaemonProcessID
	c.stateMu.Unlock()

	if err := c.armDetector(); err != nil {
		c.teardown()
		return errs.New("Communicator.Connect", errs.DaemonTerminationDetectionFailed, err.Error())
	}

	c.opts.Logger.Info("daemon connected", "pid", resp.DaemonProcessID)
	return nil
}

func (c *Communicator) setState(s connState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// teardown tears the connection down after a synchronous request failure,
// transitioning to Closed without invoking the termination callback (that
// is reserved for death detected by the dedicated detector loop).
func (c *Communicator) teardown() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = stateClosed
}

// doRequest serialises one request/response exchange with a per-call
// timeout armed against opts.Timer, so a stalled daemon can't hang a
// caller indefinitely.
func (c *Communicator) doRequest(op string, req *wire.Request) (*wire.Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.stateMu.RLock()
	if c.state != stateOpen {
		c.stateMu.RUnlock()
		return nil, errs.New(op, errs.DaemonNotConnected, "daemon not connected")
	}
	conn := c.conn
	c.stateMu.RUnlock()

	type result struct {
		resp *wire.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		if err := wire.WriteRequest(conn, req); err != nil {
			ch <- result{nil, err}
			return
		}
		resp, err := wire.ReadResponse(conn)
		ch <- result{resp, err}
	}()

	timeoutCh, cancel := c.opts.Timer.After(c.opts.RequestTimeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.err != nil {
			c.teardown()
			return nil, errs.New(op, errs.MessageSendFailed, res.err.Error())
		}
		return res.resp, nil
	case <-timeoutCh:
		c.teardown()
		return nil, errs.New(op, errs.MessageSendFailed, "request timed out")
	}
}

// RegisterClient sends a RegisterClient request, rejecting Undefined
// locally without a round trip to the daemon.
func (c *Communicator) RegisterClient(binding model.BindingType, appIDPrefix [8]byte) (model.TraceClientId, error) {
	const op = "Communicator.RegisterClient"
	if binding == model.BindingUndefined {
		return model.UnassignedClientID, errs.New(op, errs.InvalidBindingType, "binding must not be Undefined")
	}
	resp, err := c.doRequest(op, &wire.Request{Tag: wire.ReqRegisterClient, Binding: uint8(binding), AppIDPrefix: appIDPrefix})
	if err != nil {
		return model.UnassignedClientID, err
	}
	if resp.Tag == wire.RespErrorCode {
		return model.UnassignedClientID, errs.New(op, errs.GenericError, fmt.Sprintf("daemon error code %d", resp.ErrorCode))
	}
	return model.TraceClientId(resp.TraceClientID), nil
}

// RegisterSharedMemoryObjectFD sends a RegisterShm request for an
// already-resolved file descriptor.
func (c *Communicator) RegisterSharedMemoryObjectFD(fd int32) (model.ShmObjectHandle, error) {
	const op = "Communicator.RegisterSharedMemoryObject"
	resp, err := c.doRequest(op, &wire.Request{Tag: wire.ReqRegisterShm, ShmFD: fd})
	if err != nil {
		return model.InvalidShmObjectHandle, err
	}
	if resp.Tag == wire.RespErrorCode {
		return model.InvalidShmObjectHandle, errs.New(op, errs.GenericError, fmt.Sprintf("daemon error code %d", resp.ErrorCode))
	}
	handle := model.ShmObjectHandle(resp.ShmObjectIndex)
	if !handle.Valid() {
		return model.InvalidShmObjectHandle, errs.New(op, errs.SharedMemoryObjectHandleCreationFailed, "daemon returned a negative handle")
	}
	return handle, nil
}

// UnregisterSharedMemoryObject sends an UnregisterShm request.
func (c *Communicator) UnregisterSharedMemoryObject(handle model.ShmObjectHandle) error {
	const op = "Communicator.UnregisterSharedMemoryObject"
	resp, err := c.doRequest(op, &wire.Request{Tag: wire.ReqUnregisterShm, ShmHandle: int32(handle)})
	if err != nil {
		return err
	}
	if resp.Tag == wire.RespErrorCode {
		return errs.New(op, errs.GenericError, fmt.Sprintf("daemon error code %d", resp.ErrorCode))
	}
	if !resp.UnregisterSuccessful {
		return errs.New(op, errs.SharedMemoryObjectUnregisterFailed, "daemon reported unregister failure")
	}
	return nil
}

// Close stops the detector loop and closes the connection, transitioning
// to Closed. Safe to call when already closed.
func (c *Communicator) Close() error {
	c.stateMu.Lock()
	if c.state == stateClosed {
		c.stateMu.Unlock()
		return nil
	}
	c.state = stateClosing
	conn := c.conn
	c.conn = nil
	c.stateMu.Unlock()

	c.stopDetector()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.setState(stateClosed)
	return err
}
