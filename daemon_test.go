package tracing

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qorix-group/tracingclient/internal/errs"
	"github.com/qorix-group/tracingclient/internal/ipc"
	"github.com/qorix-group/tracingclient/internal/oscap"
	"github.com/qorix-group/tracingclient/internal/registry"
	"github.com/qorix-group/tracingclient/internal/ring"
	"github.com/qorix-group/tracingclient/internal/scope"
	"github.com/qorix-group/tracingclient/internal/wire"
	"github.com/qorix-group/tracingclient/internal/worker"
)

// fakeDaemon answers the wire protocol over in-memory net.Pipe connections
// and can be stopped and restarted mid-test, standing in for the external
// daemon process across its whole lifecycle.
type fakeDaemon struct {
	up      atomic.Bool
	mu      sync.Mutex
	conns   []net.Conn
	nextID  uint32
	nextShm int32
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{nextID: 1, nextShm: 1}
}

func (d *fakeDaemon) start() { d.up.Store(true) }

// crash closes every live connection, which the client observes as a failed
// liveness probe on its next detector tick.
func (d *fakeDaemon) crash() {
	d.up.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
}

func (d *fakeDaemon) dial(addr string) (io.ReadWriteCloser, error) {
	if !d.up.Load() {
		return nil, fmt.Errorf("daemon not running")
	}
	client, server := net.Pipe()
	d.mu.Lock()
	d.conns = append(d.conns, server)
	d.mu.Unlock()
	go d.serve(server)
	return client, nil
}

func (d *fakeDaemon) serve(conn net.Conn) {
	buf := make([]byte, 18)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		req, err := wire.DecodeRequest(buf)
		if err != nil {
			return
		}
		if _, err := conn.Write(d.handle(req).Encode()); err != nil {
			return
		}
	}
}

func (d *fakeDaemon) handle(req *wire.Request) *wire.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch req.Tag {
	case wire.ReqDaemonProcessID:
		return &wire.Response{Tag: wire.RespDaemonProcessID, DaemonProcessID: 4242}
	case wire.ReqRegisterClient:
		id := d.nextID
		d.nextID++
		return &wire.Response{Tag: wire.RespRegisterClient, TraceClientID: id}
	case wire.ReqRegisterShm:
		idx := d.nextShm
		d.nextShm++
		return &wire.Response{Tag: wire.RespRegisterShm, ShmObjectIndex: idx}
	case wire.ReqUnregisterShm:
		return &wire.Response{Tag: wire.RespUnregisterShm, UnregisterSuccessful: true}
	default:
		return &wire.Response{Tag: wire.RespErrorCode, ErrorCode: 1}
	}
}

// newWiredClient assembles a full Client — communicator, registry, ring,
// and a running Background Worker — over oscap.Fake and the fakeDaemon's
// injected dial, mirroring NewClient's wiring without touching the host OS.
func newWiredClient(t *testing.T, daemon *fakeDaemon) *Client {
	t.Helper()
	shm := oscap.NewFake()

	metaFD, _, err := shm.OpenOrCreate("/dev_tmd_4242", 64, 0o600, true)
	require.NoError(t, err)

	r, err := ring.CreateOrOpen(shm, "/dev_shmem_trace_ring_e2e", "/dev_shmem_stat_e2e", 8, true, true)
	require.NoError(t, err)

	reg := registry.New(8, 8, shm)
	comm := ipc.New(ipc.Options{
		ServiceName:           "e2e-daemon",
		Dispatch:              oscap.FakeDispatch{},
		Dial:                  daemon.dial,
		Timer:                 oscap.FakeTimer{},
		RequestTimeout:        200 * time.Millisecond,
		LivenessProbeInterval: 10 * time.Millisecond,
	})
	w := worker.New(worker.Options{
		Comm:         comm,
		Registry:     reg,
		Ring:         r,
		Shm:          shm,
		MetaPath:     "/dev_tmd_4242",
		MetaFD:       metaFD,
		PollInterval: 5 * time.Millisecond,
	})

	c := &Client{
		opts:     DefaultOptions(),
		shm:      shm,
		comm:     comm,
		registry: reg,
		ring:     r,
		worker:   w,
		metaPath: "/dev_tmd_4242",
		metaFD:   metaFD,
		scopes:   make(map[uint32]*scope.Scope),
	}
	w.Start()
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDaemonAbsentThenAvailableResolvesPendingAndTraces(t *testing.T) {
	daemon := newFakeDaemon()
	c := newWiredClient(t, daemon)

	id, err := c.RegisterClient(BindingVectorZeroCopy, AppIdType("client"))
	require.NoError(t, err)
	entry, err := c.registry.GetClient(id)
	require.NoError(t, err)
	require.True(t, entry.Pending)

	daemon.start()

	require.Eventually(t, func() bool {
		e, gerr := c.registry.GetClient(id)
		return gerr == nil && !e.Pending && e.RemoteID != UnassignedClientID
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return c.Trace(id, ShmObjectHandle(0), 0, 16) == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDaemonDeathMidSessionRecoversAfterRestart(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.start()
	c := newWiredClient(t, daemon)

	id, err := c.RegisterClient(BindingVector, AppIdType("client"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return c.Trace(id, ShmObjectHandle(0), 0, 16) == nil
	}, 2*time.Second, 5*time.Millisecond)

	daemon.crash()

	require.Eventually(t, func() bool {
		err := c.Trace(id, ShmObjectHandle(0), 0, 16)
		return err != nil && errs.IsKind(err, errs.DaemonIsDisconnected)
	}, 2*time.Second, 5*time.Millisecond)

	// The old registration is pending again, and the local id survives.
	require.Eventually(t, func() bool {
		e, gerr := c.registry.GetClient(id)
		return gerr == nil && e.Pending
	}, 2*time.Second, 5*time.Millisecond)

	daemon.start()

	require.Eventually(t, func() bool {
		e, gerr := c.registry.GetClient(id)
		return gerr == nil && !e.Pending
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return c.Trace(id, ShmObjectHandle(0), 0, 16) == nil
	}, 2*time.Second, 5*time.Millisecond)
}
