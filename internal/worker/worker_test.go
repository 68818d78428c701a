package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qorix-group/tracingclient/internal/model"
	"github.com/qorix-group/tracingclient/internal/oscap"
	"github.com/qorix-group/tracingclient/internal/registry"
	"github.com/qorix-group/tracingclient/internal/ring"
	"github.com/qorix-group/tracingclient/internal/scope"
)

// fakeComm is a minimal Communicator double, independent of internal/ipc's
// transport so worker tests exercise only the tick/replay/shutdown logic.
type fakeComm struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	nextID     uint32
	nextShm    int32
	registered []int32
	termCB     func()
}

func (f *fakeComm) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeComm) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeComm) RegisterClient(binding model.BindingType, appIDPrefix [8]byte) (model.TraceClientId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return model.TraceClientId(f.nextID), nil
}

func (f *fakeComm) RegisterSharedMemoryObjectFD(fd int32) (model.ShmObjectHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextShm++
	f.registered = append(f.registered, fd)
	return model.ShmObjectHandle(f.nextShm), nil
}

func (f *fakeComm) UnregisterSharedMemoryObject(handle model.ShmObjectHandle) error {
	return nil
}

func (f *fakeComm) SubscribeToDaemonTerminationNotification(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.termCB = cb
}

func (f *fakeComm) registeredFDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int32, len(f.registered))
	copy(out, f.registered)
	return out
}

func newTestWorker(t *testing.T, comm *fakeComm, reg *registry.Registry) (*Worker, *oscap.Fake, *ring.Ring, int) {
	t.Helper()
	shm := oscap.NewFake()
	metaFD, _, err := shm.OpenOrCreate("/dev_tmd_test", 64, 0o600, true)
	require.NoError(t, err)

	r, err := ring.CreateOrOpen(shm, "/dev_shmem_trace_ring_test", "/dev_shmem_stat_test", 4, true, true)
	require.NoError(t, err)

	w := New(Options{
		Comm:         comm,
		Registry:     reg,
		Ring:         r,
		Shm:          shm,
		MetaPath:     "/dev_tmd_test",
		MetaFD:       metaFD,
		PollInterval: 5 * time.Millisecond,
	})
	return w, shm, r, metaFD
}

func TestWorkerConnectsAndRegistersMetadataRegion(t *testing.T) {
	comm := &fakeComm{}
	reg := registry.New(8, 8, oscap.NewFake())
	w, _, _, metaFD := newTestWorker(t, comm, reg)

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return w.Ready() }, time.Second, 2*time.Millisecond)
	require.Contains(t, comm.registeredFDs(), int32(metaFD))
}

func TestWorkerReplaysPendingClientRegistration(t *testing.T) {
	comm := &fakeComm{}
	reg := registry.New(8, 8, oscap.NewFake())

	id, err := reg.RegisterClient(comm, model.BindingVector, model.AppIdType("app"))
	require.NoError(t, err)
	entry, err := reg.GetClient(id)
	require.NoError(t, err)
	require.True(t, entry.Pending)

	w, _, _, _ := newTestWorker(t, comm, reg)

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		e, err := reg.GetClient(id)
		return err == nil && !e.Pending
	}, time.Second, 2*time.Millisecond)
}

func TestWorkerProcessJobsInvokesTraceDoneCallback(t *testing.T) {
	comm := &fakeComm{}
	reg := registry.New(8, 8, oscap.NewFake())

	clientID, err := reg.RegisterClient(comm, model.BindingVector, model.AppIdType("app"))
	require.NoError(t, err)

	sc := scope.New()
	var calls atomic.Int32
	require.NoError(t, reg.RegisterTraceDoneCB(clientID, sc.Bind(func() { calls.Add(1) })))

	w, _, r, _ := newTestWorker(t, comm, reg)

	idx, err := r.AcquireEmptySlot()
	require.NoError(t, err)
	r.Fill(idx, ring.TraceJobDescriptor{ClientLocalID: clientID}, true)

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 2*time.Millisecond)
}

func TestWorkerStopUnlinksMetadataRegion(t *testing.T) {
	comm := &fakeComm{}
	reg := registry.New(8, 8, oscap.NewFake())
	w, shm, _, _ := newTestWorker(t, comm, reg)

	w.Start()
	require.Eventually(t, func() bool { return w.Ready() }, time.Second, 2*time.Millisecond)

	w.Stop()

	_, err := shm.GetFileDescriptorFromMemoryPath("/dev_tmd_test")
	require.Error(t, err)
}

func TestWorkerOnDaemonDeathResetsReadyState(t *testing.T) {
	comm := &fakeComm{}
	reg := registry.New(8, 8, oscap.NewFake())
	w, _, _, _ := newTestWorker(t, comm, reg)

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return w.Ready() }, time.Second, 2*time.Millisecond)

	comm.mu.Lock()
	cb := comm.termCB
	comm.mu.Unlock()
	require.NotNil(t, cb)
	cb()

	require.False(t, w.Ready())
}
