package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qorix-group/tracingclient/internal/errs"
	"github.com/qorix-group/tracingclient/internal/model"
	"github.com/qorix-group/tracingclient/internal/scope"
)

// fakeComm is a minimal Communicator double for registry-level tests,
// independent of internal/ipc's transport so registry tests stay a pure
// unit of the table/locking logic.
type fakeComm struct {
	connected bool
	nextID    uint32
	nextShm   int32
	failWith  error
}

func (f *fakeComm) IsConnected() bool { return f.connected }

func (f *fakeComm) RegisterClient(binding model.BindingType, prefix [8]byte) (model.TraceClientId, error) {
	if f.failWith != nil {
		return model.UnassignedClientID, f.failWith
	}
	f.nextID++
	return model.TraceClientId(f.nextID), nil
}

func (f *fakeComm) RegisterSharedMemoryObjectFD(fd int32) (model.ShmObjectHandle, error) {
	if f.failWith != nil {
		return model.InvalidShmObjectHandle, f.failWith
	}
	f.nextShm++
	return model.ShmObjectHandle(f.nextShm), nil
}

func (f *fakeComm) UnregisterSharedMemoryObject(handle model.ShmObjectHandle) error {
	return f.failWith
}

type fakeValidator struct {
	typedByFD map[int]bool
	fdForPath map[string]int
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{typedByFD: make(map[int]bool), fdForPath: make(map[string]int)}
}

func (v *fakeValidator) IsSharedMemoryTypedFD(fd int) (bool, error) {
	if typed, ok := v.typedByFD[fd]; ok {
		return typed, nil
	}
	return true, nil
}

func (v *fakeValidator) GetFileDescriptorFromMemoryPath(path string) (int, error) {
	if fd, ok := v.fdForPath[path]; ok {
		return fd, nil
	}
	return 7, nil
}

func TestRegisterClientIdempotentByBindingAndPrefix(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	comm := &fakeComm{connected: true}

	// Only the first 8 bytes of the app id determine identity; these two
	// share the prefix "app-one-".
	id1, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("app-one-alpha"))
	require.NoError(t, err)
	id2, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("app-one-beta"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	id3, err := r.RegisterClient(comm, model.BindingLoLa, model.AppIdType("app-one-alpha"))
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)
}

func TestRegisterClientRejectsUndefinedBinding(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	_, err := r.RegisterClient(&fakeComm{connected: true}, model.BindingUndefined, model.AppIdType("x"))
	require.Error(t, err)
	require.True(t, errs.IsFatal(err))
}

func TestRegisterClientRejectsEmptyAppID(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	_, err := r.RegisterClient(&fakeComm{connected: true}, model.BindingVectorZeroCopy, model.AppIdType(""))
	require.Error(t, err)
	require.True(t, errs.IsFatal(err))
	require.True(t, errs.IsKind(err, errs.InvalidArgument))
	require.Equal(t, 0, r.ClientCount())
}

func TestRegisterClientCapacityExceeded(t *testing.T) {
	r := New(1, 8, newFakeValidator())
	comm := &fakeComm{connected: true}
	_, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)
	_, err = r.RegisterClient(comm, model.BindingVector, model.AppIdType("b"))
	require.Error(t, err)
	require.False(t, errs.IsFatal(err))
	require.Equal(t, 1, r.ClientCount())
}

func TestRegisterClientWhileDisconnectedStaysPending(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	comm := &fakeComm{connected: false}
	id, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)

	entry, err := r.GetClient(id)
	require.NoError(t, err)
	require.True(t, entry.Pending)
	require.Equal(t, model.UnassignedClientID, entry.RemoteID)

	pending := r.PendingClients()
	require.Len(t, pending, 1)
	r.ResolveClientReplay(id, model.TraceClientId(55), nil)

	entry, err = r.GetClient(id)
	require.NoError(t, err)
	require.False(t, entry.Pending)
	require.Equal(t, model.TraceClientId(55), entry.RemoteID)
}

func TestRegisterShmObjectByFDRoundTrip(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	comm := &fakeComm{connected: true}
	clientID, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)

	before := r.ShmCount()
	handle, err := r.RegisterShmObjectByFD(comm, clientID, 9)
	require.NoError(t, err)
	require.True(t, handle.Valid())

	require.NoError(t, r.UnregisterShmObject(comm, clientID, handle))
	require.Equal(t, before, r.ShmCount())
}

func TestDuplicateShmRegistrationByPathIsRecoverable(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	comm := &fakeComm{connected: true}
	clientID, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)

	_, err = r.RegisterShmObjectByPath(comm, clientID, "/foo")
	require.NoError(t, err)

	_, err = r.RegisterShmObjectByPath(comm, clientID, "/foo")
	require.Error(t, err)
	require.False(t, errs.IsFatal(err))
	require.True(t, errs.IsKind(err, errs.SharedMemoryObjectAlreadyRegistered))
}

func TestShmCapacityExceededIsFatal(t *testing.T) {
	r := New(8, 1, newFakeValidator())
	comm := &fakeComm{connected: true}
	clientID, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)

	_, err = r.RegisterShmObjectByFD(comm, clientID, 1)
	require.NoError(t, err)
	_, err = r.RegisterShmObjectByFD(comm, clientID, 2)
	require.Error(t, err)
	require.True(t, errs.IsFatal(err))
	require.True(t, errs.IsKind(err, errs.NoMoreSpaceForNewShmObject))
}

func TestShmObjectNotTypedIsFatalAndNotInserted(t *testing.T) {
	v := newFakeValidator()
	v.typedByFD[5] = false
	r := New(8, 8, v)
	comm := &fakeComm{connected: true}
	clientID, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)

	before := r.ShmCount()
	_, err = r.RegisterShmObjectByFD(comm, clientID, 5)
	require.Error(t, err)
	require.True(t, errs.IsFatal(err))
	require.True(t, errs.IsKind(err, errs.SharedMemoryObjectNotInTypedMemory))
	require.Equal(t, before, r.ShmCount())
}

func TestUnregisterUnknownHandleIsIdempotentSuccess(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	comm := &fakeComm{connected: true}
	clientID, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)

	require.NoError(t, r.UnregisterShmObject(comm, clientID, model.ShmObjectHandle(999)))
}

func TestRegisterTraceDoneCBRejectsReplacementAndNil(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	comm := &fakeComm{connected: true}
	clientID, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)

	sc := scope.New()
	var calls int
	require.NoError(t, r.RegisterTraceDoneCB(clientID, sc.Bind(func() { calls++ })))

	err = r.RegisterTraceDoneCB(clientID, sc.Bind(func() {}))
	require.Error(t, err)
	require.True(t, errs.IsFatal(err))

	err = r.RegisterTraceDoneCB(clientID, nil)
	require.Error(t, err)
	require.True(t, errs.IsFatal(err))

	cb := r.TraceDoneCB(clientID)
	require.NotNil(t, cb)
	require.True(t, cb.Invoke())
	require.Equal(t, 1, calls)
}

func TestMarkAllPendingRevertsResolvedEntries(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	comm := &fakeComm{connected: true}

	clientID, err := r.RegisterClient(comm, model.BindingVector, model.AppIdType("a"))
	require.NoError(t, err)
	handle, err := r.RegisterShmObjectByFD(comm, clientID, 9)
	require.NoError(t, err)
	require.True(t, handle.Valid())
	require.Empty(t, r.PendingClients())
	require.Empty(t, r.PendingShmObjects())

	r.MarkAllPending()

	entry, err := r.GetClient(clientID)
	require.NoError(t, err)
	require.True(t, entry.Pending)
	require.Equal(t, model.UnassignedClientID, entry.RemoteID)

	pendingShm := r.PendingShmObjects()
	require.Len(t, pendingShm, 1)
	require.Equal(t, ShmPendingRegister, pendingShm[0].State)
}

func TestClientNotFoundOnShmRegister(t *testing.T) {
	r := New(8, 8, newFakeValidator())
	comm := &fakeComm{connected: true}
	_, err := r.RegisterShmObjectByFD(comm, 123, 1)
	require.Error(t, err)
	require.True(t, errs.IsKind(err, errs.ClientNotFound))
}
