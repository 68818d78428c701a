// Package registry implements the client and shared-memory registry:
// bounded associative tables guarded by a shared mutex, storing the
// local<->remote mapping and pending/registered state of every client and
// shared-memory registration. Registration calls hold the lock only for the
// local table mutation; the potentially-blocking Communicator call happens
// after the lock is released, so a slow daemon round trip never blocks a
// concurrent lookup.
package registry

import (
	"sync"

	"github.com/qorix-group/tracingclient/internal/errs"
	"github.com/qorix-group/tracingclient/internal/model"
	"github.com/qorix-group/tracingclient/internal/scope"
)

// Communicator is the subset of the Daemon Communicator's contract the
// Registry needs to perform synchronous registration when connected. It is
// declared here, not in internal/ipc, so registry has no import-time
// dependency on ipc's transport details.
type Communicator interface {
	IsConnected() bool
	RegisterClient(binding model.BindingType, appIDPrefix [8]byte) (model.TraceClientId, error)
	RegisterSharedMemoryObjectFD(fd int32) (model.ShmObjectHandle, error)
	UnregisterSharedMemoryObject(handle model.ShmObjectHandle) error
}

// MemoryValidator resolves shared-memory paths to descriptors and queries
// typed-memory membership, mirroring internal/oscap.MemoryValidator.
type MemoryValidator interface {
	IsSharedMemoryTypedFD(fd int) (bool, error)
	GetFileDescriptorFromMemoryPath(path string) (int, error)
}

// Registry owns the bounded client and shared-memory tables.
type Registry struct {
	mu        sync.RWMutex
	clients   *clientTable
	shms      *shmTable
	validator MemoryValidator
}

// New constructs a Registry with the given client and shared-memory table
// capacities.
func New(clientCapacity, shmCapacity int, validator MemoryValidator) *Registry {
	return &Registry{
		clients:   newClientTable(clientCapacity),
		shms:      newShmTable(shmCapacity),
		validator: validator,
	}
}

// RegisterClient registers a client idempotently by (binding, app id
// prefix): it assigns a local id optimistically and only dispatches the
// synchronous Communicator call when connected. A connectivity failure of
// the synchronous attempt degrades to a cached pending entry rather than an
// error, since the background worker replays it on reconnect.
func (r *Registry) RegisterClient(comm Communicator, binding model.BindingType, appID model.AppIdType) (uint32, error) {
	if len(appID) == 0 {
		return 0, errs.New("Registry.RegisterClient", errs.InvalidArgument, "app id must not be empty")
	}
	if binding == model.BindingUndefined {
		return 0, errs.New("Registry.RegisterClient", errs.InvalidBindingType, "binding must not be Undefined")
	}
	prefix := model.AppIDPrefix(appID)

	r.mu.Lock()
	entry, existed, err := r.clients.register(binding, prefix)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	if existed {
		localID := entry.LocalID
		r.mu.Unlock()
		return localID, nil
	}
	connected := comm != nil && comm.IsConnected()
	if connected {
		entry.InFlight = true
	}
	localID := entry.LocalID
	r.mu.Unlock()

	if !connected {
		return localID, nil
	}

	remoteID, cerr := comm.RegisterClient(binding, prefix)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients.entries[localID]
	if !ok {
		// Unregistered concurrently; nothing left to update.
		return localID, nil
	}
	e.InFlight = false
	if cerr != nil {
		if errs.IsFatal(cerr) {
			r.clients.remove(localID)
			return 0, cerr
		}
		// Recoverable (not connected / send failed): stays pending for the
		// Worker to replay.
		return localID, nil
	}
	e.RemoteID = remoteID
	e.Pending = false
	return localID, nil
}

// GetClient looks up a client entry by local id.
func (r *Registry) GetClient(localID uint32) (*ClientEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.clients.get(localID)
	if err != nil {
		return nil, err
	}
	cp := *e
	return &cp, nil
}

// RemoveClient deletes a client entry, used by Unregister.
func (r *Registry) RemoveClient(localID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients.remove(localID)
}

// PendingClients returns a snapshot of entries awaiting daemon resolution,
// marking each in-flight so a concurrent caller can't double-dispatch it.
func (r *Registry) PendingClients() []*ClientEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.clients.pending()
	out := make([]*ClientEntry, len(pending))
	for i, e := range pending {
		e.InFlight = true
		cp := *e
		out[i] = &cp
	}
	return out
}

// ResolveClientReplay is called by the Worker after replaying a pending
// client registration, storing the remote id on success or releasing the
// in-flight claim (leaving it pending) on failure.
func (r *Registry) ResolveClientReplay(localID uint32, remoteID model.TraceClientId, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients.entries[localID]
	if !ok {
		return
	}
	e.InFlight = false
	if err != nil {
		return
	}
	e.RemoteID = remoteID
	e.Pending = false
}

// registerShm is the shared fd/path registration path, called after the fd
// has been resolved and validated by the caller-facing wrapper methods.
func (r *Registry) registerShm(comm Communicator, clientLocalID uint32, key string, fd int32) (model.ShmObjectHandle, error) {
	r.mu.Lock()
	if _, err := r.clients.get(clientLocalID); err != nil {
		r.mu.Unlock()
		return model.InvalidShmObjectHandle, err
	}
	entry, err := r.shms.insert(clientLocalID, key, fd)
	if err != nil {
		r.mu.Unlock()
		return model.InvalidShmObjectHandle, err
	}
	connected := comm != nil && comm.IsConnected()
	if connected {
		entry.InFlight = true
	}
	ck := r.shms.keyFor(entry)
	r.mu.Unlock()

	if !connected {
		return model.InvalidShmObjectHandle, nil
	}

	handle, cerr := comm.RegisterSharedMemoryObjectFD(fd)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.shms.entries[ck]
	if !ok {
		return model.InvalidShmObjectHandle, nil
	}
	e.InFlight = false
	if cerr != nil {
		if errs.IsFatal(cerr) {
			r.shms.remove(ck)
			return model.InvalidShmObjectHandle, cerr
		}
		return model.InvalidShmObjectHandle, nil
	}
	e.RemoteHandle = handle
	e.State = ShmRegistered
	return handle, nil
}

// RegisterShmObjectByFD validates client existence and typed-memory
// membership before inserting a shared-memory registration keyed by fd.
func (r *Registry) RegisterShmObjectByFD(comm Communicator, clientLocalID uint32, fd int) (model.ShmObjectHandle, error) {
	if err := r.checkTyped(fd); err != nil {
		return model.InvalidShmObjectHandle, err
	}
	return r.registerShm(comm, clientLocalID, fdKey(fd), int32(fd))
}

// RegisterShmObjectByPath derives the fd via the memory validator, then
// proceeds exactly as the fd variant, keyed by path so duplicate-path
// detection works even if the validator returns a different fd on each call.
func (r *Registry) RegisterShmObjectByPath(comm Communicator, clientLocalID uint32, path string) (model.ShmObjectHandle, error) {
	fd, err := r.validator.GetFileDescriptorFromMemoryPath(path)
	if err != nil {
		return model.InvalidShmObjectHandle, errs.New("Registry.RegisterShmObject", errs.BadFileDescriptor, "path to fd: "+err.Error())
	}
	if err := r.checkTyped(fd); err != nil {
		return model.InvalidShmObjectHandle, err
	}
	return r.registerShm(comm, clientLocalID, pathKey(path), int32(fd))
}

func (r *Registry) checkTyped(fd int) error {
	typed, err := r.validator.IsSharedMemoryTypedFD(fd)
	if err != nil {
		return errs.New("Registry.RegisterShmObject", errs.SharedMemoryObjectFlagsRetrievalFailed, "typed-memory probe: "+err.Error())
	}
	if !typed {
		return errs.New("Registry.RegisterShmObject", errs.SharedMemoryObjectNotInTypedMemory, "fd is not backed by typed memory")
	}
	return nil
}

// UnregisterShmObject treats an unknown handle as an idempotent success;
// a reachable daemon call that fails keeps the entry (marked
// pending-unregister) and returns the error for the caller to retry;
// success removes the entry.
func (r *Registry) UnregisterShmObject(comm Communicator, clientLocalID uint32, handle model.ShmObjectHandle) error {
	r.mu.Lock()
	entry := r.shms.findByHandle(clientLocalID, handle)
	if entry == nil {
		r.mu.Unlock()
		return nil
	}
	connected := comm != nil && comm.IsConnected()
	if connected {
		entry.InFlight = true
	} else {
		entry.State = ShmPendingUnregister
	}
	ck := r.shms.keyFor(entry)
	r.mu.Unlock()

	if !connected {
		return nil
	}

	cerr := comm.UnregisterSharedMemoryObject(handle)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.shms.entries[ck]
	if !ok {
		return nil
	}
	e.InFlight = false
	if cerr != nil {
		e.State = ShmPendingUnregister
		return cerr
	}
	r.shms.remove(ck)
	return nil
}

// PendingShmObjects returns a snapshot of shared-memory entries awaiting
// daemon resolution (register or unregister), marking each in-flight.
func (r *Registry) PendingShmObjects() []*ShmEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.shms.pending()
	out := make([]*ShmEntry, len(pending))
	for i, e := range pending {
		e.InFlight = true
		cp := *e
		out[i] = &cp
	}
	return out
}

// ResolveShmReplay is called by the Worker after replaying a pending
// shared-memory registration or unregistration.
func (r *Registry) ResolveShmReplay(clientLocalID uint32, key string, registering bool, handle model.ShmObjectHandle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ck := compositeKey(clientLocalID, key)
	e, ok := r.shms.entries[ck]
	if !ok {
		return
	}
	e.InFlight = false
	if err != nil {
		return
	}
	if registering {
		e.RemoteHandle = handle
		e.State = ShmRegistered
	} else {
		r.shms.remove(ck)
	}
}

// MarkAllPending reverts every entry to its pre-connection state after a
// daemon death, so the Worker's next replay re-registers everything with
// the restarted daemon under the same local ids. Entries awaiting
// unregistration are dropped outright since the dead daemon no longer
// holds their handles.
func (r *Registry) MarkAllPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.clients.entries {
		e.Pending = true
		e.InFlight = false
		e.RemoteID = model.UnassignedClientID
	}
	for ck, e := range r.shms.entries {
		if e.State == ShmPendingUnregister {
			delete(r.shms.entries, ck)
			continue
		}
		e.State = ShmPendingRegister
		e.InFlight = false
		e.RemoteHandle = model.InvalidShmObjectHandle
	}
}

// RegisterTraceDoneCB stores a scope-guarded trace-done callback for a
// client. A nil callback or a second registration for a client that
// already has one is rejected as InvalidArgument (fatal).
func (r *Registry) RegisterTraceDoneCB(clientLocalID uint32, cb *scope.ScopedFn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.clients.get(clientLocalID)
	if err != nil {
		return err
	}
	if cb == nil {
		return errs.New("Registry.RegisterTraceDoneCB", errs.InvalidArgument, "callback must not be nil")
	}
	if e.TraceDoneCB != nil {
		return errs.New("Registry.RegisterTraceDoneCB", errs.InvalidArgument, "trace-done callback already registered")
	}
	e.TraceDoneCB = cb
	return nil
}

// TraceDoneCB returns the client's registered callback, or nil if none.
func (r *Registry) TraceDoneCB(clientLocalID uint32) *scope.ScopedFn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.clients.get(clientLocalID)
	if err != nil {
		return nil
	}
	return e.TraceDoneCB
}

// ClientCount and ShmCount expose table cardinality for tests and the
// round-trip property that register-then-unregister leaves cardinality
// unchanged.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients.entries)
}

func (r *Registry) ShmCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shms.entries)
}
