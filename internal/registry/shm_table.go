package registry

import (
	"fmt"

	"github.com/qorix-group/tracingclient/internal/errs"
	"github.com/qorix-group/tracingclient/internal/model"
)

// ShmState is the lifecycle state of a shared-memory object registration.
type ShmState uint8

const (
	ShmPendingRegister ShmState = iota
	ShmRegistered
	ShmPendingUnregister
)

// ShmEntry is one shared-memory object registration, keyed by a string
// derived from either the fd or path variant of registration (the two
// variants share one table since both resolve to one daemon handle).
type ShmEntry struct {
	ClientLocalID uint32
	Key           string
	FD            int32 // resolved descriptor, kept for Worker replay
	RemoteHandle  model.ShmObjectHandle
	State         ShmState
	InFlight      bool
}

func fdKey(fd int) string     { return fmt.Sprintf("fd:%d", fd) }
func pathKey(p string) string { return fmt.Sprintf("path:%s", p) }

// shmTable is a bounded table of shared-memory object registrations.
// Duplicate keys for the same client are rejected with
// SharedMemoryObjectAlreadyRegistered.
type shmTable struct {
	capacity int
	entries  map[string]*ShmEntry // key: clientLocalID + "/" + Key
}

func newShmTable(capacity int) *shmTable {
	return &shmTable{capacity: capacity, entries: make(map[string]*ShmEntry)}
}

func compositeKey(clientLocalID uint32, key string) string {
	return fmt.Sprintf("%d/%s", clientLocalID, key)
}

func (t *shmTable) insert(clientLocalID uint32, key string, fd int32) (*ShmEntry, error) {
	ck := compositeKey(clientLocalID, key)
	if _, exists := t.entries[ck]; exists {
		return nil, errs.New("Registry.RegisterShmObject", errs.SharedMemoryObjectAlreadyRegistered, "duplicate shared-memory key")
	}
	if len(t.entries) >= t.capacity {
		return nil, errs.New("Registry.RegisterShmObject", errs.NoMoreSpaceForNewShmObject, "shm capacity exceeded")
	}
	entry := &ShmEntry{
		ClientLocalID: clientLocalID,
		Key:           key,
		FD:            fd,
		RemoteHandle:  model.InvalidShmObjectHandle,
		State:         ShmPendingRegister,
	}
	t.entries[ck] = entry
	return entry, nil
}

func (t *shmTable) findByHandle(clientLocalID uint32, handle model.ShmObjectHandle) *ShmEntry {
	for _, e := range t.entries {
		if e.ClientLocalID == clientLocalID && e.RemoteHandle == handle {
			return e
		}
	}
	return nil
}

func (t *shmTable) remove(ck string) {
	delete(t.entries, ck)
}

func (t *shmTable) keyFor(e *ShmEntry) string {
	return compositeKey(e.ClientLocalID, e.Key)
}

// pending returns every entry awaiting daemon resolution (register or
// unregister) and not already claimed in-flight by the Worker.
func (t *shmTable) pending() []*ShmEntry {
	var out []*ShmEntry
	for _, e := range t.entries {
		if (e.State == ShmPendingRegister || e.State == ShmPendingUnregister) && !e.InFlight {
			out = append(out, e)
		}
	}
	return out
}
