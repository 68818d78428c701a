package registry

import (
	"github.com/qorix-group/tracingclient/internal/errs"
	"github.com/qorix-group/tracingclient/internal/model"
	"github.com/qorix-group/tracingclient/internal/scope"
)

// ClientEntry is one registered client's identity and replay bookkeeping:
// no separate replay queue, just a Pending/InFlight pair read back by a
// filtered iterator.
type ClientEntry struct {
	LocalID     uint32
	RemoteID    model.TraceClientId
	Binding     model.BindingType
	AppIDPrefix [8]byte
	Pending     bool // true until the daemon has assigned a remote id
	InFlight    bool // true while the Worker is replaying this entry

	// TraceDoneCB is the scope-guarded completion callback registered via
	// RegisterTraceDoneCB. At most one may be stored per client; a second
	// registration is rejected.
	TraceDoneCB *scope.ScopedFn
}

// clientTable is a bounded table of registered clients, guarded by the
// caller's lock (see Registry). Capacity exceeded returns a recoverable
// error, never a fatal one.
type clientTable struct {
	capacity int
	entries  map[uint32]*ClientEntry
	nextID   uint32
}

func newClientTable(capacity int) *clientTable {
	return &clientTable{capacity: capacity, entries: make(map[uint32]*ClientEntry), nextID: 1}
}

// findByIdentity returns the existing entry whose (binding, appIDPrefix)
// matches, if any, implementing the idempotent-registration invariant.
func (t *clientTable) findByIdentity(binding model.BindingType, prefix [8]byte) *ClientEntry {
	for _, e := range t.entries {
		if e.Binding == binding && e.AppIDPrefix == prefix {
			return e
		}
	}
	return nil
}

// register inserts a new pending entry, or returns the existing one if a
// matching (binding, app id prefix) entry is already present.
func (t *clientTable) register(binding model.BindingType, prefix [8]byte) (*ClientEntry, bool, error) {
	if existing := t.findByIdentity(binding, prefix); existing != nil {
		return existing, true, nil
	}
	if len(t.entries) >= t.capacity {
		return nil, false, errs.New("Registry.RegisterClient", errs.GenericError, "client capacity exceeded")
	}
	entry := &ClientEntry{
		LocalID:     t.nextID,
		RemoteID:    model.UnassignedClientID,
		Binding:     binding,
		AppIDPrefix: prefix,
		Pending:     true,
	}
	t.entries[entry.LocalID] = entry
	t.nextID++
	return entry, false, nil
}

func (t *clientTable) get(localID uint32) (*ClientEntry, error) {
	e, ok := t.entries[localID]
	if !ok {
		return nil, errs.New("Registry.GetClient", errs.ClientNotFound, "unknown local client id")
	}
	return e, nil
}

func (t *clientTable) remove(localID uint32) {
	delete(t.entries, localID)
}

// pending returns every entry still awaiting daemon resolution and not
// already claimed in-flight by the Worker.
func (t *clientTable) pending() []*ClientEntry {
	var out []*ClientEntry
	for _, e := range t.entries {
		if e.Pending && !e.InFlight {
			out = append(out, e)
		}
	}
	return out
}
