// Package ring implements the lock-free multi-producer/single-consumer
// shared-memory ring buffer carrying trace-job descriptors from producer
// threads to the daemon's consumer, using Go atomics over a mmap'd byte
// region and a packed CAS state word to claim and release slots.
package ring

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/qorix-group/tracingclient/internal/constants"
	"github.com/qorix-group/tracingclient/internal/oscap"
)

// GetElementRetries bounds the CAS retry loop for both acquire and fetch.
const GetElementRetries = constants.GetElementRetries

var (
	ErrFull           = fmt.Errorf("ring: full")
	ErrEmpty          = fmt.Errorf("ring: empty")
	ErrInvalidState   = fmt.Errorf("ring: invalid state")
	ErrNoEmptyElement = fmt.Errorf("ring: no empty element available after retries")
	ErrNoReadyElement = fmt.Errorf("ring: no ready element available after retries")
	ErrNotInitialized = fmt.Errorf("ring: not initialized")
	ErrTooLarge       = fmt.Errorf("ring: capacity exceeds 2^15")
)

// Ring is a shared-memory-backed lock-free ring buffer handle. Multiple
// Ring values across processes can attach to the same underlying region by
// opening the same path; each holds its own mmap'd view.
type Ring struct {
	shm      oscap.SharedMemory
	path     string
	capacity uint16
	fd       int
	header   []byte // [useCount:4][state:4][slots...]
	stats    *Statistics
	statsBuf []byte
	statsFD  int
	owner    bool
	notifyFD int // -1 if no consumer wake path is armed
}

const headerPrefixSize = 8 // useCount(4) + state(4)

func headerSize(capacity uint16) int {
	return headerPrefixSize + int(capacity)*slotSize
}

// CreateOrOpen opens or creates the shared-memory-backed ring at path: an
// owner opens the region and recreates it if non-empty; a non-owner
// opens-or-creates, retrying the open on an EEXIST race against another
// non-owner creator (resolved inside oscap.SharedMemory.OpenOrCreate).
func CreateOrOpen(shm oscap.SharedMemory, path string, statsPath string, capacity uint16, owner bool, statsEnabled bool) (*Ring, error) {
	if capacity == 0 || capacity > constants.MaxRingCapacity {
		return nil, ErrTooLarge
	}

	fd, created, err := shm.OpenOrCreate(path, headerSize(capacity), 0o600, owner)
	if err != nil {
		return nil, fmt.Errorf("ring: open %s: %w", path, err)
	}
	header, err := shm.Map(fd, headerSize(capacity))
	if err != nil {
		shm.Close(fd)
		return nil, fmt.Errorf("ring: map %s: %w", path, err)
	}

	r := &Ring{shm: shm, path: path, capacity: capacity, fd: fd, header: header, owner: owner, notifyFD: -1}

	if created || owner {
		r.initLocked()
	}
	r.incUseCount()

	if statsEnabled {
		statsFD, _, serr := shm.OpenOrCreate(statsPath, statsSize, 0o600, owner)
		if serr != nil {
			r.Close()
			return nil, fmt.Errorf("ring: open stats %s: %w", statsPath, serr)
		}
		statsBuf, serr := shm.Map(statsFD, statsSize)
		if serr != nil {
			shm.Close(statsFD)
			r.Close()
			return nil, fmt.Errorf("ring: map stats %s: %w", statsPath, serr)
		}
		r.stats = NewStatistics(statsBuf)
		r.statsBuf = statsBuf
		r.statsFD = statsFD
	}

	return r, nil
}

func (r *Ring) useCountPtr() *uint32 {
	return slotStatusPtr(r.header[0:4])
}

func (r *Ring) statePtr() *uint32 {
	return slotStatusPtr(r.header[4:8])
}

func (r *Ring) initLocked() {
	for i := uint16(0); i < r.capacity; i++ {
		storeStatus(r.slot(i), StatusEmpty)
	}
	atomic.StoreUint32(r.statePtr(), packState(state{empty: true, start: 0, end: 0}))
}

func (r *Ring) incUseCount() {
	atomic.AddUint32(r.useCountPtr(), 1)
}

// GetUseCount returns the number of attached processes.
func (r *Ring) GetUseCount() uint32 {
	return atomic.LoadUint32(r.useCountPtr())
}

func (r *Ring) loadState() state {
	return unpackState(atomic.LoadUint32(r.statePtr()))
}

func (r *Ring) casState(old, new state) bool {
	return atomic.CompareAndSwapUint32(r.statePtr(), packState(old), packState(new))
}

func (r *Ring) slot(i uint16) []byte {
	off := headerPrefixSize + int(i)*slotSize
	return r.header[off : off+slotSize]
}

// AcquireEmptySlot performs a bounded-retry CAS-claim of the slot at the
// current end index.
func (r *Ring) AcquireEmptySlot() (uint16, error) {
	if r.stats != nil {
		r.stats.IncProducerCallCount()
	}
	for try := 0; try < GetElementRetries; try++ {
		current := r.loadState()
		if !isValidState(current, r.capacity) {
			r.failProducer()
			return 0, ErrInvalidState
		}
		if isBufferFull(current) {
			if r.stats != nil {
				r.stats.IncBufferFullCount()
			}
			r.failProducer()
			return 0, ErrFull
		}
		slot := r.slot(current.end)
		if loadStatus(slot) != StatusEmpty {
			continue
		}
		newState := state{
			empty: false,
			start: current.start,
			end:   uint16((uint32(current.end) + 1) % uint32(r.capacity)),
		}
		if r.stats != nil {
			r.stats.AddProducerCASTrials(1)
		}
		if !r.casState(current, newState) {
			if r.stats != nil {
				r.stats.IncProducerCASFailures()
			}
			continue
		}
		storeStatus(slot, StatusAllocated)
		return current.end, nil
	}
	r.failProducer()
	return 0, ErrNoEmptyElement
}

func (r *Ring) failProducer() {
	if r.stats != nil {
		r.stats.IncProducerCallFailureCount()
	}
}

// Fill writes desc into the slot acquired at index and stamps its status,
// implementing the producer's fill-then-release step. ready=false stamps
// Invalid, abandoning the slot without delivering a payload. A Ready slot
// additionally pings the armed notify fd, if any.
func (r *Ring) Fill(index uint16, desc TraceJobDescriptor, ready bool) {
	slot := r.slot(index)
	desc.encode(descriptorBytes(slot))
	if ready {
		storeStatus(slot, StatusReady)
		r.notify()
	} else {
		storeStatus(slot, StatusInvalid)
	}
}

// SetNotifyFD arms an eventfd that Fill pings after marking a slot Ready,
// letting a consumer blocked in an IOUringNotifier's Wait wake immediately
// instead of waiting for the next tick. Must be called before the ring is
// shared with concurrent producers.
func (r *Ring) SetNotifyFD(fd int) {
	r.notifyFD = fd
}

func (r *Ring) notify() {
	if r.notifyFD < 0 {
		return
	}
	var word [8]byte
	word[0] = 1
	_, _ = unix.Write(r.notifyFD, word[:])
}

// FetchReadySlot performs a bounded retry inspecting the slot at start,
// advancing past Ready (returning its descriptor) or Invalid (skipped)
// slots, retrying on Allocated.
func (r *Ring) FetchReadySlot() (TraceJobDescriptor, uint16, error) {
	if r.stats != nil {
		r.stats.IncConsumerCallCount()
	}
	for try := 0; try < GetElementRetries; try++ {
		current := r.loadState()
		if !isValidState(current, r.capacity) {
			r.failConsumer()
			return TraceJobDescriptor{}, 0, ErrInvalidState
		}
		if isBufferEmpty(current) {
			if r.stats != nil {
				r.stats.IncBufferEmptyCount()
			}
			r.failConsumer()
			return TraceJobDescriptor{}, 0, ErrEmpty
		}
		startIndex := current.start
		slot := r.slot(startIndex)
		status := loadStatus(slot)
		newState := createNewState(current, startIndex, r.capacity)

		switch status {
		case StatusReady:
			if r.stats != nil {
				r.stats.AddConsumerCASTrials(1)
			}
			if !r.casState(current, newState) {
				if r.stats != nil {
					r.stats.IncConsumerCASFailures()
				}
				continue
			}
			desc := decodeDescriptor(descriptorBytes(slot))
			return desc, startIndex, nil
		case StatusInvalid:
			if r.stats != nil {
				r.stats.AddConsumerCASTrials(1)
			}
			if !r.casState(current, newState) {
				if r.stats != nil {
					r.stats.IncConsumerCASFailures()
				}
				continue
			}
			storeStatus(slot, StatusEmpty)
			continue
		default: // StatusAllocated: producer still filling, retry
			continue
		}
	}
	r.failConsumer()
	return TraceJobDescriptor{}, 0, ErrNoReadyElement
}

func (r *Ring) failConsumer() {
	if r.stats != nil {
		r.stats.IncConsumerCallFailureCount()
	}
}

// ReleaseSlot is called by the consumer once a Ready slot's descriptor has
// been processed, completing the handoff (status Ready -> Empty).
func (r *Ring) ReleaseSlot(index uint16) {
	storeStatus(r.slot(index), StatusEmpty)
}

// Reset reinitializes the ring to empty and zeroes statistics. The caller
// (the Background Worker) must only invoke this once GetUseCount() has
// dropped to 1.
func (r *Ring) Reset() {
	for i := uint16(0); i < r.capacity; i++ {
		storeStatus(r.slot(i), StatusEmpty)
	}
	target := state{empty: true, start: 0, end: 0}
	for try := 0; try < GetElementRetries; try++ {
		current := r.loadState()
		if r.casState(current, target) {
			break
		}
	}
	if r.stats != nil {
		r.stats.Reset()
	}
}

// Stats returns the ring's statistics handle, or nil if statistics were
// disabled at construction.
func (r *Ring) Stats() *Statistics {
	return r.stats
}

// Close decrements the use-count, unmaps, and closes the underlying
// descriptors. It does not unlink the shared-memory object; callers that
// own the region call Unlink separately once use-count reaches zero.
func (r *Ring) Close() error {
	if r.header != nil {
		atomic.AddUint32(r.useCountPtr(), ^uint32(0)) // decrement
		if err := r.shm.Unmap(r.header); err != nil {
			return err
		}
		r.header = nil
	}
	if err := r.shm.Close(r.fd); err != nil {
		return err
	}
	if r.stats != nil {
		if err := r.shm.Unmap(r.statsBuf); err != nil {
			return err
		}
		if err := r.shm.Close(r.statsFD); err != nil {
			return err
		}
		r.stats = nil
	}
	return nil
}

// Capacity returns the ring's fixed element count.
func (r *Ring) Capacity() uint16 {
	return r.capacity
}
