package ring

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Statistics lives in its own shared-memory region, separate from the ring
// data itself, populated only when statistics are enabled. Producer fields
// are updated with atomic adds: the call and CAS-trial counters are bumped
// before the CAS they count, the failure and buffer-full counters after it.
// No counter is read by the ring's own logic, so none affects the state CAS.
// Consumer fields are plain increments since the consumer is
// single-threaded by design.
//
// Layout (little-endian uint64 each): producer {call_count,
// call_failure_count, cas_trials, cas_failures, buffer_full_count}
// followed by consumer {call_count, call_failure_count, cas_trials,
// cas_failures, buffer_empty_count}.
const statsSize = 10 * 8

const (
	offProducerCallCount = 8 * iota
	offProducerCallFailureCount
	offProducerCASTrials
	offProducerCASFailures
	offProducerBufferFullCount
	offConsumerCallCount
	offConsumerCallFailureCount
	offConsumerCASTrials
	offConsumerCASFailures
	offConsumerBufferEmptyCount
)

// Statistics wraps a raw shared-memory buffer of exactly statsSize bytes.
type Statistics struct {
	buf []byte
}

// NewStatistics wraps buf, which must be at least statsSize bytes (the
// caller owns allocating/mapping it, typically via oscap.SharedMemory).
func NewStatistics(buf []byte) *Statistics {
	return &Statistics{buf: buf[:statsSize]}
}

func (s *Statistics) ptr(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.buf[off]))
}

func (s *Statistics) addProducer(off int, delta uint64) {
	atomic.AddUint64(s.ptr(off), delta)
}

func (s *Statistics) IncProducerCallCount()        { s.addProducer(offProducerCallCount, 1) }
func (s *Statistics) IncProducerCallFailureCount()  { s.addProducer(offProducerCallFailureCount, 1) }
func (s *Statistics) AddProducerCASTrials(n uint64) { s.addProducer(offProducerCASTrials, n) }
func (s *Statistics) IncProducerCASFailures()        { s.addProducer(offProducerCASFailures, 1) }
func (s *Statistics) IncBufferFullCount()            { s.addProducer(offProducerBufferFullCount, 1) }

func (s *Statistics) IncConsumerCallCount() {
	s.setConsumer(offConsumerCallCount, s.getConsumer(offConsumerCallCount)+1)
}
func (s *Statistics) IncConsumerCallFailureCount() {
	s.setConsumer(offConsumerCallFailureCount, s.getConsumer(offConsumerCallFailureCount)+1)
}
func (s *Statistics) AddConsumerCASTrials(n uint64) {
	s.setConsumer(offConsumerCASTrials, s.getConsumer(offConsumerCASTrials)+n)
}
func (s *Statistics) IncConsumerCASFailures() {
	s.setConsumer(offConsumerCASFailures, s.getConsumer(offConsumerCASFailures)+1)
}
func (s *Statistics) IncBufferEmptyCount() {
	s.setConsumer(offConsumerBufferEmptyCount, s.getConsumer(offConsumerBufferEmptyCount)+1)
}

func (s *Statistics) getConsumer(off int) uint64 {
	return binary.LittleEndian.Uint64(s.buf[off : off+8])
}

func (s *Statistics) setConsumer(off int, v uint64) {
	binary.LittleEndian.PutUint64(s.buf[off:off+8], v)
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	ProducerCallCount        uint64
	ProducerCallFailureCount uint64
	ProducerCASTrials        uint64
	ProducerCASFailures      uint64
	BufferFullCount          uint64
	ConsumerCallCount        uint64
	ConsumerCallFailureCount uint64
	ConsumerCASTrials        uint64
	ConsumerCASFailures      uint64
	BufferEmptyCount         uint64
}

func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		ProducerCallCount:        atomic.LoadUint64(s.ptr(offProducerCallCount)),
		ProducerCallFailureCount: atomic.LoadUint64(s.ptr(offProducerCallFailureCount)),
		ProducerCASTrials:        atomic.LoadUint64(s.ptr(offProducerCASTrials)),
		ProducerCASFailures:      atomic.LoadUint64(s.ptr(offProducerCASFailures)),
		BufferFullCount:          atomic.LoadUint64(s.ptr(offProducerBufferFullCount)),
		ConsumerCallCount:        s.getConsumer(offConsumerCallCount),
		ConsumerCallFailureCount: s.getConsumer(offConsumerCallFailureCount),
		ConsumerCASTrials:        s.getConsumer(offConsumerCASTrials),
		ConsumerCASFailures:      s.getConsumer(offConsumerCASFailures),
		BufferEmptyCount:         s.getConsumer(offConsumerBufferEmptyCount),
	}
}

// Reset zeroes every counter, called from Ring.Reset() when use-count
// drops to one.
func (s *Statistics) Reset() {
	for off := 0; off < statsSize; off += 8 {
		atomic.StoreUint64(s.ptr(off), 0)
	}
}
