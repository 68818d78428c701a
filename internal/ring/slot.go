package ring

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// TraceJobStatus is the per-slot state machine driving producer/consumer
// handoff: Empty -> Allocated (producer CAS-claims) -> Ready (producer
// fills) -> Empty (consumer drains); or Allocated -> Invalid (producer
// abandons) -> Empty (consumer skips payload but still advances).
type TraceJobStatus uint32

const (
	StatusEmpty TraceJobStatus = iota
	StatusAllocated
	StatusReady
	StatusInvalid
)

func (s TraceJobStatus) String() string {
	switch s {
	case StatusEmpty:
		return "Empty"
	case StatusAllocated:
		return "Allocated"
	case StatusReady:
		return "Ready"
	case StatusInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// TraceJobDescriptor is the fixed-size payload carried by each ring
// element: an opaque reference into a registered shared-memory object.
// The daemon reads the payload bytes out of band; the descriptor itself
// never carries trace data.
type TraceJobDescriptor struct {
	ClientLocalID  uint32
	ShmObjectIndex int32
	Offset         uint64
	Length         uint64
	Binding        uint8
}

// descriptorSize is the encoded size in bytes: 4+4+8+8+1 padded to 32.
const descriptorSize = 32

func (d *TraceJobDescriptor) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], d.ClientLocalID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(d.ShmObjectIndex))
	binary.LittleEndian.PutUint64(buf[8:16], d.Offset)
	binary.LittleEndian.PutUint64(buf[16:24], d.Length)
	buf[24] = d.Binding
}

func decodeDescriptor(buf []byte) TraceJobDescriptor {
	return TraceJobDescriptor{
		ClientLocalID:  binary.LittleEndian.Uint32(buf[0:4]),
		ShmObjectIndex: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Offset:         binary.LittleEndian.Uint64(buf[8:16]),
		Length:         binary.LittleEndian.Uint64(buf[16:24]),
		Binding:        buf[24],
	}
}

// slotSize is the encoded size of one RingBufferElement: a 4-byte atomic
// status word followed by the fixed-size descriptor.
const slotSize = 4 + descriptorSize

// slotStatusPtr returns an atomic-accessible pointer into the element's
// status word at the head of the slot.
func slotStatusPtr(slot []byte) *uint32 {
	return (*uint32)(unsafe.Pointer(&slot[0]))
}

func loadStatus(slot []byte) TraceJobStatus {
	return TraceJobStatus(atomic.LoadUint32(slotStatusPtr(slot)))
}

func storeStatus(slot []byte, s TraceJobStatus) {
	atomic.StoreUint32(slotStatusPtr(slot), uint32(s))
}

func descriptorBytes(slot []byte) []byte {
	return slot[4 : 4+descriptorSize]
}
