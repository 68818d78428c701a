package ring

// The packed state word holds a start and end index each truncated to 15
// bits, plus an empty bit, squeezed into a single machine word so the
// whole triple can be mutated by one CAS.
const (
	max15Bits = 0x7FFF

	emptyShift = 30
	startShift = 15
	endShift   = 0

	emptyMask = uint32(1) << emptyShift
	startMask = uint32(max15Bits) << startShift
	endMask   = uint32(max15Bits) << endShift
)

// state is the decoded (empty, start, end) triple.
type state struct {
	empty bool
	start uint16
	end   uint16
}

func packState(s state) uint32 {
	var word uint32
	if s.empty {
		word |= emptyMask
	}
	word |= (uint32(s.start) & max15Bits) << startShift
	word |= uint32(s.end) & max15Bits
	return word
}

func unpackState(word uint32) state {
	return state{
		empty: word&emptyMask != 0,
		start: uint16((word & startMask) >> startShift),
		end:   uint16((word & endMask) >> endShift),
	}
}

// isBufferFull reports full iff start == end and the empty bit is clear.
func isBufferFull(s state) bool {
	return s.start == s.end && !s.empty
}

// isBufferEmpty reports empty iff start == end and the empty bit is set.
func isBufferEmpty(s state) bool {
	return s.start == s.end && s.empty
}

// isValidState is the producer/consumer's shared bounds check.
func isValidState(s state, capacity uint16) bool {
	return s.start < capacity && s.end < capacity
}

// createNewState advances start past startIndex, recomputing the empty bit
// against the current end.
func createNewState(current state, startIndex uint16, capacity uint16) state {
	newStart := uint16((uint32(startIndex) + 1) % uint32(capacity))
	return state{
		empty: newStart == current.end,
		start: newStart,
		end:   current.end,
	}
}
