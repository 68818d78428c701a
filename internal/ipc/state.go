package ipc

// connState is the connection's state machine: Closed -> Opening ->
// Open(pid) -> Closing -> Closed, plus an async arc Open -> Closed on
// detected daemon death (driven by the detector goroutine, not a state
// value of its own).
type connState uint8

const (
	stateClosed connState = iota
	stateOpening
	stateOpen
	stateClosing
)

func (s connState) String() string {
	switch s {
	case stateOpening:
		return "Opening"
	case stateOpen:
		return "Open"
	case stateClosing:
		return "Closing"
	default:
		return "Closed"
	}
}
