package reactor

import "sync/atomic"

// runState is the lifecycle state of a Runtime, a single-threaded analogue
// of the teacher's FastState: CAS-guarded transitions, no mutex, but without
// the cache-line padding or sleeping/awake distinction the concurrent event
// loop needs — this core only ever has one goroutine to synchronize with
// itself.
type runState uint32

const (
	// stateIdle is the state before Run is first called.
	stateIdle runState = iota
	// stateRunning is set when Run starts and stays set after Run returns,
	// until Wrapup.
	stateRunning
	// stateTerminated is set once Wrapup has completed; terminal.
	stateTerminated
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateRunning:
		return "Running"
	case stateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// atomicRunState is a thin CAS wrapper, grounded on the teacher's FastState
// (eventloop/state.go) but trimmed to the three states this single-threaded
// core actually needs.
type atomicRunState struct {
	v atomic.Uint32
}

func (s *atomicRunState) load() runState { return runState(s.v.Load()) }

func (s *atomicRunState) store(state runState) { s.v.Store(uint32(state)) }

func (s *atomicRunState) tryTransition(from, to runState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
