package reactor

import "errors"

// Sentinel errors returned by Runtime methods. Wrap with fmt.Errorf("%w")
// when adding context; compare with errors.Is.
var (
	// ErrNotAcceptable is returned by Schedule when called asynchronously —
	// from a goroutine other than the one driving Next — while the runtime
	// is not configured for threaded operation (Threads == 0). The
	// single-threaded core forbids this; see spec §4.1 and Open Question 2.
	ErrNotAcceptable = errors.New("reactor: schedule called asynchronously on a single-threaded runtime")

	// ErrNilTrigger is returned when Schedule is called with a nil trigger.
	ErrNilTrigger = errors.New("reactor: nil trigger")

	// ErrPoolExhausted is returned when the event pool has a configured
	// maximum and it has been reached. Resource exhaustion is fatal per
	// spec §7 — deterministic semantics require every accepted Schedule
	// call to be honored, so the runtime does not attempt recovery.
	ErrPoolExhausted = errors.New("reactor: event pool exhausted")

	// ErrAlreadyRunning is returned by Run when Run has already been called
	// on this runtime and Wrapup has not (the runtime stays in the running
	// state after Run returns, until Wrapup).
	ErrAlreadyRunning = errors.New("reactor: runtime is already running")

	// ErrTerminated is returned by Run or Schedule once the runtime has
	// completed Wrapup.
	ErrTerminated = errors.New("reactor: runtime has terminated")

	// ErrConfig wraps command-line / configuration parse failures (spec §7
	// Configuration error kind). cmd/reactorcore exits -1 on this error.
	ErrConfig = errors.New("reactor: invalid configuration")
)
