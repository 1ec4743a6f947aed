package reactor

import "github.com/joeycumines/reactorcore/tag"

// Handle is an opaque token returned by Schedule. A negative Handle signals
// that the requested delay was clamped to non-negative, or (per Open
// Question 3) an analogous degenerate case; callers may ignore it.
type Handle int64

// InvalidHandle is returned by Schedule whenever the net delay had to be
// clamped, matching the source's "negative handle on clamp" convention.
const InvalidHandle Handle = -1

// Deleter releases a payload once the scheduler is done with it. The
// default (nil) is a no-op: Go payloads are garbage collected, so a Deleter
// only matters when a payload owns an external resource (a pooled buffer,
// an open file) that must be returned or closed deterministically at tag
// boundary, mirroring the source's "identity free of a heap block" default
// for payloads that do need explicit release.
type Deleter func(payload any)

// ReactionFunc is the shape every reaction body takes: invoked with the
// opaque reactor-state handle supplied when the Reaction was built. This is
// the typed analogue of the source's function-pointer-plus-self pair (spec
// §9, "opaque function pointers with self data").
type ReactionFunc func(self any)

// Trigger is the static descriptor of a thing that can fire: a timer, an
// input port, a logical action. Triggers are set up once, before the
// runtime starts, and referenced by pointer for the lifetime of the program.
type Trigger struct {
	// Name identifies the trigger in logs; not used for equality.
	Name string

	// Offset is the declared delay from "now" applied by an unqualified
	// Schedule call (e.g. a timer's initial offset).
	Offset tag.Interval

	// Period is the re-firing interval for periodic triggers; 0 means the
	// trigger does not automatically reschedule itself.
	Period tag.Interval

	// Reactions is the ordered list of reactions that fire when this
	// trigger's event is drained. Order does not imply execution order —
	// that is governed by Reaction.Index via reaction_q.
	Reactions []*Reaction

	// DeadlineViolation, if set, is the trigger whose reactions run when
	// one of this trigger's reactions misses its deadline.
	DeadlineViolation *Trigger

	// Payload is the scratch field the event loop populates with the
	// firing event's payload immediately before invoking reactions (spec
	// §4.2 step 5), readable by reaction bodies via their self handle.
	Payload any

	// Deleter is the default payload release function used by Schedule
	// whenever its own deleter argument is nil, so callers that always
	// release a given trigger's payload the same way don't have to repeat
	// it at every Schedule call site.
	Deleter Deleter
}

// Reaction is the static descriptor of one reaction body: its precedence
// index, optional deadline, and the set of triggers it may produce.
type Reaction struct {
	// Name identifies the reaction in logs.
	Name string

	// Index is the topological priority: smaller indices are never
	// downstream of larger ones in the precedence graph (spec invariant 3).
	// reaction_q dequeues in ascending Index order.
	Index int

	// Func is the reaction body.
	Func ReactionFunc

	// Self is the opaque reactor-state handle passed to Func.
	Self any

	// Deadline is the maximum allowed lag of physical time behind the
	// reaction's logical tag; 0 means no deadline.
	Deadline tag.Interval

	// DeadlineViolationTrigger, if set, overrides Trigger.DeadlineViolation
	// for this specific reaction.
	DeadlineViolationTrigger *Trigger

	// Outputs lists the triggers this reaction's execution may feed. After
	// Func returns, the loop calls Hooks.TriggerOutputReactions once for
	// this reaction; that implementation decides which of Outputs were
	// actually produced and enqueues their reactions (see hooks.go) — the
	// core itself never pushes Outputs' reactions onto reaction_q.
	Outputs []*Trigger
}

// Event is a dynamic record: a scheduled firing of a Trigger at a Tag, with
// an optional owned payload. Event records are pooled (recycle_q / free_q)
// rather than freed, per spec invariant 5.
type Event struct {
	Trigger    *Trigger
	Tag        tag.Tag
	Payload    any
	HasPayload bool
	deleter    Deleter
}

// reset clears an Event's dynamic fields before it re-enters recycle_q, so
// a pooled Event never leaks a stale payload reference.
func (e *Event) reset() {
	e.Trigger = nil
	e.Tag = tag.Tag{}
	e.Payload = nil
	e.HasPayload = false
	e.deleter = nil
}
