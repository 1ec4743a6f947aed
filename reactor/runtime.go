// Package reactor implements the event-loop scheduler core described by
// SPEC_FULL.md: logical-time advancement, the event and reaction priority
// queues, event pooling, periodic rescheduling, and deadline-violation
// policy. It is the runtime substrate a code generator (or, here, a
// hand-written demo under examples/) drives by declaring Triggers and
// Reactions and calling Run.
package reactor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/reactorcore/pqueue"
	"github.com/joeycumines/reactorcore/tag"
)

// Stats counts lifetime scheduler activity, read via Runtime.Stats. It is a
// plain snapshot struct rather than the teacher's streaming-percentile
// LatencyMetrics — this core's testable properties (spec §8) are about
// ordering and lifetime, not latency distributions, so simple counters are
// the right fit; see DESIGN.md.
type Stats struct {
	Scheduled         int64
	ReactionsInvoked  int64
	DeadlineViolations int64
	Ticks             int64
}

// Runtime is the single Go value that replaces the source's process-wide
// globals (current_time, event_q, reaction_q, mutex, stop_time) per spec §9
// — an explicit value threaded through every operation instead of package
// state, so multiple independent runtimes can coexist and tests can run in
// isolation.
type Runtime struct {
	cfg *config

	eventQ    *pqueue.Queue[*Event]
	reactionQ *pqueue.Queue[*queuedReaction]
	recycleQ  []*Event
	freeQ     []*Event

	currentTag        tag.Tag
	physicalStartTime time.Time

	state          atomicRunState
	stopRequested  atomic.Bool
	loopGoroutine  atomic.Uint64 // 0 until Run has started
	liveEventCount int

	stats Stats
}

// New constructs a Runtime. triggers and their reactions must be fully
// populated before Run is called — the trigger/reaction graph is static for
// program lifetime (spec §3 Lifecycle).
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("reactor: resolving options: %w", err)
	}

	rt := &Runtime{
		cfg:       cfg,
		eventQ:    pqueue.NewFromComparator(eventTagCompare),
		reactionQ: pqueue.New[*queuedReaction](reactionLess),
		currentTag: tag.Origin,
	}
	return rt, nil
}

func eventTagCompare(a, b *Event) int { return tag.Compare(a.Tag, b.Tag) }

// queuedReaction pairs a Reaction with the deadline-violation trigger that
// applies to this particular dispatch. The violation trigger is resolved
// once, at enqueue time, from whichever trigger is firing the reaction
// (r.DeadlineViolationTrigger taking precedence) — never written back into
// the shared, static *Reaction, since a single Reaction value can be
// referenced by more than one Trigger with different violation triggers.
type queuedReaction struct {
	r         *Reaction
	violation *Trigger
}

func reactionLess(a, b *queuedReaction) bool { return a.r.Index < b.r.Index }

// CurrentTag returns the tag the runtime is currently processing, or the
// last tag processed if called between Next calls.
func (rt *Runtime) CurrentTag() tag.Tag { return rt.currentTag }

// Stats returns a snapshot of lifetime scheduler counters.
func (rt *Runtime) Stats() Stats { return rt.stats }

// Log exposes the runtime's structured logger for callers (e.g. a demo
// program) that want to log through the same facade.
func (rt *Runtime) Log() *Logger { return rt.cfg.log }

// checkAsyncSchedule enforces Open Question 2's resolution: once Run has
// recorded a loop goroutine, Schedule calls from any other goroutine are
// rejected unless the runtime was configured with Threads > 0. This is the
// same technique as the teacher's isLoopThread/getGoroutineID
// (eventloop/loop.go), generalized to a single-threaded scheduler rather
// than a concurrent one.
func (rt *Runtime) checkAsyncSchedule() error {
	if rt.cfg.threads > 0 {
		return nil
	}
	loopID := rt.loopGoroutine.Load()
	if loopID == 0 {
		// Run has not started yet: Schedule calls made before Run are
		// always permitted, from any goroutine. (start_timers itself runs
		// inside Run, on the loop goroutine, after its ID is recorded.)
		return nil
	}
	if getGoroutineID() != loopID {
		return ErrNotAcceptable
	}
	return nil
}

// getGoroutineID parses the current goroutine's numeric ID out of
// runtime.Stack, exactly as the teacher's eventloop package does — there is
// no supported stdlib accessor for this, and the teacher's pack already
// establishes the pattern as the idiomatic way to detect loop-goroutine
// affinity.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// Schedule is the Scheduler API entry point (spec §4.1): compute the firing
// tag, acquire an Event record, take ownership of payload, and insert into
// event_q. If deleter is nil, trig.Deleter (if any) is used as the
// payload's default release function.
func (rt *Runtime) Schedule(trig *Trigger, extraDelay tag.Interval, payload any, deleter Deleter) (Handle, error) {
	if trig == nil {
		return InvalidHandle, ErrNilTrigger
	}
	if rt.state.load() == stateTerminated {
		return InvalidHandle, ErrTerminated
	}
	if err := rt.checkAsyncSchedule(); err != nil {
		return InvalidHandle, err
	}

	netDelay := trig.Offset + extraDelay
	clamped := netDelay < 0
	netDelay = tag.ClampNonNegative(netDelay)

	var firing tag.Tag
	if netDelay == 0 {
		firing = tag.Tag{Instant: rt.currentTag.Instant, Microstep: rt.currentTag.Microstep + 1}
	} else {
		instant, didClamp := tag.AddSaturating(rt.currentTag.Instant, netDelay)
		clamped = clamped || didClamp
		firing = tag.Tag{Instant: instant, Microstep: 0}
	}

	if deleter == nil {
		deleter = trig.Deleter
	}

	ev, err := rt.acquireEvent()
	if err != nil {
		return InvalidHandle, err
	}
	ev.Trigger = trig
	ev.Tag = firing
	ev.Payload = payload
	ev.HasPayload = payload != nil
	ev.deleter = deleter

	rt.eventQ.Push(ev)
	rt.stats.Scheduled++

	if clamped {
		return InvalidHandle, nil
	}
	return Handle(rt.stats.Scheduled), nil
}

// acquireEvent pulls an Event from recycle_q if one is available, else
// allocates fresh, enforcing the optional MaxEvents bound (spec §7 resource
// exhaustion).
func (rt *Runtime) acquireEvent() (*Event, error) {
	if n := len(rt.recycleQ); n > 0 {
		ev := rt.recycleQ[n-1]
		rt.recycleQ[n-1] = nil
		rt.recycleQ = rt.recycleQ[:n-1]
		return ev, nil
	}
	if rt.cfg.maxEvents > 0 && rt.liveEventCount >= rt.cfg.maxEvents {
		rt.cfg.log.Emerg().Int("max_events", rt.cfg.maxEvents).Log("event pool exhausted")
		return nil, ErrPoolExhausted
	}
	rt.liveEventCount++
	return &Event{}, nil
}

// releaseEvent resets and returns an Event to recycle_q.
func (rt *Runtime) releaseEvent(ev *Event) {
	ev.reset()
	rt.recycleQ = append(rt.recycleQ, ev)
}

// Run drives the lifecycle: initialize, start_timers (the caller's
// priming, via startTimers), then the main loop `while next() && !stop`
// (spec §4.4). Run does not call Wrapup; the caller does so after Run
// returns. ctx cancellation is polled the same way a stop request is: at the
// top and bottom of each Next call.
func (rt *Runtime) Run(ctx context.Context, startTimers func(*Runtime) error) error {
	if !rt.state.tryTransition(stateIdle, stateRunning) {
		if rt.state.load() == stateTerminated {
			return ErrTerminated
		}
		return ErrAlreadyRunning
	}
	rt.physicalStartTime = rt.cfg.clock()
	rt.loopGoroutine.Store(getGoroutineID())

	if startTimers != nil {
		if err := startTimers(rt); err != nil {
			return fmt.Errorf("reactor: start_timers: %w", err)
		}
	}

	for {
		cont, err := rt.Next(ctx)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

// Next advances logical time by one tag and drains it, implementing the
// nine-step algorithm of spec §4.2. It returns (true, nil) if another
// iteration should follow, (false, nil) if the program should terminate
// normally, and a non-nil error only for a fatal condition (resource
// exhaustion, context cancellation surfaced as an error by the caller's
// choice — here folded into a clean false return instead, since
// cancellation is not itself an error kind per spec §7).
func (rt *Runtime) Next(ctx context.Context) (bool, error) {
	if rt.stopRequested.Load() || ctx.Err() != nil {
		return false, nil
	}

	// Step 1: peek next tag.
	head, hasHead := rt.eventQ.Peek()
	if !hasHead && !rt.cfg.waitSpecified {
		return false, nil
	}
	nextInstant := tag.Forever
	if hasHead {
		nextInstant = head.Tag.Instant
	} else if rt.cfg.hasStopTime {
		// Open Question 4: empty queue + -wait + stop-time set sleeps
		// until stop_time, then terminates.
		nextInstant = rt.cfg.stopTime
	}

	// Step 2: wait until physical time >= next_instant.
	switch {
	case hasHead:
		if !rt.cfg.fast {
			interrupted, err := rt.waitUntil(ctx, nextInstant)
			if err != nil {
				return false, err
			}
			if interrupted {
				reHead, reHas := rt.eventQ.Peek()
				sameHead := reHas == hasHead && (!reHas || reHead == head)
				if sameHead {
					rt.stopRequested.Store(true)
					return false, nil
				}
				// Head changed: only reachable in threaded mode (spec
				// §4.2 step 2); single-threaded core never takes this
				// branch, since nothing else can push onto event_q
				// concurrently.
				head, hasHead = reHead, reHas
			}
		}

	case rt.cfg.hasStopTime:
		// Open Question 4: empty queue + -wait + stop-time set sleeps
		// until stop_time, then terminates.
		if !rt.cfg.fast {
			if _, err := rt.waitUntil(ctx, nextInstant); err != nil {
				return false, err
			}
		}
		rt.stopRequested.Store(true)
		return false, nil

	case rt.cfg.fast:
		// Nothing queued and nothing to fast-forward toward: terminate.
		rt.stopRequested.Store(true)
		return false, nil

	default:
		// -wait with an empty queue and no stop time: block until ctx is
		// cancelled or (in threaded mode, out of scope here) new work
		// arrives.
		if _, err := rt.waitUntil(ctx, tag.Forever); err != nil {
			return false, err
		}
		if _, hasNow := rt.eventQ.Peek(); hasNow {
			return true, nil
		}
		rt.stopRequested.Store(true)
		return false, nil
	}

	// Step 3: start-of-tag hook.
	rt.cfg.hooks.StartTimeStep()

	// Step 4: advance current_tag.
	rt.currentTag = head.Tag
	rt.stats.Ticks++

	// Step 5: drain same-tag events.
	if err := rt.drainEventsAtCurrentTag(); err != nil {
		return false, err
	}

	// Step 6: invoke reactions.
	rt.invokeReactions()

	// Step 7: free payloads.
	rt.freePayloads()

	// Step 8: check stop (stop_time reached, or ctx cancelled).
	if (rt.cfg.hasStopTime && rt.currentTag.Instant >= rt.cfg.stopTime) || ctx.Err() != nil {
		rt.stopRequested.Store(true)
		return false, nil
	}

	// Step 9.
	return true, nil
}

// EnqueueReaction pushes r onto reaction_q, resolving the deadline-violation
// trigger that applies to this dispatch from trig (the trigger whose firing,
// direct or as a produced output, is causing r to run): r's own
// DeadlineViolationTrigger takes precedence if set, else trig's. This is the
// single enqueue path used both for a trigger's own reactions
// (drainEventsAtCurrentTag) and for downstream reactions a Hooks
// implementation enqueues from TriggerOutputReactions.
func (rt *Runtime) EnqueueReaction(trig *Trigger, r *Reaction) {
	violation := r.DeadlineViolationTrigger
	if violation == nil && trig != nil {
		violation = trig.DeadlineViolation
	}
	rt.reactionQ.Push(&queuedReaction{r: r, violation: violation})
}

func (rt *Runtime) drainEventsAtCurrentTag() error {
	for {
		ev, ok := rt.eventQ.Peek()
		if !ok || !ev.Tag.Equal(rt.currentTag) {
			break
		}
		rt.eventQ.Pop()

		trig := ev.Trigger
		for _, r := range trig.Reactions {
			rt.EnqueueReaction(trig, r)
		}
		if trig.Period > 0 {
			// Re-schedule compensating for the offset schedule() will add
			// back (spec §4.2 step 5). A failure here (pool exhaustion) is
			// fatal and ends the run.
			if _, err := rt.Schedule(trig, trig.Period-trig.Offset, nil, nil); err != nil {
				return err
			}
		}

		trig.Payload = ev.Payload
		if !ev.HasPayload {
			rt.releaseEvent(ev)
		} else {
			rt.freeQ = append(rt.freeQ, ev)
		}
	}
	return nil
}

func (rt *Runtime) invokeReactions() {
	for {
		qr, ok := rt.reactionQ.Pop()
		if !ok {
			break
		}
		r := qr.r
		if r.Deadline > 0 {
			rt.checkDeadline(r, qr.violation)
		}
		r.Func(r.Self)
		rt.stats.ReactionsInvoked++

		// trigger_output_reactions(reaction), called once per reaction (spec
		// §4.2 step 6, §6): the generator-supplied Hooks implementation owns
		// deciding which of r.Outputs were actually produced and enqueuing
		// their reactions via rt.EnqueueReaction. The core does not also
		// enqueue them itself, to avoid double-dispatch.
		rt.cfg.hooks.TriggerOutputReactions(rt, r)
	}
}

// checkDeadline implements spec §4.5: invoke the violation handler, then
// invoke the reaction anyway. The handler's own outputs are never chained
// (Open Question 1) — a direct call to the violation trigger's reactions,
// not a push through trigger_output_reactions. Only the warning log line is
// subject to deadlineLimiter; the violation handler itself always runs on
// every violation, rate-limited or not.
func (rt *Runtime) checkDeadline(r *Reaction, violation *Trigger) {
	now := rt.cfg.clock()
	physicalNow := tag.Instant(now.Sub(rt.physicalStartTime).Nanoseconds())
	deadlineInstant, _ := tag.AddSaturating(rt.currentTag.Instant, r.Deadline)
	if physicalNow <= deadlineInstant {
		return
	}
	rt.stats.DeadlineViolations++

	logAllowed := true
	if rt.cfg.deadlineLimiter != nil {
		_, logAllowed = rt.cfg.deadlineLimiter.Allow(r.Index)
	}
	if logAllowed {
		rt.cfg.log.Warning().
			Str("reaction", r.Name).
			Int64("lag_ns", int64(physicalNow-deadlineInstant)).
			Log("deadline violation")
	}

	if violation != nil {
		for _, vr := range violation.Reactions {
			vr.Func(vr.Self)
		}
	}
}

func (rt *Runtime) freePayloads() {
	for _, ev := range rt.freeQ {
		if ev.deleter != nil {
			ev.deleter(ev.Payload)
		}
		rt.releaseEvent(ev)
	}
	rt.freeQ = rt.freeQ[:0]
}

// waitUntil blocks the calling goroutine until the clock reaches instant,
// or ctx is cancelled. It returns interrupted=true if the wait ended for a
// reason other than reaching instant (only ctx cancellation, in this
// single-threaded core; spec §4.2 step 2's "signal" case).
func (rt *Runtime) waitUntil(ctx context.Context, instant tag.Instant) (interrupted bool, err error) {
	if instant == tag.Forever {
		<-ctx.Done()
		return true, nil
	}
	target := rt.physicalStartTime.Add(time.Duration(instant))
	delay := target.Sub(rt.cfg.clock())
	if delay <= 0 {
		return false, nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return true, nil
	}
}

// Wrapup reports elapsed logical and physical time (spec §4.4, restoring
// the original's two summary lines per SPEC_FULL.md's supplemented
// features). It transitions the runtime to its terminal state; subsequent
// Schedule calls return ErrTerminated.
func (rt *Runtime) Wrapup() (logicalElapsed, physicalElapsed time.Duration) {
	rt.state.store(stateTerminated)
	logicalElapsed = time.Duration(rt.currentTag.Instant)
	physicalElapsed = rt.cfg.clock().Sub(rt.physicalStartTime)
	rt.cfg.log.Info().
		Dur("elapsed_logical", logicalElapsed).
		Dur("elapsed_physical", physicalElapsed).
		Log("wrapup")
	return logicalElapsed, physicalElapsed
}
