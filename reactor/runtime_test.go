package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactorcore/tag"
)

// S1 — Timer at zero, stop at 100ns: one timer trigger with offset 0,
// period 50ns, one reaction that appends current_tag.instant to an output
// list. Expected output list: [0, 50, 100].
func TestScenario_S1_PeriodicTimerStopsAtBoundary(t *testing.T) {
	var fired []tag.Instant

	rt, err := New(WithFastForward(true), WithStopTime(100))
	require.NoError(t, err)

	timer := &Trigger{Name: "timer", Offset: 0, Period: 50}
	timer.Reactions = []*Reaction{{
		Name:  "append",
		Index: 0,
		Func: func(any) {
			fired = append(fired, rt.CurrentTag().Instant)
		},
	}}

	err = rt.Run(context.Background(), func(rt *Runtime) error {
		_, err := rt.Schedule(timer, 0, nil, nil)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []tag.Instant{0, 50, 100}, fired)
}

// S2 — Superdense chain: R1 (index 0) fires at tag (10,0) and schedules a
// zero-delay trigger t2. R2 (index 1) triggers off t2 and must run at
// (10,1) in the next Next() iteration with no physical wait.
func TestScenario_S2_SuperdenseChain(t *testing.T) {
	type firing struct {
		tag tag.Tag
		who string
	}
	var order []firing

	rt, err := New(WithFastForward(true), WithStopTime(20))
	require.NoError(t, err)

	t2 := &Trigger{Name: "t2", Offset: 0}
	r1 := &Reaction{Name: "R1", Index: 0}
	r2 := &Reaction{Name: "R2", Index: 1}
	t2.Reactions = []*Reaction{r2}

	r1.Func = func(any) {
		order = append(order, firing{tag: rt.CurrentTag(), who: "R1"})
		_, _ = rt.Schedule(t2, 0, nil, nil)
	}
	r2.Func = func(any) {
		order = append(order, firing{tag: rt.CurrentTag(), who: "R2"})
	}

	t1 := &Trigger{Name: "t1", Offset: 10}
	t1.Reactions = []*Reaction{r1}

	err = rt.Run(context.Background(), func(rt *Runtime) error {
		_, err := rt.Schedule(t1, 0, nil, nil)
		return err
	})
	require.NoError(t, err)

	require.Len(t, order, 2)
	assert.Equal(t, "R1", order[0].who)
	assert.Equal(t, tag.Tag{Instant: 10, Microstep: 0}, order[0].tag)
	assert.Equal(t, "R2", order[1].who)
	assert.Equal(t, tag.Tag{Instant: 10, Microstep: 1}, order[1].tag)
}

// S3 — Topological ordering: two reactions at the same tag fire in index
// order regardless of declaration order.
func TestScenario_S3_TopologicalOrdering(t *testing.T) {
	var order []string

	rt, err := New(WithFastForward(true), WithStopTime(20))
	require.NoError(t, err)

	rb := &Reaction{Name: "R_b", Index: 2, Func: func(any) { order = append(order, "R_b") }}
	ra := &Reaction{Name: "R_a", Index: 5, Func: func(any) { order = append(order, "R_a") }}

	trig := &Trigger{Name: "t", Offset: 20, Reactions: []*Reaction{ra, rb}}

	err = rt.Run(context.Background(), func(rt *Runtime) error {
		_, err := rt.Schedule(trig, 0, nil, nil)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"R_b", "R_a"}, order)
}

// S4 — Deadline violation: reaction with deadline 1ms at tag (100ms,0);
// physical clock stalled to 200ms. Expect the violation handler invoked
// exactly once, then the reaction itself.
func TestScenario_S4_DeadlineViolation(t *testing.T) {
	var violationCalls, reactionCalls int

	start := time.Unix(0, 0)
	stalled := start.Add(200 * time.Millisecond)
	clockCalls := 0
	clock := func() time.Time {
		clockCalls++
		if clockCalls == 1 {
			return start // physicalStartTime
		}
		return stalled // every subsequent read is stalled
	}

	rt, err := New(WithFastForward(true), WithStopTime(tag.Instant(100*time.Millisecond)), WithClock(clock))
	require.NoError(t, err)

	violation := &Trigger{Name: "violation"}
	violation.Reactions = []*Reaction{{
		Name:  "violation-handler",
		Index: 0,
		Func:  func(any) { violationCalls++ },
	}}

	late := &Reaction{
		Name:                     "late",
		Index:                    1,
		Deadline:                 tag.Interval(1 * time.Millisecond),
		DeadlineViolationTrigger: violation,
		Func:                     func(any) { reactionCalls++ },
	}
	trig := &Trigger{Name: "t", Offset: tag.Interval(100 * time.Millisecond), Reactions: []*Reaction{late}}

	err = rt.Run(context.Background(), func(rt *Runtime) error {
		_, err := rt.Schedule(trig, 0, nil, nil)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 1, violationCalls)
	assert.Equal(t, 1, reactionCalls)
	assert.Equal(t, int64(1), rt.Stats().DeadlineViolations)
}

// S5 — Payload lifetime: the payload passed to Schedule is freed exactly
// once, after the last reaction at its tag completes.
func TestScenario_S5_PayloadLifetime(t *testing.T) {
	freed := 0
	var observedDuringReaction any

	rt, err := New(WithFastForward(true), WithStopTime(20))
	require.NoError(t, err)

	trig := &Trigger{Name: "t", Offset: 10}
	trig.Reactions = []*Reaction{{
		Name:  "reader",
		Index: 0,
		Func: func(any) {
			observedDuringReaction = trig.Payload
		},
	}}

	payload := "sentinel"
	err = rt.Run(context.Background(), func(rt *Runtime) error {
		_, err := rt.Schedule(trig, 0, payload, func(p any) { freed++ })
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, payload, observedDuringReaction)
	assert.Equal(t, 1, freed)
}

// S6 — Empty queue without -wait: Next returns immediately and Wrapup
// reports zero elapsed logical time.
func TestScenario_S6_EmptyQueueNoWait(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	cont, err := rt.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, cont)

	logical, _ := rt.Wrapup()
	assert.Equal(t, time.Duration(0), logical)
}

// Invariant 1: reactions execute in strictly non-decreasing (tag, index)
// order.
func TestInvariant_ExecutionOrder(t *testing.T) {
	type firing struct {
		tag   tag.Tag
		index int
	}
	var seen []firing

	rt, err := New(WithFastForward(true), WithStopTime(30))
	require.NoError(t, err)

	mk := func(name string, idx int, offset tag.Interval) *Trigger {
		r := &Reaction{Name: name, Index: idx, Func: func(any) {
			seen = append(seen, firing{tag: rt.CurrentTag(), index: idx})
		}}
		return &Trigger{Name: name, Offset: offset, Reactions: []*Reaction{r}}
	}

	t30a := mk("t30a", 9, 30)
	t30b := mk("t30b", 1, 30)
	t10 := mk("t10", 0, 10)

	err = rt.Run(context.Background(), func(rt *Runtime) error {
		for _, trig := range []*Trigger{t30a, t30b, t10} {
			if _, err := rt.Schedule(trig, 0, nil, nil); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	for i := 1; i < len(seen); i++ {
		prev, cur := seen[i-1], seen[i]
		ok := prev.tag.Before(cur.tag) || (prev.tag.Equal(cur.tag) && prev.index <= cur.index)
		assert.True(t, ok, "out of order: %+v then %+v", prev, cur)
	}
}

// Invariant 3: no reaction with tag.instant > stop_time ever fires.
func TestInvariant_NoFiringPastStopTime(t *testing.T) {
	var maxFired tag.Instant

	rt, err := New(WithFastForward(true), WithStopTime(100))
	require.NoError(t, err)

	timer := &Trigger{Name: "timer", Offset: 0, Period: 20}
	timer.Reactions = []*Reaction{{Index: 0, Func: func(any) {
		if cur := rt.CurrentTag().Instant; cur > maxFired {
			maxFired = cur
		}
	}}}

	err = rt.Run(context.Background(), func(rt *Runtime) error {
		_, err := rt.Schedule(timer, 0, nil, nil)
		return err
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, int64(maxFired), int64(100))
}

// Open Question 3 / invariant 2: schedule clamps a negative effective delay
// to the current tag rather than yielding a past-tag event.
func TestSchedule_ClampsNegativeDelayToNonNegative(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)
	rt.currentTag = tag.Tag{Instant: 50, Microstep: 0}

	trig := &Trigger{Name: "t", Offset: -20}
	h, err := rt.Schedule(trig, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, InvalidHandle, h, "clamped schedule should report InvalidHandle")

	ev, ok := rt.eventQ.Peek()
	require.True(t, ok)
	assert.GreaterOrEqual(t, ev.Tag.Instant, rt.currentTag.Instant)
}

// Async schedule guard (Open Question 2): once Run has recorded a loop
// goroutine, Schedule from a different goroutine is rejected.
func TestSchedule_RejectsAsyncCallOutsideLoopGoroutine(t *testing.T) {
	rt, err := New(WithWaitSpecified(true))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	started := make(chan struct{})

	go func() {
		done <- rt.Run(ctx, func(rt *Runtime) error {
			close(started)
			return nil
		})
	}()

	<-started
	time.Sleep(10 * time.Millisecond) // ensure Run has entered Next's wait

	trig := &Trigger{Name: "t", Offset: 10}
	_, err = rt.Schedule(trig, 0, nil, nil)
	assert.ErrorIs(t, err, ErrNotAcceptable)

	cancel()
	<-done
}

func TestRun_ReturnsErrAlreadyRunning(t *testing.T) {
	rt, err := New(WithFastForward(true))
	require.NoError(t, err)

	err = rt.Run(context.Background(), nil)
	require.NoError(t, err)

	err = rt.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestSchedule_NilTrigger(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)
	_, err = rt.Schedule(nil, 0, nil, nil)
	assert.ErrorIs(t, err, ErrNilTrigger)
}

func TestEventPool_RecyclesAcrossTags(t *testing.T) {
	rt, err := New(WithFastForward(true), WithStopTime(100))
	require.NoError(t, err)

	timer := &Trigger{Name: "timer", Offset: 0, Period: 25}
	count := 0
	timer.Reactions = []*Reaction{{Index: 0, Func: func(any) { count++ }}}

	err = rt.Run(context.Background(), func(rt *Runtime) error {
		_, err := rt.Schedule(timer, 0, nil, nil)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 5, count) // 0, 25, 50, 75, 100
	assert.LessOrEqual(t, rt.liveEventCount, 2, "recycling should cap live event allocations low")
}

type recordingHooks struct {
	startTimeSteps int
	triggered      []string
}

func (h *recordingHooks) StartTimeStep() { h.startTimeSteps++ }
func (h *recordingHooks) TriggerOutputReactions(rt *Runtime, r *Reaction) {
	h.triggered = append(h.triggered, r.Name)
	for _, out := range r.Outputs {
		for _, downstream := range out.Reactions {
			rt.EnqueueReaction(out, downstream)
		}
	}
}

func TestHooks_WiredIntoEventLoop(t *testing.T) {
	hooks := &recordingHooks{}

	rt, err := New(WithFastForward(true), WithStopTime(10), WithHooks(hooks))
	require.NoError(t, err)

	downstream := &Reaction{Name: "downstream", Index: 1, Func: func(any) {}}
	out := &Trigger{Name: "out", Reactions: []*Reaction{downstream}}

	upstream := &Reaction{Name: "upstream", Index: 0, Outputs: []*Trigger{out}, Func: func(any) {}}
	trig := &Trigger{Name: "t", Offset: 10, Reactions: []*Reaction{upstream}}

	err = rt.Run(context.Background(), func(rt *Runtime) error {
		_, err := rt.Schedule(trig, 0, nil, nil)
		return err
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, hooks.startTimeSteps, 1)
	assert.Contains(t, hooks.triggered, "upstream")
	assert.Equal(t, int64(2), rt.Stats().ReactionsInvoked) // upstream + downstream
}
