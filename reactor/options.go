package reactor

import (
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/reactorcore/tag"
)

// config holds the resolved configuration of a Runtime, built up by Option
// values the way loopOptions is built up by LoopOption in the teacher
// package.
type config struct {
	clock           func() time.Time
	hooks           Hooks
	log             *Logger
	waitSpecified   bool
	fast            bool
	threads         int
	stopTime        tag.Instant
	hasStopTime     bool
	maxEvents       int
	deadlineLimiter *catrate.Limiter
}

// Option configures a Runtime at construction time.
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(c *config) error { return f(c) }

// WithClock overrides the physical clock used for wait_until and deadline
// checks. Tests use this to stall or fast-forward physical time
// deterministically (spec §8 scenario S4) without a real sleep.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *config) error {
		c.clock = now
		return nil
	})
}

// WithHooks supplies the generator-provided collaborators (spec §6). If
// omitted, NopHooks is used.
func WithHooks(hooks Hooks) Option {
	return optionFunc(func(c *config) error {
		c.hooks = hooks
		return nil
	})
}

// WithLogger supplies the structured logger. If omitted, defaultLogger() is
// used (JSON to stderr at informational level).
func WithLogger(log *Logger) Option {
	return optionFunc(func(c *config) error {
		c.log = log
		return nil
	})
}

// WithWaitSpecified corresponds to the -wait CLI flag (spec §6): when the
// event queue empties, wait instead of terminating.
func WithWaitSpecified(wait bool) Option {
	return optionFunc(func(c *config) error {
		c.waitSpecified = wait
		return nil
	})
}

// WithFastForward corresponds to the -fast CLI flag: skip wait_until
// entirely, so logical time advances as fast as the host permits.
func WithFastForward(fast bool) Option {
	return optionFunc(func(c *config) error {
		c.fast = fast
		return nil
	})
}

// WithThreads corresponds to the -threads CLI flag. threads > 0 disables the
// asynchronous-schedule guard described in Open Question 2; the threaded
// event loop itself remains out of scope (spec §5), so this only relaxes
// the single-goroutine assertion.
func WithThreads(threads int) Option {
	return optionFunc(func(c *config) error {
		c.threads = threads
		return nil
	})
}

// WithStopTime corresponds to the -stop CLI flag: the run terminates once
// current_tag.instant >= stopTime.
func WithStopTime(stopTime tag.Instant) Option {
	return optionFunc(func(c *config) error {
		c.stopTime = stopTime
		c.hasStopTime = true
		return nil
	})
}

// WithMaxEvents bounds the number of live Event records the pool may grow
// to; 0 (the default) means unbounded. Exceeding the bound is the resource
// exhaustion error kind of spec §7 and surfaces as ErrPoolExhausted.
func WithMaxEvents(max int) Option {
	return optionFunc(func(c *config) error {
		c.maxEvents = max
		return nil
	})
}

// WithDeadlineRateLimiter supplies a catrate.Limiter used to debounce the
// warning logged on repeated deadline violations for the same reaction. If
// omitted, every violation is logged.
func WithDeadlineRateLimiter(limiter *catrate.Limiter) Option {
	return optionFunc(func(c *config) error {
		c.deadlineLimiter = limiter
		return nil
	})
}

func resolveOptions(opts []Option) (*config, error) {
	c := &config{
		clock: time.Now,
		hooks: NopHooks{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}
	if c.log == nil {
		c.log = defaultLogger()
	}
	return c, nil
}
