package clocksync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "countdowncal/internal/log"
)

var (
	// ErrAlreadyStarted is returned by Start on a running Controller.
	ErrAlreadyStarted = errors.New("clocksync: controller already started")
	// ErrStopped is returned by Start once Stop has been called. A stopped
	// Controller cannot be restarted; build a new one.
	ErrStopped = errors.New("clocksync: controller stopped")
)

// Controller owns a Sync and the repeating tick that republishes its Now.
// All timer state lives here; Stop tears it down completely.
type Controller struct {
	sync    *Sync
	period  time.Duration
	publish func(time.Time)

	mu      sync.Mutex
	sched   *cron.Cron
	stopped bool
}

// NewController wires s to publish, which receives a fresh Now every
// period. Cron schedules have one-second resolution, so shorter periods
// round up to a second.
func NewController(s *Sync, period time.Duration, publish func(time.Time)) *Controller {
	if period <= 0 {
		period = time.Second
	}
	if publish == nil {
		publish = func(time.Time) {}
	}
	return &Controller{sync: s, period: period, publish: publish}
}

// Sync returns the underlying clock.
func (c *Controller) Sync() *Sync { return c.sync }

// Start runs the one-shot sync and only then begins ticking, so every
// published instant is derived from a settled anchor. It blocks for the
// duration of the initial fetch.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.sched != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	// Reserve the slot before the fetch so concurrent Starts fail fast.
	c.sched = cron.New(cron.WithLocation(c.sync.Location()))
	sched := c.sched
	c.mu.Unlock()

	anchor := c.sync.Initialize(ctx)
	appLog.Info("clock controller starting",
		"period", c.period.String(),
		"fallback", anchor.Fallback,
	)

	c.publish(c.sync.Now())

	sched.Schedule(cron.Every(c.period), cron.FuncJob(c.tick))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		// Stop raced with the initial fetch; never start the timer.
		return nil
	}
	sched.Start()
	return nil
}

func (c *Controller) tick() {
	c.publish(c.sync.Now())
}

// Stop cancels the tick and waits for an in-flight publish to return. It is
// safe to call more than once and before Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	sched := c.sched
	c.mu.Unlock()

	if sched == nil {
		return
	}
	<-sched.Stop().Done()
	appLog.Info("clock controller stopped")
}

// Run starts the controller and blocks until ctx is done, then stops it.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.Stop()
	return nil
}
