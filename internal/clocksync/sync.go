package clocksync

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "countdowncal/internal/log"
	"countdowncal/internal/model"
)

// Clock is the device clock. Readings should carry a monotonic component so
// elapsed time survives wall-clock steps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Sync.
type Option func(*Sync)

// WithDeviceClock replaces the device clock, mainly for tests.
func WithDeviceClock(c Clock) Option {
	return func(s *Sync) {
		if c != nil {
			s.device = c
		}
	}
}

// Sync derives "now" from a single trusted reading plus elapsed device time.
// Only the initial offset is corrected; device clock rate is trusted after
// the fix.
type Sync struct {
	source Source
	device Clock
	loc    *time.Location

	mu     sync.RWMutex
	anchor *model.Anchor
}

// New creates a Sync that reports instants in loc.
func New(src Source, loc *time.Location, opts ...Option) *Sync {
	if loc == nil {
		loc = time.Local
	}
	s := &Sync{
		source: src,
		device: systemClock{},
		loc:    loc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the zone Now reports in.
func (s *Sync) Location() *time.Location { return s.loc }

// Initialize fetches the trusted time once and anchors it. Any failure is
// logged and replaced by the device clock; it never reaches the caller.
// Once anchored, further calls return the existing anchor unchanged.
func (s *Sync) Initialize(ctx context.Context) model.Anchor {
	s.mu.RLock()
	if s.anchor != nil {
		a := *s.anchor
		s.mu.RUnlock()
		return a
	}
	s.mu.RUnlock()

	a := s.fetchAnchor(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchor != nil {
		return *s.anchor
	}
	s.anchor = &a
	return a
}

func (s *Sync) fetchAnchor(ctx context.Context) model.Anchor {
	if s.source != nil {
		server, err := s.source.Fetch(ctx)
		local := s.device.Now()
		if err == nil && server.IsZero() {
			err = errors.New("clocksync: time source returned zero time")
		}
		if err == nil {
			a := model.Anchor{Server: server.In(s.loc), Local: local}
			appLog.Info("clock synced",
				"server", a.Server.Format(time.RFC3339Nano),
				"skew", a.Server.Sub(local).Round(time.Millisecond).String(),
			)
			return a
		}
		appLog.Error("time source unavailable; falling back to device clock", err)
	} else {
		appLog.Info("no time source configured; using device clock")
	}

	local := s.device.Now()
	return model.Anchor{Server: local.In(s.loc), Local: local, Fallback: true}
}

// Now returns the current instant in the configured zone. Before Initialize
// completes it is the raw device clock.
func (s *Sync) Now() time.Time {
	s.mu.RLock()
	a := s.anchor
	s.mu.RUnlock()

	deviceNow := s.device.Now()
	if a == nil {
		return deviceNow.In(s.loc)
	}
	return a.Server.Add(deviceNow.Sub(a.Local)).In(s.loc)
}

// Anchor returns the recorded anchor, if any.
func (s *Sync) Anchor() (model.Anchor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.anchor == nil {
		return model.Anchor{}, false
	}
	return *s.anchor, true
}
