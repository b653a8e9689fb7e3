package countdown

import (
	"errors"
	"sync"
	"time"

	"countdowncal/internal/calendar"
	appLog "countdowncal/internal/log"
	"countdowncal/internal/model"
)

// ErrLocked is returned by Open for days that cannot be opened yet.
var ErrLocked = errors.New("countdown: day is locked")

// View is the render-ready countdown state.
type View struct {
	Phase     model.Phase             `json:"phase"`
	Now       *time.Time              `json:"now,omitempty"`
	Remaining model.RemainingDuration `json:"remaining"`
	Start     time.Time               `json:"start"`
	Arrival   time.Time               `json:"arrival"`
	DaysLeft  int                     `json:"days_left"`
}

// DayCell is one square of the calendar.
type DayCell struct {
	model.DayClassification
	// InSpan is false for padding days borrowed from adjacent months.
	InSpan bool `json:"in_span"`
	Day    int  `json:"day"`
}

// CalendarView is the month grid annotated with classifications.
type CalendarView struct {
	Phase     model.Phase  `json:"phase"`
	WeekStart string       `json:"week_start"`
	First     time.Time    `json:"first"`
	Last      time.Time    `json:"last"`
	Weeks     [][7]DayCell `json:"weeks"`
}

// Board is the page-level consumer of the clock. It moves from Loading to
// Ready on the first Update and to Arrived once nothing remains; Arrived is
// terminal for the countdown but day classification keeps following now.
type Board struct {
	rng      model.DateRange
	messages calendar.MessageTable
	grid     calendar.Grid

	mu        sync.RWMutex
	phase     model.Phase
	now       time.Time
	remaining model.RemainingDuration
}

// NewBoard builds a Board in the Loading phase. The grid is laid out once.
func NewBoard(r model.DateRange, messages calendar.MessageTable, weekStart time.Weekday) *Board {
	return &Board{
		rng:      r,
		messages: messages,
		grid:     calendar.BuildMonthGridFrom(r, weekStart),
		phase:    model.PhaseLoading,
	}
}

// Range returns the countdown bounds.
func (b *Board) Range() model.DateRange { return b.rng }

// Messages returns the message table.
func (b *Board) Messages() calendar.MessageTable { return b.messages }

// Update records a fresh instant from the clock.
func (b *Board) Update(now time.Time) {
	rem := calendar.Remaining(now, b.rng.Arrival)

	b.mu.Lock()
	prev := b.phase
	b.now = now
	b.remaining = rem
	switch {
	case rem.IsZero():
		b.phase = model.PhaseArrived
	case b.phase == model.PhaseLoading:
		b.phase = model.PhaseReady
	}
	next := b.phase
	b.mu.Unlock()

	if prev != next {
		appLog.Info("countdown phase changed", "from", prev.String(), "to", next.String(), "now", now.Format(time.RFC3339))
	}
}

// Phase returns the current phase.
func (b *Board) Phase() model.Phase {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.phase
}

// Snapshot returns the current countdown view.
func (b *Board) Snapshot() View {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v := View{
		Phase:     b.phase,
		Remaining: b.remaining,
		Start:     b.rng.Start,
		Arrival:   b.rng.Arrival,
	}
	if b.phase != model.PhaseLoading {
		now := b.now
		v.Now = &now
		v.DaysLeft = calendar.DaysUntil(now, b.rng)
	}
	return v
}

// Calendar classifies every day of the grid against the latest instant.
// While loading, in-range days are shown locked.
func (b *Board) Calendar() CalendarView {
	b.mu.RLock()
	phase, now := b.phase, b.now
	b.mu.RUnlock()

	cv := CalendarView{
		Phase:     phase,
		WeekStart: b.grid.WeekStart.String(),
		First:     b.grid.First,
		Last:      b.grid.Last,
		Weeks:     make([][7]DayCell, 0, len(b.grid.Weeks)),
	}
	for _, w := range b.grid.Weeks {
		var row [7]DayCell
		for i, d := range w {
			row[i] = DayCell{
				DayClassification: b.classify(d, phase, now),
				InSpan:            b.grid.InSpan(d),
				Day:               d.Day(),
			}
		}
		cv.Weeks = append(cv.Weeks, row)
	}
	return cv
}

// Classify returns the classification of a single date.
func (b *Board) Classify(date time.Time) model.DayClassification {
	b.mu.RLock()
	phase, now := b.phase, b.now
	b.mu.RUnlock()
	return b.classify(date, phase, now)
}

func (b *Board) classify(date time.Time, phase model.Phase, now time.Time) model.DayClassification {
	if phase == model.PhaseLoading {
		return calendar.ClassifyLocked(date, b.rng)
	}
	return calendar.Classify(date, now, b.rng)
}

// Open answers a "day clicked" request.
func (b *Board) Open(date time.Time) (model.DayMessage, model.DayClassification, error) {
	c := b.Classify(date)
	if !c.CanOpen {
		return model.DayMessage{}, c, ErrLocked
	}
	return b.messages.MessageFor(c.Date.Day()), c, nil
}
