package calendar

import (
	"errors"
	"fmt"
	"time"

	"countdowncal/internal/model"
)

// ErrInvalidRange is returned when the arrival date precedes the start date.
var ErrInvalidRange = errors.New("calendar: arrival is before start")

const day = 24 * time.Hour

// NewDateRange builds a DateRange with both bounds truncated to midnight in
// start's location.
func NewDateRange(start, arrival time.Time) (model.DateRange, error) {
	loc := start.Location()
	s := DateOnly(start, loc)
	a := DateOnly(arrival, loc)
	if a.Before(s) {
		return model.DateRange{}, fmt.Errorf("%w: start=%s arrival=%s", ErrInvalidRange,
			s.Format(time.DateOnly), a.Format(time.DateOnly))
	}
	return model.DateRange{Start: s, Arrival: a}, nil
}

// DateOnly returns midnight of t's calendar day as seen in loc.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = t.Location()
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Remaining decomposes arrival-now into days/hours/minutes/seconds using
// floor division. Once now reaches arrival the result is all zero.
func Remaining(now, arrival time.Time) model.RemainingDuration {
	diff := arrival.Sub(now).Milliseconds()
	if diff <= 0 {
		return model.RemainingDuration{}
	}

	const (
		msSecond = int64(1000)
		msMinute = 60 * msSecond
		msHour   = 60 * msMinute
		msDay    = 24 * msHour
	)

	return model.RemainingDuration{
		Days:    int(diff / msDay),
		Hours:   int(diff % msDay / msHour),
		Minutes: int(diff % msHour / msMinute),
		Seconds: int(diff % msMinute / msSecond),
	}
}

// Classify places date relative to now and r. Both date and now are
// instants: each is converted to r's zone and then truncated to its calendar
// day, so the time of day never matters but the zone does. UTC midnight on
// Nov 15 is still Nov 14 in UTC-5; build dates with time.Date or
// time.ParseInLocation in r.Location() to name a calendar day.
func Classify(date, now time.Time, r model.DateRange) model.DayClassification {
	loc := r.Location()
	d := DateOnly(date, loc)
	today := DateOnly(now, loc)

	out := model.DayClassification{Date: d}
	if d.Before(r.Start) || d.After(r.Arrival) {
		out.IsOutOfRange = true
		return out
	}

	switch {
	case d.Equal(today):
		out.IsToday = true
	case d.Before(today):
		out.IsPast = true
	default:
		out.IsFuture = true
	}
	out.CanOpen = out.IsPast || out.IsToday
	return out
}

// ClassifyLocked classifies date as if no trusted time were available yet:
// range membership is kept but nothing can be opened. date is an instant,
// read in r's zone as in Classify.
func ClassifyLocked(date time.Time, r model.DateRange) model.DayClassification {
	d := DateOnly(date, r.Location())
	out := model.DayClassification{Date: d}
	if d.Before(r.Start) || d.After(r.Arrival) {
		out.IsOutOfRange = true
		return out
	}
	out.IsFuture = true
	return out
}

// Week is one calendar row.
type Week [7]time.Time

// Grid is a contiguous run of whole weeks covering every day from the first
// of the start month to the last of the arrival month.
type Grid struct {
	// First / Last are the first and last day of the covered month span
	// (not counting padding).
	First time.Time
	Last  time.Time

	WeekStart time.Weekday
	Weeks     []Week
}

// Days flattens the grid row by row.
func (g Grid) Days() []time.Time {
	out := make([]time.Time, 0, len(g.Weeks)*7)
	for _, w := range g.Weeks {
		out = append(out, w[:]...)
	}
	return out
}

// InSpan reports whether d lies inside the month span rather than the
// leading/trailing padding.
func (g Grid) InSpan(d time.Time) bool {
	d = DateOnly(d, g.First.Location())
	return !d.Before(g.First) && !d.After(g.Last)
}

// BuildMonthGrid lays out the span with weeks starting on Sunday.
func BuildMonthGrid(r model.DateRange) Grid {
	return BuildMonthGridFrom(r, time.Sunday)
}

// BuildMonthGridFrom lays out the span with weeks starting on weekStart.
func BuildMonthGridFrom(r model.DateRange, weekStart time.Weekday) Grid {
	loc := r.Location()
	first := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, loc)
	// Day 0 of the next month is the last day of this one.
	last := time.Date(r.Arrival.Year(), r.Arrival.Month()+1, 0, 0, 0, 0, 0, loc)

	lead := (int(first.Weekday()) - int(weekStart) + 7) % 7
	trail := (int(weekStart) + 6 - int(last.Weekday()) + 7) % 7

	gridStart := first.AddDate(0, 0, -lead)
	gridEnd := last.AddDate(0, 0, trail)

	g := Grid{First: first, Last: last, WeekStart: weekStart}
	var w Week
	i := 0
	// AddDate keeps midnight stable even if loc had transitions.
	for d := gridStart; !d.After(gridEnd); d = d.AddDate(0, 0, 1) {
		w[i] = d
		i++
		if i == 7 {
			g.Weeks = append(g.Weeks, w)
			i = 0
		}
	}
	return g
}

// DaysUntil counts whole calendar days from now's date to arrival.
func DaysUntil(now time.Time, r model.DateRange) int {
	today := DateOnly(now, r.Location())
	n := int(r.Arrival.Sub(today) / day)
	if n < 0 {
		return 0
	}
	return n
}
