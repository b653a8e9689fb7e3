package ics

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "countdowncal/internal/log"
	"countdowncal/internal/model"
)

const (
	defaultProductID = "-//countdowncal//countdown calendar//EN"
	defaultName      = "Countdown"

	icalDate = "20060102"
)

// ExportOptions controls the generated feed.
type ExportOptions struct {
	// ProductID is the PRODID of the calendar and seeds event UIDs.
	ProductID string
	// Name is the calendar display name (X-WR-CALNAME).
	Name string
	// Stamp is used for DTSTAMP; zero means time.Now().
	Stamp time.Time
}

// DailyRule returns the recurrence covering every day of r, one occurrence
// per midnight from Start through Arrival inclusive.
func DailyRule(r model.DateRange) (*rrule.RRule, error) {
	if r.Arrival.Before(r.Start) {
		return nil, errors.New("ics: arrival is before start")
	}
	return rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: r.Start,
		Until:   r.Arrival,
	})
}

// Occurrences expands DailyRule into concrete days.
func Occurrences(r model.DateRange) ([]time.Time, error) {
	rule, err := DailyRule(r)
	if err != nil {
		return nil, err
	}
	return rule.All(), nil
}

// Export renders r as an iCalendar feed:
//
//   - one all-day VEVENT starting on r.Start, repeated daily until r.Arrival
//   - one all-day VEVENT on r.Arrival itself
//
// UIDs are name-based UUIDs, so re-exporting the same range yields the same
// events and subscribed clients do not see duplicates.
func Export(r model.DateRange, opts ExportOptions) ([]byte, error) {
	if opts.ProductID == "" {
		opts.ProductID = defaultProductID
	}
	if opts.Name == "" {
		opts.Name = defaultName
	}
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}

	rule, err := DailyRule(r)
	if err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	cal.SetXWRCalName(opts.Name)

	days := eventUID(opts.ProductID, "days", r)
	ev := cal.AddEvent(days)
	ev.SetDtStampTime(opts.Stamp)
	ev.SetAllDayStartAt(r.Start)
	ev.SetAllDayEndAt(r.Start.AddDate(0, 0, 1))
	ev.SetSummary(opts.Name + ": one day closer")
	ev.SetDescription("Open today's square on the countdown page.")
	ev.AddProperty(ical.ComponentPropertyRrule, dailyRuleValue(rule))

	arrival := eventUID(opts.ProductID, "arrival", r)
	av := cal.AddEvent(arrival)
	av.SetDtStampTime(opts.Stamp)
	av.SetAllDayStartAt(r.Arrival)
	av.SetAllDayEndAt(r.Arrival.AddDate(0, 0, 1))
	av.SetSummary(opts.Name + ": arrival day")

	out := cal.Serialize(ical.WithNewLineWindows)
	appLog.Debug("ics export built",
		"start", r.Start.Format(time.DateOnly),
		"arrival", r.Arrival.Format(time.DateOnly),
		"bytes", len(out),
	)
	return []byte(out), nil
}

// dailyRuleValue renders rule for an all-day VEVENT. UNTIL must share
// DTSTART's DATE type, so it is written as a bare date in the rule's zone
// rather than the UTC date-time rrule-go emits.
func dailyRuleValue(rule *rrule.RRule) string {
	return fmt.Sprintf("FREQ=%s;UNTIL=%s", rule.OrigOptions.Freq, rule.OrigOptions.Until.Format(icalDate))
}

func eventUID(productID, kind string, r model.DateRange) string {
	name := fmt.Sprintf("%s|%s|%s|%s", productID, kind,
		r.Start.Format(time.DateOnly), r.Arrival.Format(time.DateOnly))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String() + "@countdowncal"
}
