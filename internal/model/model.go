package model

import (
	"fmt"
	"strings"
	"time"
)

// Anchor pins a trusted instant to the device clock reading taken when it
// was obtained. Both fields are always set together.
type Anchor struct {
	// Server is the trusted instant, already converted to the display zone.
	Server time.Time
	// Local is the device clock reading (with monotonic component) at fetch.
	Local time.Time
	// Fallback is true when the time source failed and Server is just the
	// device clock.
	Fallback bool
}

// DateRange is the fixed [Start, Arrival] window of the countdown. Both
// bounds are midnight in the display zone.
type DateRange struct {
	Start   time.Time
	Arrival time.Time
}

// Location returns the zone the range was built in.
func (r DateRange) Location() *time.Location {
	return r.Start.Location()
}

// RemainingDuration is the countdown until arrival, decomposed without any
// calendar awareness.
type RemainingDuration struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// IsZero reports whether the arrival has been reached.
func (d RemainingDuration) IsZero() bool {
	return d.Days == 0 && d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0
}

// Duration reassembles d into a time.Duration.
func (d RemainingDuration) Duration() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second
}

// DayClassification places a calendar date relative to "now" and the
// countdown range. When IsOutOfRange is set, none of IsPast, IsToday and
// IsFuture are.
type DayClassification struct {
	Date         time.Time `json:"date"`
	IsPast       bool      `json:"is_past"`
	IsToday      bool      `json:"is_today"`
	IsFuture     bool      `json:"is_future"`
	IsOutOfRange bool      `json:"is_out_of_range"`
	CanOpen      bool      `json:"can_open"`
}

// Category tags a day message.
type Category int

const (
	CategoryNote Category = iota
	CategoryMemory
	CategoryPlan
)

func (c Category) String() string {
	switch c {
	case CategoryMemory:
		return "memory"
	case CategoryPlan:
		return "plan"
	default:
		return "note"
	}
}

// ParseCategory maps a config/JSON name to a Category.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "note", "":
		return CategoryNote, nil
	case "memory":
		return CategoryMemory, nil
	case "plan":
		return CategoryPlan, nil
	default:
		return CategoryNote, fmt.Errorf("model: unknown message category %q", s)
	}
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DayMessage is the canned text revealed when a day is opened.
type DayMessage struct {
	Text     string   `yaml:"text" json:"text"`
	Category Category `yaml:"category" json:"category"`
}

// Phase is the page-level countdown state.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseReady
	PhaseArrived
)

func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseArrived:
		return "arrived"
	default:
		return "loading"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
