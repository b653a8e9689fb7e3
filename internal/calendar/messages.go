package calendar

import (
	"fmt"
	"maps"
	"slices"

	"countdowncal/internal/model"
)

// MessageTable is an immutable day-of-month → message lookup.
type MessageTable struct {
	entries map[int]model.DayMessage
}

// NewMessageTable copies entries so later changes to the map do not leak in.
func NewMessageTable(entries map[int]model.DayMessage) MessageTable {
	return MessageTable{entries: maps.Clone(entries)}
}

// MessageFor returns the message for dayOfMonth or a generated fallback.
func (t MessageTable) MessageFor(dayOfMonth int) model.DayMessage {
	if m, ok := t.entries[dayOfMonth]; ok {
		return m
	}
	return model.DayMessage{
		Text:     fmt.Sprintf("Day %d: every day that passes brings me closer to you.", dayOfMonth),
		Category: model.CategoryNote,
	}
}

// Has reports whether dayOfMonth has an authored entry.
func (t MessageTable) Has(dayOfMonth int) bool {
	_, ok := t.entries[dayOfMonth]
	return ok
}

// Days lists the authored days in ascending order.
func (t MessageTable) Days() []int {
	return slices.Sorted(maps.Keys(t.entries))
}
