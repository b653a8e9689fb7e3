package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"countdowncal/internal/countdown"
	"countdowncal/internal/model"
)

// renderText writes a plain-text rendering of the board:
//
//	Countdown to 2025-12-01 (COT)
//	Phase: ready
//	Remaining: 11 days 00:00:00
//
//	 Sun Mon Tue Wed Thu Fri Sat
//	                          1
//	...
//
// Openable days are marked with '*', today with '>'.
func renderText(w io.Writer, b *countdown.Board) error {
	v := b.Snapshot()
	cv := b.Calendar()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Countdown to %s (%s)\n", v.Arrival.Format(time.DateOnly), v.Arrival.Location())
	fmt.Fprintf(&sb, "Phase: %s\n", v.Phase)

	switch v.Phase {
	case model.PhaseArrived:
		sb.WriteString("Today is the day!\n")
	case model.PhaseReady:
		unit := "days"
		if v.Remaining.Days == 1 {
			unit = "day"
		}
		fmt.Fprintf(&sb, "Remaining: %d %s %02d:%02d:%02d\n",
			v.Remaining.Days, unit, v.Remaining.Hours, v.Remaining.Minutes, v.Remaining.Seconds)
	}
	sb.WriteString("\n")

	if len(cv.Weeks) > 0 {
		for _, cell := range cv.Weeks[0] {
			fmt.Fprintf(&sb, " %s", cell.Date.Weekday().String()[:3])
		}
		sb.WriteString("\n")
	}

	for _, week := range cv.Weeks {
		for _, cell := range week {
			if !cell.InSpan {
				sb.WriteString("    ")
				continue
			}
			mark := ' '
			switch {
			case cell.IsToday:
				mark = '>'
			case cell.CanOpen:
				mark = '*'
			}
			fmt.Fprintf(&sb, "%3d%c", cell.Day, mark)
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
