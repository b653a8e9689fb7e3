package calendar

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"countdowncal/internal/model"
)

var cot = time.FixedZone("COT", -5*3600)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, cot)
}

func novemberRange(t *testing.T) model.DateRange {
	t.Helper()
	r, err := NewDateRange(date(2025, time.November, 13), date(2025, time.December, 1))
	require.NoError(t, err)
	return r
}

func TestNewDateRangeRejectsReversedBounds(t *testing.T) {
	_, err := NewDateRange(date(2025, time.December, 1), date(2025, time.November, 13))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRange))
}

func TestNewDateRangeTruncatesToMidnight(t *testing.T) {
	r, err := NewDateRange(
		time.Date(2025, time.November, 13, 17, 30, 0, 0, cot),
		time.Date(2025, time.December, 1, 8, 0, 0, 0, cot),
	)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.November, 13), r.Start)
	assert.Equal(t, date(2025, time.December, 1), r.Arrival)
}

func TestRemainingExample(t *testing.T) {
	r := novemberRange(t)
	now := date(2025, time.November, 20)

	// November has 30 days: the 20th to December 1st is eleven whole days.
	got := Remaining(now, r.Arrival)
	assert.Equal(t, model.RemainingDuration{Days: 11}, got)
}

func TestRemainingDecomposes(t *testing.T) {
	arrival := date(2025, time.December, 1)
	now := arrival.Add(-(3*24*time.Hour + 4*time.Hour + 5*time.Minute + 6*time.Second + 700*time.Millisecond))

	assert.Equal(t, model.RemainingDuration{Days: 3, Hours: 4, Minutes: 5, Seconds: 6}, Remaining(now, arrival))
}

func TestRemainingZeroAtOrAfterArrival(t *testing.T) {
	arrival := date(2025, time.December, 1)
	for _, now := range []time.Time{
		arrival,
		arrival.Add(time.Millisecond),
		arrival.Add(72 * time.Hour),
	} {
		got := Remaining(now, arrival)
		assert.True(t, got.IsZero(), "now=%s", now)
	}
}

func TestRemainingReconstructsWithinOneSecond(t *testing.T) {
	arrival := date(2025, time.December, 1)
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		diff := time.Duration(rnd.Int63n(int64(400*24*time.Hour))) + time.Millisecond
		now := arrival.Add(-diff)

		got := Remaining(now, arrival)
		require.GreaterOrEqual(t, got.Days, 0)
		require.True(t, got.Hours >= 0 && got.Hours <= 23)
		require.True(t, got.Minutes >= 0 && got.Minutes <= 59)
		require.True(t, got.Seconds >= 0 && got.Seconds <= 59)

		lost := arrival.Sub(now) - got.Duration()
		require.True(t, lost >= 0 && lost < time.Second, "diff=%s got=%+v lost=%s", diff, got, lost)
	}
}

func TestClassifyExample(t *testing.T) {
	r := novemberRange(t)
	now := date(2025, time.November, 20)

	past := Classify(date(2025, time.November, 15), now, r)
	assert.True(t, past.IsPast)
	assert.True(t, past.CanOpen)
	assert.False(t, past.IsToday || past.IsFuture || past.IsOutOfRange)

	future := Classify(date(2025, time.November, 27), now, r)
	assert.True(t, future.IsFuture)
	assert.False(t, future.CanOpen)
}

func TestClassifyIgnoresTimeOfDay(t *testing.T) {
	r := novemberRange(t)
	now := time.Date(2025, time.November, 20, 23, 59, 59, 0, cot)

	today := Classify(time.Date(2025, time.November, 20, 0, 0, 1, 0, cot), now, r)
	assert.True(t, today.IsToday)
	assert.True(t, today.CanOpen)
	assert.False(t, today.IsPast)

	// 04:00 UTC on the 21st is still the 20th at UTC-5.
	utcNow := time.Date(2025, time.November, 21, 4, 0, 0, 0, time.UTC)
	assert.True(t, Classify(date(2025, time.November, 20), utcNow, r).IsToday)
}

func TestClassifyReadsDateAsInstant(t *testing.T) {
	r := novemberRange(t)
	now := date(2025, time.November, 20)

	// UTC midnight on the 15th is 19:00 on the 14th at UTC-5.
	utcMidnight := time.Date(2025, time.November, 15, 0, 0, 0, 0, time.UTC)
	c := Classify(utcMidnight, now, r)
	assert.True(t, c.Date.Equal(date(2025, time.November, 14)), "date=%s", c.Date)
	assert.Equal(t, 14, c.Date.Day())

	locked := ClassifyLocked(utcMidnight, r)
	assert.Equal(t, 14, locked.Date.Day())

	// UTC midnight on the 13th falls on the 12th locally, outside the range.
	assert.True(t, Classify(time.Date(2025, time.November, 13, 0, 0, 0, 0, time.UTC), now, r).IsOutOfRange)
}

func TestClassifyOutOfRange(t *testing.T) {
	r := novemberRange(t)
	now := date(2025, time.December, 10)

	for _, d := range []time.Time{
		date(2025, time.November, 12),
		date(2025, time.October, 1),
		date(2025, time.December, 2),
		date(2026, time.January, 1),
	} {
		c := Classify(d, now, r)
		assert.True(t, c.IsOutOfRange, "date=%s", d)
		assert.False(t, c.CanOpen, "date=%s", d)
		assert.False(t, c.IsPast || c.IsToday || c.IsFuture, "date=%s", d)
	}

	// Bounds themselves are in range.
	assert.True(t, Classify(r.Start, now, r).CanOpen)
	assert.True(t, Classify(r.Arrival, now, r).CanOpen)
}

func TestClassifyIsPure(t *testing.T) {
	r := novemberRange(t)
	now := date(2025, time.November, 20)
	d := date(2025, time.November, 19)

	first := Classify(d, now, r)
	second := Classify(d, now, r)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("Classify not idempotent (-first +second):\n%s", diff)
	}
}

func TestClassifyLocked(t *testing.T) {
	r := novemberRange(t)

	in := ClassifyLocked(date(2025, time.November, 14), r)
	assert.False(t, in.CanOpen)
	assert.False(t, in.IsOutOfRange)

	out := ClassifyLocked(date(2025, time.November, 1), r)
	assert.True(t, out.IsOutOfRange)
	assert.False(t, out.CanOpen)
}

func TestBuildMonthGridExample(t *testing.T) {
	r := novemberRange(t)
	g := BuildMonthGrid(r)

	require.Len(t, g.Weeks, 10)
	assert.Equal(t, date(2025, time.October, 26), g.Weeks[0][0])
	assert.Equal(t, date(2026, time.January, 3), g.Weeks[9][6])
	assert.Equal(t, date(2025, time.November, 1), g.First)
	assert.Equal(t, date(2025, time.December, 31), g.Last)

	for _, w := range g.Weeks {
		assert.Equal(t, time.Sunday, w[0].Weekday())
	}
	assert.True(t, g.InSpan(date(2025, time.November, 1)))
	assert.False(t, g.InSpan(date(2025, time.October, 31)))
}

func TestBuildMonthGridCoversRangeOnce(t *testing.T) {
	cases := []struct {
		name           string
		start, arrival time.Time
		weekStart      time.Weekday
	}{
		{"november to december", date(2025, time.November, 13), date(2025, time.December, 1), time.Sunday},
		{"same month", date(2025, time.November, 13), date(2025, time.November, 25), time.Sunday},
		{"monday start", date(2025, time.November, 13), date(2025, time.December, 1), time.Monday},
		{"across year", date(2025, time.December, 20), date(2026, time.February, 3), time.Sunday},
		{"single day", date(2026, time.February, 1), date(2026, time.February, 1), time.Monday},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewDateRange(tc.start, tc.arrival)
			require.NoError(t, err)
			g := BuildMonthGridFrom(r, tc.weekStart)

			seen := make(map[time.Time]int)
			for _, w := range g.Weeks {
				assert.Len(t, w, 7)
				assert.Equal(t, tc.weekStart, w[0].Weekday())
				for _, d := range w {
					seen[d]++
				}
			}
			for d := r.Start; !d.After(r.Arrival); d = d.AddDate(0, 0, 1) {
				assert.Equal(t, 1, seen[d], "date %s", d.Format(time.DateOnly))
			}

			// Same inputs, same grid.
			if diff := cmp.Diff(g, BuildMonthGridFrom(r, tc.weekStart)); diff != "" {
				t.Fatalf("grid not deterministic:\n%s", diff)
			}
		})
	}
}

func TestGridDaysFlattensInOrder(t *testing.T) {
	g := BuildMonthGrid(novemberRange(t))
	days := g.Days()
	require.Len(t, days, 70)
	for i := 1; i < len(days); i++ {
		assert.Equal(t, days[i-1].AddDate(0, 0, 1), days[i])
	}
}

func TestDaysUntil(t *testing.T) {
	r := novemberRange(t)
	assert.Equal(t, 11, DaysUntil(time.Date(2025, time.November, 20, 15, 0, 0, 0, cot), r))
	assert.Equal(t, 0, DaysUntil(date(2025, time.December, 3), r))
}
