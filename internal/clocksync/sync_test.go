package clocksync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cot = time.FixedZone("COT", -5*3600)

// fakeClock is a manually advanced device clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func fixedSource(t time.Time) Source {
	return SourceFunc(func(context.Context) (time.Time, error) { return t, nil })
}

func TestNowBeforeInitializeUsesDeviceClock(t *testing.T) {
	device := newFakeClock(time.Date(2025, time.November, 20, 12, 0, 0, 0, time.UTC))
	s := New(fixedSource(time.Now()), cot, WithDeviceClock(device))

	now := s.Now()
	assert.True(t, now.Equal(device.Now()))
	assert.Equal(t, cot, now.Location())

	_, ok := s.Anchor()
	assert.False(t, ok)
}

func TestInitializeAnchorsOnServerTime(t *testing.T) {
	// Device clock is an hour slow relative to the server.
	device := newFakeClock(time.Date(2025, time.November, 20, 4, 0, 0, 0, time.UTC))
	server := time.Date(2025, time.November, 20, 5, 0, 0, 0, time.UTC)
	s := New(fixedSource(server), cot, WithDeviceClock(device))

	a := s.Initialize(context.Background())
	assert.False(t, a.Fallback)
	assert.True(t, a.Server.Equal(server))
	assert.Equal(t, cot, a.Server.Location())
	assert.Equal(t, 0, a.Server.Hour(), "05:00 UTC is midnight at UTC-5")

	device.Advance(90 * time.Second)
	assert.True(t, s.Now().Equal(server.Add(90*time.Second)))
}

func TestInitializeFallsBackOnError(t *testing.T) {
	device := newFakeClock(time.Date(2025, time.November, 20, 4, 0, 0, 0, time.UTC))
	failing := SourceFunc(func(context.Context) (time.Time, error) {
		return time.Time{}, errors.New("network unreachable")
	})
	s := New(failing, cot, WithDeviceClock(device))

	a := s.Initialize(context.Background())
	assert.True(t, a.Fallback)
	assert.True(t, a.Server.Equal(device.Now()))

	device.Advance(time.Minute)
	now := s.Now()
	assert.False(t, now.IsZero())
	assert.True(t, now.Equal(device.Now()))
	assert.Equal(t, cot, now.Location())
}

func TestInitializeWithoutSource(t *testing.T) {
	s := New(nil, cot)
	a := s.Initialize(context.Background())
	assert.True(t, a.Fallback)
	assert.WithinDuration(t, time.Now(), s.Now(), time.Second)
}

func TestInitializeIsOnce(t *testing.T) {
	calls := 0
	src := SourceFunc(func(context.Context) (time.Time, error) {
		calls++
		return time.Date(2025, time.November, 20, 5, 0, 0, 0, time.UTC).Add(time.Duration(calls) * time.Hour), nil
	})
	s := New(src, cot)

	first := s.Initialize(context.Background())
	second := s.Initialize(context.Background())
	assert.Equal(t, 1, calls)
	assert.True(t, first.Server.Equal(second.Server))
	assert.True(t, first.Local.Equal(second.Local))
}

func TestHTTPSourceParsesRFC3339(t *testing.T) {
	var gotCacheControl string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCacheControl = r.Header.Get("Cache-Control")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"timestamp":"2025-11-20T05:00:00.250Z"}`)
	}))
	defer srv.Close()

	ts, err := NewHTTPSource(srv.URL+"/api/current-time", srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2025, time.November, 20, 5, 0, 0, 250e6, time.UTC)))
	assert.Contains(t, gotCacheControl, "no-cache")
}

func TestHTTPSourceParsesEpochMillis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"timestamp":1763614800000}`)
	}))
	defer srv.Close()

	ts, err := NewHTTPSource(srv.URL, srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2025, time.November, 20, 5, 0, 0, 0, time.UTC)))
}

func TestHTTPSourceErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"timestamp":"2025-11-20T05:00:00Z"}`},
		{"not json", http.StatusOK, `<html>nope</html>`},
		{"missing timestamp", http.StatusOK, `{}`},
		{"null timestamp", http.StatusOK, `{"timestamp":null}`},
		{"bad string", http.StatusOK, `{"timestamp":"yesterday"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewHTTPSource(srv.URL, srv.Client()).Fetch(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestSyncFallsBackWhenHTTPSourceFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(NewHTTPSource(srv.URL, srv.Client()), cot)
	a := s.Initialize(context.Background())
	assert.True(t, a.Fallback)
	assert.WithinDuration(t, time.Now(), s.Now(), time.Second)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/api/time?token=abc"))
	assert.Equal(t, "http://127.0.0.1:8080/...(redacted)", redactURL("http://127.0.0.1:8080"))
	assert.Equal(t, "time://...(redacted)", redactURL("not a url"))
}
