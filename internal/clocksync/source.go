package clocksync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	appLog "countdowncal/internal/log"
)

// Source yields an authoritative current instant.
type Source interface {
	Fetch(ctx context.Context) (time.Time, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context) (time.Time, error)

func (f SourceFunc) Fetch(ctx context.Context) (time.Time, error) { return f(ctx) }

// maxBodyBytes bounds how much of a time-source response we read.
const maxBodyBytes = 64 << 10

// HTTPSource reads {"timestamp": ...} from a URL. The timestamp may be an
// RFC 3339 string or a JSON number of Unix milliseconds.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates an HTTPSource. A nil client means a fresh client
// with no timeout of its own; the caller's context bounds the request.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{url: url, client: client}
}

type timestampResponse struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// Fetch performs a single uncached GET.
func (s *HTTPSource) Fetch(ctx context.Context) (time.Time, error) {
	if s.url == "" {
		return time.Time{}, errors.New("clocksync: source URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	appLog.Debug("time source fetch start", "url", redactURL(s.url))

	resp, err := s.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("clocksync: time source returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return time.Time{}, err
	}

	var tr timestampResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return time.Time{}, fmt.Errorf("clocksync: decode time source response: %w", err)
	}

	ts, err := parseTimestamp(tr.Timestamp)
	if err != nil {
		return time.Time{}, err
	}

	appLog.Debug("time source fetch success", "url", redactURL(s.url), "timestamp", ts.Format(time.RFC3339Nano))
	return ts, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.New("clocksync: response has no timestamp")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("clocksync: timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("clocksync: timestamp: %w", err)
		}
		return t.UTC(), nil
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("clocksync: timestamp: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// redactURL hides path and query of a URL for logging purposes.
//
//	https://example.com/api/time?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "time://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
