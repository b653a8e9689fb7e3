package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"countdowncal/internal/config"
	"countdowncal/internal/countdown"
	"countdowncal/internal/ics"
	appLog "countdowncal/internal/log"
	"countdowncal/internal/model"
)

// Server exposes the countdown board over HTTP: JSON views for the page,
// the time-source endpoint, the ICS feed, the preview PNG and the static UI.
type Server struct {
	cfg   *config.Config
	board *countdown.Board
	mux   *http.ServeMux
	now   func() time.Time

	// timeLimiter guards /api/current-time, the only endpoint other
	// instances may poll.
	timeLimiter *rate.Limiter

	// The ICS feed only depends on the fixed range, so it is built once.
	icsMu    sync.RWMutex
	icsCache []byte
}

// embeddedStatic contains the countdown page (HTML/CSS/JS).
//
//go:embed all:static
var embeddedStatic embed.FS

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the wall clock used by /api/current-time.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeRateLimit overrides the /api/current-time limiter.
func WithTimeRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.timeLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, board *countdown.Board, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		board:       board,
		mux:         http.NewServeMux(),
		now:         time.Now,
		timeLimiter: rate.NewLimiter(rate.Limit(20), 20),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means auth is off.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Countdown", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen and serves until ctx is canceled, then shuts
// down gracefully. ready, if non-nil, is closed once the listener is bound.
func (s *Server) Serve(ctx context.Context, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/current-time", s.handleCurrentTime)
	s.mux.HandleFunc("GET /api/countdown", s.handleCountdown)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/days/{date}", s.handleDay)
	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)

	// Everything else is the embedded page.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// currentTimeResponse is the wire shape the clock sync consumes.
type currentTimeResponse struct {
	Timestamp string `json:"timestamp"`
}

// handleCurrentTime is the time source: the server's own UTC wall clock,
// never cacheable.
func (s *Server) handleCurrentTime(w http.ResponseWriter, _ *http.Request) {
	if !s.timeLimiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	writeJSON(w, http.StatusOK, currentTimeResponse{
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
	})
}

// countdownResponse is the JSON response shape for /api/countdown.
type countdownResponse struct {
	countdown.View
	Timezone string `json:"timezone"`
}

func (s *Server) handleCountdown(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, countdownResponse{
		View:     s.board.Snapshot(),
		Timezone: s.board.Range().Location().String(),
	})
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.board.Calendar())
}

// dayResponse is the JSON response shape for /api/days/{date}.
type dayResponse struct {
	Date           string                  `json:"date"`
	Message        *model.DayMessage       `json:"message,omitempty"`
	Classification model.DayClassification `json:"classification"`
}

// handleDay answers a click on a calendar square.
//
// GET /api/days/2025-11-15
//   - 400: date is not YYYY-MM-DD
//   - 403: the day is out of range, in the future, or the clock is still syncing
//   - 200: the day's message (authored or fallback)
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("date")
	loc := s.board.Range().Location()
	d, err := time.ParseInLocation(config.DateLayout, raw, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	msg, c, err := s.board.Open(d)
	resp := dayResponse{Date: d.Format(config.DateLayout), Classification: c}
	if errors.Is(err, countdown.ErrLocked) {
		appLog.Debug("locked day requested", "date", resp.Date, "out_of_range", c.IsOutOfRange)
		writeJSON(w, http.StatusForbidden, resp)
		return
	}
	if err != nil {
		appLog.Error("open day failed", err, "date", resp.Date)
		writeError(w, http.StatusInternalServerError, "failed to open day")
		return
	}

	resp.Message = &msg
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	body, err := s.icsFeed()
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build calendar feed")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="countdown.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) icsFeed() ([]byte, error) {
	s.icsMu.RLock()
	cached := s.icsCache
	s.icsMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	body, err := ics.Export(s.board.Range(), ics.ExportOptions{})
	if err != nil {
		return nil, err
	}

	s.icsMu.Lock()
	if s.icsCache == nil {
		s.icsCache = body
	}
	body = s.icsCache
	s.icsMu.Unlock()
	return body, nil
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile maps missing files to 404 and other errors to 500.
	http.ServeFile(w, r, s.cfg.Preview.Output)
}

// staticFileServer returns an http.Handler that serves the embedded page.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown /api/* paths must 404 as JSON clients expect, never HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
