package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"countdowncal/internal/calendar"
	"countdowncal/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	// DateLayout is the on-disk format of start_date / arrival_date.
	DateLayout = "2006-01-02"

	defaultListen        = "127.0.0.1:8080"
	defaultOffset        = "-05:00"
	defaultZoneName      = "COT"
	defaultStartDate     = "2025-11-13"
	defaultArrivalDate   = "2025-12-01"
	defaultTimeSourceURL = "http://127.0.0.1:8080/api/current-time"
	defaultTickSeconds   = 1
	defaultPreviewURL    = "http://127.0.0.1:8080/"
	defaultPreviewOutput = "./cache/preview.png"
	defaultPreviewWidth  = 1280
	defaultPreviewHeight = 1600
	defaultLogLevel      = "info"
	defaultWeekStart     = "sunday"
)

// TimeSourceConfig points at the endpoint used for the one-shot clock sync.
type TimeSourceConfig struct {
	// URL must answer GET with {"timestamp": ...}.
	URL string `yaml:"url" json:"url"`
}

// PreviewConfig controls the optional headless-Chromium PNG snapshot.
type PreviewConfig struct {
	// Cron is a cron-style schedule ("*/15 * * * *"). Empty disables
	// periodic capture.
	Cron   string `yaml:"cron" json:"cron"`
	URL    string `yaml:"url" json:"url"`
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// TimezoneOffset is a fixed UTC offset ("-05:00"). It is applied as-is,
	// with no daylight-saving adjustment.
	TimezoneOffset string `yaml:"timezone_offset" json:"timezone_offset"`

	// TimezoneName labels the fixed zone in output (e.g. "COT").
	TimezoneName string `yaml:"timezone_name" json:"timezone_name"`

	// StartDate / ArrivalDate bound the countdown (YYYY-MM-DD, in the fixed zone).
	StartDate   string `yaml:"start_date" json:"start_date"`
	ArrivalDate string `yaml:"arrival_date" json:"arrival_date"`

	// WeekStart controls which weekday is treated as the first day of the week
	// in calendar views. Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	TimeSource TimeSourceConfig `yaml:"time_source" json:"time_source"`

	// TickSeconds is the republish period of the countdown clock.
	TickSeconds int `yaml:"tick_seconds" json:"tick_seconds"`

	Preview PreviewConfig `yaml:"preview" json:"preview"`

	// Messages maps day-of-month to the canned message for that day. Days
	// without an entry get a generated fallback.
	Messages map[int]model.DayMessage `yaml:"messages" json:"messages"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		TimezoneOffset: defaultOffset,
		TimezoneName:   defaultZoneName,
		StartDate:      defaultStartDate,
		ArrivalDate:    defaultArrivalDate,
		WeekStart:      defaultWeekStart,
		TimeSource:     TimeSourceConfig{URL: defaultTimeSourceURL},
		TickSeconds:    defaultTickSeconds,
		Preview: PreviewConfig{
			URL:    defaultPreviewURL,
			Output: defaultPreviewOutput,
			Width:  defaultPreviewWidth,
			Height: defaultPreviewHeight,
		},
		Messages:  DefaultMessages(),
		BasicAuth: nil,
		LogLevel:  defaultLogLevel,
	}
}

// DefaultMessages is the built-in message table used when the config file
// has none.
func DefaultMessages() map[int]model.DayMessage {
	return map[int]model.DayMessage{
		13: {Text: "The day I started counting. Every square on this page is one day closer.", Category: model.CategoryNote},
		14: {Text: "Remember the first time we watched the sunset together? I still do.", Category: model.CategoryMemory},
		15: {Text: "Coffee and a long walk, as soon as you are here.", Category: model.CategoryPlan},
		16: {Text: "Half a month of waiting feels shorter when I think of you.", Category: model.CategoryNote},
		17: {Text: "That rainy afternoon we got lost and didn't mind at all.", Category: model.CategoryMemory},
		18: {Text: "We are cooking dinner together. You pick the recipe.", Category: model.CategoryPlan},
		19: {Text: "Some days are slow. This one is a little faster because of you.", Category: model.CategoryNote},
		20: {Text: "Our first photo together is still my favorite.", Category: model.CategoryMemory},
		21: {Text: "A movie night with far too many snacks.", Category: model.CategoryPlan},
		22: {Text: "Nine days. I'm already planning the hug.", Category: model.CategoryNote},
		23: {Text: "The song that played when we met. It's on repeat today.", Category: model.CategoryMemory},
		24: {Text: "A picnic somewhere green, just the two of us.", Category: model.CategoryPlan},
		25: {Text: "Almost a week left. Hold on a little more.", Category: model.CategoryNote},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.TimezoneOffset == "" {
		c.TimezoneOffset = defaultOffset
	}
	if c.TimezoneName == "" {
		c.TimezoneName = defaultZoneName
	}
	if c.StartDate == "" {
		c.StartDate = defaultStartDate
	}
	if c.ArrivalDate == "" {
		c.ArrivalDate = defaultArrivalDate
	}
	// WeekStart default & validation.
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	default:
		// Unknown value; fall back to sunday to avoid surprising layouts.
		c.WeekStart = defaultWeekStart
	}
	if c.TimeSource.URL == "" {
		c.TimeSource.URL = defaultTimeSourceURL
	}
	if c.TickSeconds <= 0 {
		c.TickSeconds = defaultTickSeconds
	}
	if c.Preview.URL == "" {
		c.Preview.URL = defaultPreviewURL
	}
	if c.Preview.Output == "" {
		c.Preview.Output = defaultPreviewOutput
	}
	if c.Preview.Width <= 0 {
		c.Preview.Width = defaultPreviewWidth
	}
	if c.Preview.Height <= 0 {
		c.Preview.Height = defaultPreviewHeight
	}
	if c.Messages == nil {
		c.Messages = DefaultMessages()
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// Validate checks the values that cannot be defaulted away.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.DateRange(); err != nil {
		return err
	}
	for day := range c.Messages {
		if day < 1 || day > 31 {
			return fmt.Errorf("config: message day %d out of 1..31", day)
		}
	}
	return nil
}

// Location returns the fixed display zone described by TimezoneOffset.
func (c *Config) Location() (*time.Location, error) {
	offset, err := parseOffset(c.TimezoneOffset)
	if err != nil {
		return nil, err
	}
	name := c.TimezoneName
	if name == "" {
		name = c.TimezoneOffset
	}
	return time.FixedZone(name, offset), nil
}

// DateRange parses StartDate/ArrivalDate as midnights in Location().
func (c *Config) DateRange() (model.DateRange, error) {
	loc, err := c.Location()
	if err != nil {
		return model.DateRange{}, err
	}
	start, err := time.ParseInLocation(DateLayout, c.StartDate, loc)
	if err != nil {
		return model.DateRange{}, fmt.Errorf("config: start_date: %w", err)
	}
	arrival, err := time.ParseInLocation(DateLayout, c.ArrivalDate, loc)
	if err != nil {
		return model.DateRange{}, fmt.Errorf("config: arrival_date: %w", err)
	}
	r, err := calendar.NewDateRange(start, arrival)
	if err != nil {
		return model.DateRange{}, fmt.Errorf("config: %w", err)
	}
	return r, nil
}

// WeekStartDay maps WeekStart to a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// MessageTable builds the immutable lookup table from Messages.
func (c *Config) MessageTable() calendar.MessageTable {
	return calendar.NewMessageTable(c.Messages)
}

// TickPeriod returns TickSeconds as a duration.
func (c *Config) TickPeriod() time.Duration {
	if c.TickSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.TickSeconds) * time.Second
}

// parseOffset accepts "-05:00", "+0530", "-5" and "UTC-05:00".
func parseOffset(s string) (int, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(strings.ToUpper(v), "UTC")
	if v == "" || v == "Z" {
		return 0, nil
	}

	sign := 1
	switch v[0] {
	case '+':
		v = v[1:]
	case '-':
		sign = -1
		v = v[1:]
	default:
		return 0, fmt.Errorf("config: timezone_offset %q must start with + or -", s)
	}

	v = strings.ReplaceAll(v, ":", "")
	var hhPart, mmPart string
	switch len(v) {
	case 1, 2:
		hhPart = v
	case 4:
		hhPart, mmPart = v[:2], v[2:]
	default:
		return 0, fmt.Errorf("config: timezone_offset %q is not ±HH[:MM]", s)
	}
	hh, err := strconv.Atoi(hhPart)
	if err != nil {
		return 0, fmt.Errorf("config: timezone_offset %q: %w", s, err)
	}
	mm := 0
	if mmPart != "" {
		if mm, err = strconv.Atoi(mmPart); err != nil {
			return 0, fmt.Errorf("config: timezone_offset %q: %w", s, err)
		}
	}
	if hh < 0 || hh > 14 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("config: timezone_offset %q out of range", s)
	}
	return sign * (hh*3600 + mm*60), nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".countdowncal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
