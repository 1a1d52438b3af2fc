package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"squeedr/internal/exception"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// ICSConfig describes a single ICS feed whose events are imported as
// availability exceptions.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used as the exception source.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns the identifier imported exceptions are tagged with.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// GoogleConfig enables importing exceptions from Google calendars. Only an
// API key is supported, which limits this to public calendars.
type GoogleConfig struct {
	APIKey      string   `yaml:"api_key" json:"api_key"`
	CalendarIDs []string `yaml:"calendar_ids" json:"calendar_ids"`
}

// Enabled reports whether Google import is configured.
func (g *GoogleConfig) Enabled() bool {
	return g != nil && g.APIKey != "" && len(g.CalendarIDs) > 0
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone in which calendar dates are interpreted.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday starts a row in the month grid.
	// Supported values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a standard 5-field cron expression driving feed
	// refresh (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonMonths is the default and the maximum length of an occurrence
	// listing window.
	HorizonMonths int `yaml:"horizon_months" json:"horizon_months"`

	// RequireEndDate rejects recurring exceptions without an end date.
	RequireEndDate bool `yaml:"require_end_date" json:"require_end_date"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ICS is the list of imported ICS feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// Google, if set, imports exceptions from Google calendars.
	Google *GoogleConfig `yaml:"google,omitempty" json:"google,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Exceptions are loaded into the store at startup.
	Exceptions []exception.Record `yaml:"exceptions" json:"exceptions"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "Europe/Berlin"
	defaultRefreshCron   = "*/15 * * * *"
	defaultHorizonMonths = 12
	defaultCacheDir      = "./var/ics-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		WeekStart:      "monday",
		RefreshCron:    defaultRefreshCron,
		HorizonMonths:  defaultHorizonMonths,
		RequireEndDate: true,
		LogLevel:       "info",
		CacheDir:       defaultCacheDir,
		ICS:            []ICSConfig{},
		Exceptions:     []exception.Record{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonMonths <= 0 {
		c.HorizonMonths = defaultHorizonMonths
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Exceptions == nil {
		c.Exceptions = []exception.Record{}
	}
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	seen := make(map[string]bool)
	for i, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: url is required", i))
			continue
		}
		id := src.SourceID()
		if seen[id] {
			errs = append(errs, fmt.Errorf("ics[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// FirstWeekday returns WeekStart as a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// ValidateOptions returns the exception validation policy.
func (c *Config) ValidateOptions() exception.ValidateOptions {
	return exception.ValidateOptions{RequireEndDate: c.RequireEndDate}
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
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
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

	tmp, err := os.CreateTemp(dir, ".squeedr-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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
