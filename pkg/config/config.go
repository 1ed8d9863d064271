// Package config loads studysync's settings from a TOML file with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	xdgAppName = "studysync"
	configFile = "config.toml"
)

type Config struct {
	Firebase  Firebase  `toml:"firebase"`
	Calendar  Calendar  `toml:"calendar"`
	Reminders Reminders `toml:"reminders"`
	Feed      Feed      `toml:"feed"`
	Log       Log       `toml:"log"`
}

type Firebase struct {
	ProjectID       string `toml:"project-id"`
	CredentialsFile string `toml:"credentials-file"`
	// IndexWarmup enables the index warm-up probe after a fallback query.
	IndexWarmup bool `toml:"index-warmup"`
}

type Calendar struct {
	// Name selects a calendar by its title; empty means the primary one.
	Name            string `toml:"name"`
	StartHour       int    `toml:"start-hour"`
	StartMinute     int    `toml:"start-minute"`
	DurationMinutes int    `toml:"duration-minutes"`
	// Timezone is an IANA name; empty means the local zone.
	Timezone string `toml:"timezone"`
}

type Reminders struct {
	PollInterval Duration `toml:"poll-interval"`
	DeviceTokens []string `toml:"device-tokens"`
}

type Feed struct {
	Topic string `toml:"topic"`
}

type Log struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max-size-mb"`
	MaxBackups int    `toml:"max-backups"`
	MaxAgeDays int    `toml:"max-age-days"`
}

// Duration is a time.Duration written as "1m30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Calendar: Calendar{
			StartHour:       9,
			DurationMinutes: 60,
		},
		Reminders: Reminders{
			PollInterval: Duration{time.Minute},
		},
		Log: Log{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Dir is the configuration directory, also used for OAuth files.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, xdgAppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// GetConfigPath returns the path of the config file.
func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the config file, then applies a .env file in the working
// directory and the process environment on top.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	// Load .env file if it exists
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads one config file over the defaults. A missing file is not
// an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&c.Firebase.ProjectID, "STUDYSYNC_PROJECT_ID", "GOOGLE_CLOUD_PROJECT")
	setString(&c.Firebase.CredentialsFile, "STUDYSYNC_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Calendar.Name, "STUDYSYNC_CALENDAR")
	setString(&c.Calendar.Timezone, "STUDYSYNC_TIMEZONE")
	setString(&c.Feed.Topic, "STUDYSYNC_FEED_TOPIC")
	setString(&c.Log.File, "STUDYSYNC_LOG_FILE")

	if v := getenv("STUDYSYNC_INDEX_WARMUP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STUDYSYNC_INDEX_WARMUP: %w", err)
		}
		c.Firebase.IndexWarmup = b
	}
	if v := getenv("STUDYSYNC_REMINDER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STUDYSYNC_REMINDER_INTERVAL: %w", err)
		}
		c.Reminders.PollInterval = Duration{d}
	}
	if v := getenv("FCM_DEVICE_TOKENS"); v != "" {
		c.Reminders.DeviceTokens = nil
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				c.Reminders.DeviceTokens = append(c.Reminders.DeviceTokens, tok)
			}
		}
	}
	return c.Validate()
}

// Validate rejects values that cannot describe an event window.
func (c *Config) Validate() error {
	if c.Calendar.StartHour < 0 || c.Calendar.StartHour > 23 {
		return fmt.Errorf("calendar start-hour %d out of range", c.Calendar.StartHour)
	}
	if c.Calendar.StartMinute < 0 || c.Calendar.StartMinute > 59 {
		return fmt.Errorf("calendar start-minute %d out of range", c.Calendar.StartMinute)
	}
	if c.Calendar.DurationMinutes <= 0 {
		return fmt.Errorf("calendar duration-minutes must be positive")
	}
	if c.Calendar.Timezone != "" {
		if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
			return fmt.Errorf("calendar timezone: %w", err)
		}
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	if c.Calendar.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
