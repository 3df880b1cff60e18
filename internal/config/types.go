// Package config loads and watches notifybot's configuration file.
//
// YAML and JSON are both accepted; YAML is coerced to JSON so one strict
// decoder (DisallowUnknownFields) covers both. Secrets and whitelist seeds can
// be overridden from the environment (see env.go).
package config

import (
	"errors"
	"strings"
)

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Whitelist    WhitelistConfig    `json:"whitelist"`
	Broadcast    BroadcastConfig    `json:"broadcast,omitempty"`
	Storage      StorageConfig      `json:"storage,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WhitelistConfig seeds the in-memory whitelist on first start. When storage
// holds a persisted whitelist, the persisted one wins.
type WhitelistConfig struct {
	Maintainers []int64 `json:"maintainers"`
	Admins      []int64 `json:"admins,omitempty"`
	Groups      []int64 `json:"groups,omitempty"`
}

// BroadcastConfig tunes the delivery side. Rate limiting lives in the
// telegram adapter, not in the job loops.
type BroadcastConfig struct {
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// HousekeepingConfig controls the cron-driven maintenance service.
//
// Specs accept anything robfig/cron does: "@every 5m", "0 3 * * *", "@daily".
type HousekeepingConfig struct {
	Enabled    bool   `json:"enabled"`
	FlushSpec  string `json:"flush_spec,omitempty"`  // whitelist persistence
	ReportSpec string `json:"report_spec,omitempty"` // registry stats report
	Timezone   string `json:"timezone,omitempty"`    // IANA TZ, e.g. "Asia/Jakarta"
}

// Validate checks the parts that would otherwise fail deep inside a service.
// The telegram token is checked at adapter construction, after env overrides.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d != "" && d != "none" && d != "sqlite" && d != "sqlite3" {
		return errors.New("storage.driver: unknown driver " + c.Storage.Driver)
	}
	if c.Broadcast.SendRatePerSec < 0 {
		return errors.New("broadcast.send_rate_per_sec must be >= 0")
	}
	return nil
}
