// Package config holds the persisted hlsrelay settings under the workdir.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Version is the hlsrelay release version, recorded in the config file and
// reported by the daemon health endpoint.
const Version = "0.1.0"

// Duration marshals as a human-editable string ("20m", "1h30m") in the
// config file.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the persisted configuration.
type Config struct {
	Version       string    `json:"version"`
	InitializedAt time.Time `json:"initialized_at,omitempty"`

	Relay   RelayConfig   `json:"relay"`
	History HistoryConfig `json:"history"`
}

// RelayConfig carries the loopback proxy knobs.
type RelayConfig struct {
	MaxSessions    int      `json:"max_sessions"`
	SessionTTL     Duration `json:"session_ttl"`
	MaxHeaderBytes int      `json:"max_header_bytes"`
	ConnectTimeout Duration `json:"connect_timeout"`
	RequestTimeout Duration `json:"request_timeout"`
	ReadTimeout    Duration `json:"read_timeout"`
}

// HistoryConfig carries the exchange history knobs. When DiskArchive is set
// flow bodies go to the encrypted on-disk archive instead of memory.
type HistoryConfig struct {
	Enabled      bool `json:"enabled"`
	Capacity     int  `json:"capacity"`
	MaxBodyBytes int  `json:"max_body_bytes"`
	DiskArchive  bool `json:"disk_archive"`
}

// DefaultConfig returns a config with default values for the given version.
func DefaultConfig(version string) *Config {
	return &Config{
		Version: version,
		Relay: RelayConfig{
			MaxSessions:    200,
			SessionTTL:     Duration(20 * time.Minute),
			MaxHeaderBytes: 64 * 1024,
			ConnectTimeout: Duration(10 * time.Second),
			RequestTimeout: Duration(15 * time.Second),
			ReadTimeout:    Duration(30 * time.Second),
		},
		History: HistoryConfig{
			Enabled:      true,
			Capacity:     512,
			MaxBodyBytes: 256 * 1024,
		},
	}
}

// Load reads the config at path. A missing file surfaces as os.ErrNotExist
// for the caller to decide; unknown fields are ignored and missing fields
// keep their defaults, so old config files keep working.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig(Version)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}
