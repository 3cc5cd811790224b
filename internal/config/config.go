// Package config loads the process-global configuration for the fs3drive
// driver: controller peer address, sector geometry, cache capacity and
// logging. It mirrors the load/validate/default shape of the teacher's
// own config package, but reads a JWCC (JSON-with-comments) document via
// github.com/tailscale/hujson instead of plain encoding/json, the way
// calvinalkan-agent-task/config.go loads its ".tk.json".
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config is process-global: spec.md §9 keeps background-log levels and
// peer address/port as process-wide configuration even though the rest of
// the driver state is threaded explicitly through a DriverContext.
type Config struct {
	// PeerHost/PeerPort identify the remote controller. Defaults match
	// spec.md §6 ("127.0.0.1:22887").
	PeerHost string `json:"peer_host"`
	PeerPort int    `json:"peer_port"`

	// SectorSize is the fixed per-sector payload length (spec.md §3).
	SectorSize int `json:"sector_size"`
	// MaxTracks/TrackSize bound the (track, sector) address space.
	MaxTracks int `json:"max_tracks"`
	TrackSize int `json:"track_size"`
	// MaxFiles bounds the file table (spec.md §3).
	MaxFiles int `json:"max_files"`

	// CacheCapacity is the fixed number of entries the sector cache holds
	// (spec.md §4.3, default 8).
	CacheCapacity int `json:"cache_capacity"`

	// DialTimeoutMS/IOTimeoutMS bound the session's socket operations.
	// Zero means "no deadline", matching the original driver's blocking
	// syscalls (spec.md §4.2 specifies no cancellation).
	DialTimeoutMS int `json:"dial_timeout_ms"`
	IOTimeoutMS   int `json:"io_timeout_ms"`

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `json:"log_level"`
}

// Default returns the compiled-in defaults from spec.md §6/§4.3.
func Default() Config {
	return Config{
		PeerHost:      "127.0.0.1",
		PeerPort:      22887,
		SectorSize:    1024,
		MaxTracks:     80,
		TrackSize:     64,
		MaxFiles:      1024,
		CacheCapacity: 8,
		DialTimeoutMS: 0,
		IOTimeoutMS:   0,
		LogLevel:      "info",
	}
}

// Load reads a JWCC config file at path, overlaying it onto Default().
// A missing file is not an error: it yields the defaults, the same way
// the teacher's server seeds a fresh config.json from compiled-in
// defaults on first run rather than failing closed.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := json.Unmarshal(std, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that geometry and capacity fields are usable.
func (c Config) Validate() error {
	if c.SectorSize <= 0 {
		return fmt.Errorf("sector_size must be positive, got %d", c.SectorSize)
	}
	if c.MaxTracks <= 0 {
		return fmt.Errorf("max_tracks must be positive, got %d", c.MaxTracks)
	}
	if c.TrackSize <= 0 {
		return fmt.Errorf("track_size must be positive, got %d", c.TrackSize)
	}
	if c.MaxFiles <= 0 {
		return fmt.Errorf("max_files must be positive, got %d", c.MaxFiles)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.PeerPort <= 0 || c.PeerPort > 65535 {
		return fmt.Errorf("peer_port out of range: %d", c.PeerPort)
	}
	return nil
}

// Addr returns the "host:port" dial target for the session.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.PeerHost, c.PeerPort)
}
