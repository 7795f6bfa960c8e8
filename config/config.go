// Package config composes every component's Config into the one
// top-level document hypertube's process reads at startup. Grounded on
// agent/cmd/config.go's nested-per-component shape: one field per
// package, each carrying its own yaml tag, plus a handful of flat
// fields this engine's startup needs directly rather than through a
// component.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/angelasoler/hypertube/auth"
	"github.com/angelasoler/hypertube/cache"
	"github.com/angelasoler/hypertube/httpapi"
	"github.com/angelasoler/hypertube/metrics"
	"github.com/angelasoler/hypertube/queue"
	"github.com/angelasoler/hypertube/storage/localdb"
	"github.com/angelasoler/hypertube/streaming"
	"github.com/angelasoler/hypertube/torrent/scheduler"
	"github.com/angelasoler/hypertube/transcode"
	"github.com/angelasoler/hypertube/utils/configutil"
)

// Config is the root configuration document for the hypertube engine.
type Config struct {
	// BasePath roots the on-disk layout: completed downloads, the
	// subtitle store, and (unless overridden) the local database all
	// live under it.
	BasePath string `yaml:"base_path"`
	// TempPath holds in-progress downloads and conversions until they
	// move to their final location under BasePath.
	TempPath string `yaml:"temp_path"`
	// SubtitlePath roots the WebVTT subtitle store. Defaults to
	// BasePath, matching subtitle.Path's own "subtitles" subdirectory.
	SubtitlePath string `yaml:"subtitle_path"`

	// MaxCacheSizeGB is the cache's total on-disk budget, in GiB.
	MaxCacheSizeGB int64 `yaml:"max_cache_size_gb"`
	// CacheTTLDays is how long a completed video is retained after it is
	// cached before the sweeper may evict it; reading it does not extend
	// that deadline.
	CacheTTLDays int `yaml:"cache_ttl_days"`
	// CleanupIntervalHours is how often the cache sweeper runs.
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"`

	// TorrentPortRangeStart and TorrentPortRangeEnd bound the ports the
	// scheduler's listener may bind to.
	TorrentPortRangeStart int `yaml:"torrent_port_range_start"`
	TorrentPortRangeEnd   int `yaml:"torrent_port_range_end"`
	// MaxConnections caps concurrent peer connections across all active
	// downloads. Reserved for a future multi-torrent scheduler; the
	// present scheduler is scoped to one torrent per job and enforces
	// its own per-job Scheduler.MaxPeers instead. Validate checks neither.
	MaxConnections int `yaml:"max_connections"`

	Storage   localdb.Config   `yaml:"storage"`
	Queue     queue.Config     `yaml:"queue"`
	Transcode transcode.Config `yaml:"transcode"`
	Cache     cache.Config     `yaml:"cache"`
	Streaming streaming.Config `yaml:"streaming"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	HTTPAPI   httpapi.Config   `yaml:"httpapi"`
	Metrics   metrics.Config   `yaml:"metrics"`
	Auth      AuthConfig       `yaml:"auth"`
}

// AuthConfig groups the auth package's verification config with the
// rate-limit and bypass settings its HTTP middleware needs.
type AuthConfig struct {
	Verifier      auth.Config          `yaml:"verifier"`
	IdentityLimit auth.RateLimitConfig `yaml:"identity_limit"`
	SourceIPLimit auth.RateLimitConfig `yaml:"source_ip_limit"`
	// AllowedPaths bypass the auth boundary entirely: health checks and
	// any future credential-minting endpoints.
	AllowedPaths []string `yaml:"allowed_paths"`
}

// Load reads and validates the YAML document at path, applying defaults
// to any field left unset.
func Load(path string) (Config, error) {
	var c Config
	if err := configutil.Load(path, &c); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %s", path, err)
	}
	c = c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) applyDefaults() Config {
	if c.BasePath == "" {
		c.BasePath = "/var/lib/hypertube"
	}
	if c.TempPath == "" {
		c.TempPath = filepath.Join(c.BasePath, "tmp")
	}
	if c.SubtitlePath == "" {
		c.SubtitlePath = c.BasePath
	}
	if c.MaxCacheSizeGB == 0 {
		c.MaxCacheSizeGB = 100
	}
	if c.CacheTTLDays == 0 {
		c.CacheTTLDays = 30
	}
	if c.CleanupIntervalHours == 0 {
		c.CleanupIntervalHours = 6
	}
	if c.TorrentPortRangeStart == 0 {
		c.TorrentPortRangeStart = 6881
	}
	if c.TorrentPortRangeEnd == 0 {
		c.TorrentPortRangeEnd = 6889
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 200
	}

	if c.Storage.Source == "" {
		c.Storage.Source = filepath.Join(c.BasePath, "hypertube.db")
	}
	if c.Cache.MaxBytes == 0 {
		c.Cache.MaxBytes = c.MaxCacheSizeGB << 30
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = time.Duration(c.CacheTTLDays) * 24 * time.Hour
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = time.Duration(c.CleanupIntervalHours) * time.Hour
	}
	if c.Scheduler.ListenPort == 0 {
		c.Scheduler.ListenPort = uint16(c.TorrentPortRangeStart)
	}

	return c
}

// Validate refuses startup with an unsafe configuration: the auth
// secret must meet auth.ValidateSecret's strength bar, a non-zero bcrypt
// cost must be at least 10, and the torrent port range must not be
// inverted.
func (c Config) Validate() error {
	if err := auth.ValidateSecret(c.Auth.Verifier.Secret); err != nil {
		return fmt.Errorf("config: %s", err)
	}
	if c.Auth.Verifier.BcryptCost != 0 && c.Auth.Verifier.BcryptCost < 10 {
		return fmt.Errorf("config: bcrypt_cost %d is too weak", c.Auth.Verifier.BcryptCost)
	}
	if c.TorrentPortRangeStart > c.TorrentPortRangeEnd {
		return fmt.Errorf("config: torrent_port_range_start must be <= torrent_port_range_end")
	}
	return nil
}
