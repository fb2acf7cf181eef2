// Package config loads the TOML/YAML/JSON configuration file described in
// spec §6. Field defaults and the two-pass "file, then environment" load
// mirror internal/config/config.go from the teacher (martymcquaid-omnicloud2024),
// but the parser itself is github.com/spf13/viper so that all three formats
// spec.md requires are supported, and unknown keys are rejected outright
// ("Unknown extensions are rejected", spec §6) rather than silently ignored.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// FeedConfig is one configured RSS/Torznab source.
type FeedConfig struct {
	URL        string   `mapstructure:"url"`
	ExcludeURL string   `mapstructure:"exclude_url"`
	Website    string   `mapstructure:"website"`
	Includes   []string `mapstructure:"includes"`
	Excludes   []string `mapstructure:"excludes"`
	// Interval accepts either a Go duration string ("30m") or a bare
	// integer number of seconds, per spec §6.
	Interval string `mapstructure:"interval"`
}

// IntervalDuration parses Interval, accepting bare seconds as a fallback.
func (f FeedConfig) IntervalDuration() (time.Duration, error) {
	return parseDurationOrSeconds(f.Interval)
}

// SiteCredentials holds the shared-secret auth for one target site (spec §1
// Non-goals: "no authorization model beyond shared secrets in configuration").
type SiteCredentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	APIKey   string `mapstructure:"api_key"`
}

// Config is the fully parsed, validated configuration (spec §6).
type Config struct {
	NodeID        string                     `mapstructure:"node-id"`
	TargetWebsite string                     `mapstructure:"target-website"`
	SiteCreds     map[string]SiteCredentials `mapstructure:"site-credentials"`
	Feeds         []FeedConfig               `mapstructure:"feeds"`
	ProxyURL      string                     `mapstructure:"proxy-url"`

	MaxProcessingSizeRaw    string `mapstructure:"max-processing-size"`
	MaxSingleTorrentSizeRaw string `mapstructure:"max-single-torrent-size"`
	MaxProcessingPerNode    int    `mapstructure:"max-processing-per-node"`
	RecentReleaseWindowRaw  string `mapstructure:"recent-release"`

	Includes []string `mapstructure:"includes"`
	Excludes []string `mapstructure:"excludes"`

	StoreHost     string `mapstructure:"store-host"`
	StorePort     int    `mapstructure:"store-port"`
	StoreUser     string `mapstructure:"store-user"`
	StorePassword string `mapstructure:"store-password"`
	StoreDatabase string `mapstructure:"store-database"`

	QBURL   string `mapstructure:"qb-url"`
	DataDir string `mapstructure:"data-dir"`

	ExternalDBTokens map[string]string `mapstructure:"external-db-tokens"`

	StaleNodeThresholdRaw string `mapstructure:"stale-node-threshold"`
	TickIntervalRaw       string `mapstructure:"tick-interval"`

	// Resolved (derived in Validate, not user-facing fields).
	MaxProcessingSize    int64         `mapstructure:"-"`
	MaxSingleTorrentSize int64         `mapstructure:"-"`
	RecentReleaseWindow  time.Duration `mapstructure:"-"`
	StaleNodeThreshold   time.Duration `mapstructure:"-"`
	TickInterval         time.Duration `mapstructure:"-"`
}

func defaults() *Config {
	return &Config{
		MaxProcessingPerNode:    4,
		MaxProcessingSizeRaw:    "200GiB",
		MaxSingleTorrentSizeRaw: "80GiB",
		RecentReleaseWindowRaw:  "72h",
		StaleNodeThresholdRaw:   "2m",
		TickIntervalRaw:         "10s",
		DataDir:                 "/var/lib/ptrepostd",
	}
}

// Load reads configPath (TOML/YAML/JSON, detected by extension) into a
// Config, rejecting any key not recognized by the struct above.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	cfg := defaults()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	v.SetEnvPrefix("PTREPOST")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	out := defaults()
	if err := v.UnmarshalExact(out); err != nil {
		return nil, fmt.Errorf("parsing config (unknown or malformed keys): %w", err)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}

	return out, nil
}

func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("max-processing-per-node", cfg.MaxProcessingPerNode)
	v.SetDefault("max-processing-size", cfg.MaxProcessingSizeRaw)
	v.SetDefault("max-single-torrent-size", cfg.MaxSingleTorrentSizeRaw)
	v.SetDefault("recent-release", cfg.RecentReleaseWindowRaw)
	v.SetDefault("stale-node-threshold", cfg.StaleNodeThresholdRaw)
	v.SetDefault("tick-interval", cfg.TickIntervalRaw)
	v.SetDefault("data-dir", cfg.DataDir)
}

// Validate fills derived fields and checks required ones, following the
// teacher's "fail fast on missing required settings" pattern
// (internal/config/config.go Load).
func (c *Config) Validate() error {
	if c.NodeID == "" {
		id, err := machineid.ProtectedID("ptrepostd")
		if err != nil || id == "" {
			return fmt.Errorf("node-id not set and machine id unavailable: %w", err)
		}
		c.NodeID = id
	}
	if c.TargetWebsite == "" {
		return fmt.Errorf("target-website must be set")
	}
	if c.QBURL == "" {
		return fmt.Errorf("qb-url must be set")
	}
	if c.StoreHost == "" {
		return fmt.Errorf("store-host must be set")
	}

	var err error
	maxProcessingSize, err := humanize.ParseBytes(c.MaxProcessingSizeRaw)
	if err != nil {
		return fmt.Errorf("max-processing-size: %w", err)
	}
	c.MaxProcessingSize = int64(maxProcessingSize)
	maxSingleTorrentSize, err := humanize.ParseBytes(c.MaxSingleTorrentSizeRaw)
	if err != nil {
		return fmt.Errorf("max-single-torrent-size: %w", err)
	}
	c.MaxSingleTorrentSize = int64(maxSingleTorrentSize)
	if c.RecentReleaseWindow, err = parseDurationOrSeconds(c.RecentReleaseWindowRaw); err != nil {
		return fmt.Errorf("recent-release: %w", err)
	}
	if c.StaleNodeThreshold, err = parseDurationOrSeconds(c.StaleNodeThresholdRaw); err != nil {
		return fmt.Errorf("stale-node-threshold: %w", err)
	}
	if c.TickInterval, err = parseDurationOrSeconds(c.TickIntervalRaw); err != nil {
		return fmt.Errorf("tick-interval: %w", err)
	}

	for i, f := range c.Feeds {
		if f.URL == "" {
			return fmt.Errorf("feeds[%d]: url must be set", i)
		}
		if _, err := f.IntervalDuration(); err != nil {
			return fmt.Errorf("feeds[%d]: interval: %w", i, err)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string (mirrors the
// teacher's config.ConnectionString).
func (c *Config) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.StoreHost, c.StorePort, c.StoreUser, c.StorePassword, c.StoreDatabase,
	)
}

func parseDurationOrSeconds(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	var secs int64
	if _, err := fmt.Sscanf(raw, "%d", &secs); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", raw)
}
