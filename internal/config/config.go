package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Bluesky   BlueskyConfig  `yaml:"bluesky"`
	Mastodon  MastodonConfig `yaml:"mastodon"`
	Sync      SyncConfig     `yaml:"sync"`
	Notify    NotifyConfig   `yaml:"notify"`
	StateFile string         `yaml:"state_file"`
	LogLevel  string         `yaml:"log_level"`
}

type BlueskyConfig struct {
	Host        string        `yaml:"host"`
	Identifier  string        `yaml:"identifier"`
	AppPassword string        `yaml:"app_password"`
	Timeout     time.Duration `yaml:"timeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type MastodonConfig struct {
	InstanceURL    string          `yaml:"instance_url"`
	AccessToken    string          `yaml:"access_token"`
	Timeout        time.Duration   `yaml:"timeout"`
	CharacterLimit int             `yaml:"character_limit"`
	Duplicate      DuplicateConfig `yaml:"duplicate"`
}

// DuplicateConfig tunes the content-similarity duplicate guard on the
// destination. Window is how many of the account's recent posts are
// compared; Threshold is the word-set similarity above which a candidate
// counts as already posted.
type DuplicateConfig struct {
	Window    int     `yaml:"window"`
	Threshold float64 `yaml:"threshold"`
}

type SyncConfig struct {
	Lookback       time.Duration `yaml:"lookback"`
	MaxPostsPerRun int           `yaml:"max_posts_per_run"`
	FetchLimit     int           `yaml:"fetch_limit"`
	IncludeMedia   bool          `yaml:"include_media"`
	IncludeLinks   bool          `yaml:"include_links"`
	IncludeThreads bool          `yaml:"include_threads"`
	DryRun         bool          `yaml:"dry_run"`
	Interval       time.Duration `yaml:"interval"`
	Retention      time.Duration `yaml:"retention"`
}

// NotifyConfig configures the optional AMQP sync-event publisher. An empty
// URL disables it.
type NotifyConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// Load reads the YAML config at path, expanding ${VAR} references from the
// environment (a .env file is honored when present). Defaults are applied
// first so absent keys keep their default values, including the
// default-true sync toggles.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a config with every optional field at its default value.
func Default() *Config {
	return &Config{
		Bluesky: BlueskyConfig{
			Host:    "https://bsky.social",
			Timeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 1 * time.Second,
				MaxBackoff:     30 * time.Second,
			},
		},
		Mastodon: MastodonConfig{
			Timeout:        30 * time.Second,
			CharacterLimit: 500,
			Duplicate: DuplicateConfig{
				Window:    20,
				Threshold: 0.8,
			},
		},
		Sync: SyncConfig{
			Lookback:       24 * time.Hour,
			MaxPostsPerRun: 5,
			FetchLimit:     50,
			IncludeMedia:   true,
			IncludeLinks:   true,
			IncludeThreads: true,
			Retention:      7 * 24 * time.Hour,
		},
		Notify: NotifyConfig{
			Exchange:   "bluemastodon",
			RoutingKey: "sync",
			QueueName:  "sync_records",
		},
		StateFile: "sync_state.json",
		LogLevel:  "info",
	}
}

// Validate checks the fields without sane defaults.
func (c *Config) Validate() error {
	if c.Bluesky.Identifier == "" {
		return fmt.Errorf("bluesky.identifier is required")
	}
	if c.Bluesky.AppPassword == "" {
		return fmt.Errorf("bluesky.app_password is required")
	}
	if c.Mastodon.InstanceURL == "" {
		return fmt.Errorf("mastodon.instance_url is required")
	}
	if c.Mastodon.AccessToken == "" {
		return fmt.Errorf("mastodon.access_token is required")
	}
	if c.Sync.Retention > 0 && c.Sync.Retention < c.Sync.Lookback {
		return fmt.Errorf("sync.retention (%s) must cover sync.lookback (%s)",
			c.Sync.Retention, c.Sync.Lookback)
	}
	return nil
}
