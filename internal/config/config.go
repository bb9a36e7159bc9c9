package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models podnotes.yml.
type Config struct {
	Claims struct {
		// MaxAgeSeconds is how long a claim may be held before the purger
		// force-releases it.
		MaxAgeSeconds int `yaml:"max_age_seconds"`
		// PurgeInterval is how often `pn serve` sweeps expired claims.
		PurgeInterval Duration `yaml:"purge_interval"`
		// SingleClaimPerUser forbids claiming while holding another claim.
		SingleClaimPerUser *bool `yaml:"single_claim_per_user"`
	} `yaml:"claims"`
	Feed struct {
		URL     string   `yaml:"url"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"feed"`
	Datasets struct {
		Location  string `yaml:"location"`
		Prefix    string `yaml:"prefix"`
		Extension string `yaml:"extension"`
	} `yaml:"datasets"`
	Notifications struct {
		Webhooks []Webhook `yaml:"webhooks"`
	} `yaml:"notifications"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type Webhook struct {
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
	Timeout Duration          `yaml:"timeout"`
}

// Duration is a time.Duration written as "90s" or "72h" in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// MaxAge returns the claim expiry threshold.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Claims.MaxAgeSeconds) * time.Second
}

// StrictClaims reports whether a user may hold at most one claim.
func (c *Config) StrictClaims() bool {
	if c.Claims.SingleClaimPerUser == nil {
		return true
	}
	return *c.Claims.SingleClaimPerUser
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Claims.MaxAgeSeconds <= 0 {
		return fmt.Errorf("config.claims.max_age_seconds must be positive")
	}
	if c.Claims.PurgeInterval.Duration < 0 {
		return fmt.Errorf("config.claims.purge_interval must not be negative")
	}
	if c.Feed.URL != "" {
		if u, err := url.Parse(c.Feed.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.feed.url %q is not an absolute url", c.Feed.URL)
		}
	}
	if strings.ContainsAny(c.Datasets.Prefix, `/\`) {
		return fmt.Errorf("config.datasets.prefix must not contain path separators")
	}
	switch c.Datasets.Extension {
	case "yml", "yaml":
	default:
		return fmt.Errorf("config.datasets.extension must be yml or yaml")
	}
	for i, wh := range c.Notifications.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		for _, evt := range wh.Events {
			if evt == "" {
				return fmt.Errorf("config.notifications.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "podnotes.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pn config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults, so a
// file only needs the keys it changes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `claims:
  # claims older than this are force-released by the purger
  max_age_seconds: 259200
  purge_interval: 1h
  single_claim_per_user: true

feed:
  url: ""
  timeout: 30s

datasets:
  location: datasets
  prefix: episode
  extension: yml

notifications:
  webhooks: []

log:
  level: info
  format: text
`
