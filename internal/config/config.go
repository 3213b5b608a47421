// Package config reads harness settings from the environment. Everything has
// a default except the provider token; a missing or nonsensical value fails
// Load before any droplet exists.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/kelseyhightower/envconfig"
)

var ErrInvalidConfig = fmt.Errorf("invalid configuration")

// Config is the full environment surface of the harness.
type Config struct {
	// DigitalOceanToken authenticates every provider call.
	DigitalOceanToken string `envconfig:"DIGITALOCEAN_TOKEN" required:"true"`

	// OpenAIKey, when present, unlocks failure diagnosis. The harness runs
	// fine without it.
	OpenAIKey string `envconfig:"OPENAI_API_KEY"`

	// OPAURL points at the policy endpoint consulted before provisioning.
	OPAURL string `envconfig:"OPA_URL" default:"http://localhost:8181"`

	// MaxDroplets caps how many droplets may exist at once.
	MaxDroplets int `envconfig:"MAX_TEST_DROPLETS" default:"6"`

	// MaxSessionMinutes bounds the whole session, teardown included.
	MaxSessionMinutes int `envconfig:"MAX_SESSION_MINUTES" default:"60"`

	// BudgetUSD is the committed-spend ceiling for one session.
	BudgetUSD float64 `envconfig:"SESSION_BUDGET_USD" default:"1.00"`

	Region string `envconfig:"VMTEST_REGION" default:"nyc3"`
	Size   string `envconfig:"VMTEST_SIZE" default:"s-1vcpu-1gb"`

	// Tag marks every resource the harness creates; sweep finds leaks by it.
	Tag string `envconfig:"VMTEST_TAG" default:"vmtest"`

	// SnapshotFile optionally points at a slug -> snapshot-id overlay.
	SnapshotFile string `envconfig:"SNAPSHOT_FILE"`

	SSHUser string `envconfig:"SSH_USER" default:"root"`
}

// Load reads and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.DigitalOceanToken == "":
		return fmt.Errorf("%w: DIGITALOCEAN_TOKEN is empty", ErrInvalidConfig)
	case c.MaxDroplets < 1:
		return fmt.Errorf("%w: MAX_TEST_DROPLETS must be at least 1, got %d", ErrInvalidConfig, c.MaxDroplets)
	case c.MaxSessionMinutes < 1:
		return fmt.Errorf("%w: MAX_SESSION_MINUTES must be at least 1, got %d", ErrInvalidConfig, c.MaxSessionMinutes)
	case c.BudgetUSD <= 0:
		return fmt.Errorf("%w: SESSION_BUDGET_USD must be positive, got %v", ErrInvalidConfig, c.BudgetUSD)
	case c.Region == "":
		return fmt.Errorf("%w: VMTEST_REGION is empty", ErrInvalidConfig)
	case c.Size == "":
		return fmt.Errorf("%w: VMTEST_SIZE is empty", ErrInvalidConfig)
	case c.SSHUser == "":
		return fmt.Errorf("%w: SSH_USER is empty", ErrInvalidConfig)
	}

	// The tag ends up inside droplet names and provider tags, so it has to
	// survive both grammars untouched. Droplet names reject underscores.
	if !slug.IsSlug(c.Tag) || strings.Contains(c.Tag, "_") {
		return fmt.Errorf("%w: VMTEST_TAG %q is not slug-safe (lowercase letters, digits and dashes)", ErrInvalidConfig, c.Tag)
	}
	return nil
}

// SessionTimeout is MaxSessionMinutes as a deadline-ready duration.
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.MaxSessionMinutes) * time.Minute
}

// HasOpenAI reports whether failure diagnosis is available.
func (c Config) HasOpenAI() bool {
	return c.OpenAIKey != ""
}

// PolicyURL is the OPA endpoint without a trailing slash.
func (c Config) PolicyURL() string {
	return strings.TrimRight(c.OPAURL, "/")
}
