package speech

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all pipeline configuration options.
type Config struct {
	// Engine settings
	Engine     string `yaml:"engine" env:"BOOKVOICE_ENGINE" envDefault:"mock"`
	Language   string `yaml:"language" env:"BOOKVOICE_LANGUAGE" envDefault:"en-US"`
	SampleRate int    `yaml:"sample_rate" env:"BOOKVOICE_SAMPLE_RATE" envDefault:"22050"`

	// Buffering settings
	Lookahead  int `yaml:"lookahead" env:"BOOKVOICE_LOOKAHEAD" envDefault:"5"`
	EvictTrail int `yaml:"evict_trail" env:"BOOKVOICE_EVICT_TRAIL" envDefault:"5"`

	// Generation settings
	GenerationTimeout time.Duration `yaml:"generation_timeout" env:"BOOKVOICE_GENERATION_TIMEOUT" envDefault:"2m"`
	MaxInFlight       int           `yaml:"max_in_flight" env:"BOOKVOICE_MAX_IN_FLIGHT" envDefault:"50"`
	RetryAttempts     int           `yaml:"retry_attempts" env:"BOOKVOICE_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" env:"BOOKVOICE_RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" env:"BOOKVOICE_RETRY_MAX_DELAY" envDefault:"10s"`

	// Upgrade settings
	UpgradeTick       time.Duration `yaml:"upgrade_tick" env:"BOOKVOICE_UPGRADE_TICK" envDefault:"5s"`
	UpgradeHorizon    int           `yaml:"upgrade_horizon" env:"BOOKVOICE_UPGRADE_HORIZON" envDefault:"10"`
	UpgradeStartDelay time.Duration `yaml:"upgrade_start_delay" env:"BOOKVOICE_UPGRADE_START_DELAY" envDefault:"10s"`

	// Estimation settings
	WordsPerMinute int `yaml:"words_per_minute" env:"BOOKVOICE_WORDS_PER_MINUTE" envDefault:"165"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Engine:     "mock",
		Language:   "en-US",
		SampleRate: 22050,

		Lookahead:  5,
		EvictTrail: 5,

		GenerationTimeout: 2 * time.Minute,
		MaxInFlight:       50,
		RetryAttempts:     3,
		RetryBaseDelay:    500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,

		UpgradeTick:       5 * time.Second,
		UpgradeHorizon:    10,
		UpgradeStartDelay: 10 * time.Second,

		WordsPerMinute: DefaultWordsPerMinute,
	}
}

// ConfigFromEnv returns the default configuration overridden by environment
// variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validEngines := []string{"mock", "exec"}
	engineValid := false
	for _, e := range validEngines {
		if strings.EqualFold(c.Engine, e) {
			engineValid = true
			c.Engine = strings.ToLower(c.Engine)
			break
		}
	}
	if !engineValid {
		return fmt.Errorf("invalid engine '%s': must be one of %v", c.Engine, validEngines)
	}

	validSampleRates := []int{8000, 16000, 22050, 24000, 44100, 48000}
	sampleRateValid := false
	for _, sr := range validSampleRates {
		if c.SampleRate == sr {
			sampleRateValid = true
			break
		}
	}
	if !sampleRateValid {
		return fmt.Errorf("invalid sample rate %d: must be one of %v", c.SampleRate, validSampleRates)
	}

	if c.Lookahead < 1 || c.Lookahead > 50 {
		return fmt.Errorf("lookahead must be between 1 and 50, got %d", c.Lookahead)
	}
	if c.EvictTrail < 1 || c.EvictTrail > 50 {
		return fmt.Errorf("evict_trail must be between 1 and 50, got %d", c.EvictTrail)
	}

	if c.GenerationTimeout < time.Second {
		return fmt.Errorf("generation_timeout must be at least 1 second, got %v", c.GenerationTimeout)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight must be at least 1, got %d", c.MaxInFlight)
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		return fmt.Errorf("retry_attempts must be between 1 and 10, got %d", c.RetryAttempts)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays invalid: base %v, max %v", c.RetryBaseDelay, c.RetryMaxDelay)
	}

	if c.UpgradeTick < time.Second {
		return fmt.Errorf("upgrade_tick must be at least 1 second, got %v", c.UpgradeTick)
	}
	if c.UpgradeHorizon < 1 || c.UpgradeHorizon > 100 {
		return fmt.Errorf("upgrade_horizon must be between 1 and 100, got %d", c.UpgradeHorizon)
	}

	if c.WordsPerMinute < 50 || c.WordsPerMinute > 500 {
		return fmt.Errorf("words_per_minute must be between 50 and 500, got %d", c.WordsPerMinute)
	}

	return nil
}

// CoordinatorConfig derives the coordinator tunables.
func (c *Config) CoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Timeout:        c.GenerationTimeout,
		MaxInFlight:    c.MaxInFlight,
		RetryAttempts:  c.RetryAttempts,
		RetryBaseDelay: c.RetryBaseDelay,
		RetryMaxDelay:  c.RetryMaxDelay,
	}
}

// BufferConfig derives the buffer manager tunables.
func (c *Config) BufferConfig() BufferConfig {
	return BufferConfig{
		Lookahead:  c.Lookahead,
		EvictTrail: c.EvictTrail,
		SampleRate: c.SampleRate,
	}
}

// SchedulerConfig derives the scheduler tunables.
func (c *Config) SchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		UpgradeTick:       c.UpgradeTick,
		UpgradeHorizon:    c.UpgradeHorizon,
		UpgradeStartDelay: c.UpgradeStartDelay,
	}
}

// SessionConfig derives the session tunables.
func (c *Config) SessionConfig() SessionConfig {
	return SessionConfig{
		Language:  c.Language,
		Buffer:    c.BufferConfig(),
		Scheduler: c.SchedulerConfig(),
	}
}
