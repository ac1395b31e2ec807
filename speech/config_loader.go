package speech

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LoadConfigFromViper loads pipeline configuration from Viper, layered over
// the defaults.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("speech.engine") {
		cfg.Engine = viper.GetString("speech.engine")
	}
	if viper.IsSet("speech.language") {
		cfg.Language = viper.GetString("speech.language")
	}
	if viper.IsSet("speech.sample_rate") {
		cfg.SampleRate = viper.GetInt("speech.sample_rate")
	}

	if viper.IsSet("speech.lookahead") {
		cfg.Lookahead = viper.GetInt("speech.lookahead")
	}
	if viper.IsSet("speech.evict_trail") {
		cfg.EvictTrail = viper.GetInt("speech.evict_trail")
	}

	if viper.IsSet("speech.generation_timeout") {
		if d, err := time.ParseDuration(viper.GetString("speech.generation_timeout")); err == nil {
			cfg.GenerationTimeout = d
		}
	}
	if viper.IsSet("speech.max_in_flight") {
		cfg.MaxInFlight = viper.GetInt("speech.max_in_flight")
	}
	if viper.IsSet("speech.retry_attempts") {
		cfg.RetryAttempts = viper.GetInt("speech.retry_attempts")
	}
	if viper.IsSet("speech.retry_base_delay") {
		if d, err := time.ParseDuration(viper.GetString("speech.retry_base_delay")); err == nil {
			cfg.RetryBaseDelay = d
		}
	}
	if viper.IsSet("speech.retry_max_delay") {
		if d, err := time.ParseDuration(viper.GetString("speech.retry_max_delay")); err == nil {
			cfg.RetryMaxDelay = d
		}
	}

	if viper.IsSet("speech.upgrade_tick") {
		if d, err := time.ParseDuration(viper.GetString("speech.upgrade_tick")); err == nil {
			cfg.UpgradeTick = d
		}
	}
	if viper.IsSet("speech.upgrade_horizon") {
		cfg.UpgradeHorizon = viper.GetInt("speech.upgrade_horizon")
	}
	if viper.IsSet("speech.upgrade_start_delay") {
		if d, err := time.ParseDuration(viper.GetString("speech.upgrade_start_delay")); err == nil {
			cfg.UpgradeStartDelay = d
		}
	}

	if viper.IsSet("speech.words_per_minute") {
		cfg.WordsPerMinute = viper.GetInt("speech.words_per_minute")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid speech configuration: %w", err)
	}

	return cfg, nil
}

// SetDefaults sets default values in Viper for pipeline configuration.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("speech.engine", defaults.Engine)
	viper.SetDefault("speech.language", defaults.Language)
	viper.SetDefault("speech.sample_rate", defaults.SampleRate)

	viper.SetDefault("speech.lookahead", defaults.Lookahead)
	viper.SetDefault("speech.evict_trail", defaults.EvictTrail)

	viper.SetDefault("speech.generation_timeout", defaults.GenerationTimeout.String())
	viper.SetDefault("speech.max_in_flight", defaults.MaxInFlight)
	viper.SetDefault("speech.retry_attempts", defaults.RetryAttempts)
	viper.SetDefault("speech.retry_base_delay", defaults.RetryBaseDelay.String())
	viper.SetDefault("speech.retry_max_delay", defaults.RetryMaxDelay.String())

	viper.SetDefault("speech.upgrade_tick", defaults.UpgradeTick.String())
	viper.SetDefault("speech.upgrade_horizon", defaults.UpgradeHorizon)
	viper.SetDefault("speech.upgrade_start_delay", defaults.UpgradeStartDelay.String())

	viper.SetDefault("speech.words_per_minute", defaults.WordsPerMinute)
}
