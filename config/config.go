// Package config resolves the node configuration from, in ascending
// precedence, built-in defaults, a YAML config file, UMBRA_-prefixed
// environment variables and CLI flags. Every recognized key is exposed
// as a flag; unknown keys in the config file are rejected.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// recognized configuration keys; the flag name is the key with dots
// and underscores flattened to dashes.
const (
	keyLogLevel    = "loglevel"
	keyDataDir     = "datadir"
	keyMetricsPort = "metrics.port"
	keyRelayURL    = "relay.url"

	keyEpochDurationMS = "epoch.duration_ms"
	keyEpochMaxBatch   = "epoch.max_batch"

	keyTimerAgreeMS    = "timers.agree_ms"
	keyTimerDecryptMS  = "timers.decrypt_ms"
	keyTimerDispatchMS = "timers.dispatch_ms"

	keyThresholdT = "threshold.t"
	keyThresholdN = "threshold.n"

	keyClassifierLow    = "classifier.thresholds.low"
	keyClassifierMedium = "classifier.thresholds.medium"
	keyClassifierHigh   = "classifier.thresholds.high"

	keySplitMinValue = "split.min_value"
	keySplitChunks   = "split.chunks"

	keySubmitRetryBudget = "submit.retry_budget"
)

// Config is the full recognized node configuration.
type Config struct {
	LogLevel    string `mapstructure:"loglevel" validate:"oneof=trace debug info warn error fatal panic"`
	DataDir     string `mapstructure:"datadir" validate:"required"`
	Metrics     MetricsConfig
	Relay       RelayConfig
	Epoch       EpochConfig
	Timers      TimerConfig
	Threshold   ThresholdConfig
	Classifier  ClassifierConfig
	Split       SplitConfig
	Submit      SubmitConfig
}

type MetricsConfig struct {
	Port uint `mapstructure:"port" validate:"gt=0,lte=65535"`
}

type RelayConfig struct {
	// URL of the downstream relay; empty selects the in-memory relay
	// for local runs.
	URL string `mapstructure:"url"`
}

type EpochConfig struct {
	DurationMS uint64 `mapstructure:"duration_ms" validate:"gt=0"`
	// MaxBatch seals an epoch early at this commitment count; zero
	// disables the limit.
	MaxBatch uint `mapstructure:"max_batch"`
}

type TimerConfig struct {
	AgreeMS    uint64 `mapstructure:"agree_ms" validate:"gt=0"`
	DecryptMS  uint64 `mapstructure:"decrypt_ms" validate:"gt=0"`
	DispatchMS uint64 `mapstructure:"dispatch_ms" validate:"gt=0"`
}

type ThresholdConfig struct {
	T int `mapstructure:"t" validate:"gt=0"`
	N int `mapstructure:"n" validate:"gt=0,gtefield=T"`
}

type ClassifierConfig struct {
	Thresholds ClassifierThresholds `mapstructure:"thresholds"`
}

type ClassifierThresholds struct {
	Low    float64 `mapstructure:"low" validate:"gte=0,lte=1"`
	Medium float64 `mapstructure:"medium" validate:"gte=0,lte=1,gtefield=Low"`
	High   float64 `mapstructure:"high" validate:"gte=0,lte=1,gtefield=Medium"`
}

type SplitConfig struct {
	// MinValue in gwei above which a medium-high risk intent is split.
	MinValue uint64 `mapstructure:"min_value"`
	Chunks   int    `mapstructure:"chunks" validate:"gt=1"`
}

type SubmitConfig struct {
	// RetryBudget bounds transient retries per downstream submission.
	RetryBudget uint64 `mapstructure:"retry_budget"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "/data/umbra",
		Metrics:  MetricsConfig{Port: 8080},
		Relay:    RelayConfig{URL: ""},
		Epoch: EpochConfig{
			DurationMS: 500,
			MaxBatch:   256,
		},
		Timers: TimerConfig{
			AgreeMS:    2000,
			DecryptMS:  2000,
			DispatchMS: 5000,
		},
		Threshold: ThresholdConfig{T: 3, N: 5},
		Classifier: ClassifierConfig{
			Thresholds: ClassifierThresholds{
				Low:    0.25,
				Medium: 0.60,
				High:   0.85,
			},
		},
		Split: SplitConfig{
			MinValue: 1_000_000_000,
			Chunks:   4,
		},
		Submit: SubmitConfig{RetryBudget: 5},
	}
}

// EpochDuration returns the commitment window length.
func (c *Config) EpochDuration() time.Duration {
	return time.Duration(c.Epoch.DurationMS) * time.Millisecond
}

// AgreeTimeout returns the ordering agreement bound.
func (c *Config) AgreeTimeout() time.Duration {
	return time.Duration(c.Timers.AgreeMS) * time.Millisecond
}

// DecryptTimeout returns the share collection bound.
func (c *Config) DecryptTimeout() time.Duration {
	return time.Duration(c.Timers.DecryptMS) * time.Millisecond
}

// DispatchTimeout returns the downstream dispatch bound.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Timers.DispatchMS) * time.Millisecond
}

// flagName flattens a configuration key to its CLI flag name.
func flagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// InitFlags declares a CLI flag for every recognized key, defaulted
// from the given config.
func InitFlags(flags *pflag.FlagSet, defaults *Config) {
	flags.String(flagName(keyLogLevel), defaults.LogLevel, "log level (trace|debug|info|warn|error|fatal|panic)")
	flags.String(flagName(keyDataDir), defaults.DataDir, "directory for the protocol database")
	flags.Uint(flagName(keyMetricsPort), defaults.Metrics.Port, "port for the metrics server")
	flags.String(flagName(keyRelayURL), defaults.Relay.URL, "downstream relay URL; empty runs the in-memory relay")

	flags.Uint64(flagName(keyEpochDurationMS), defaults.Epoch.DurationMS, "commitment window length in milliseconds")
	flags.Uint(flagName(keyEpochMaxBatch), defaults.Epoch.MaxBatch, "commitment count that seals an epoch early, 0 disables")

	flags.Uint64(flagName(keyTimerAgreeMS), defaults.Timers.AgreeMS, "ordering agreement timeout in milliseconds")
	flags.Uint64(flagName(keyTimerDecryptMS), defaults.Timers.DecryptMS, "share collection timeout in milliseconds")
	flags.Uint64(flagName(keyTimerDispatchMS), defaults.Timers.DispatchMS, "downstream dispatch timeout in milliseconds")

	flags.Int(flagName(keyThresholdT), defaults.Threshold.T, "decryption threshold t")
	flags.Int(flagName(keyThresholdN), defaults.Threshold.N, "committee size n")

	flags.Float64(flagName(keyClassifierLow), defaults.Classifier.Thresholds.Low, "risk score below which intents bypass the pipeline")
	flags.Float64(flagName(keyClassifierMedium), defaults.Classifier.Thresholds.Medium, "risk score below which intents take the standard protected path")
	flags.Float64(flagName(keyClassifierHigh), defaults.Classifier.Thresholds.High, "risk score at which intents are rejected")

	flags.Uint64(flagName(keySplitMinValue), defaults.Split.MinValue, "transfer value in gwei above which risky intents are split")
	flags.Int(flagName(keySplitChunks), defaults.Split.Chunks, "child commitments per split intent")

	flags.Uint64(flagName(keySubmitRetryBudget), defaults.Submit.RetryBudget, "transient retry budget per downstream submission")
}

// allKeys lists every recognized key, for flag binding.
func allKeys() []string {
	return []string{
		keyLogLevel, keyDataDir, keyMetricsPort, keyRelayURL,
		keyEpochDurationMS, keyEpochMaxBatch,
		keyTimerAgreeMS, keyTimerDecryptMS, keyTimerDispatchMS,
		keyThresholdT, keyThresholdN,
		keyClassifierLow, keyClassifierMedium, keyClassifierHigh,
		keySplitMinValue, keySplitChunks,
		keySubmitRetryBudget,
	}
}

// Load resolves the configuration. Precedence, highest first: flags
// explicitly set, environment (UMBRA_ prefix, dots as underscores),
// the YAML file at configFile (optional), defaults.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("UMBRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range allKeys() {
		flag := flags.Lookup(flagName(key))
		if flag == nil {
			return nil, fmt.Errorf("flag for key %s not declared, call InitFlags first", key)
		}
		err := v.BindPFlag(key, flag)
		if err != nil {
			return nil, fmt.Errorf("could not bind flag for key %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		err := v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", configFile, err)
		}
	}

	conf := DefaultConfig()
	err := v.Unmarshal(conf, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = false
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	err = conf.Validate()
	if err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate rejects nonsensical configurations.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Threshold.T > c.Threshold.N {
		return fmt.Errorf("invalid configuration: threshold t=%d exceeds committee size n=%d", c.Threshold.T, c.Threshold.N)
	}
	return nil
}
