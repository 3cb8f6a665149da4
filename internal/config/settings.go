package config

import (
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Settings is the optional YAML overlay. It carries only non-secret
// tunables; endpoint, key and contract stay in the environment. Pointer
// fields distinguish "unset" from zero values.
type Settings struct {
	LogLevel string `yaml:"log_level,omitempty"`
	LogFile  string `yaml:"log_file,omitempty"`

	GasLimit    *int64 `yaml:"gas_limit,omitempty"`
	GasPriceWei string `yaml:"gas_price_wei,omitempty"`

	FireTime     string `yaml:"fire_time,omitempty"`
	ScheduleCron string `yaml:"schedule_cron,omitempty"`
	Timezone     string `yaml:"timezone,omitempty"`

	MaxAttempts    *int     `yaml:"max_attempts,omitempty"`
	BackoffBase    string   `yaml:"backoff_base,omitempty"`
	BackoffMax     string   `yaml:"backoff_max,omitempty"`
	BackoffJitter  *float64 `yaml:"backoff_jitter,omitempty"`
	ConfirmTimeout string   `yaml:"confirm_timeout,omitempty"`
	PollInterval   string   `yaml:"poll_interval,omitempty"`
	Preflight      *bool    `yaml:"preflight,omitempty"`
	ChainRecheck   *bool    `yaml:"chain_recheck,omitempty"`
}

func loadSettings(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Settings
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	return &s, nil
}

// applyTo overlays the set fields onto the raw environment values before
// validation, so both sources share one validation path.
func (s *Settings) applyTo(raw *environment) {
	if s == nil {
		return
	}
	if s.LogLevel != "" {
		raw.LogLevel = s.LogLevel
	}
	if s.LogFile != "" {
		raw.LogFile = s.LogFile
	}
	if s.GasLimit != nil {
		raw.GasLimit = *s.GasLimit
	}
	if s.GasPriceWei != "" {
		raw.GasPriceWei = s.GasPriceWei
	}
	if s.FireTime != "" {
		raw.FireTime = s.FireTime
	}
	if s.ScheduleCron != "" {
		raw.ScheduleCron = s.ScheduleCron
	}
	if s.Timezone != "" {
		raw.Timezone = s.Timezone
	}
	if s.MaxAttempts != nil {
		raw.MaxAttempts = *s.MaxAttempts
	}
	if s.BackoffBase != "" {
		raw.BackoffBase = s.BackoffBase
	}
	if s.BackoffMax != "" {
		raw.BackoffMax = s.BackoffMax
	}
	if s.BackoffJitter != nil {
		raw.BackoffJitter = *s.BackoffJitter
	}
	if s.ConfirmTimeout != "" {
		raw.ConfirmTimeout = s.ConfirmTimeout
	}
	if s.PollInterval != "" {
		raw.PollInterval = s.PollInterval
	}
	if s.Preflight != nil {
		raw.Preflight = *s.Preflight
	}
	if s.ChainRecheck != nil {
		raw.ChainRecheck = *s.ChainRecheck
	}
}
