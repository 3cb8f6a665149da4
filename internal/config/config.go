// Package config loads the agent's configuration from the environment,
// with an optional YAML settings file overlaying the non-secret tunables.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"rewardsd/internal/schedule"
	"rewardsd/internal/store"
	logx "rewardsd/pkg/logx"
)

// environment is the raw env-var surface. Secrets live here and only here.
type environment struct {
	RPCURL          string `env:"RPC_URL,required=true"`
	PrivateKey      string `env:"PRIVATE_KEY,required=true"`
	ContractAddress string `env:"CONTRACT_ADDRESS,required=true"`
	ChainID         int64  `env:"CHAIN_ID,required=true"`

	GasLimit    int64  `env:"GAS_LIMIT,default=500000"`
	GasPriceWei string `env:"GAS_PRICE_WEI"`

	FireTime     string `env:"FIRE_TIME,default=00:00"`
	ScheduleCron string `env:"SCHEDULE_CRON"`
	Timezone     string `env:"TIMEZONE"`

	MaxAttempts    int     `env:"MAX_ATTEMPTS,default=3"`
	BackoffBase    string  `env:"BACKOFF_BASE,default=2s"`
	BackoffMax     string  `env:"BACKOFF_MAX,default=1m"`
	BackoffJitter  float64 `env:"BACKOFF_JITTER,default=0.2"`
	ConfirmTimeout string  `env:"CONFIRM_TIMEOUT"`
	PollInterval   string  `env:"POLL_INTERVAL"`
	Preflight      bool    `env:"PREFLIGHT,default=true"`
	ChainRecheck   bool    `env:"CHAIN_RECHECK,default=false"`

	StoreDriver string `env:"STORE_DRIVER,default=none"`
	StorePath   string `env:"STORE_PATH"`

	SettingsFile string `env:"SETTINGS_FILE"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
	LogFile      string `env:"LOG_FILE"`

	TelegramToken  string `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`
}

// Config is the validated, typed configuration the rest of the agent
// consumes. Built once at startup; only the log settings are re-applied
// at runtime via the settings watcher.
type Config struct {
	RPCURL          string
	PrivateKey      *ecdsa.PrivateKey
	ContractAddress common.Address
	ChainID         uint64

	GasLimit    uint64
	GasPriceWei *big.Int // nil: network-suggested

	FireTime     schedule.TimeOfDay
	ScheduleCron string // overrides FireTime when set
	Location     *time.Location

	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	BackoffJitter  float64
	ConfirmTimeout time.Duration // 0: network-appropriate default
	PollInterval   time.Duration // 0: network-appropriate default
	Preflight      bool
	ChainRecheck   bool

	Store store.Config

	SettingsFile string
	Log          logx.Config

	TelegramToken  string
	TelegramChatID int64
}

// Load reads the environment, applies the optional settings file, and
// validates everything. Any error here is fatal at startup.
func Load() (*Config, error) {
	var raw environment
	if _, err := env.UnmarshalFromEnviron(&raw); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if strings.TrimSpace(raw.SettingsFile) != "" {
		settings, err := loadSettings(raw.SettingsFile)
		if err != nil {
			return nil, fmt.Errorf("settings file %s: %w", raw.SettingsFile, err)
		}
		settings.applyTo(&raw)
	}

	return validate(raw)
}

func validate(raw environment) (*Config, error) {
	cfg := &Config{
		RPCURL:        strings.TrimSpace(raw.RPCURL),
		MaxAttempts:   raw.MaxAttempts,
		BackoffJitter: raw.BackoffJitter,
		Preflight:     raw.Preflight,
		ChainRecheck:  raw.ChainRecheck,
		ScheduleCron:  strings.TrimSpace(raw.ScheduleCron),
		SettingsFile:  strings.TrimSpace(raw.SettingsFile),
		Store: store.Config{
			Driver: raw.StoreDriver,
			Path:   raw.StorePath,
		},
		Log: logx.Config{
			Level:   raw.LogLevel,
			Console: true,
			File:    raw.LogFile,
		},
		TelegramToken:  strings.TrimSpace(raw.TelegramToken),
		TelegramChatID: raw.TelegramChatID,
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC_URL is empty")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
	}
	cfg.PrivateKey = key

	addr := strings.TrimSpace(raw.ContractAddress)
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid CONTRACT_ADDRESS %q", addr)
	}
	cfg.ContractAddress = common.HexToAddress(addr)

	if raw.ChainID <= 0 {
		return nil, fmt.Errorf("invalid CHAIN_ID %d", raw.ChainID)
	}
	cfg.ChainID = uint64(raw.ChainID)

	if raw.GasLimit <= 0 {
		return nil, fmt.Errorf("invalid GAS_LIMIT %d", raw.GasLimit)
	}
	cfg.GasLimit = uint64(raw.GasLimit)

	if p := strings.TrimSpace(raw.GasPriceWei); p != "" {
		price, ok := new(big.Int).SetString(p, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("invalid GAS_PRICE_WEI %q", p)
		}
		cfg.GasPriceWei = price
	}

	cfg.FireTime, err = schedule.ParseTimeOfDay(raw.FireTime)
	if err != nil {
		return nil, fmt.Errorf("invalid FIRE_TIME: %w", err)
	}

	cfg.Location = time.Local
	if tz := strings.TrimSpace(raw.Timezone); tz != "" {
		loc, lerr := time.LoadLocation(tz)
		if lerr != nil {
			return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, lerr)
		}
		cfg.Location = loc
	}

	if cfg.ScheduleCron != "" {
		if _, cerr := schedule.Cron(cfg.ScheduleCron, cfg.Location); cerr != nil {
			return nil, fmt.Errorf("invalid SCHEDULE_CRON: %w", cerr)
		}
	}

	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("invalid MAX_ATTEMPTS %d", raw.MaxAttempts)
	}

	cfg.BackoffBase, err = parseDuration("BACKOFF_BASE", raw.BackoffBase, false)
	if err != nil {
		return nil, err
	}
	cfg.BackoffMax, err = parseDuration("BACKOFF_MAX", raw.BackoffMax, false)
	if err != nil {
		return nil, err
	}
	cfg.ConfirmTimeout, err = parseDuration("CONFIRM_TIMEOUT", raw.ConfirmTimeout, true)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval, err = parseDuration("POLL_INTERVAL", raw.PollInterval, true)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDuration(name, v string, optional bool) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		if optional {
			return 0, nil
		}
		return 0, fmt.Errorf("%s is empty", name)
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return d, nil
}

// Plan builds the fire plan the scheduler runs on.
func (c *Config) Plan() (schedule.Plan, error) {
	if c.ScheduleCron != "" {
		return schedule.Cron(c.ScheduleCron, c.Location)
	}
	return schedule.Daily(c.FireTime, c.Location), nil
}
