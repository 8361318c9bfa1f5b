package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath string
	Listen     string
	Timeout    string
	Retries    int
	CacheTTL   string
	LogLevel   string
}

type Settings struct {
	ListenAddr       string
	LogLevel         string
	Timeout          time.Duration
	Retries          int
	AdapterTimeout   time.Duration
	OverallTimeout   time.Duration
	CacheTTL         time.Duration
	SessionStorePath string
	SessionLockPath  string
	PollInterval     time.Duration
	ConfirmTimeout   time.Duration
	RPCOverrides     map[int64]string
	OneInchAPIKey    string
	JupiterAPIKey    string
	BungeeAPIKey     string
	OrderBookBaseURL string
	OrderBookAPIKey  string
}

type fileConfig struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	Cache    struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`
	Aggregation struct {
		AdapterTimeout string `yaml:"adapter_timeout"`
		OverallTimeout string `yaml:"overall_timeout"`
	} `yaml:"aggregation"`
	Execution struct {
		SessionsPath     string            `yaml:"sessions_path"`
		SessionsLockPath string            `yaml:"sessions_lock_path"`
		PollInterval     string            `yaml:"poll_interval"`
		ConfirmTimeout   string            `yaml:"confirm_timeout"`
		RPC              map[string]string `yaml:"rpc"`
	} `yaml:"execution"`
	OrderBook struct {
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"orderbook"`
	Providers struct {
		OneInch struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"oneinch"`
		Jupiter struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"jupiter"`
		Bungee struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"bungee"`
	} `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.ListenAddr == "" {
		settings.ListenAddr = ":8080"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = 30 * time.Second
	}
	if settings.AdapterTimeout <= 0 {
		settings.AdapterTimeout = 15 * time.Second
	}
	if settings.OverallTimeout < settings.AdapterTimeout {
		settings.OverallTimeout = settings.AdapterTimeout
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	sessionsPath, lockPath, err := defaultSessionPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		ListenAddr:       ":8080",
		LogLevel:         "info",
		Timeout:          10 * time.Second,
		Retries:          2,
		AdapterTimeout:   15 * time.Second,
		OverallTimeout:   60 * time.Second,
		CacheTTL:         30 * time.Second,
		SessionStorePath: sessionsPath,
		SessionLockPath:  lockPath,
		PollInterval:     2 * time.Second,
		ConfirmTimeout:   3 * time.Minute,
		RPCOverrides:     map[int64]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "route-engine", "config.yaml"), nil
}

func defaultSessionPaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "route-engine")
	return filepath.Join(dir, "sessions.db"), filepath.Join(dir, "sessions.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Listen != "" {
		settings.ListenAddr = cfg.Listen
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.TTL != "" {
		d, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("config cache.ttl: %w", err)
		}
		settings.CacheTTL = d
	}
	if cfg.Aggregation.AdapterTimeout != "" {
		d, err := time.ParseDuration(cfg.Aggregation.AdapterTimeout)
		if err != nil {
			return fmt.Errorf("config aggregation.adapter_timeout: %w", err)
		}
		settings.AdapterTimeout = d
	}
	if cfg.Aggregation.OverallTimeout != "" {
		d, err := time.ParseDuration(cfg.Aggregation.OverallTimeout)
		if err != nil {
			return fmt.Errorf("config aggregation.overall_timeout: %w", err)
		}
		settings.OverallTimeout = d
	}
	if cfg.Execution.SessionsPath != "" {
		settings.SessionStorePath = cfg.Execution.SessionsPath
	}
	if cfg.Execution.SessionsLockPath != "" {
		settings.SessionLockPath = cfg.Execution.SessionsLockPath
	}
	if cfg.Execution.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Execution.PollInterval)
		if err != nil {
			return fmt.Errorf("config execution.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Execution.ConfirmTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.ConfirmTimeout)
		if err != nil {
			return fmt.Errorf("config execution.confirm_timeout: %w", err)
		}
		settings.ConfirmTimeout = d
	}
	for key, url := range cfg.Execution.RPC {
		chainID, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return fmt.Errorf("config execution.rpc: invalid chain id %q", key)
		}
		if strings.TrimSpace(url) != "" {
			settings.RPCOverrides[chainID] = strings.TrimSpace(url)
		}
	}
	if cfg.OrderBook.BaseURL != "" {
		settings.OrderBookBaseURL = cfg.OrderBook.BaseURL
	}
	if cfg.OrderBook.APIKey != "" {
		settings.OrderBookAPIKey = cfg.OrderBook.APIKey
	}
	if cfg.OrderBook.APIKeyEnv != "" {
		settings.OrderBookAPIKey = os.Getenv(cfg.OrderBook.APIKeyEnv)
	}
	if cfg.Providers.OneInch.APIKey != "" {
		settings.OneInchAPIKey = cfg.Providers.OneInch.APIKey
	}
	if cfg.Providers.OneInch.APIKeyEnv != "" {
		settings.OneInchAPIKey = os.Getenv(cfg.Providers.OneInch.APIKeyEnv)
	}
	if cfg.Providers.Jupiter.APIKey != "" {
		settings.JupiterAPIKey = cfg.Providers.Jupiter.APIKey
	}
	if cfg.Providers.Jupiter.APIKeyEnv != "" {
		settings.JupiterAPIKey = os.Getenv(cfg.Providers.Jupiter.APIKeyEnv)
	}
	if cfg.Providers.Bungee.APIKey != "" {
		settings.BungeeAPIKey = cfg.Providers.Bungee.APIKey
	}
	if cfg.Providers.Bungee.APIKeyEnv != "" {
		settings.BungeeAPIKey = os.Getenv(cfg.Providers.Bungee.APIKeyEnv)
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("ROUTER_LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("ROUTER_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("ROUTER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("ROUTER_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("ROUTER_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.CacheTTL = d
		}
	}
	if v := os.Getenv("ROUTER_ADAPTER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.AdapterTimeout = d
		}
	}
	if v := os.Getenv("ROUTER_OVERALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.OverallTimeout = d
		}
	}
	if v := os.Getenv("ROUTER_SESSIONS_PATH"); v != "" {
		settings.SessionStorePath = v
	}
	if v := os.Getenv("ROUTER_SESSIONS_LOCK_PATH"); v != "" {
		settings.SessionLockPath = v
	}
	if v := os.Getenv("ROUTER_ORDERBOOK_URL"); v != "" {
		settings.OrderBookBaseURL = v
	}
	if v := os.Getenv("ROUTER_ORDERBOOK_API_KEY"); v != "" {
		settings.OrderBookAPIKey = v
	}
	if v := os.Getenv("ROUTER_1INCH_API_KEY"); v != "" {
		settings.OneInchAPIKey = v
	}
	if v := os.Getenv("ROUTER_JUPITER_API_KEY"); v != "" {
		settings.JupiterAPIKey = v
	}
	if v := os.Getenv("ROUTER_BUNGEE_API_KEY"); v != "" {
		settings.BungeeAPIKey = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if strings.TrimSpace(flags.Listen) != "" {
		settings.ListenAddr = flags.Listen
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.CacheTTL != "" {
		d, err := time.ParseDuration(flags.CacheTTL)
		if err != nil {
			return fmt.Errorf("parse --cache-ttl: %w", err)
		}
		settings.CacheTTL = d
	}

	switch settings.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error")
	}

	return nil
}
