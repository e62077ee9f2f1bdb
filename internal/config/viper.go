// Package config provides Viper-based hierarchical configuration management
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// BackendConfig locates one provider. Tests and mirrors override the URLs.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	AuthURL string `mapstructure:"auth_url" yaml:"auth_url,omitempty"`
}

// Config represents the complete application configuration
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`

	CSV struct {
		Delimiter string `mapstructure:"delimiter" yaml:"delimiter"`
	} `mapstructure:"csv" yaml:"csv"`

	HTTP struct {
		TimeoutSeconds     int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
		LoginRetryAttempts int     `mapstructure:"login_retry_attempts" yaml:"login_retry_attempts"`
		LoginRetryDelayMS  int     `mapstructure:"login_retry_delay_ms" yaml:"login_retry_delay_ms"`
		RequestsPerSecond  float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
		UserAgent          string  `mapstructure:"user_agent" yaml:"user_agent"`
	} `mapstructure:"http" yaml:"http"`

	Backends struct {
		Leumi     BackendConfig `mapstructure:"leumi" yaml:"leumi"`
		Cal       BackendConfig `mapstructure:"cal" yaml:"cal"`
		Leumicard BackendConfig `mapstructure:"leumicard" yaml:"leumicard"`
		Otsar     BackendConfig `mapstructure:"otsar" yaml:"otsar"`
	} `mapstructure:"backends" yaml:"backends"`

	Browser struct {
		Headless    bool   `mapstructure:"headless" yaml:"headless"`
		ExecPath    string `mapstructure:"exec_path" yaml:"exec_path"`
		WaitSeconds int    `mapstructure:"wait_seconds" yaml:"wait_seconds"`
	} `mapstructure:"browser" yaml:"browser"`

	Store struct {
		Database     string `mapstructure:"database" yaml:"database"`
		AccountsFile string `mapstructure:"accounts_file" yaml:"accounts_file"`
		PatternsFile string `mapstructure:"patterns_file" yaml:"patterns_file"`
	} `mapstructure:"store" yaml:"store"`

	Server struct {
		Addr              string `mapstructure:"addr" yaml:"addr"`
		RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	} `mapstructure:"server" yaml:"server"`

	Vault struct {
		Path string `mapstructure:"path" yaml:"path"`
		Cmd  string `mapstructure:"cmd" yaml:"cmd"`
	} `mapstructure:"vault" yaml:"vault"`
}

// HTTPTimeout is the per-exchange timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// LoginRetryDelay is the fixed pause between login attempts.
func (c *Config) LoginRetryDelay() time.Duration {
	return time.Duration(c.HTTP.LoginRetryDelayMS) * time.Millisecond
}

// BrowserWait bounds every wait of the browser-driven backend.
func (c *Config) BrowserWait() time.Duration {
	return time.Duration(c.Browser.WaitSeconds) * time.Second
}

// InitializeConfig initializes Viper configuration with hierarchical loading
func InitializeConfig() (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Config file locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.bankfetch")
	v.AddConfigPath(".bankfetch")
	v.AddConfigPath(".")

	// 3. Environment variables
	v.SetEnvPrefix("BANKFETCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 4. Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Warning: error reading config file %s: %v\n", v.ConfigFileUsed(), err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration without reading files or
// the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("csv.delimiter", ",")

	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.login_retry_attempts", 3)
	v.SetDefault("http.login_retry_delay_ms", 1000)
	v.SetDefault("http.requests_per_second", 5.0)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0")

	v.SetDefault("backends.leumi.base_url", "https://hb2.bankleumi.co.il")
	v.SetDefault("backends.cal.base_url", "https://services.cal-online.co.il")
	v.SetDefault("backends.cal.auth_url", "https://connect.cal-online.co.il")
	v.SetDefault("backends.leumicard.base_url", "https://onlinelcapi.max.co.il")
	v.SetDefault("backends.otsar.base_url", "https://www.bankotsar.co.il")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.wait_seconds", 30)

	v.SetDefault("store.database", "bankfetch.db")
	v.SetDefault("store.accounts_file", "accounts.yaml")
	v.SetDefault("store.patterns_file", "patterns.yaml")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.requests_per_minute", 30)

	v.SetDefault("vault.path", "/usr/local/bin:/usr/bin")
	v.SetDefault("vault.cmd", "bw")
}

func validateConfig(config *Config) error {
	if _, err := logrus.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", config.Log.Format)
	}

	if utf8.RuneCountInString(config.CSV.Delimiter) != 1 {
		return fmt.Errorf("CSV delimiter must be a single character, got: %s", config.CSV.Delimiter)
	}

	if config.HTTP.TimeoutSeconds < 1 || config.HTTP.TimeoutSeconds > 300 {
		return fmt.Errorf("http.timeout_seconds must be between 1 and 300, got: %d", config.HTTP.TimeoutSeconds)
	}

	if config.HTTP.LoginRetryAttempts < 1 || config.HTTP.LoginRetryAttempts > 10 {
		return fmt.Errorf("http.login_retry_attempts must be between 1 and 10, got: %d", config.HTTP.LoginRetryAttempts)
	}

	if config.HTTP.LoginRetryDelayMS < 0 {
		return fmt.Errorf("http.login_retry_delay_ms must not be negative, got: %d", config.HTTP.LoginRetryDelayMS)
	}

	if config.HTTP.RequestsPerSecond <= 0 {
		return fmt.Errorf("http.requests_per_second must be positive, got: %f", config.HTTP.RequestsPerSecond)
	}

	if config.Browser.WaitSeconds < 1 {
		return fmt.Errorf("browser.wait_seconds must be positive, got: %d", config.Browser.WaitSeconds)
	}

	if config.Server.RequestsPerMinute < 1 {
		return fmt.Errorf("server.requests_per_minute must be positive, got: %d", config.Server.RequestsPerMinute)
	}

	return nil
}
