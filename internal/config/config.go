// Package config loads the application configuration from YAML files and
// MAILGATE_-prefixed environment variables, with hot reload on file change.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config is the application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mail     MailConfig     `mapstructure:"mail"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name  string `mapstructure:"name"`
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

// MailConfig holds the polling policy. Zero values fall back to the
// documented defaults at wiring time, not here, so a loaded config reports
// what the file actually said.
type MailConfig struct {
	PollingEnabled        bool          `mapstructure:"polling_enabled"`
	PollSchedule          string        `mapstructure:"poll_schedule"`
	BatchSize             int           `mapstructure:"batch_size"`
	MaxAccountErrors      int           `mapstructure:"max_account_errors"`
	ErrorRetryDelay       time.Duration `mapstructure:"error_retry_delay"`
	MessageFailureCeiling int           `mapstructure:"message_failure_ceiling"`
	DefaultMaxFetch       int           `mapstructure:"default_max_fetch"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	CycleTimeout          time.Duration `mapstructure:"cycle_timeout"`
	AllowAttachments      bool          `mapstructure:"allow_attachments"`
	AllowedFileTypes      []string      `mapstructure:"allowed_file_types"`
	UseEmailPriority      bool          `mapstructure:"use_email_priority"`
	DefaultAccountID      int           `mapstructure:"default_account_id"`
	BannedSenders         []string      `mapstructure:"banned_senders"`
}

type AlertsConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Admins     []string `mapstructure:"admins"`
	Encryption string   `mapstructure:"encryption"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Load reads default.yaml then merges config.yaml (optional) from
// configPath, applies environment overrides, and watches for changes.
func Load(configPath string) error {
	var err error
	once.Do(func() {
		v := viper.New()
		v.SetConfigType("yaml")

		v.SetConfigName("default")
		v.AddConfigPath(configPath)
		if err = v.ReadInConfig(); err != nil {
			err = fmt.Errorf("read default config: %w", err)
			return
		}

		v.SetConfigName("config")
		if err = v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("merge config: %w", err)
				return
			}
			err = nil
		}

		v.SetEnvPrefix("MAILGATE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			err = fmt.Errorf("unmarshal config: %w", err)
			return
		}

		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			mu.Lock()
			defer mu.Unlock()
			newCfg := &Config{}
			if err := v.Unmarshal(newCfg); err != nil {
				fmt.Printf("config reload failed: %v\n", err)
				return
			}
			cfg = newCfg
		})
	})
	return err
}

// Get returns the current configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// LoadFromFile loads a single config file, bypassing the search path and
// the watcher. Tests use this.
func LoadFromFile(configFile string) error {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// MustLoad loads configuration and panics on error.
func MustLoad(configPath string) {
	if err := Load(configPath); err != nil {
		panic(fmt.Sprintf("load configuration: %v", err))
	}
}

// DSN returns the MySQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// Addr returns the Redis server address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the metrics listen address.
func (c *MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether the app runs in production mode.
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
