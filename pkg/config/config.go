package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mcptap/mcptap/pkg/logging"
)

// Config is the full mcptap configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	API     APIConfig     `mapstructure:"api"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Analyze AnalyzeConfig `mapstructure:"analyze"`
}

// LogConfig controls diagnostic output. Logs always go to stderr; stdout
// belongs to the proxied protocol.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig controls the log store.
type StoreConfig struct {
	// Capacity is the retained-entry window.
	Capacity int `mapstructure:"capacity"`
}

// APIConfig controls the inspection HTTP server.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProxyConfig controls the live interception engine.
type ProxyConfig struct {
	// PendingTTLSeconds bounds correlation memory for unanswered requests.
	PendingTTLSeconds int `mapstructure:"pending_ttl_seconds"`

	// EvictIntervalSeconds is how often expired requests are dropped.
	EvictIntervalSeconds int `mapstructure:"evict_interval_seconds"`
}

// AnalyzeConfig controls the static analyzer.
type AnalyzeConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// PendingTTL returns the configured TTL as a duration.
func (p ProxyConfig) PendingTTL() time.Duration {
	return time.Duration(p.PendingTTLSeconds) * time.Second
}

// EvictInterval returns the configured interval as a duration.
func (p ProxyConfig) EvictInterval() time.Duration {
	return time.Duration(p.EvictIntervalSeconds) * time.Second
}

// Timeout returns the configured analyzer timeout as a duration.
func (a AnalyzeConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Store wraps configuration with thread-safe access and hot-reload
// updates.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// Get returns a copy of the current configuration.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cpy := *s.cfg
	return &cpy
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.capacity", 10000)
	v.SetDefault("api.addr", "127.0.0.1:8717")
	v.SetDefault("proxy.pending_ttl_seconds", 300)
	v.SetDefault("proxy.evict_interval_seconds", 30)
	v.SetDefault("analyze.timeout_seconds", 30)
}

// LoadAndWatch loads configuration and, when a file was found, watches it
// for on-disk changes. path may name a specific file; empty means search
// the working directory and ~/.config/mcptap. A missing file is not an
// error, only defaults and environment apply then.
func LoadAndWatch(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MCPTAP")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mcptap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mcptap")
	}

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			fileFound = false
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := refresh(v, store); err != nil {
				log.Warn("config reload failed", "file", e.Name, "error", err)
				return
			}
			log.Info("config reloaded", "file", e.Name)
		})
	}
	return store, nil
}

// Load reads configuration once without watching.
func Load(path string) (*Config, error) {
	store, err := LoadAndWatch(path, logging.Nop())
	if err != nil {
		return nil, err
	}
	return store.Get(), nil
}

func refresh(v *viper.Viper, store *Store) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	store.set(&cfg)
	return nil
}
