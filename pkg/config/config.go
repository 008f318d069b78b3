// Package config reads engine configuration from a YAML file under the
// user's home directory. All fields are optional; defaults are applied by
// the accessor methods.
//
// Example (~/.localstorm/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// database:
//   path: ~/.localstorm/engine.db
// threading:
//   keyword_limit: 8
//   alpha: 0.7
//   threshold: 0.3
//   half_life: 16
// cache:
//   backend: memory
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Threading ThreadingConfig `yaml:"threading"`
	Summary   SummaryConfig   `yaml:"summary"`
	Cache     CacheConfig     `yaml:"cache"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path *string `yaml:"path"`
}

// ThreadingConfig tunes the thread assignment scoring of the threading
// engine. The values are engine-wide; per-conversation behavior (strategy,
// auto threading) is fixed on the conversation itself.
type ThreadingConfig struct {
	KeywordLimit *int     `yaml:"keyword_limit"` // top-k keywords per message/thread
	Alpha        *float64 `yaml:"alpha"`         // keyword overlap weight in hybrid scoring
	Threshold    *float64 `yaml:"threshold"`     // minimum match score to join a thread
	HalfLife     *float64 `yaml:"half_life"`     // recency decay half-life, in sequence steps
}

// SummaryConfig tunes the extractive summarizer and quality scoring.
type SummaryConfig struct {
	MaxKeyPoints       *int     `yaml:"max_key_points"`
	DetailSentences    *int     `yaml:"detail_sentences"`
	CoherenceWeight    *float64 `yaml:"coherence_weight"`
	CompletenessWeight *float64 `yaml:"completeness_weight"`
	RelevanceWeight    *float64 `yaml:"relevance_weight"`
}

// CacheConfig selects the derived-data cache backend.
type CacheConfig struct {
	Backend   *string `yaml:"backend"` // memory (default) or redis
	RedisAddr *string `yaml:"redis_addr"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8090

	DefaultKeywordLimit = 8
	DefaultAlpha        = 0.7
	DefaultThreshold    = 0.3
	DefaultHalfLife     = 16.0

	DefaultMaxKeyPoints       = 5
	DefaultDetailSentences    = 6
	DefaultCoherenceWeight    = 0.4
	DefaultCompletenessWeight = 0.3
	DefaultRelevanceWeight    = 0.3

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".localstorm")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.localstorm/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := Parse(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	return cfg, configFile, nil
}

// Parse unmarshals and validates raw YAML config into cfg.
func Parse(b []byte, cfg *AppConfig) error {
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Host()) == "" {
		return fmt.Errorf("invalid server.host (empty)")
	}
	if port := cfg.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.port %d", port)
	}
	if backend := cfg.CacheBackend(); backend != CacheBackendMemory && backend != CacheBackendRedis {
		return fmt.Errorf("invalid cache.backend %q", backend)
	}
	if a := cfg.Alpha(); a < 0 || a > 1 {
		return fmt.Errorf("invalid threading.alpha %v", a)
	}
	if tau := cfg.Threshold(); tau < 0 || tau > 1 {
		return fmt.Errorf("invalid threading.threshold %v", tau)
	}
	return nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already
// exist. It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)}}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// DatabasePath returns the sqlite database path, defaulting to
// ~/.localstorm/engine.db.
func (c *AppConfig) DatabasePath() string {
	if c != nil && c.Database.Path != nil && strings.TrimSpace(*c.Database.Path) != "" {
		return *c.Database.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./engine.db" // fallback
	}
	return filepath.Join(home, ".localstorm", "engine.db")
}

func (c *AppConfig) KeywordLimit() int {
	if c == nil || c.Threading.KeywordLimit == nil || *c.Threading.KeywordLimit < 1 {
		return DefaultKeywordLimit
	}
	return *c.Threading.KeywordLimit
}

func (c *AppConfig) Alpha() float64 {
	if c == nil || c.Threading.Alpha == nil {
		return DefaultAlpha
	}
	return *c.Threading.Alpha
}

func (c *AppConfig) Threshold() float64 {
	if c == nil || c.Threading.Threshold == nil {
		return DefaultThreshold
	}
	return *c.Threading.Threshold
}

func (c *AppConfig) HalfLife() float64 {
	if c == nil || c.Threading.HalfLife == nil || *c.Threading.HalfLife <= 0 {
		return DefaultHalfLife
	}
	return *c.Threading.HalfLife
}

func (c *AppConfig) MaxKeyPoints() int {
	if c == nil || c.Summary.MaxKeyPoints == nil || *c.Summary.MaxKeyPoints < 1 {
		return DefaultMaxKeyPoints
	}
	return *c.Summary.MaxKeyPoints
}

func (c *AppConfig) DetailSentences() int {
	if c == nil || c.Summary.DetailSentences == nil || *c.Summary.DetailSentences < 1 {
		return DefaultDetailSentences
	}
	return *c.Summary.DetailSentences
}

// QualityWeights returns the (coherence, completeness, relevance) weights
// used for the composite quality score.
func (c *AppConfig) QualityWeights() (float64, float64, float64) {
	coherence, completeness, relevance := DefaultCoherenceWeight, DefaultCompletenessWeight, DefaultRelevanceWeight
	if c != nil {
		if c.Summary.CoherenceWeight != nil {
			coherence = *c.Summary.CoherenceWeight
		}
		if c.Summary.CompletenessWeight != nil {
			completeness = *c.Summary.CompletenessWeight
		}
		if c.Summary.RelevanceWeight != nil {
			relevance = *c.Summary.RelevanceWeight
		}
	}
	return coherence, completeness, relevance
}

func (c *AppConfig) CacheBackend() string {
	if c == nil || c.Cache.Backend == nil {
		return CacheBackendMemory
	}
	v := strings.TrimSpace(*c.Cache.Backend)
	if v == "" {
		return CacheBackendMemory
	}
	return v
}

func (c *AppConfig) RedisAddr() string {
	if c == nil || c.Cache.RedisAddr == nil {
		return "127.0.0.1:6379"
	}
	return *c.Cache.RedisAddr
}

func ptr[T any](v T) *T { return &v }
