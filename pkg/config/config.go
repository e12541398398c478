// Package config loads the study server configuration. Settings come
// from an optional YAML file, overridden by environment variables, with
// defaults applied before validation. A bad configuration fails at
// startup rather than on the first request.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Deployment defaults.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 3001

	DefaultUploadDir       = "uploads"
	DefaultMaxUploadBytes  = 10 << 20
	DefaultUploadRetention = Duration(24 * time.Hour)

	DefaultLogLevel = "info"
)

// Duration unmarshals YAML values like "5s" or "10m" into a
// time.Duration. The plain type only accepts integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config is the root configuration for the study server.
type Config struct {
	Server ServerConfig `yaml:"server"`
	QNet   QNetConfig   `yaml:"qnet"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
	Redis  RedisConfig  `yaml:"redis"`
	Quota  QuotaConfig  `yaml:"quota"`
	Cache  CacheConfig  `yaml:"cache"`
	Upload UploadConfig `yaml:"upload"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// QNetConfig holds the Q-Net upstream settings. The service key is the
// only required value in the whole configuration.
type QNetConfig struct {
	ServiceKey       string   `yaml:"service_key"`
	TestInfoURL      string   `yaml:"test_info_url"`
	QualificationURL string   `yaml:"qualification_url"`
	Timeout          Duration `yaml:"timeout"`
	MaxRetries       int      `yaml:"max_retries"`
}

// OpenAIConfig holds the study planner credentials. An empty key
// disables the planner endpoints.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// GeminiConfig holds the document service credentials. An empty key
// disables the PDF, quiz and RAG endpoints.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// RedisConfig selects the shared response cache backend. An empty
// address keeps the in-process cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QuotaConfig toggles daily call quota tracking for the Q-Net upstream.
// Tracking counts calls in Redis, so it requires a Redis address.
type QuotaConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CacheConfig tunes the response cache. Zero values use the cache
// package defaults.
type CacheConfig struct {
	TTL      Duration `yaml:"ttl"`
	Capacity int      `yaml:"capacity"`
}

// UploadConfig controls PDF intake and cleanup.
type UploadConfig struct {
	Dir       string   `yaml:"dir"`
	MaxBytes  int64    `yaml:"max_bytes"`
	Retention Duration `yaml:"retention"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load builds the configuration from an optional YAML file, environment
// overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays environment variables on the file values. The names
// match the original deployment plus the Redis settings.
func applyEnv(cfg *Config) error {
	cfg.QNet.ServiceKey = getEnv("QNET_SERVICE_KEY", cfg.QNet.ServiceKey)
	cfg.QNet.TestInfoURL = getEnv("QNET_TEST_INFO_API", cfg.QNet.TestInfoURL)
	cfg.QNet.QualificationURL = getEnv("QNET_QUALIFICATION_API", cfg.QNet.QualificationURL)
	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.Gemini.APIKey = getEnv("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Redis.Addr = getEnv("REDIS_URL", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Upload.Dir = getEnv("UPLOAD_DIR", cfg.Upload.Dir)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = n
	}
	return nil
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = DefaultUploadDir
	}
	if cfg.Upload.MaxBytes == 0 {
		cfg.Upload.MaxBytes = DefaultMaxUploadBytes
	}
	if cfg.Upload.Retention == 0 {
		cfg.Upload.Retention = DefaultUploadRetention
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	if cfg.QNet.ServiceKey == "" {
		return fmt.Errorf("qnet service key is required (QNET_SERVICE_KEY)")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Server.Port)
	}
	if cfg.QNet.Timeout < 0 {
		return fmt.Errorf("qnet timeout must not be negative")
	}
	if cfg.QNet.MaxRetries < 0 {
		return fmt.Errorf("qnet max retries must not be negative")
	}
	if cfg.Quota.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("quota tracking requires a redis address")
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	if cfg.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload max bytes must not be negative")
	}
	if cfg.Upload.Retention < 0 {
		return fmt.Errorf("upload retention must not be negative")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
