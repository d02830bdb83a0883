// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

// Addr returns the host:port the HTTP server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ExtractionConfig holds the defaults applied to extraction requests
// that omit the corresponding fields.
type ExtractionConfig struct {
	DefaultModel       string  `mapstructure:"default_model"`
	Temperature        float64 `mapstructure:"temperature"`
	MaxCharBuffer      int     `mapstructure:"max_char_buffer"`
	MaxWorkers         int     `mapstructure:"max_workers"`
	MaxPasses          int     `mapstructure:"max_passes"`
	ConsensusThreshold float64 `mapstructure:"consensus_threshold"`
	TaskTimeLimit      int     `mapstructure:"task_time_limit"` // milliseconds
	ResultTTL          int     `mapstructure:"result_ttl"`      // seconds
}

// ProvidersConfig holds the credentials for model providers.
type ProvidersConfig struct {
	OpenAI struct {
		APIKey  string   `mapstructure:"api_key"`
		BaseURL string   `mapstructure:"base_url"`
		Timeout int      `mapstructure:"timeout"` // milliseconds
		Models  []string `mapstructure:"models"`
	} `mapstructure:"openai"`
}

// OpenAIModels returns the model IDs to register providers for: the
// default model followed by the configured list, de-duplicated.
func (p ProvidersConfig) OpenAIModels(defaultModel string) []string {
	seen := make(map[string]bool)
	models := make([]string, 0, len(p.OpenAI.Models)+1)
	for _, m := range append([]string{defaultModel}, p.OpenAI.Models...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	return models
}

// DownloaderConfig bounds remote document fetches.
type DownloaderConfig struct {
	MaxSizeBytes        int64    `mapstructure:"max_size_bytes"`
	Timeout             int      `mapstructure:"timeout"` // milliseconds
	MaxRedirects        int      `mapstructure:"max_redirects"`
	AllowedContentTypes []string `mapstructure:"allowed_content_types"`
}

// CacheConfig selects and tunes the result cache backend.
type CacheConfig struct {
	Backend string `mapstructure:"backend"`  // redis | memory | disk | none
	TTL     int    `mapstructure:"ttl"`      // seconds
	Dir     string `mapstructure:"dir"`      // disk backend only
	MaxSize int    `mapstructure:"max_size"` // memory backend entry cap
}

// WebhookConfig drives completion callbacks.
type WebhookConfig struct {
	Secret       string `mapstructure:"secret"`
	Timeout      int    `mapstructure:"timeout"` // milliseconds
	MaxRetries   int    `mapstructure:"max_retries"`
	ReplayWindow int    `mapstructure:"replay_window"` // seconds
}

// WorkerConfig sizes the task execution pool.
type WorkerConfig struct {
	PoolSize  int `mapstructure:"pool_size"`
	QueueSize int `mapstructure:"queue_size"`
}

// SecurityConfig holds URL safety settings.
type SecurityConfig struct {
	AllowedDomains []string `mapstructure:"allowed_domains"`
	DNSTimeout     int      `mapstructure:"dns_timeout"` // milliseconds
	MaxURLLength   int      `mapstructure:"max_url_length"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
