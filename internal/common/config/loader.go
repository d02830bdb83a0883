// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like OPENAI_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, e.g. config.production.yaml
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the working directory or the project root.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars substitutes ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills secrets from plain environment variables
// when the config file left them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Providers.OpenAI.APIKey == "" {
		if val := os.Getenv("OPENAI_API_KEY"); val != "" {
			cfg.Providers.OpenAI.APIKey = val
		}
	}
	if cfg.Providers.OpenAI.BaseURL == "" {
		if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
			cfg.Providers.OpenAI.BaseURL = val
		}
	}

	if cfg.Webhook.Secret == "" {
		if val := os.Getenv("WEBHOOK_SECRET"); val != "" {
			cfg.Webhook.Secret = val
		}
	}

	if cfg.Database.Redis.Address == "" {
		if val := os.Getenv("REDIS_ADDRESS"); val != "" {
			cfg.Database.Redis.Address = val
		}
	}
	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15000
	}

	// Extraction defaults
	if cfg.Extraction.DefaultModel == "" {
		cfg.Extraction.DefaultModel = "gpt-4o"
	}
	if cfg.Extraction.MaxCharBuffer == 0 {
		cfg.Extraction.MaxCharBuffer = 1000
	}
	if cfg.Extraction.MaxWorkers == 0 {
		cfg.Extraction.MaxWorkers = 10
	}
	if cfg.Extraction.MaxPasses == 0 {
		cfg.Extraction.MaxPasses = 5
	}
	if cfg.Extraction.ConsensusThreshold == 0 {
		cfg.Extraction.ConsensusThreshold = 0.6
	}
	if cfg.Extraction.TaskTimeLimit == 0 {
		cfg.Extraction.TaskTimeLimit = 600000
	}
	if cfg.Extraction.ResultTTL == 0 {
		cfg.Extraction.ResultTTL = 86400
	}

	// Provider defaults
	if cfg.Providers.OpenAI.Timeout == 0 {
		cfg.Providers.OpenAI.Timeout = 120000
	}

	// Downloader defaults
	if cfg.Downloader.MaxSizeBytes == 0 {
		cfg.Downloader.MaxSizeBytes = 50 * 1024 * 1024
	}
	if cfg.Downloader.Timeout == 0 {
		cfg.Downloader.Timeout = 30000
	}
	if cfg.Downloader.MaxRedirects == 0 {
		cfg.Downloader.MaxRedirects = 5
	}
	if len(cfg.Downloader.AllowedContentTypes) == 0 {
		cfg.Downloader.AllowedContentTypes = []string{
			"text/plain",
			"text/html",
			"text/markdown",
			"application/json",
			"application/xml",
			"text/xml",
		}
	}

	// Cache defaults
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "redis"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 86400
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 1024
	}

	// Webhook defaults
	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = 10000
	}
	if cfg.Webhook.MaxRetries == 0 {
		cfg.Webhook.MaxRetries = 3
	}
	if cfg.Webhook.ReplayWindow == 0 {
		cfg.Webhook.ReplayWindow = 300
	}

	// Worker pool defaults
	if cfg.Worker.PoolSize == 0 {
		cfg.Worker.PoolSize = 10
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 100
	}

	// Security defaults
	if cfg.Security.DNSTimeout == 0 {
		cfg.Security.DNSTimeout = 5000
	}
	if cfg.Security.MaxURLLength == 0 {
		cfg.Security.MaxURLLength = 2048
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	switch cfg.Cache.Backend {
	case "redis", "memory", "none":
	case "disk":
		if cfg.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the disk backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of redis, memory, disk, none")
	}

	if cfg.Extraction.ConsensusThreshold < 0 || cfg.Extraction.ConsensusThreshold > 1 {
		return fmt.Errorf("extraction.consensus_threshold must be in [0, 1]")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
