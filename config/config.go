package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	RateLimitPerIP  float64       `mapstructure:"rate_limit_per_ip"` // requests per second, 0 disables
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OCRConfig holds OCR service configuration
type OCRConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
	MaxImageBytes   int64         `mapstructure:"max_image_bytes"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	SkipHealthCheck bool          `mapstructure:"skip_health_check"`
}

// LLMConfig holds language model configuration. An empty API key disables the model.
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	MaxInputChars  int           `mapstructure:"max_input_chars"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
}

// Enabled reports whether model extraction and estimation are configured
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// DatasetConfig locates the reference emissions dataset (.csv or .xlsx)
type DatasetConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig holds receipt pipeline tuning
type PipelineConfig struct {
	Workers           int           `mapstructure:"workers"`
	MinQualityScore   int           `mapstructure:"min_quality_score"`
	MinTextLength     int           `mapstructure:"min_text_length"`
	FuzzyThreshold    float64       `mapstructure:"fuzzy_threshold"`
	MaxEmissionFactor float64       `mapstructure:"max_emission_factor"`
	RetryMaxAttempts  int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	Type            string        `mapstructure:"type"` // only "memory" is supported
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/emissionary/")

	// EMISSIONARY_OCR_BASE_URL -> ocr.base_url
	v.SetEnvPrefix("EMISSIONARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets a default for every key so AutomaticEnv can override each of them
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_upload_bytes", 12<<20)
	v.SetDefault("server.rate_limit_per_ip", 2.0)
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// OCR defaults
	v.SetDefault("ocr.base_url", "http://localhost:8000")
	v.SetDefault("ocr.request_timeout", "30s")
	v.SetDefault("ocr.health_timeout", "5s")
	v.SetDefault("ocr.max_image_bytes", 10<<20)
	v.SetDefault("ocr.rate_limit", 5.0)
	v.SetDefault("ocr.skip_health_check", false)

	// LLM defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.request_timeout", "30s")
	v.SetDefault("llm.rate_limit", 2.0)
	v.SetDefault("llm.max_input_chars", 8000)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1500)

	// Dataset defaults
	v.SetDefault("dataset.path", "data/food_emissions.csv")

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.min_quality_score", 3)
	v.SetDefault("pipeline.min_text_length", 20)
	v.SetDefault("pipeline.fuzzy_threshold", 0.7)
	v.SetDefault("pipeline.max_emission_factor", 150.0)
	v.SetDefault("pipeline.retry_max_attempts", 3)
	v.SetDefault("pipeline.retry_base_delay", "500ms")
	v.SetDefault("pipeline.retry_max_delay", "8s")

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.cleanup_interval", "10m")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.OCR.BaseURL == "" {
		return fmt.Errorf("OCR base URL is required (set EMISSIONARY_OCR_BASE_URL)")
	}

	if config.Dataset.Path == "" {
		return fmt.Errorf("dataset path is required (set EMISSIONARY_DATASET_PATH)")
	}

	if config.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1, got: %d", config.Pipeline.Workers)
	}

	if config.Pipeline.MinQualityScore < 0 || config.Pipeline.MinQualityScore > 10 {
		return fmt.Errorf("min quality score must be between 0 and 10, got: %d", config.Pipeline.MinQualityScore)
	}

	if config.Pipeline.FuzzyThreshold <= 0 || config.Pipeline.FuzzyThreshold >= 1 {
		return fmt.Errorf("fuzzy threshold must be between 0 and 1 exclusive, got: %g", config.Pipeline.FuzzyThreshold)
	}

	if config.Pipeline.MaxEmissionFactor <= 0 {
		return fmt.Errorf("max emission factor must be positive, got: %g", config.Pipeline.MaxEmissionFactor)
	}

	if config.Pipeline.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got: %d", config.Pipeline.RetryMaxAttempts)
	}

	if config.OCR.MaxImageBytes <= 0 {
		return fmt.Errorf("OCR max image bytes must be positive, got: %d", config.OCR.MaxImageBytes)
	}

	if config.Server.MaxUploadBytes < config.OCR.MaxImageBytes {
		return fmt.Errorf("server max upload bytes (%d) must be at least OCR max image bytes (%d)",
			config.Server.MaxUploadBytes, config.OCR.MaxImageBytes)
	}

	if config.Cache.Type != "memory" {
		return fmt.Errorf("cache type must be 'memory', got: %s", config.Cache.Type)
	}

	if config.LLM.Enabled() && config.LLM.Model == "" {
		return fmt.Errorf("LLM model is required when an API key is set")
	}

	return nil
}
