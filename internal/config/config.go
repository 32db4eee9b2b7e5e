package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor SIMSEARCH_CONFIG is set
const DefaultPath = "simsearch.yaml"

// Config is the complete simsearch configuration
type Config struct {
	Catalog CatalogConfig `yaml:"catalog"`
	Encoder EncoderConfig `yaml:"encoder"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// CatalogConfig points at the catalog data service or a local corpus file
type CatalogConfig struct {
	URL       string        `yaml:"url,omitempty"`
	Path      string        `yaml:"path,omitempty"`
	File      string        `yaml:"file,omitempty"`
	TextField string        `yaml:"text_field,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// EncoderConfig selects and configures the embedding model
type EncoderConfig struct {
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	CacheDir  string `yaml:"cache_dir,omitempty"`
	BatchSize int    `yaml:"batch_size,omitempty"`
}

// IndexConfig controls index rebuilds
type IndexConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// SearchConfig controls query behaviour
type SearchConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// ServerConfig controls the exposed transport
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	Transport string `yaml:"transport"`
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
}

// LoggingConfig controls the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Path:      "/projects/amenities_data",
			TextField: "text",
			Timeout:   30 * time.Second,
		},
		Encoder: EncoderConfig{
			Model:     "hashing:512",
			BatchSize: 64,
		},
		Index: IndexConfig{
			RefreshInterval: time.Hour,
		},
		Search: SearchConfig{
			DefaultLimit: 5,
		},
		Server: ServerConfig{
			Addr:      ":8001",
			Transport: "http",
			Name:      "simsearch",
			Version:   "0.1.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the YAML file and the environment,
// in that order. An empty path falls back to SIMSEARCH_CONFIG, then DefaultPath;
// only an explicitly requested file is required to exist. Overrides run after
// the environment and before validation.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("SIMSEARCH_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() error {
	// DATA_SERVICE_URL is the name older deployments use for the catalog service
	setString(&c.Catalog.URL, "DATA_SERVICE_URL")
	setString(&c.Catalog.URL, "SIMSEARCH_CATALOG_URL")
	setString(&c.Catalog.File, "SIMSEARCH_CATALOG_FILE")
	setString(&c.Catalog.TextField, "SIMSEARCH_CATALOG_TEXT_FIELD")
	setString(&c.Encoder.Model, "SIMSEARCH_ENCODER_MODEL")
	setString(&c.Encoder.APIKey, "SIMSEARCH_ENCODER_API_KEY")
	setString(&c.Encoder.BaseURL, "SIMSEARCH_ENCODER_BASE_URL")
	setString(&c.Server.Addr, "SIMSEARCH_ADDR")
	setString(&c.Logging.Level, "SIMSEARCH_LOG_LEVEL")
	setString(&c.Logging.File, "SIMSEARCH_LOG_FILE")

	if err := setDuration(&c.Index.RefreshInterval, "SIMSEARCH_REFRESH_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Search.Timeout, "SIMSEARCH_SEARCH_TIMEOUT"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Catalog.URL == "" && c.Catalog.File == "" {
		errs = append(errs, errors.New("catalog.url or catalog.file is required"))
	}
	if c.Catalog.URL != "" && c.Catalog.File != "" {
		errs = append(errs, errors.New("catalog.url and catalog.file are mutually exclusive"))
	}
	if c.Catalog.Timeout <= 0 {
		errs = append(errs, errors.New("catalog.timeout must be positive"))
	}
	if c.Index.RefreshInterval < 0 {
		errs = append(errs, errors.New("index.refresh_interval must not be negative"))
	}
	if c.Search.DefaultLimit <= 0 {
		errs = append(errs, errors.New("search.default_limit must be positive"))
	}
	if c.Search.Timeout < 0 {
		errs = append(errs, errors.New("search.timeout must not be negative"))
	}
	switch c.Server.Transport {
	case "http", "stdio":
	default:
		errs = append(errs, fmt.Errorf("server.transport must be http or stdio, got %q", c.Server.Transport))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
