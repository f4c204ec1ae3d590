package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Catalog CatalogConfig `yaml:"catalog"`
	Scan    ScanConfig    `yaml:"scan"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
	APIToken string `yaml:"api_token"`
}

// DataConfig holds on-disk state locations. The settings database lives in
// Dir alongside the scan history document and report files.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// CatalogConfig holds the connection to the host media server.
type CatalogConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// ScanConfig holds scheduler settings for the reconciliation loop.
type ScanConfig struct {
	IntervalHours int `yaml:"interval_hours"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8585,
			BasePath: "",
		},
		Data: DataConfig{
			Dir: "/data",
		},
		Scan: ScanConfig{
			IntervalHours: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// SettingsDBPath returns the path of the settings database inside the data dir.
func (c *Config) SettingsDBPath() string {
	return filepath.Join(c.Data.Dir, "ratingsync.db")
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("RS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RS_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("RS_API_TOKEN"); v != "" {
		c.Server.APIToken = v
	}
	if v := os.Getenv("RS_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("RS_CATALOG_URL"); v != "" {
		c.Catalog.URL = v
	}
	if v := os.Getenv("RS_CATALOG_API_KEY"); v != "" {
		c.Catalog.APIKey = v
	}
	if v := os.Getenv("RS_SCAN_INTERVAL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.Scan.IntervalHours = hours
		}
	}
	if v := os.Getenv("RS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("RS_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.Catalog.URL == "" {
		return fmt.Errorf("catalog url is required")
	}
	if c.Scan.IntervalHours < 1 {
		return fmt.Errorf("scan interval must be at least 1 hour, got %d", c.Scan.IntervalHours)
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}
