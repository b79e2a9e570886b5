package taskstream

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds the task server settings loaded from a YAML file.
type Config struct {
	Server struct {
		Address  string `yaml:"address"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Bucket struct {
		Path    string `yaml:"path"`
		MaxSize int64  `yaml:"max_size"`
	} `yaml:"bucket"`
}

// DefaultConfig returns the configuration used when fields are absent.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Address = ":5000"
	cfg.Server.LogLevel = "info"
	cfg.Bucket.Path = "./bucket"
	cfg.Bucket.MaxSize = MaxObjectSize
	return cfg
}

// LoadConfig reads the configuration from path, applying defaults for
// absent fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Logger builds a zap logger honoring the configured log level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Server.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
