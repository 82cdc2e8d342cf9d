package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Supported transports and output formats.
const (
	TransportBLE     = "ble"
	TransportClassic = "classic"

	OutputText = "text"
	OutputJSON = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level  `yaml:"log_level" json:"log_level"`
	Transport      string        `yaml:"transport" json:"transport" default:"ble"`
	DeviceName     string        `yaml:"device_name" json:"device_name" default:"HRSTM"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	Adapter        string        `yaml:"adapter" json:"adapter" default:"hci0"`
	RFCOMMChannel  uint8         `yaml:"rfcomm_channel" json:"rfcomm_channel" default:"1"`
	DeliveryBuffer int           `yaml:"delivery_buffer" json:"delivery_buffer" default:"64"`
	OutputFormat   string        `yaml:"output_format" json:"output_format" default:"text"` // text, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Transport) {
	case TransportBLE, TransportClassic:
	default:
		return fmt.Errorf("unknown transport %q (expected %s or %s)", c.Transport, TransportBLE, TransportClassic)
	}

	switch c.OutputFormat {
	case OutputText, OutputJSON:
	default:
		return fmt.Errorf("unknown output format %q (expected %s or %s)", c.OutputFormat, OutputText, OutputJSON)
	}

	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan timeout must not be negative, got %s", c.ScanTimeout)
	}
	if c.DeliveryBuffer <= 0 {
		return fmt.Errorf("delivery buffer must be positive, got %d", c.DeliveryBuffer)
	}
	if c.RFCOMMChannel < 1 || c.RFCOMMChannel > 30 {
		return fmt.Errorf("rfcomm channel must be in 1..30, got %d", c.RFCOMMChannel)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
