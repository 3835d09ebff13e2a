package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the hub server
type Config struct {
	Server      ServerSettings      `yaml:"server"`
	Database    DatabaseSettings    `yaml:"database"`
	Accumulator AccumulatorSettings `yaml:"accumulator"`
	MQTT        MQTTSettings        `yaml:"mqtt"`
	Logging     LoggingSettings     `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DatabaseSettings contains storage configuration
type DatabaseSettings struct {
	Path          string        `yaml:"path"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// AccumulatorSettings contains energy integration configuration
type AccumulatorSettings struct {
	// MaxGap caps the interval a single reading may integrate over,
	// bounding the energy error after a restart or long network gap.
	MaxGap time.Duration `yaml:"max_gap"`
}

// MQTTSettings contains publish-subscribe transport configuration
type MQTTSettings struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Pass            string `yaml:"pass"`
	BaseTopic       string `yaml:"base_topic"`
	Discovery       bool   `yaml:"discovery"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	QueueSize       int    `yaml:"queue_size"`
}

// LoggingSettings contains logging configuration
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file, then applies defaults and
// environment overrides. A missing file is not an error: the hub hardware is
// usually deployed with environment variables only.
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		yamlData, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(yamlData, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/readings.db"
	}
	if c.Database.RetentionDays == 0 {
		c.Database.RetentionDays = 90
	}
	if c.Database.CleanupPeriod == 0 {
		c.Database.CleanupPeriod = 1 * time.Hour
	}
	if c.Accumulator.MaxGap == 0 {
		c.Accumulator.MaxGap = 4 * time.Hour
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "home/efergy"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.QueueSize == 0 {
		c.MQTT.QueueSize = 256
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MQTT_ENABLED"); v != "" {
		c.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTT.Port = port
		}
	}
	if v := os.Getenv("MQTT_USER"); v != "" {
		c.MQTT.User = v
	}
	if v := os.Getenv("MQTT_PASS"); v != "" {
		c.MQTT.Pass = v
	}
	if v := os.Getenv("MQTT_BASE_TOPIC"); v != "" {
		c.MQTT.BaseTopic = v
	}
	if v := os.Getenv("HA_DISCOVERY"); v != "" {
		c.MQTT.Discovery = parseBool(v)
	}
	if v := os.Getenv("HA_DISCOVERY_PREFIX"); v != "" {
		c.MQTT.DiscoveryPrefix = v
	}
}

// parseBool accepts the truthy spellings the hub deployments already use.
func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Database.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}
	if c.Accumulator.MaxGap <= 0 {
		return fmt.Errorf("accumulator max gap must be positive")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt port must be between 1 and 65535")
		}
	}
	return nil
}

// String returns a safe string representation (hides the MQTT password)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: %+v, Database: %+v, Accumulator: %+v, MQTT: [enabled=%t broker=%s:%d user=%s pass=%s topic=%s discovery=%t], Logging: %+v}",
		c.Server,
		c.Database,
		c.Accumulator,
		c.MQTT.Enabled,
		c.MQTT.Broker,
		c.MQTT.Port,
		c.MQTT.User,
		maskSecret(c.MQTT.Pass),
		c.MQTT.BaseTopic,
		c.MQTT.Discovery,
		c.Logging,
	)
}

// maskSecret hides all of a secret value
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
