// Package config provides configuration management for the go-egauge application.
package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`

	// Device identity and token handling
	Device struct {
		ID                  string `mapstructure:"id"`
		Username            string `mapstructure:"username"`
		Password            string `mapstructure:"password"`
		TokenRenewalSeconds int    `mapstructure:"token_renewal_buffer_seconds"`
	} `mapstructure:"device"`

	// Multipliers maps register type to its calibration factor
	Multipliers map[string]float64 `mapstructure:"multipliers"`

	// Collector settings
	Collector struct {
		Enabled         bool `mapstructure:"enabled"`
		IntervalSeconds int  `mapstructure:"interval_seconds"`
		RoundDecimals   int  `mapstructure:"round_decimals"`
	} `mapstructure:"collector"`

	// CSV export settings
	CSV struct {
		Enabled   bool   `mapstructure:"enabled"`
		Directory string `mapstructure:"directory"`
	} `mapstructure:"csv"`

	// MQTT settings
	MQTT struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Topic    string `mapstructure:"topic"`
		Retain   bool   `mapstructure:"retain"`
	} `mapstructure:"mqtt"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
	}

	cfg.Device.TokenRenewalSeconds = 60

	// Default multipliers: power-like types calibrate 1:1, energy-like
	// accumulators convert watt-seconds to kilowatt-hours.
	cfg.Multipliers = map[string]float64{
		"P": 1,
		"S": 1,
		"E": 1.0 / 3600000.0,
	}

	// Default collector settings
	cfg.Collector.Enabled = true
	cfg.Collector.IntervalSeconds = 60
	cfg.Collector.RoundDecimals = 6

	// Default CSV settings
	cfg.CSV.Enabled = true
	cfg.CSV.Directory = "data"

	// Default MQTT settings
	cfg.MQTT.Enabled = false
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.Topic = "energy/egauge"
	cfg.MQTT.Retain = false

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("EGAUGE")
	v.AutomaticEnv()

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device id is required")
	}
	if c.Device.Username == "" || c.Device.Password == "" {
		return fmt.Errorf("device credentials are required")
	}
	if c.Collector.IntervalSeconds <= 0 {
		return fmt.Errorf("collector interval must be positive, got %d", c.Collector.IntervalSeconds)
	}
	if c.Collector.RoundDecimals < 0 {
		return fmt.Errorf("round_decimals must not be negative, got %d", c.Collector.RoundDecimals)
	}
	for typ, factor := range c.Multipliers {
		if math.IsNaN(factor) || math.IsInf(factor, 0) {
			return fmt.Errorf("multiplier for register type %q is not finite", typ)
		}
	}
	return nil
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("go-egauge Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")

	logger.Info().
		Str("id", c.Device.ID).
		Str("username", c.Device.Username).
		Int("token_renewal_buffer_seconds", c.Device.TokenRenewalSeconds).
		Msg("Device")

	logger.Info().Int("register_types", len(c.Multipliers)).Msg("Multiplier table")

	logger.Info().Bool("enabled", c.Collector.Enabled).Msg("Collector Enabled")
	if c.Collector.Enabled {
		logger.Info().
			Int("interval_seconds", c.Collector.IntervalSeconds).
			Int("round_decimals", c.Collector.RoundDecimals).
			Msg("Collector")
	}

	logger.Info().Bool("enabled", c.CSV.Enabled).Msg("CSV Export Enabled")
	if c.CSV.Enabled {
		logger.Info().Str("directory", c.CSV.Directory).Msg("CSV Export")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic", c.MQTT.Topic).
			Bool("retain", c.MQTT.Retain).
			Msg("MQTT Configuration")
	}

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Msg("-----------------------------")
}
