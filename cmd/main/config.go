package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the storage and HTTP settings.
type ServerConfig struct {
	ListenAddr   string   `json:"listen_addr"`
	LogLevel     string   `json:"log_level"`
	DataDir      string   `json:"data_dir"`
	DatabasePath string   `json:"database_path"`
	CORSOrigins  []string `json:"cors_origins"`
}

// GenerationConfig holds the defaults used when training and generating.
type GenerationConfig struct {
	Weight      float64 `json:"weight"`
	Order       int     `json:"order"`
	Composer    string  `json:"composer"`
	Temperature float64 `json:"temperature"`
	Length      int     `json:"length"`
	Tempo       float64 `json:"tempo"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig     `json:"server_config"`
	Generation *GenerationConfig `json:"generation_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:   ":7390",
		LogLevel:     "info",
		DataDir:      "./data",
		DatabasePath: "./data/cadenza.db?_journal_mode=WAL&_busy_timeout=5000",
		CORSOrigins:  []string{"*"},
	}
}

// DefaultGenerationConfig creates the generation defaults.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		Weight:      0.3,
		Order:       2,
		Composer:    "bach",
		Temperature: 1.0,
		Length:      16,
		Tempo:       120,
	}
}

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Generation: DefaultGenerationConfig(),
	}
}

// LoadConfig reads the configuration from a JSON file at the given path,
// then applies CADENZA_* environment overrides and validates the result.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		var data []byte
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			// The defaults are still usable without a file on disk.
			fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err = json.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if config.Server == nil {
			config.Server = DefaultServerConfig()
		}
		if config.Generation == nil {
			config.Generation = DefaultGenerationConfig()
		}
	}

	if err = config.applyEnv(); err != nil {
		return nil, err
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides file values with any CADENZA_* variables that are set.
func (c *Config) applyEnv() error {
	c.Server.ListenAddr = getEnv("CADENZA_LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.LogLevel = getEnv("CADENZA_LOG_LEVEL", c.Server.LogLevel)
	c.Server.DataDir = getEnv("CADENZA_DATA_DIR", c.Server.DataDir)
	c.Server.DatabasePath = getEnv("CADENZA_DATABASE_PATH", c.Server.DatabasePath)
	if origins := os.Getenv("CADENZA_CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = strings.Split(origins, ",")
	}
	c.Generation.Composer = getEnv("CADENZA_COMPOSER", c.Generation.Composer)

	var err error
	if c.Generation.Weight, err = getEnvFloat("CADENZA_WEIGHT", c.Generation.Weight); err != nil {
		return err
	}
	if c.Generation.Temperature, err = getEnvFloat("CADENZA_TEMPERATURE", c.Generation.Temperature); err != nil {
		return err
	}
	if c.Generation.Order, err = getEnvInt("CADENZA_ORDER", c.Generation.Order); err != nil {
		return err
	}
	return nil
}

// Validate checks the generation defaults against the limits of the models.
func (c *Config) Validate() error {
	g := c.Generation
	switch {
	case !(g.Weight >= 0 && g.Weight <= 1):
		return fmt.Errorf("%w: weight %v must be within [0, 1]", markov.ErrInvalidConfiguration, g.Weight)
	case math.IsNaN(g.Temperature) || math.IsInf(g.Temperature, 0):
		return fmt.Errorf("%w: temperature %v must be a finite number", markov.ErrInvalidConfiguration, g.Temperature)
	case g.Order < markov.MinOrder || g.Order > markov.MaxOrder:
		return fmt.Errorf("%w: order %d must be within [%d, %d]", markov.ErrInvalidConfiguration, g.Order, markov.MinOrder, markov.MaxOrder)
	case g.Length < 0:
		return fmt.Errorf("%w: length %d must not be negative", markov.ErrInvalidConfiguration, g.Length)
	case !(g.Tempo > 0) || math.IsInf(g.Tempo, 0):
		return fmt.Errorf("%w: tempo %v must be positive", markov.ErrInvalidConfiguration, g.Tempo)
	}
	if _, err := parseLogLevel(c.Server.LogLevel); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", markov.ErrInvalidConfiguration, key, value)
	}
	return f, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", markov.ErrInvalidConfiguration, key, value)
	}
	return n, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", markov.ErrInvalidConfiguration, level)
	}
}
