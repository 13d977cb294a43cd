// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package config loads layered configuration with Koanf v2: struct
// defaults, then an optional YAML file, then SENTINEL_-prefixed
// environment variables. Precedence: ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/sentinel/internal/geo"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/queue"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sentinel/config.yaml",
	"/etc/sentinel/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "SENTINEL_CONFIG_PATH"

// envPrefix namespaces the environment variables this process reads.
const envPrefix = "SENTINEL_"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Geofence GeofenceConfig `koanf:"geofence"`
	Bus      BusConfig      `koanf:"bus"`
	Queue    QueueConfig    `koanf:"queue"`
	Logging  LoggingConfig  `koanf:"logging"`
	Zones    []ZoneConfig   `koanf:"zones"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	IngestRatePerMin  int           `koanf:"ingest_rate_per_min"`
	RequestRatePerMin int           `koanf:"request_rate_per_min"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GeofenceConfig tunes the monitor.
type GeofenceConfig struct {
	ExitHysteresis  float64       `koanf:"exit_hysteresis"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	BufferSize int `koanf:"buffer_size"`
}

// QueueConfig tunes the mutation queue.
type QueueConfig struct {
	Path          string        `koanf:"path"`
	SyncWrites    bool          `koanf:"sync_writes"`
	MaxAttempts   int           `koanf:"max_attempts"`
	AckTimeout    time.Duration `koanf:"ack_timeout"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	BackoffCap    time.Duration `koanf:"backoff_cap"`
	DrainInterval time.Duration `koanf:"drain_interval"`
	GCInterval    time.Duration `koanf:"gc_interval"`
}

// ToQueue converts to the queue package's config.
func (q QueueConfig) ToQueue() queue.Config {
	cfg := queue.DefaultConfig()
	cfg.Path = q.Path
	cfg.SyncWrites = q.SyncWrites
	cfg.MaxAttempts = q.MaxAttempts
	cfg.AckTimeout = q.AckTimeout
	cfg.RetryBackoff = q.RetryBackoff
	cfg.BackoffCap = q.BackoffCap
	cfg.DrainInterval = q.DrainInterval
	cfg.GCInterval = q.GCInterval
	return cfg
}

// LoggingConfig tunes the logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ToLogging converts to the logging package's config.
func (l LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		Level:     l.Level,
		Format:    l.Format,
		Caller:    l.Caller,
		Timestamp: true,
	}
}

// ZoneConfig seeds one safe zone.
type ZoneConfig struct {
	ID           string  `koanf:"id"`
	Name         string  `koanf:"name"`
	Category     string  `koanf:"category"`
	Latitude     float64 `koanf:"latitude"`
	Longitude    float64 `koanf:"longitude"`
	RadiusMeters float64 `koanf:"radius_meters"`
	Active       bool    `koanf:"active"`
}

// SeedZones converts the configured zone catalog into model zones.
func (c *Config) SeedZones() []models.Zone {
	zones := make([]models.Zone, 0, len(c.Zones))
	for _, z := range c.Zones {
		zones = append(zones, models.Zone{
			ID:       z.ID,
			Name:     z.Name,
			Category: models.ZoneCategory(z.Category),
			Center: geo.Coordinate{
				Latitude:  z.Latitude,
				Longitude: z.Longitude,
			},
			RadiusMeters: z.RadiusMeters,
			Active:       z.Active,
		})
	}
	return zones
}

// defaultConfig returns the built-in defaults, including the seed zone
// catalog around Lucknow's tourist corridor.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			CORSOrigins:       []string{"*"},
			IngestRatePerMin:  600,
			RequestRatePerMin: 300,
		},
		Geofence: GeofenceConfig{
			ExitHysteresis:  1.10,
			RefreshInterval: 30 * time.Second,
		},
		Bus: BusConfig{
			BufferSize: 256,
		},
		Queue: QueueConfig{
			Path:          "/data/mutations",
			SyncWrites:    true,
			MaxAttempts:   5,
			AckTimeout:    10 * time.Second,
			RetryBackoff:  500 * time.Millisecond,
			BackoffCap:    30 * time.Second,
			DrainInterval: 15 * time.Second,
			GCInterval:    time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Zones: []ZoneConfig{
			{
				ID: "zone-hazratganj-police", Name: "Hazratganj Police Station",
				Category: string(models.ZonePolice),
				Latitude: 26.8547, Longitude: 80.9462, RadiusMeters: 500, Active: true,
			},
			{
				ID: "zone-civil-hospital", Name: "Civil Hospital",
				Category: string(models.ZoneHospital),
				Latitude: 26.8467, Longitude: 80.9462, RadiusMeters: 300, Active: true,
			},
			{
				ID: "zone-tourist-facilitation", Name: "Tourist Facilitation Center",
				Category: string(models.ZoneTouristCenter),
				Latitude: 26.8601, Longitude: 80.9346, RadiusMeters: 400, Active: true,
			},
		},
	}
}

// Load reads configuration from defaults, an optional YAML file, and the
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransform maps SENTINEL_SERVER_READ_TIMEOUT to server.read_timeout.
// Sections are single words, so only the first underscore becomes a dot.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// findConfigFile returns the first config file that exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// processSliceFields splits comma-separated env strings for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	const path = "server.cors_origins"
	val := k.Get(path)
	strVal, ok := val.(string)
	if !ok || strVal == "" {
		return nil
	}
	parts := strings.Split(strVal, ",")
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	if err := k.Set(path, trimmed); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Geofence.ExitHysteresis < 1.0 {
		return fmt.Errorf("geofence.exit_hysteresis must be at least 1.0, got %g", c.Geofence.ExitHysteresis)
	}
	if c.Geofence.RefreshInterval <= 0 {
		return fmt.Errorf("geofence.refresh_interval must be positive, got %s", c.Geofence.RefreshInterval)
	}
	if c.Bus.BufferSize < 1 {
		return fmt.Errorf("bus.buffer_size must be at least 1, got %d", c.Bus.BufferSize)
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	for i, z := range c.Zones {
		if z.ID == "" {
			return fmt.Errorf("zones[%d].id is required", i)
		}
		coord := geo.Coordinate{Latitude: z.Latitude, Longitude: z.Longitude}
		if err := coord.Validate(); err != nil {
			return fmt.Errorf("zones[%d] (%s): %w", i, z.ID, err)
		}
		if z.RadiusMeters <= 0 {
			return fmt.Errorf("zones[%d] (%s): radius must be positive, got %g", i, z.ID, z.RadiusMeters)
		}
	}
	return nil
}

func (c *Config) validateQueue() error {
	qc := c.Queue.ToQueue()
	return qc.Validate()
}
