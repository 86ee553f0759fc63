package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultPort is the listen port used when none is configured.
const DefaultPort = 8080

// DefaultPoolSize is the number of dispatch workers.
const DefaultPoolSize = 16

// Config represents the complete execgw configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`
}

// ServerConfig defines the listener.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port" validate:"gte=0,lte=65535"`
	ReusePort bool   `yaml:"reuse_port"`

	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" validate:"gte=0"`

	// MaxBodySize accepts human sizes ("1MiB", "512KB", "1048576").
	MaxBodySize string `yaml:"max_body_size"`

	// DrainTimeout bounds how long Stop waits for admitted requests to finish
	// before closing connections. Zero means do not wait.
	DrainTimeout time.Duration `yaml:"drain_timeout" validate:"gte=0"`
}

// DispatchConfig defines the worker pool.
type DispatchConfig struct {
	PoolSize int `yaml:"pool_size" validate:"gte=1,lte=4096"`
}

// StorageConfig selects the entity store.
type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=sqlite badger memory"`
	Path    string `yaml:"path" validate:"required_unless=Backend memory"`
}

// MaxBodyBytes parses MaxBodySize. An empty value means unlimited.
func (s ServerConfig) MaxBodyBytes() (int64, error) {
	if s.MaxBodySize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_body_size %q: %w", s.MaxBodySize, err)
	}
	if n > 1<<40 {
		return 0, fmt.Errorf("max_body_size %q too large", s.MaxBodySize)
	}
	return int64(n), nil
}

// Defaults returns a Config with the documented defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "execgw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Server: ServerConfig{
			Port:         DefaultPort,
			ReusePort:    true,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodySize:  "1MiB",
		},
		Dispatch: DispatchConfig{
			PoolSize: DefaultPoolSize,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "./data/entities.db",
		},
	}
}

// FromPort returns the default configuration listening on port.
func FromPort(port int) *Config {
	cfg := Defaults()
	cfg.Server.Port = port
	return cfg
}
