package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Role selects which side of the wireless session this node plays
type Role string

const (
	RoleServer Role = "server" // accepts connections and publishes sensor indications
	RoleClient Role = "client" // scans, connects and subscribes to a server
)

// GPIOConfig maps the physical input/output lines used by the node
type GPIOConfig struct {
	Chip       string `yaml:"chip" default:"gpiochip0"`
	ButtonA    int    `yaml:"button_a" default:"6"`
	ButtonB    int    `yaml:"button_b" default:"7"`
	GestureInt int    `yaml:"gesture_int" default:"11"`
	PulseReset int    `yaml:"pulse_reset" default:"25"`
	PulseMFIO  int    `yaml:"pulse_mfio" default:"23"`
}

// SimulationConfig drives the simulated hardware used by `vitals simulate`
type SimulationConfig struct {
	// Script is a comma separated list of steps: gesture names (up, down, left,
	// right, near, far, none), "press-a", "press-b", "release-a", "release-b",
	// "enable-gesture", "finger-on", "finger-off", "disconnect" or
	// "wait:<duration>".
	Script      string  `yaml:"script" default:"enable-gesture,up,wait:8s,left,wait:20s,down"`
	Temperature float64 `yaml:"temperature" default:"23.5"`
	HeartRate   int     `yaml:"heart_rate" default:"72"`
	SpO2        int     `yaml:"spo2" default:"97"`
}

// Config holds application configuration
type Config struct {
	LogLevel      logrus.Level `yaml:"log_level" default:"4"`
	Role          Role         `yaml:"role" default:"server"`
	DeviceName    string       `yaml:"device_name" default:"vitals"`
	ServerAddress string       `yaml:"server_address"`

	QueueCapacity int    `yaml:"queue_capacity" default:"16"`
	EventBuffer   int    `yaml:"event_buffer" default:"64"`
	JournalSize   uint32 `yaml:"journal_size" default:"64"`

	TimerPeriod time.Duration `yaml:"timer_period" default:"3s"`
	MinDelay    time.Duration `yaml:"min_delay" default:"1ms"`
	MaxDelay    time.Duration `yaml:"max_delay" default:"3s"`

	BusDevice string `yaml:"bus_device" default:"/dev/i2c-1"`

	GPIO       GPIOConfig       `yaml:"gpio"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with
func (c *Config) Validate() error {
	switch c.Role {
	case RoleServer, RoleClient:
	default:
		return fmt.Errorf("unknown role %q (expected %q or %q)", c.Role, RoleServer, RoleClient)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be > 0, got %d", c.QueueCapacity)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be > 0, got %d", c.EventBuffer)
	}
	if c.TimerPeriod <= 0 {
		return fmt.Errorf("timer_period must be > 0, got %s", c.TimerPeriod)
	}
	if c.MinDelay <= 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("invalid delay bounds [%s, %s]", c.MinDelay, c.MaxDelay)
	}
	if c.Role == RoleClient && c.ServerAddress == "" {
		return fmt.Errorf("server_address is required for the %s role", RoleClient)
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
