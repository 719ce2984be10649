package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Driver names.
const (
	DriverIPRoute = "iproute"
	DriverNetlink = "netlink"
)

// Config is the vnetmgrd configuration.
type Config struct {
	// Logging
	LogLevel string    `yaml:"logLevel"` // debug, info, warn, error
	LogFile  LogConfig `yaml:"logFile"`

	// Inbound config snapshot (watched for changes)
	ConfigDBPath string `yaml:"configDBPath"`
	// Downstream app tables, "" keeps them in memory only
	AppDBPath string `yaml:"appDBPath"`
	// Delimiter used for composite keys in app tables
	AppKeyDelimiter string `yaml:"appKeyDelimiter"`

	Kernel KernelConfig `yaml:"kernel"`

	// How often deferred records are retried
	RetryInterval time.Duration `yaml:"retryInterval"`

	// HTTP API + metrics, "" disables
	ListenAddr string `yaml:"listenAddr"`
}

// LogConfig enables a rotated log file in addition to stderr.
type LogConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// KernelConfig selects and tunes the kernel driver.
type KernelConfig struct {
	Driver           string `yaml:"driver"`   // "iproute" or "netlink"
	IPBinary         string `yaml:"ipBinary"` // iproute only
	DevicePrefix     string `yaml:"devicePrefix"`
	DefaultVxlanPort uint16 `yaml:"defaultVxlanPort"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFile.Path != "" {
		if c.LogFile.MaxSizeMB == 0 {
			c.LogFile.MaxSizeMB = 50
		}
		if c.LogFile.MaxBackups == 0 {
			c.LogFile.MaxBackups = 5
		}
	}
	if c.ConfigDBPath == "" {
		c.ConfigDBPath = "/etc/vnetmgr/config_db.yaml"
	}
	if c.AppKeyDelimiter == "" {
		c.AppKeyDelimiter = ":"
	}
	if c.Kernel.Driver == "" {
		c.Kernel.Driver = DriverIPRoute
	}
	if c.Kernel.IPBinary == "" {
		c.Kernel.IPBinary = "/sbin/ip"
	}
	if c.Kernel.DevicePrefix == "" {
		c.Kernel.DevicePrefix = "Vxlan"
	}
	if c.Kernel.DefaultVxlanPort == 0 {
		c.Kernel.DefaultVxlanPort = 4789
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = time.Second
	}
}

// Validate checks the configuration for values that can never work.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logLevel %q", c.LogLevel))
	}
	switch c.Kernel.Driver {
	case DriverIPRoute, DriverNetlink:
	default:
		errs = append(errs, fmt.Errorf("invalid kernel.driver %q (want %s or %s)", c.Kernel.Driver, DriverIPRoute, DriverNetlink))
	}
	// the device name must stay within IFNAMSIZ with a 24-bit VNI appended
	if len(c.Kernel.DevicePrefix) > 7 {
		errs = append(errs, fmt.Errorf("kernel.devicePrefix %q longer than 7 characters", c.Kernel.DevicePrefix))
	}
	if c.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid retryInterval %s", c.RetryInterval))
	}
	return errors.Join(errs...)
}

// Load reads a YAML config file and applies defaults. A missing file yields
// the default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
