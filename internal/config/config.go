package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/simplekbd/internal/hw/gpio"
	"github.com/cjeanneret/simplekbd/internal/keyboard"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// KeyboardConfig selects the mode applied at startup.
type KeyboardConfig struct {
	Mode string `yaml:"mode"` // "", multi_line or single_line. "" leaves the device unconfigured
}

// HardwareConfig selects the GPIO backend and register access.
type HardwareConfig struct {
	Backend    string `yaml:"backend"`      // mock | periph | gpiocdev | rpio
	Chip       string `yaml:"chip"`         // gpiocdev only
	MemDevice  string `yaml:"mem_device"`   // pad register access for non-mock backends
	EdgePollMs int    `yaml:"edge_poll_ms"` // rpio only: edge-detect polling period
}

// LoggingConfig configures the debug logger.
type LoggingConfig struct {
	DebugLevel int    `yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	File       string `yaml:"file"`        // optional rotating log file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// WebConfig configures the HTTP control surface.
type WebConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// Config aggregates all application configuration.
type Config struct {
	Keyboard KeyboardConfig            `yaml:"keyboard"`
	Pins     keyboard.PinConfiguration `yaml:"pins"`
	Hardware HardwareConfig            `yaml:"hardware"`
	Logging  LoggingConfig             `yaml:"logging"`
	Web      WebConfig                 `yaml:"web"`
}

// Default returns the configuration used when a file leaves a field out.
func Default() *Config {
	return &Config{
		Pins: keyboard.DefaultPins(),
		Hardware: HardwareConfig{
			Backend:    gpio.BackendMock,
			Chip:       "gpiochip0",
			MemDevice:  "/dev/mem",
			EdgePollMs: 5,
		},
		Logging: LoggingConfig{
			DebugLevel: 1,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// ValidateConfigPath restricts a user-supplied path to a .yaml file directly
// inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q: extension must be .yaml", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q: must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration. Fields missing from
// the file keep their Default value.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileBytes)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and names, filling zero values that have a default.
func (c *Config) Validate() error {
	if c.Keyboard.Mode != "" {
		if _, err := keyboard.ParseMode(c.Keyboard.Mode); err != nil {
			return fmt.Errorf("keyboard.mode: %w", err)
		}
	}
	if err := c.Pins.Validate(); err != nil {
		return fmt.Errorf("pins: %w", err)
	}
	if c.Keyboard.Mode != "" && c.Pins.PollIRQ == 0 {
		if m, _ := keyboard.ParseMode(c.Keyboard.Mode); m == keyboard.ModeSingleLine {
			return fmt.Errorf("keyboard.mode %s requires pins.poll_irq", c.Keyboard.Mode)
		}
	}

	switch c.Hardware.Backend {
	case "":
		c.Hardware.Backend = gpio.BackendMock
	case gpio.BackendMock, gpio.BackendPeriph, gpio.BackendGPIOCdev, gpio.BackendRPi:
	default:
		return fmt.Errorf("hardware.backend %q is not one of mock, periph, gpiocdev, rpio", c.Hardware.Backend)
	}
	if c.Hardware.Chip == "" {
		c.Hardware.Chip = "gpiochip0"
	}
	if c.Hardware.MemDevice == "" {
		c.Hardware.MemDevice = "/dev/mem"
	}
	if c.Hardware.EdgePollMs <= 0 {
		c.Hardware.EdgePollMs = 5
	}

	if c.Logging.DebugLevel < 0 || c.Logging.DebugLevel > 4 {
		return fmt.Errorf("logging.debug_level must be between 0 and 4, got %d", c.Logging.DebugLevel)
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("logging.max_backups must be >= 0, got %d", c.Logging.MaxBackups)
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 0 and 65535, got %d", c.Web.Port)
	}
	return nil
}

// Mode returns the startup mode, or 0 when the device is left unconfigured.
func (c *Config) Mode() keyboard.Mode {
	m, _ := keyboard.ParseMode(c.Keyboard.Mode)
	return m
}

// EdgePoll returns the rpio edge-detect polling period.
func (c *Config) EdgePoll() time.Duration {
	return time.Duration(c.Hardware.EdgePollMs) * time.Millisecond
}

// GPIOOptions returns the options for gpio.NewDriver.
func (c *Config) GPIOOptions() gpio.Options {
	return gpio.Options{
		Backend:  c.Hardware.Backend,
		Chip:     c.Hardware.Chip,
		EdgePoll: c.EdgePoll(),
	}
}
