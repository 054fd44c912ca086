// Package config handles simulator configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/petdoor-sim/config.yaml,
// /config/config.yaml, /etc/petdoor-sim/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "petdoor-sim", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/petdoor-sim/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists, or "" when none is found (the simulator runs fine on
// defaults).
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// Config holds all simulator configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Control  ControlConfig  `yaml:"control"`
	Web      WebConfig      `yaml:"web"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Door     DoorConfig     `yaml:"door"`
	Battery  BatteryConfig  `yaml:"battery"`
	Firmware FirmwareConfig `yaml:"firmware"`
	Hardware HardwareConfig `yaml:"hardware"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the wire protocol listener.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 3000
}

// ControlConfig defines the optional control channel listener.
// Port 0 disables it.
type ControlConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// WebConfig defines the optional HTTP status server.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"` // Default: 8080
}

// MQTTConfig defines the optional Home Assistant MQTT publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`      // Default: petdoor
	DiscoveryPrefix    string `yaml:"discovery_prefix"` // Default: homeassistant
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// DoorConfig overrides the door's initial settings.
type DoorConfig struct {
	Timezone    string     `yaml:"timezone"`
	HoldTimeSec float64    `yaml:"hold_time_sec"`
	Timing      TimingYAML `yaml:"timing"`
	Autoretract *bool      `yaml:"autoretract"`
}

// TimingYAML sets the motion phase durations in seconds. Zero values
// keep the hardware defaults.
type TimingYAML struct {
	RiseTimeSec       float64 `yaml:"rise_time_sec"`
	SlowingTimeSec    float64 `yaml:"slowing_time_sec"`
	ClosingTopTimeSec float64 `yaml:"closing_top_time_sec"`
	ClosingMidTimeSec float64 `yaml:"closing_mid_time_sec"`
}

// BatteryConfig overrides the battery simulation.
type BatteryConfig struct {
	Percent           *int     `yaml:"percent"`
	Present           *bool    `yaml:"present"`
	ACPresent         *bool    `yaml:"ac_present"`
	ChargeRate        *float64 `yaml:"charge_rate"`    // %/min
	DischargeRate     *float64 `yaml:"discharge_rate"` // %/min
	UpdateIntervalSec float64  `yaml:"update_interval_sec"`
}

// FirmwareConfig overrides the reported firmware version.
type FirmwareConfig struct {
	Major int `yaml:"major"`
	Minor int `yaml:"minor"`
	Patch int `yaml:"patch"`
}

// HardwareConfig overrides the reported hardware identity.
type HardwareConfig struct {
	Version  int `yaml:"version"`
	Revision int `yaml:"revision"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks (pointer fields excepted; they
// distinguish "unset" from zero).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${MQTT_PASSWORD}). This is
	// a convenience for container deployments.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 3000
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "petdoor"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are
// populated. Returns an error describing the first problem found, or
// nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Control.Port < 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control.port %d out of range (0-65535)", c.Control.Port)
	}
	if c.Web.Enabled && (c.Web.Port < 1 || c.Web.Port > 65535) {
		return fmt.Errorf("web.port %d out of range (1-65535)", c.Web.Port)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.enabled requires mqtt.broker")
	}
	if c.Door.HoldTimeSec < 0 {
		return fmt.Errorf("door.hold_time_sec must not be negative")
	}
	if c.Battery.UpdateIntervalSec < 0 {
		return fmt.Errorf("battery.update_interval_sec must not be negative")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration. All defaults are already
// applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
