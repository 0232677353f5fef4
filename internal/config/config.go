// Package config describes the board the emulator builds: RAM size and
// the device list, from a YAML file, CLI flags, or both (the CLI adds
// --device entries after the file's devices).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeviceTypeVirtioBlock is the only pluggable device type today.
const DeviceTypeVirtioBlock = "virtio-block"

// Device is one pluggable device slot.
type Device struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// Config is the board description.
type Config struct {
	// RAMSize in bytes; zero selects the board default.
	RAMSize uint64 `yaml:"ram_size"`

	Devices []Device `yaml:"devices"`
}

// Load reads a YAML board description.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for i, d := range c.Devices {
		if d.Type != DeviceTypeVirtioBlock {
			return fmt.Errorf("device %d: unknown type %q", i, d.Type)
		}
		if d.Path == "" {
			return fmt.Errorf("device %d: missing path", i)
		}
	}
	return nil
}

// ParseDeviceFlag parses a --device value of the form "type:path".
func ParseDeviceFlag(val string) (Device, error) {
	typ, path, ok := strings.Cut(val, ":")
	if !ok || path == "" {
		return Device{}, fmt.Errorf("malformed device %q, want type:path", val)
	}
	if typ != DeviceTypeVirtioBlock {
		return Device{}, fmt.Errorf("unknown device type %q", typ)
	}
	return Device{Type: typ, Path: path}, nil
}
