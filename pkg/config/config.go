// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package config loads the agent configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/execguard/agent/pkg/actor"
	"github.com/execguard/agent/pkg/api"
	"github.com/execguard/agent/pkg/dataplane"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "/etc/execguard/agent.yaml"

// Config is the agent configuration.
type Config struct {
	LogLevel        string `yaml:"log_level"`
	BPFObject       string `yaml:"bpf_object"`
	MailboxCapacity int    `yaml:"mailbox_capacity"`

	Storage        StorageConfig        `yaml:"storage"`
	DBus           DBusConfig           `yaml:"dbus"`
	API            api.Config           `yaml:"api"`
	ProgramMonitor ProgramMonitorConfig `yaml:"program_monitor"`
	NetworkMonitor NetworkMonitorConfig `yaml:"network_monitor"`
}

// StorageConfig controls rule persistence. An empty Path keeps rules in
// memory only.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DBusConfig controls the D-Bus facade.
type DBusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bus     string `yaml:"bus"` // "system" | "session"
	Name    string `yaml:"name"`
}

type ProgramMonitorConfig struct {
	Enabled bool `yaml:"enabled"`
}

type NetworkMonitorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
	XDPMode   string `yaml:"xdp_mode"` // "generic" | "driver" | "offload"
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel:        "info",
		BPFObject:       "/usr/lib/execguard/execguard.bpf.o",
		MailboxCapacity: actor.DefaultCapacity,
		Storage: StorageConfig{
			Path: "/var/lib/execguard/rules.db",
		},
		DBus: DBusConfig{
			Enabled: true,
			Bus:     "system",
			Name:    "io.execguard.Agent",
		},
		API: *api.DefaultConfig(),
		ProgramMonitor: ProgramMonitorConfig{
			Enabled: true,
		},
		NetworkMonitor: NetworkMonitorConfig{
			Enabled: false,
			XDPMode: "generic",
		},
	}
}

// LoadConfig reads path and merges it over DefaultConfig. A missing file
// at DefaultPath is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.BPFObject == "" {
		return errors.New("bpf_object must be set")
	}
	if c.MailboxCapacity <= 0 {
		return fmt.Errorf("mailbox_capacity must be positive, got %d", c.MailboxCapacity)
	}
	if c.DBus.Enabled {
		switch c.DBus.Bus {
		case "system", "session":
		default:
			return fmt.Errorf("dbus.bus must be system or session, got %q", c.DBus.Bus)
		}
		if c.DBus.Name == "" {
			return errors.New("dbus.name must be set")
		}
	}
	if c.API.Enabled {
		if err := c.API.Validate(); err != nil {
			return err
		}
	}
	if c.NetworkMonitor.Enabled {
		if c.NetworkMonitor.Interface == "" {
			return errors.New("network_monitor.interface must be set when enabled")
		}
		if _, err := dataplane.ParseXDPMode(c.NetworkMonitor.XDPMode); err != nil {
			return fmt.Errorf("network_monitor.xdp_mode: %w", err)
		}
	}
	if !c.ProgramMonitor.Enabled && !c.NetworkMonitor.Enabled {
		return errors.New("at least one of program_monitor and network_monitor must be enabled")
	}
	return nil
}

// String is used for debug output.
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{BPFObject: %s, Storage: %q, DBus: %v/%s, API: %v@%s, ProgramMonitor: %v, NetworkMonitor: %v/%s}",
		c.BPFObject,
		c.Storage.Path,
		c.DBus.Enabled, c.DBus.Bus,
		c.API.Enabled, c.API.Addr(),
		c.ProgramMonitor.Enabled,
		c.NetworkMonitor.Enabled, c.NetworkMonitor.Interface,
	)
}
