// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds API server configuration
type Config struct {
	// Enabled turns the HTTP API on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Host is the address to bind the API server to
	Host string `json:"host" yaml:"host"`

	// Port is the HTTP port to listen on
	Port int `json:"port" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `json:"enable_cors" yaml:"enable_cors"`

	// LogLevel sets the request log level (debug, info, warn, error)
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultConfig returns default API configuration. The API only listens
// on loopback unless configured otherwise.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         9630,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   false,
		LogLevel:     "info",
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the listen address, timeouts and log level.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("api port %d out of range", c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("api timeouts must not be negative")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("api log_level: %w", err)
	}
	return nil
}
