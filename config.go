// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package beads provides environment-driven configuration for the
// switch/controller proxy. Each listener instance is configured from its
// own environment prefix (e.g. BEADS_PROXY_0_PORT).
package beads

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration of one proxy listener.
type Config struct {
	// ID names the listener in logs and metrics.
	ID string `env:"ID"`

	// Host is the local listen host.
	Host string `env:"HOST" envDefault:""`

	// Port is the local listen port switches connect to. Zero means this
	// listener instance is not configured.
	Port int `env:"PORT" envDefault:"0"`

	// ControllerHost is the real controller's address.
	ControllerHost string `env:"CONTROLLER_HOST" envDefault:"127.0.0.1"`

	// ControllerPort is the real controller's port.
	ControllerPort int `env:"CONTROLLER_PORT" envDefault:"6653"`

	// DialTimeout bounds each controller dial.
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`

	// BufferSize sizes relay scratch buffers.
	BufferSize int `env:"BUFFER_SIZE" envDefault:"32768"`

	// OpenFlowFraming relays whole OpenFlow messages instead of raw
	// chunks.
	OpenFlowFraming bool `env:"OPENFLOW_FRAMING" envDefault:"false"`

	// RateLimitCapacity and RateLimitRefill configure optional per-source
	// accept limiting; zero capacity disables it.
	RateLimitCapacity int64 `env:"RATE_LIMIT_CAPACITY" envDefault:"0"`
	RateLimitRefill   int64 `env:"RATE_LIMIT_REFILL" envDefault:"10"`

	// BreakerMaxFailures configures the controller dial circuit breaker;
	// zero disables it.
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES" envDefault:"0"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`
}

// NewConfig loads a listener configuration from the environment using the
// given options (typically a per-listener prefix) and validates it.
func NewConfig(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Configured reports whether this listener instance has a listen port set.
func (c Config) Configured() bool {
	return c.Port != 0
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("listen port %d out of range", c.Port)
	}
	if c.Port == 0 {
		// Unconfigured instance; nothing else to check.
		return nil
	}
	if c.ControllerPort < 1 || c.ControllerPort > 65535 {
		return fmt.Errorf("controller port %d out of range", c.ControllerPort)
	}
	if c.ControllerHost == "" {
		return fmt.Errorf("controller host is required")
	}
	return nil
}
