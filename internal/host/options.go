// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package host

import (
	"time"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// Config holds the client configuration.
type Config struct {
	// ProgressCallback is called while flashing (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Timeout bounds every wait for a reply from the node
	Timeout time.Duration

	// Retries is the number of extra attempts for a page whose
	// acknowledgement timed out
	Retries int

	// Verify reads every page back after writing it
	Verify bool

	// FrameDelay is slept after each PAGE_DATA frame so slow adapters
	// do not overrun the node's receive FIFO
	FrameDelay time.Duration

	// Description skips waiting for the node's PUSH_DESCRIPTION
	Description *aseba.Description
}

func defaultConfig() Config {
	return Config{
		Timeout: 2 * time.Second,
		Retries: 2,
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithProgressCallback sets a callback to track flashing progress.
//
// Example:
//
//	c := host.New(bus, 1,
//	    host.WithProgressCallback(func(p host.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for client operations.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeout sets the reply timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithRetries sets the number of retry attempts for a page.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithVerify enables or disables read-back verification. Default is false.
func WithVerify(verify bool) Option {
	return func(c *Config) {
		c.Verify = verify
	}
}

// WithFrameDelay sets the pause after each PAGE_DATA frame.
func WithFrameDelay(delay time.Duration) Option {
	return func(c *Config) {
		c.FrameDelay = delay
	}
}

// WithDescription supplies the page layout instead of waiting for it.
func WithDescription(d aseba.Description) Option {
	return func(c *Config) {
		c.Description = &d
	}
}
