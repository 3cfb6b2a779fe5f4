// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package supervisor runs the bootloader main loop.
//
// The loop announces the flash layout once, then polls the bus. Commands
// addressed to this node go to the engine. Until the first addressed command
// arrives an inactivity timeout is armed; when it fires the loop returns
// ErrTimeout and the caller boots the application. Once a host has spoken
// the timeout stays disarmed for the rest of the session.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// ErrTimeout is returned when no host addressed the node in time
var ErrTimeout = errors.New("supervisor: no host within timeout")

// DefaultTimeout matches the time a host gets to claim a freshly reset node
const DefaultTimeout = 5 * time.Second

// Receiver polls for one decoded message. Err reports a failed bus, after
// which Receive never returns a message again.
type Receiver interface {
	Receive() (words []uint16, ok bool)
	Err() error
}

// Dispatcher executes commands
type Dispatcher interface {
	SendDescription() error
	Dispatch(opcode uint16, payload []uint16)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Config configures the loop
type Config struct {
	NodeID uint8

	// Timeout is the inactivity timeout; zero or negative never times out
	Timeout time.Duration

	// PollInterval is how long to idle when no frame is pending; zero spins
	PollInterval time.Duration

	Clock Clock
}

// Stats counts what the loop has seen
type Stats struct {
	Dispatched int // frames addressed to this node
	Foreign    int // frames for other nodes
	Short      int // frames too short to carry a node id
}

// Supervisor owns the main loop
type Supervisor struct {
	cfg   Config
	rx    Receiver
	disp  Dispatcher
	stats Stats
	armed bool
}

// New creates a supervisor
func New(cfg Config, rx Receiver, disp Dispatcher) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	return &Supervisor{cfg: cfg, rx: rx, disp: disp}
}

// Stats returns the frame counters
func (s *Supervisor) Stats() Stats {
	return s.stats
}

// Armed reports whether the inactivity timeout is still armed
func (s *Supervisor) Armed() bool {
	return s.armed
}

// Run announces the node and serves commands. It returns ErrTimeout when
// the armed timeout elapses, the receive error when the bus fails and
// ctx.Err() when ctx is cancelled. A RESET command never returns here.
func (s *Supervisor) Run(ctx context.Context) error {
	glog.Infof("ASEBA bootloader started, node %d", s.cfg.NodeID)
	if err := s.disp.SendDescription(); err != nil {
		glog.Errorf("ERROR sending description: %v", err)
	}

	s.armed = s.cfg.Timeout > 0
	start := s.cfg.Clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		words, ok := s.rx.Receive()
		if ok {
			s.handle(words)
		} else if err := s.rx.Err(); err != nil {
			glog.Errorf("ERROR bus failed after %d commands: %v", s.stats.Dispatched, err)
			return fmt.Errorf("supervisor: receive: %w", err)
		}

		if s.armed && s.cfg.Clock.Now().Sub(start) >= s.cfg.Timeout {
			glog.Infof("no host after %v", s.cfg.Timeout)
			return ErrTimeout
		}

		if !ok && s.cfg.PollInterval > 0 {
			s.idle(ctx)
		}
	}
}

func (s *Supervisor) handle(words []uint16) {
	if len(words) < aseba.CommandHeaderWords {
		s.stats.Short++
		return
	}
	if words[1] != uint16(s.cfg.NodeID) {
		s.stats.Foreign++
		glog.V(2).Infof("not my id: %s", aseba.FormatWords(words))
		return
	}
	s.stats.Dispatched++
	s.armed = false
	s.disp.Dispatch(words[0], words[aseba.CommandHeaderWords:])
}

func (s *Supervisor) idle(ctx context.Context) {
	t := time.NewTimer(s.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
