// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package node simulates a complete bootloader node.
//
// Every reset cycle runs on a fresh goroutine, the way a CPU starts from the
// reset vector with cleared RAM. The jump and reset primitives end the
// cycle with runtime.Goexit, so neither ever returns to its caller. Only the
// flash device and the retained memory word survive from one cycle to the
// next.
package node

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/asebaboot/internal/boot"
	"github.com/Thermoquad/asebaboot/internal/engine"
	"github.com/Thermoquad/asebaboot/internal/flash"
	"github.com/Thermoquad/asebaboot/internal/supervisor"
	"github.com/Thermoquad/asebaboot/internal/transport"
)

// DefaultBaudRate is the diagnostic UART speed
const DefaultBaudRate = 115200

// Application runs the firmware image after the bootloader hands over.
// Returning true resets the CPU, which enters the bootloader again.
type Application func(ctx context.Context, f *flash.Manager) (reset bool)

// Config configures a node
type Config struct {
	NodeID       uint8
	Geometry     flash.Geometry
	Timeout      time.Duration
	PollInterval time.Duration
	Verify       bool
	BaudRate     int
	Clock        supervisor.Clock
}

// Outcome summarizes a Boot call
type Outcome struct {
	Resets   int  // resets performed before the application ran
	Jumped   bool // the application was entered
	TimedOut bool // the bootloader gave up waiting for a host
}

// Node is a simulated bootloader node
type Node struct {
	cfg      Config
	bus      transport.Bus
	mem      boot.RetainedMemory
	mgr      *flash.Manager
	busInit  func() error
	uartInit func(baud int) error
	app      Application
}

// Option configures a Node
type Option func(*Node)

// WithBusInit sets the CAN peripheral bring-up routine
func WithBusInit(fn func() error) Option {
	return func(n *Node) { n.busInit = fn }
}

// WithUARTInit sets the diagnostic UART bring-up routine
func WithUARTInit(fn func(baud int) error) Option {
	return func(n *Node) { n.uartInit = fn }
}

// WithApplication sets the firmware run after a jump
func WithApplication(app Application) Option {
	return func(n *Node) { n.app = app }
}

// New creates a node on bus with the given flash device and retained word
func New(cfg Config, bus transport.Bus, dev flash.Device, mem boot.RetainedMemory, opts ...Option) (*Node, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	mgr, err := flash.NewManager(dev, cfg.Geometry, flash.WithVerify(cfg.Verify))
	if err != nil {
		return nil, err
	}
	n := &Node{
		cfg:      cfg,
		bus:      bus,
		mem:      mem,
		mgr:      mgr,
		busInit:  func() error { return nil },
		uartInit: func(int) error { return nil },
		app: func(context.Context, *flash.Manager) bool {
			glog.Info("application running")
			return false
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Flash returns the page manager of the node
func (n *Node) Flash() *flash.Manager {
	return n.mgr
}

type exitKind int

const (
	exitReturned exitKind = iota
	exitReset
	exitJump
)

type cycleResult struct {
	kind     exitKind
	err      error
	appReset bool
	timedOut bool
}

// Boot powers the node and runs reset cycles until the application has run
// without asking for a reset, or ctx is cancelled.
func (n *Node) Boot(ctx context.Context) (Outcome, error) {
	var out Outcome
	for {
		res := n.cycle(ctx)
		out.TimedOut = out.TimedOut || res.timedOut

		switch res.kind {
		case exitReset:
			out.Resets++
			glog.V(1).Infof("reset %d", out.Resets)
		case exitJump:
			out.Jumped = true
			if !res.appReset {
				return out, nil
			}
			out.Resets++
		default:
			return out, res.err
		}

		if err := ctx.Err(); err != nil {
			return out, err
		}
	}
}

// cycle runs from the reset vector until the CPU resets, jumps or the
// simulation is cancelled
func (n *Node) cycle(ctx context.Context) cycleResult {
	done := make(chan cycleResult, 1)
	go func() {
		var res cycleResult
		defer func() {
			if r := recover(); r != nil {
				res.kind = exitReturned
				res.err = fmt.Errorf("node: %v", r)
			}
			done <- res
		}()

		tr := boot.NewTrampoline(n.mem,
			func() {
				res.kind = exitJump
				res.appReset = n.app(ctx, n.mgr)
				runtime.Goexit()
			},
			func() {
				res.kind = exitReset
				runtime.Goexit()
			},
		)
		tr.CheckRunApplication()

		res.err = n.bootloader(ctx, tr, &res)
	}()
	return <-done
}

// bootloader is the resident program: bring-up, then the supervisor loop
func (n *Node) bootloader(ctx context.Context, tr *boot.Trampoline, res *cycleResult) error {
	if err := n.uartInit(n.cfg.BaudRate); err != nil {
		glog.Errorf("ERROR uart init: %v", err)
	}
	if err := n.busInit(); err != nil {
		glog.Errorf("ERROR bus init: %v", err)
	}

	framer := transport.NewFramer(n.bus)
	eng, err := engine.New(n.mgr, transport.Node{Framer: framer, ID: n.cfg.NodeID}, tr,
		engine.NewSession(n.cfg.Geometry.PageWords()))
	if err != nil {
		return err
	}
	sup := supervisor.New(supervisor.Config{
		NodeID:       n.cfg.NodeID,
		Timeout:      n.cfg.Timeout,
		PollInterval: n.cfg.PollInterval,
		Clock:        n.cfg.Clock,
	}, framer, eng)

	err = sup.Run(ctx)
	if st := sup.Stats(); st.Foreign > 0 {
		glog.V(1).Infof("ignored %d frames for other nodes", st.Foreign)
	}
	if errors.Is(err, supervisor.ErrTimeout) {
		res.timedOut = true
		tr.RebootToApplication()
	}
	return err
}
