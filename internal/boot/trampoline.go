// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package boot decides at every reset whether the bootloader stays resident
// or hands the CPU to the application.
//
// The decision rests on one word of retained memory. RebootToApplication
// stores the sentinel and resets the CPU; the next CheckRunApplication, which
// must run before any clock or peripheral is configured, consumes the
// sentinel and jumps straight into the application.
package boot

import (
	"errors"

	"github.com/golang/glog"
)

// Sentinel marks a pending jump to the application. The pattern is wide so
// that uninitialized memory is unlikely to match it.
const Sentinel uint64 = 0xdb3c9869254dc8bc

// ErrPrimitiveReturned is the panic value when a jump or reset returns
var ErrPrimitiveReturned = errors.New("boot: non-returning primitive returned")

// Trampoline owns the retained word and the two control transfer primitives.
// Jump transfers control into the application and Reset triggers a full
// system reset; neither returns.
type Trampoline struct {
	mem   RetainedMemory
	jump  func()
	reset func()
}

// NewTrampoline creates a trampoline
func NewTrampoline(mem RetainedMemory, jump, reset func()) *Trampoline {
	if mem == nil || jump == nil || reset == nil {
		panic("boot: retained memory, jump and reset are required")
	}
	return &Trampoline{mem: mem, jump: jump, reset: reset}
}

// CheckRunApplication jumps to the application when the sentinel is set,
// clearing it first so an unrelated later reset enters the bootloader.
// Returns normally when no jump is pending.
func (t *Trampoline) CheckRunApplication() {
	if t.mem.Load() != Sentinel {
		return
	}
	t.mem.Store(0)
	t.jump()
	panic(ErrPrimitiveReturned)
}

// RebootToApplication arms the sentinel and resets the CPU
func (t *Trampoline) RebootToApplication() {
	glog.Info("jumping to application")
	t.mem.Store(Sentinel)
	t.reset()
	panic(ErrPrimitiveReturned)
}

// Pending reports whether the sentinel is armed
func (t *Trampoline) Pending() bool {
	return t.mem.Load() == Sentinel
}
