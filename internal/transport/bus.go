// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport moves Aseba words over a CAN bus.
//
// A Bus exchanges raw CAN frames. Buses are available for an in-process
// virtual bus, a Lawicel SLCAN adapter on a serial port, a WebSocket relay
// and an MQTT broker. The Framer sits on top of a Bus and converts between
// frames and word sequences.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// ErrClosed is returned by a bus after Close or after its link failed
var ErrClosed = errors.New("bus closed")

// Bus exchanges CAN frames. Recv never blocks: ok is false when no frame
// is pending.
type Bus interface {
	Send(f aseba.Frame) error
	Recv() (f aseba.Frame, ok bool, err error)
	Close() error
}

// WaitBus is a Bus that can also block until a frame arrives
type WaitBus interface {
	Bus
	Wait(ctx context.Context) (aseba.Frame, error)
}

// DefaultQueueSize is the receive queue depth of every bus
const DefaultQueueSize = 8192

// frameQueue is the receive side shared by all bus implementations. A full
// queue drops new frames, like a CAN controller FIFO overrun.
type frameQueue struct {
	ch       chan aseba.Frame
	done     chan struct{}
	once     sync.Once
	err      error
	overruns atomic.Uint64
}

func newFrameQueue(size int) *frameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &frameQueue{
		ch:   make(chan aseba.Frame, size),
		done: make(chan struct{}),
	}
}

// push enqueues f, returning false on overrun or after close
func (q *frameQueue) push(f aseba.Frame) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- f:
		return true
	default:
		q.overruns.Add(1)
		return false
	}
}

func (q *frameQueue) poll() (aseba.Frame, bool, error) {
	select {
	case f := <-q.ch:
		return f, true, nil
	default:
	}
	select {
	case <-q.done:
		return aseba.Frame{}, false, q.err
	default:
		return aseba.Frame{}, false, nil
	}
}

func (q *frameQueue) wait(ctx context.Context) (aseba.Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	default:
	}
	select {
	case f := <-q.ch:
		return f, nil
	case <-q.done:
		return aseba.Frame{}, q.err
	case <-ctx.Done():
		return aseba.Frame{}, ctx.Err()
	}
}

// close stops the queue; err is reported by later poll and wait calls
func (q *frameQueue) close(err error) {
	q.once.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		q.err = err
		close(q.done)
	})
}

func (q *frameQueue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
