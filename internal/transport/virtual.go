// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"sync"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// VirtualBus is an in-process CAN bus. Every frame sent by one endpoint is
// delivered to all other endpoints.
type VirtualBus struct {
	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}
	queueSize int
}

// NewVirtualBus creates a bus whose endpoints buffer queueSize frames
func NewVirtualBus(queueSize int) *VirtualBus {
	return &VirtualBus{
		endpoints: make(map[*Endpoint]struct{}),
		queueSize: queueSize,
	}
}

// Attach connects a new endpoint to the bus
func (b *VirtualBus) Attach() *Endpoint {
	ep := &Endpoint{bus: b, queue: newFrameQueue(b.queueSize)}
	b.mu.Lock()
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

func (b *VirtualBus) broadcast(from *Endpoint, f aseba.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ep := range b.endpoints {
		if ep != from {
			ep.queue.push(f)
		}
	}
}

func (b *VirtualBus) detach(ep *Endpoint) {
	b.mu.Lock()
	delete(b.endpoints, ep)
	b.mu.Unlock()
}

// Endpoint is one node's connection to a VirtualBus
type Endpoint struct {
	bus   *VirtualBus
	queue *frameQueue
}

// Send implements Bus
func (e *Endpoint) Send(f aseba.Frame) error {
	if e.queue.closed() {
		return ErrClosed
	}
	if err := f.Validate(); err != nil {
		return err
	}
	e.bus.broadcast(e, f)
	return nil
}

// Recv implements Bus
func (e *Endpoint) Recv() (aseba.Frame, bool, error) {
	return e.queue.poll()
}

// Wait implements WaitBus
func (e *Endpoint) Wait(ctx context.Context) (aseba.Frame, error) {
	return e.queue.wait(ctx)
}

// Close implements Bus
func (e *Endpoint) Close() error {
	e.bus.detach(e)
	e.queue.close(nil)
	return nil
}

// Overruns returns the number of frames dropped because the queue was full
func (e *Endpoint) Overruns() uint64 {
	return e.queue.overruns.Load()
}
