// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// Framer converts between word sequences and small packet frames
type Framer struct {
	bus     Bus
	dropped uint64
	err     error
}

// NewFramer creates a framer on bus
func NewFramer(bus Bus) *Framer {
	return &Framer{bus: bus}
}

// Send packs words into one frame tagged with node and transmits it.
// Failures are logged and returned; nothing is retried.
func (f *Framer) Send(words []uint16, node uint8) error {
	frame, err := aseba.FrameFromWords(node, words)
	if err != nil {
		glog.Errorf("ERROR building frame: %v", err)
		return err
	}
	if err := f.bus.Send(frame); err != nil {
		glog.Errorf("ERROR sending frame: %v", err)
		return fmt.Errorf("send %s: %w", frame, err)
	}
	if glog.V(3) {
		glog.Infof("TX %s", aseba.FormatWords(words))
	}
	return nil
}

// Receive polls for one pending frame and decodes its payload. ok is false
// when nothing is pending, when the frame has an odd byte count, or when
// the bus failed; see Err for the latter.
func (f *Framer) Receive() (words []uint16, ok bool) {
	frame, ok, err := f.bus.Recv()
	if err != nil {
		if f.err == nil {
			glog.Errorf("ERROR receiving frame: %v", err)
		}
		f.err = err
		return nil, false
	}
	if !ok {
		return nil, false
	}
	words, err = aseba.WordsFromFrame(frame)
	if err != nil {
		f.dropped++
		glog.V(2).Infof("dropping malformed frame %s", frame)
		return nil, false
	}
	if glog.V(3) {
		glog.Infof("RX %s", aseba.FormatWords(words))
	}
	return words, true
}

// Dropped returns the number of malformed frames discarded
func (f *Framer) Dropped() uint64 {
	return f.dropped
}

// Err returns the last bus receive error
func (f *Framer) Err() error {
	return f.err
}

// Node binds a framer to the node id used to tag outgoing frames
type Node struct {
	*Framer
	ID uint8
}

// Push sends words tagged with the bound node id
func (n Node) Push(words []uint16) error {
	return n.Send(words, n.ID)
}
