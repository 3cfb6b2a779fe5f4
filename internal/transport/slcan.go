// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/golang/glog"
	"go.bug.st/serial"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// SLCAN bitrate setup commands, indexed by bit/s
var slcanBitrates = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// DefaultBitrate is the Aseba CAN bit rate
const DefaultBitrate = 1000000

const (
	slcanCR   = '\r'
	slcanBell = '\a'
)

// EncodeSLCAN renders f as a Lawicel transmit command without the trailing CR
func EncodeSLCAN(f aseba.Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var cmd string
	switch {
	case f.Extended && f.RTR:
		cmd = fmt.Sprintf("R%08X%d", f.ID, f.Len)
	case f.Extended:
		cmd = fmt.Sprintf("T%08X%d", f.ID, f.Len)
	case f.RTR:
		cmd = fmt.Sprintf("r%03X%d", f.ID, f.Len)
	default:
		cmd = fmt.Sprintf("t%03X%d", f.ID, f.Len)
	}
	if !f.RTR {
		cmd += fmt.Sprintf("%X", f.Payload())
	}
	return cmd, nil
}

// ParseSLCAN decodes a Lawicel receive line (without CR). Adapters may append
// a 4 digit timestamp, which is ignored.
func ParseSLCAN(line string) (aseba.Frame, error) {
	var f aseba.Frame
	if line == "" {
		return f, fmt.Errorf("slcan: empty line")
	}
	idLen := 3
	switch line[0] {
	case 't':
	case 'r':
		f.RTR = true
	case 'T':
		f.Extended = true
		idLen = 8
	case 'R':
		f.Extended = true
		f.RTR = true
		idLen = 8
	default:
		return f, fmt.Errorf("slcan: not a frame: %q", line)
	}
	if len(line) < 1+idLen+1 {
		return f, fmt.Errorf("slcan: short frame: %q", line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return f, fmt.Errorf("slcan: bad identifier: %q", line)
	}
	dlc := line[1+idLen] - '0'
	if dlc > aseba.MaxFrameLen {
		return f, fmt.Errorf("slcan: bad length: %q", line)
	}
	f.ID = uint32(id)
	f.Len = dlc

	if !f.RTR {
		start := 2 + idLen
		end := start + 2*int(dlc)
		if len(line) < end {
			return f, fmt.Errorf("slcan: truncated data: %q", line)
		}
		if _, err := hex.Decode(f.Data[:], []byte(line[start:end])); err != nil {
			return f, fmt.Errorf("slcan: bad data: %q", line)
		}
	}
	return f, f.Validate()
}

// SLCAN is a bus on a Lawicel serial line adapter
type SLCAN struct {
	rw    io.ReadWriteCloser
	wmu   sync.Mutex
	queue *frameQueue
}

// OpenSLCAN opens a serial port and brings the adapter on the bus
func OpenSLCAN(portName string, baudRate, bitrate int) (*SLCAN, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}

	bus, err := NewSLCAN(port, bitrate)
	if err != nil {
		port.Close()
		return nil, err
	}
	return bus, nil
}

// NewSLCAN configures the adapter on rw and starts reading frames
func NewSLCAN(rw io.ReadWriteCloser, bitrate int) (*SLCAN, error) {
	setup, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
	}
	s := &SLCAN{rw: rw, queue: newFrameQueue(DefaultQueueSize)}

	// Close first in case the channel was left open
	for _, cmd := range []string{"C", setup, "O"} {
		if err := s.writeLine(cmd); err != nil {
			return nil, fmt.Errorf("slcan setup %s: %w", cmd, err)
		}
	}

	go s.readLoop()
	return s, nil
}

func (s *SLCAN) writeLine(cmd string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := io.WriteString(s.rw, cmd+string(slcanCR))
	return err
}

func (s *SLCAN) readLoop() {
	r := bufio.NewReader(s.rw)
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			s.queue.close(fmt.Errorf("slcan: %w", err))
			return
		}
		switch b {
		case slcanCR, slcanBell:
			s.handleLine(string(line), b == slcanBell)
			line = line[:0]
		default:
			line = append(line, b)
		}
	}
}

func (s *SLCAN) handleLine(line string, failed bool) {
	if failed {
		glog.Warningf("slcan: adapter rejected command")
		return
	}
	if line == "" || line[0] == 'z' || line[0] == 'Z' {
		// Command and transmit acknowledgements
		return
	}
	f, err := ParseSLCAN(line)
	if err != nil {
		glog.V(2).Infof("slcan: ignoring %v", err)
		return
	}
	if !s.queue.push(f) {
		glog.V(1).Infof("slcan: receive overrun, dropped %s", f)
	}
}

// Send implements Bus
func (s *SLCAN) Send(f aseba.Frame) error {
	if s.queue.closed() {
		return ErrClosed
	}
	cmd, err := EncodeSLCAN(f)
	if err != nil {
		return err
	}
	return s.writeLine(cmd)
}

// Recv implements Bus
func (s *SLCAN) Recv() (aseba.Frame, bool, error) {
	return s.queue.poll()
}

// Wait implements WaitBus
func (s *SLCAN) Wait(ctx context.Context) (aseba.Frame, error) {
	return s.queue.wait(ctx)
}

// Close takes the adapter off the bus and closes the port
func (s *SLCAN) Close() error {
	var err error
	if !s.queue.closed() {
		if err = s.writeLine("C"); err != nil {
			glog.Errorf("ERROR closing slcan channel: %v", err)
			err = fmt.Errorf("slcan close channel: %w", err)
		}
	}
	s.queue.close(nil)
	if cerr := s.rw.Close(); cerr != nil {
		return cerr
	}
	return err
}
