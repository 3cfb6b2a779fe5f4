// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aseba

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SocketCAN can_frame layout
const (
	SocketCANFrameSize = 16

	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000

	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("aseba: invalid CAN identifier")
	ErrInvalidLen = errors.New("aseba: invalid CAN data length")
)

// Frame is a classical CAN 2.0 frame
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool
	RTR      bool
	Len      uint8 // 0..8
	Data     [MaxFrameLen]byte
}

// NewFrame builds a standard data frame. Data longer than 8 bytes is an error.
func NewFrame(id uint32, data []byte) (Frame, error) {
	var f Frame
	if len(data) > MaxFrameLen {
		return f, ErrInvalidLen
	}
	f.ID = id
	f.Extended = id > maxStdID
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// Validate returns an error if the frame is not a valid classical CAN frame
func (f Frame) Validate() error {
	if f.Len > MaxFrameLen {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > maxExtID {
			return ErrInvalidID
		}
	} else if f.ID > maxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the used part of the data field
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxFrameLen {
		n = MaxFrameLen
	}
	return f.Data[:n]
}

// Type returns the identifier type field
func (f Frame) Type() uint8 {
	t, _ := SplitID(f.ID)
	return t
}

// Node returns the identifier node field
func (f Frame) Node() uint8 {
	_, n := SplitID(f.ID)
	return n
}

// String renders the frame in candump style: 301#0080010000
func (f Frame) String() string {
	s := fmt.Sprintf("%03X#", f.ID)
	if f.Extended {
		s = fmt.Sprintf("%08X#", f.ID)
	}
	for _, b := range f.Payload() {
		s += fmt.Sprintf("%02X", b)
	}
	return s
}

// MarshalBinary encodes the frame in the Linux SocketCAN struct can_frame
// layout (16 bytes, little-endian):
//
//	0..3  can_id with EFF/RTR flags
//	4     can_dlc
//	5..7  padding
//	8..15 data
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	buf := make([]byte, SocketCANFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

// UnmarshalBinary decodes a frame from the SocketCAN can_frame layout
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) != SocketCANFrameSize {
		return fmt.Errorf("aseba: can_frame must be %d bytes, got %d", SocketCANFrameSize, len(data))
	}
	raw := binary.LittleEndian.Uint32(data[0:4])
	if raw&canErrFlag != 0 {
		return fmt.Errorf("aseba: error frame 0x%08X", raw)
	}
	f.Extended = raw&canEffFlag != 0
	f.RTR = raw&canRtrFlag != 0
	if f.Extended {
		f.ID = raw & maxExtID
	} else {
		f.ID = raw & maxStdID
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}

// MakeID builds an 11-bit identifier from a type field and a node id
func MakeID(msgType, node uint8) uint32 {
	return uint32(msgType)<<typeShift | uint32(node)
}

// SplitID extracts the type field and node id of an identifier
func SplitID(id uint32) (msgType, node uint8) {
	return uint8((id >> typeShift) & 0x7), uint8(id & nodeMask)
}
