// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package aseba provides a Go implementation of the Aseba CAN bootloader
// protocol.
//
// Bootloader messages are short sequences of 16-bit words carried in the
// payload of classical CAN frames, least significant byte first. Word 0 is
// always the opcode. Host commands carry the target node id in word 1;
// device pushes carry their data directly after the opcode and are tagged
// with the sending node id in the CAN identifier.
package aseba

// Host → device commands
const (
	CmdReset     uint16 = 0x8000 // reboot into the application
	CmdReadPage  uint16 = 0x8001 // stream a page back to the host
	CmdWritePage uint16 = 0x8002 // start programming a page
	CmdPageData  uint16 = 0x8003 // two words of page content
)

// Device → host pushes
const (
	PushDescription uint16 = 0x8004 // page size, first page, page count
	PushPageData    uint16 = 0x8005 // two words of page content
	PushAck         uint16 = 0x8006 // one status word
)

// CAN framing
const (
	MaxFrameLen   = 8 // classical CAN payload
	MaxFrameWords = MaxFrameLen / 2

	// TypeSmallPacket is the identifier type field for single-frame
	// messages, the only type the bootloader speaks.
	TypeSmallPacket uint8 = 0x3

	typeShift = 8
	nodeMask  = 0xFF
)

// Payload lengths in words, excluding opcode and node id
const (
	ReadPageArgs  = 1
	WritePageArgs = 1
	PageDataArgs  = 2
)

// Header lengths in words
const (
	CommandHeaderWords = 2 // opcode + node id
	PushHeaderWords    = 1 // opcode
)
