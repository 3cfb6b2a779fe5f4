// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aseba

import "fmt"

// Status is the result code carried by a PUSH_ACK message.
//
// The integer values are part of the wire protocol and must not change:
//
//	OK              0
//	INVALID_SIZE    1
//	PROGRAM_FAILED  2
//	NOT_PROGRAMMING 3
//	INVALID_VALUE   4
type Status uint16

// Status values
const (
	StatusOK             Status = 0x0
	StatusInvalidSize    Status = 0x1
	StatusProgramFailed  Status = 0x2
	StatusNotProgramming Status = 0x3
	StatusInvalidValue   Status = 0x4
)

// Valid reports whether s is one of the defined status codes.
func (s Status) Valid() bool {
	return s <= StatusInvalidValue
}

// String returns the protocol name of the status code.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidSize:
		return "INVALID_SIZE"
	case StatusProgramFailed:
		return "PROGRAM_FAILED"
	case StatusNotProgramming:
		return "NOT_PROGRAMMING"
	case StatusInvalidValue:
		return "INVALID_VALUE"
	default:
		return fmt.Sprintf("STATUS_0x%04X", uint16(s))
	}
}
