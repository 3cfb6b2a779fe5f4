// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package host

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

var (
	// ErrTimeout is returned when the node does not answer in time
	ErrTimeout = errors.New("timed out waiting for node")

	// ErrNoDescription is returned when the page layout is not known yet
	ErrNoDescription = errors.New("node description unknown")
)

// AckError indicates that the node rejected a command.
type AckError struct {
	Operation string
	Status    aseba.Status
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%s: node replied %s", e.Operation, e.Status)
}

// PageRangeError indicates that a page is outside the node's flash.
type PageRangeError struct {
	Page      int
	FirstPage uint16
	PageCount uint16
}

func (e *PageRangeError) Error() string {
	return fmt.Sprintf("page %d is out of range: valid range is %d-%d",
		e.Page, e.FirstPage, int(e.FirstPage)+int(e.PageCount)-1)
}

// VerifyError indicates that a page did not read back as written.
type VerifyError struct {
	Page uint16
	Word int
	Want uint16
	Got  uint16
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify page %d word %d: expected 0x%04X, got 0x%04X",
		e.Page, e.Word, e.Want, e.Got)
}
