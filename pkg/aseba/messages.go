// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aseba

import "fmt"

// Description is the content of a PUSH_DESCRIPTION message
type Description struct {
	PageSize  uint16 // bytes
	FirstPage uint16
	PageCount uint16
}

// PageWords returns the page size in 16-bit words
func (d Description) PageWords() int {
	return int(d.PageSize) / 2
}

// Validate reports whether the layout can be programmed: the page size
// must be a positive multiple of one PAGE_DATA frame (two words) and at
// least one page must exist.
func (d Description) Validate() error {
	switch {
	case d.PageSize == 0 || d.PageSize%4 != 0:
		return &DescriptionError{Description: d, Reason: fmt.Sprintf("page size %d is not a positive multiple of 4", d.PageSize)}
	case d.PageCount == 0:
		return &DescriptionError{Description: d, Reason: "no pages"}
	}
	return nil
}

// DescriptionError reports a flash layout that cannot be programmed
type DescriptionError struct {
	Description Description
	Reason      string
}

// Error implements the error interface
func (e *DescriptionError) Error() string {
	return fmt.Sprintf("invalid description: %s", e.Reason)
}

// MessageError reports a message that does not have the expected shape
type MessageError struct {
	Opcode uint16
	Want   uint16
	Length int
}

// Error implements the error interface
func (e *MessageError) Error() string {
	if e.Opcode != e.Want {
		return fmt.Sprintf("unexpected opcode %s, want %s", FormatOpcode(e.Opcode), FormatOpcode(e.Want))
	}
	return fmt.Sprintf("%s: unexpected length %d words", FormatOpcode(e.Opcode), e.Length)
}

// ============================================================
// Host commands
// ============================================================

// NewReset builds a RESET command for node
func NewReset(node uint8) []uint16 {
	return []uint16{CmdReset, uint16(node)}
}

// NewReadPage builds a READ_PAGE command for node
func NewReadPage(node uint8, page uint16) []uint16 {
	return []uint16{CmdReadPage, uint16(node), page}
}

// NewWritePage builds a WRITE_PAGE command for node
func NewWritePage(node uint8, page uint16) []uint16 {
	return []uint16{CmdWritePage, uint16(node), page}
}

// NewPageData builds a PAGE_DATA command carrying two page words
func NewPageData(node uint8, w0, w1 uint16) []uint16 {
	return []uint16{CmdPageData, uint16(node), w0, w1}
}

// ============================================================
// Device pushes
// ============================================================

// NewDescription builds a PUSH_DESCRIPTION message
func NewDescription(d Description) []uint16 {
	return []uint16{PushDescription, d.PageSize, d.FirstPage, d.PageCount}
}

// NewPageDataPush builds a PUSH_PAGE_DATA message
func NewPageDataPush(w0, w1 uint16) []uint16 {
	return []uint16{PushPageData, w0, w1}
}

// NewAck builds a PUSH_ACK message
func NewAck(s Status) []uint16 {
	return []uint16{PushAck, uint16(s)}
}

// ParseDescription decodes a PUSH_DESCRIPTION message
func ParseDescription(words []uint16) (Description, error) {
	if err := expect(words, PushDescription, 4); err != nil {
		return Description{}, err
	}
	return Description{PageSize: words[1], FirstPage: words[2], PageCount: words[3]}, nil
}

// ParseAck decodes a PUSH_ACK message
func ParseAck(words []uint16) (Status, error) {
	if err := expect(words, PushAck, 2); err != nil {
		return 0, err
	}
	return Status(words[1]), nil
}

// ParsePageDataPush decodes a PUSH_PAGE_DATA message
func ParsePageDataPush(words []uint16) (w0, w1 uint16, err error) {
	if err := expect(words, PushPageData, 3); err != nil {
		return 0, 0, err
	}
	return words[1], words[2], nil
}

func expect(words []uint16, opcode uint16, length int) error {
	if len(words) == 0 {
		return &MessageError{Want: opcode, Opcode: opcode, Length: 0}
	}
	if words[0] != opcode {
		return &MessageError{Opcode: words[0], Want: opcode, Length: len(words)}
	}
	if len(words) != length {
		return &MessageError{Opcode: opcode, Want: opcode, Length: len(words)}
	}
	return nil
}
