// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aseba

import (
	"fmt"
	"strings"
	"time"
)

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(op uint16) string {
	switch op {
	// Commands
	case CmdReset:
		return "RESET"
	case CmdReadPage:
		return "READ_PAGE"
	case CmdWritePage:
		return "WRITE_PAGE"
	case CmdPageData:
		return "PAGE_DATA"

	// Pushes
	case PushDescription:
		return "PUSH_DESCRIPTION"
	case PushPageData:
		return "PUSH_PAGE_DATA"
	case PushAck:
		return "PUSH_ACK"

	default:
		return fmt.Sprintf("UNKNOWN_0x%04X", op)
	}
}

// IsCommand reports whether op is a host → device command
func IsCommand(op uint16) bool {
	return op >= CmdReset && op <= CmdPageData
}

// FormatWords renders a decoded word sequence
func FormatWords(words []uint16) string {
	if len(words) == 0 {
		return "(empty)"
	}

	op := words[0]
	name := FormatOpcode(op)

	switch op {
	case CmdReset:
		if len(words) >= 2 {
			return fmt.Sprintf("%s node=%d", name, words[1])
		}

	case CmdReadPage, CmdWritePage:
		if len(words) == 3 {
			return fmt.Sprintf("%s node=%d page=%d", name, words[1], words[2])
		}

	case CmdPageData:
		if len(words) == 4 {
			return fmt.Sprintf("%s node=%d data=%04X %04X", name, words[1], words[2], words[3])
		}

	case PushDescription:
		if d, err := ParseDescription(words); err == nil {
			return fmt.Sprintf("%s page_size=%d first_page=%d page_count=%d", name, d.PageSize, d.FirstPage, d.PageCount)
		}

	case PushPageData:
		if w0, w1, err := ParsePageDataPush(words); err == nil {
			return fmt.Sprintf("%s data=%04X %04X", name, w0, w1)
		}

	case PushAck:
		if s, err := ParseAck(words); err == nil {
			return fmt.Sprintf("%s %s", name, s)
		}
	}

	// Default: word dump
	parts := make([]string, 0, len(words)-1)
	for _, w := range words[1:] {
		parts = append(parts, fmt.Sprintf("%04X", w))
	}
	if len(parts) == 0 {
		return name
	}
	return fmt.Sprintf("%s [%s]", name, strings.Join(parts, " "))
}

// FormatFrame renders a received frame with its timestamp
func FormatFrame(t time.Time, f Frame) string {
	timestamp := t.Format("15:04:05.000")
	msgType, node := SplitID(f.ID)

	result := fmt.Sprintf("[%s] id=0x%03X type=%d node=%d len=%d ", timestamp, f.ID, msgType, node, f.Len)

	words, err := WordsFromFrame(f)
	if err != nil {
		return result + fmt.Sprintf("MALFORMED (%v) %s\n", err, f)
	}
	return result + FormatWords(words) + "\n"
}
