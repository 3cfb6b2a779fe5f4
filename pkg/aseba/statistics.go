// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aseba

import (
	"fmt"
	"sort"
	"time"
)

// Statistics tracks bus traffic seen by a monitor
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	MalformedFrames uint64
	ForeignFrames   uint64 // identifier type is not a small packet
	Commands        uint64
	Pushes          uint64
	Unknown         uint64
	ByOpcode        map[uint16]uint64
	Acks            map[Status]uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // malformed/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByOpcode:       make(map[uint16]uint64),
		Acks:           make(map[Status]uint64),
	}
}

// Update accounts for one received frame
func (s *Statistics) Update(f Frame) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if f.Type() != TypeSmallPacket {
		s.ForeignFrames++
	}

	words, err := WordsFromFrame(f)
	if err != nil || len(words) == 0 {
		s.MalformedFrames++
		return
	}

	op := words[0]
	s.ByOpcode[op]++
	switch {
	case IsCommand(op):
		s.Commands++
	case op == PushDescription || op == PushPageData || op == PushAck:
		s.Pushes++
		if status, err := ParseAck(words); err == nil {
			s.Acks[status]++
		}
	default:
		s.Unknown++
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.MalformedFrames) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var malformedPercent float64
	if s.TotalFrames > 0 {
		malformedPercent = float64(s.MalformedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Commands:        %8d\n", s.Commands)
	result += fmt.Sprintf("Pushes:          %8d\n", s.Pushes)
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, malformedPercent)
	}
	if s.ForeignFrames > 0 {
		result += fmt.Sprintf("Foreign Type:    %8d\n", s.ForeignFrames)
	}
	if s.Unknown > 0 {
		result += fmt.Sprintf("Unknown Opcode:  %8d\n", s.Unknown)
	}

	ops := make([]int, 0, len(s.ByOpcode))
	for op := range s.ByOpcode {
		ops = append(ops, int(op))
	}
	sort.Ints(ops)
	for _, op := range ops {
		result += fmt.Sprintf("  %-18s %8d\n", FormatOpcode(uint16(op))+":", s.ByOpcode[uint16(op)])
	}

	for status := StatusOK; status <= StatusInvalidValue; status++ {
		if n := s.Acks[status]; n > 0 {
			result += fmt.Sprintf("  ACK %-14s %8d\n", status.String()+":", n)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
