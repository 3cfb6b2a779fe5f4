// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

// Session is the programming context of one bootloader run. It is owned by
// the supervisor loop and handed to the engine by reference.
type Session struct {
	ProgrammingMode bool
	CurrentPage     int // logical page being assembled
	CurrentWord     int // next free slot in Buffer

	// Buffer assembles one page before it is committed
	Buffer []uint16
}

// NewSession creates an idle session with a buffer of pageWords words
func NewSession(pageWords int) *Session {
	return &Session{Buffer: make([]uint16, pageWords)}
}

// Reset returns the session to idle
func (s *Session) Reset() {
	s.ProgrammingMode = false
	s.CurrentPage = 0
	s.CurrentWord = 0
}

func (s *Session) begin(page int) {
	s.ProgrammingMode = true
	s.CurrentPage = page
	s.CurrentWord = 0
}

// full reports whether the buffer holds a whole page
func (s *Session) full() bool {
	return s.CurrentWord == len(s.Buffer)
}
