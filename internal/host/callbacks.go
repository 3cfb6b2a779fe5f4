// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package host

import "time"

// Flash phases reported through Progress
const (
	PhaseDescribing  = "describing"
	PhaseProgramming = "programming"
	PhaseVerifying   = "verifying"
	PhaseComplete    = "complete"
)

// Progress contains information about the flashing progress.
type Progress struct {
	// Phase is one of the Phase constants
	Phase string

	// CurrentPage is the number of pages finished so far
	CurrentPage int

	// TotalPages is the number of pages in the image
	TotalPages int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesWritten is the number of image bytes committed so far
	BytesWritten int

	// ElapsedTime is the time elapsed since flashing started
	ElapsedTime time.Duration
}

// ProgressCallback is called after every page. Implementations should
// return quickly.
type ProgressCallback func(Progress)

// Logger is an optional logging interface for the client.
//
// Example with the standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
