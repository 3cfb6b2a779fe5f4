// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package boot

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
)

// RetainedMemory is a word placed outside the startup zero-fill. It keeps
// its value across a CPU reset and is cleared by a power cycle.
type RetainedMemory interface {
	Load() uint64
	Store(v uint64)
}

// MemoryRetained keeps the word in process memory
type MemoryRetained struct {
	value uint64
}

// Load implements RetainedMemory
func (m *MemoryRetained) Load() uint64 {
	return m.value
}

// Store implements RetainedMemory
func (m *MemoryRetained) Store(v uint64) {
	m.value = v
}

// PowerCycle clears the word
func (m *MemoryRetained) PowerCycle() {
	m.value = 0
}

type retainedFile struct {
	Magic uint64 `cbor:"0,keyasint"`
}

// FileRetained keeps the word in a CBOR file so it survives restarts of a
// simulated node process. Removing the file is a power cycle.
type FileRetained struct {
	path string
	// Err holds the last I/O error; Load and Store cannot report one.
	Err error
}

// NewFileRetained creates a retained word backed by path
func NewFileRetained(path string) *FileRetained {
	return &FileRetained{path: path}
}

// Load implements RetainedMemory. A missing or unreadable file reads as
// zero, like memory after power-up.
func (f *FileRetained) Load() uint64 {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.Err = err
		}
		return 0
	}
	var r retainedFile
	if err := cbor.Unmarshal(data, &r); err != nil {
		f.Err = fmt.Errorf("decode retained memory %s: %w", f.path, err)
		return 0
	}
	return r.Magic
}

// Store implements RetainedMemory
func (f *FileRetained) Store(v uint64) {
	data, err := cbor.Marshal(retainedFile{Magic: v})
	if err == nil {
		err = os.WriteFile(f.path, data, 0o644)
	}
	if err != nil {
		glog.Errorf("ERROR storing retained memory %s: %v", f.path, err)
		f.Err = fmt.Errorf("store retained memory %s: %w", f.path, err)
	}
}

// PowerCycle removes the backing file
func (f *FileRetained) PowerCycle() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
