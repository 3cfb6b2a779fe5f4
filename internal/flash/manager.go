// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// Device is the flash controller primitive the manager drives.
type Device interface {
	Unlock()
	Lock()
	EraseSector(sector int) error
	ProgramHalfWord(addr uint32, value uint16) error
	ReadHalfWord(addr uint32) uint16
}

// ErrPartialPage is returned when a page buffer is not exactly one page long
var ErrPartialPage = errors.New("page buffer must hold exactly one page")

// ProgramError reports a half-word the device refused to program
type ProgramError struct {
	Page int
	Word int
	Addr uint32
	Err  error
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("program page %d word %d at 0x%08X: %v", e.Page, e.Word, e.Addr, e.Err)
}

func (e *ProgramError) Unwrap() error {
	return e.Err
}

// VerifyError reports a programmed word that does not read back
type VerifyError struct {
	Page int
	Word int
	Want uint16
	Got  uint16
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify page %d word %d: wrote 0x%04X, read 0x%04X", e.Page, e.Word, e.Want, e.Got)
}

// Manager addresses pages by logical index. Indices are validated by the
// caller.
type Manager struct {
	dev    Device
	geo    Geometry
	verify bool
}

// Option configures a Manager
type Option func(*Manager)

// WithVerify reads every programmed page back and fails on mismatch
func WithVerify(verify bool) Option {
	return func(m *Manager) {
		m.verify = verify
	}
}

// NewManager creates a manager for the region described by geo
func NewManager(dev Device, geo Geometry, opts ...Option) (*Manager, error) {
	if dev == nil {
		return nil, errors.New("flash device cannot be nil")
	}
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	m := &Manager{dev: dev, geo: geo}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Geometry returns the page layout
func (m *Manager) Geometry() Geometry {
	return m.geo
}

// PageAddress maps a page and word offset to a physical address
func (m *Manager) PageAddress(page, word int) uint32 {
	return m.geo.BaseAddress + uint32(page*m.geo.PageWords()+word)*2
}

// PageSector returns the physical sector of page when page is the first
// page of that sector. ok is false for every other page.
func (m *Manager) PageSector(page int) (sector int, ok bool) {
	if page%m.geo.PagesPerSector != 0 {
		return 0, false
	}
	return m.geo.FirstSector + page/m.geo.PagesPerSector, true
}

// ReadWord reads one word of a page
func (m *Manager) ReadWord(page, word int) uint16 {
	return m.dev.ReadHalfWord(m.PageAddress(page, word))
}

// ErasePage unlocks the flash and erases the sector owning page when page
// is the head of that sector. Erasing any other page only unlocks, so
// sibling pages already written stay intact. The flash is left unlocked.
func (m *Manager) ErasePage(page int) error {
	m.dev.Unlock()
	sector, ok := m.PageSector(page)
	if !ok {
		glog.V(1).Infof("page %d is not a sector head, erase skipped", page)
		return nil
	}
	glog.V(1).Infof("erasing sector %d for page %d", sector, page)
	if err := m.dev.EraseSector(sector); err != nil {
		return fmt.Errorf("erase sector %d: %w", sector, err)
	}
	return nil
}

// WritePage programs buf into page one half-word at a time, then locks the
// flash. The page must have been erased.
func (m *Manager) WritePage(page int, buf []uint16) error {
	if len(buf) != m.geo.PageWords() {
		return fmt.Errorf("%w: got %d words, want %d", ErrPartialPage, len(buf), m.geo.PageWords())
	}
	defer m.dev.Lock()

	for i, w := range buf {
		addr := m.PageAddress(page, i)
		if err := m.dev.ProgramHalfWord(addr, w); err != nil {
			return &ProgramError{Page: page, Word: i, Addr: addr, Err: err}
		}
	}

	if !m.verify {
		return nil
	}
	for i, w := range buf {
		if got := m.ReadWord(page, i); got != w {
			return &VerifyError{Page: page, Word: i, Want: w, Got: got}
		}
	}
	return nil
}
