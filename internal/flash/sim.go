// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Erased is the value of an erased half-word
const Erased uint16 = 0xFFFF

var (
	// ErrLocked is returned when erasing or programming a locked flash
	ErrLocked = errors.New("flash is locked")
	// ErrNotErased is returned when programming would need to set a bit
	ErrNotErased = errors.New("half-word is not erased")
	// ErrUnmapped is returned for addresses outside every sector
	ErrUnmapped = errors.New("address is not mapped")
)

// Sector is one erase unit of a simulated flash
type Sector struct {
	Start uint32
	Size  int
}

// SimDevice emulates a NOR flash controller: erased cells read 0xFFFF,
// programming can only clear bits, and both erase and program require the
// controller to be unlocked.
type SimDevice struct {
	sectors []Sector
	base    uint32
	mem     []byte
	locked  bool

	// Counters for inspection
	Erases   map[int]int
	Programs int
}

// NewSimDevice creates an erased flash with the given contiguous sectors
func NewSimDevice(sectors []Sector) (*SimDevice, error) {
	if len(sectors) == 0 {
		return nil, errors.New("no sectors")
	}
	base := sectors[0].Start
	next := base
	for i, s := range sectors {
		if s.Start != next {
			return nil, fmt.Errorf("sector %d starts at 0x%08X, want 0x%08X", i, s.Start, next)
		}
		if s.Size <= 0 || s.Size%2 != 0 {
			return nil, fmt.Errorf("sector %d has invalid size %d", i, s.Size)
		}
		next += uint32(s.Size)
	}

	d := &SimDevice{
		sectors: append([]Sector(nil), sectors...),
		base:    base,
		mem:     make([]byte, next-base),
		locked:  true,
		Erases:  make(map[int]int),
	}
	for i := range d.mem {
		d.mem[i] = 0xFF
	}
	return d, nil
}

// NewSTM32F4Device creates a 1 Mbyte STM32F4 sector map at 0x08000000
func NewSTM32F4Device() *SimDevice {
	var sectors []Sector
	addr := uint32(0x08000000)
	for _, size := range []int{16, 16, 16, 16, 64, 128, 128, 128, 128, 128, 128, 128} {
		sectors = append(sectors, Sector{Start: addr, Size: size * 1024})
		addr += uint32(size * 1024)
	}
	d, err := NewSimDevice(sectors)
	if err != nil {
		panic(fmt.Sprintf("flash: stm32f4 sector map: %v", err))
	}
	return d
}

// NewDeviceFor creates a flash whose sectors exactly cover geo, preceded by
// geo.FirstSector sectors of the same size.
func NewDeviceFor(geo Geometry) (*SimDevice, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	size := geo.SectorSize()
	before := uint32(geo.FirstSector * size)
	if geo.BaseAddress < before {
		return nil, fmt.Errorf("base address 0x%08X leaves no room for %d sectors", geo.BaseAddress, geo.FirstSector)
	}
	start := geo.BaseAddress - before
	count := geo.FirstSector + geo.AvailablePages/geo.PagesPerSector
	sectors := make([]Sector, count)
	for i := range sectors {
		sectors[i] = Sector{Start: start + uint32(i*size), Size: size}
	}
	return NewSimDevice(sectors)
}

// Unlock implements Device
func (d *SimDevice) Unlock() {
	d.locked = false
}

// Lock implements Device
func (d *SimDevice) Lock() {
	d.locked = true
}

// Locked reports whether the controller is locked
func (d *SimDevice) Locked() bool {
	return d.locked
}

// EraseSector implements Device
func (d *SimDevice) EraseSector(sector int) error {
	if d.locked {
		return ErrLocked
	}
	if sector < 0 || sector >= len(d.sectors) {
		return fmt.Errorf("no sector %d", sector)
	}
	s := d.sectors[sector]
	off := int(s.Start - d.base)
	for i := off; i < off+s.Size; i++ {
		d.mem[i] = 0xFF
	}
	d.Erases[sector]++
	return nil
}

// ProgramHalfWord implements Device
func (d *SimDevice) ProgramHalfWord(addr uint32, value uint16) error {
	if d.locked {
		return ErrLocked
	}
	off, ok := d.offset(addr)
	if !ok {
		return fmt.Errorf("%w: 0x%08X", ErrUnmapped, addr)
	}
	cur := binary.LittleEndian.Uint16(d.mem[off:])
	if value&^cur != 0 {
		return fmt.Errorf("%w: 0x%08X holds 0x%04X", ErrNotErased, addr, cur)
	}
	binary.LittleEndian.PutUint16(d.mem[off:], cur&value)
	d.Programs++
	return nil
}

// ReadHalfWord implements Device. Unmapped addresses read as erased.
func (d *SimDevice) ReadHalfWord(addr uint32) uint16 {
	off, ok := d.offset(addr)
	if !ok {
		return Erased
	}
	return binary.LittleEndian.Uint16(d.mem[off:])
}

// Corrupt overwrites a half-word ignoring the NOR rules, for fault injection
func (d *SimDevice) Corrupt(addr uint32, value uint16) {
	if off, ok := d.offset(addr); ok {
		binary.LittleEndian.PutUint16(d.mem[off:], value)
	}
}

// Sectors returns a copy of the sector map
func (d *SimDevice) Sectors() []Sector {
	return append([]Sector(nil), d.sectors...)
}

func (d *SimDevice) offset(addr uint32) (int, bool) {
	if addr < d.base || addr%2 != 0 {
		return 0, false
	}
	off := int(addr - d.base)
	if off+2 > len(d.mem) {
		return 0, false
	}
	return off, true
}
