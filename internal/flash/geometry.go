// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flash maps bootloader pages onto the sectors of a NOR flash and
// enforces the erase-before-write discipline of the application region.
//
// STM32F4 flash memory layout:
//
//	Sector 0     0x0800 0000 - 0x0800 3FFF   16 Kbytes
//	Sector 1     0x0800 4000 - 0x0800 7FFF   16 Kbytes
//	Sector 2     0x0800 8000 - 0x0800 BFFF   16 Kbytes
//	Sector 3     0x0800 C000 - 0x0800 FFFF   16 Kbytes
//	Sector 4     0x0801 0000 - 0x0801 FFFF   64 Kbytes
//	Sector 5     0x0802 0000 - 0x0803 FFFF   128 Kbytes
//	...
//	Sector 11    0x080E 0000 - 0x080F FFFF   128 Kbytes
//
// Flash as advertised to the host: every page is 16 Kbytes and only the
// 128 Kbyte sectors hold the application, so there are 8 pages in a sector.
// Erasing only works if the pages of a sector are written in ascending order.
package flash

import "fmt"

// Geometry describes how pages are laid out over the application region
type Geometry struct {
	BaseAddress    uint32 // address of page 0
	PageSize       int    // bytes
	PagesPerSector int
	FirstSector    int // sector holding page 0
	FirstPage      int // page number advertised to the host for page 0
	AvailablePages int
}

// DefaultGeometry returns the STM32F4 layout: seven 128 Kbyte sectors
// starting at sector 5, split into 16 Kbyte pages.
func DefaultGeometry() Geometry {
	return Geometry{
		BaseAddress:    0x08020000,
		PageSize:       16 * 1024,
		PagesPerSector: 8,
		FirstSector:    5,
		FirstPage:      0,
		AvailablePages: 7 * 8,
	}
}

// PageWords returns the page size in 16-bit words
func (g Geometry) PageWords() int {
	return g.PageSize / 2
}

// SectorSize returns the byte size of one sector
func (g Geometry) SectorSize() int {
	return g.PageSize * g.PagesPerSector
}

// Size returns the byte size of the whole application region
func (g Geometry) Size() int {
	return g.PageSize * g.AvailablePages
}

// Validate checks that the geometry is usable
func (g Geometry) Validate() error {
	if g.PageSize <= 0 || g.PageSize%4 != 0 {
		return fmt.Errorf("page size %d must be a positive multiple of 4", g.PageSize)
	}
	if g.PageSize > 0xFFFF {
		return fmt.Errorf("page size %d does not fit a protocol word", g.PageSize)
	}
	if g.PagesPerSector <= 0 {
		return fmt.Errorf("pages per sector must be positive, got %d", g.PagesPerSector)
	}
	if g.AvailablePages <= 0 || g.AvailablePages > 0xFFFF {
		return fmt.Errorf("available pages %d out of range", g.AvailablePages)
	}
	if g.AvailablePages%g.PagesPerSector != 0 {
		return fmt.Errorf("available pages %d is not a whole number of sectors of %d pages",
			g.AvailablePages, g.PagesPerSector)
	}
	if g.FirstSector < 0 || g.FirstPage < 0 || g.FirstPage+g.AvailablePages > 0xFFFF {
		return fmt.Errorf("first sector %d / first page %d out of range", g.FirstSector, g.FirstPage)
	}
	if g.BaseAddress%2 != 0 {
		return fmt.Errorf("base address 0x%08X is not half-word aligned", g.BaseAddress)
	}
	return nil
}
