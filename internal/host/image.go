// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package host

import (
	"encoding/binary"
	"fmt"
)

// SplitPages cuts a raw image into pages of little-endian words. The last
// page is padded with 0xFF, the erased flash value.
func SplitPages(image []byte, pageSize int) ([][]uint16, error) {
	if pageSize <= 0 || pageSize%4 != 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}
	var pages [][]uint16
	for off := 0; off < len(image); off += pageSize {
		raw := make([]byte, pageSize)
		for i := range raw {
			raw[i] = 0xFF
		}
		copy(raw, image[off:])
		pages = append(pages, BytesToWords(raw))
	}
	return pages, nil
}

// BytesToWords decodes little-endian words; an odd trailing byte is dropped
func BytesToWords(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return words
}

// WordsToBytes encodes words little-endian, the flash byte order
func WordsToBytes(words []uint16) []byte {
	b := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(b[2*i:], w)
	}
	return b
}
