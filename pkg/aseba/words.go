// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aseba

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOddLength is returned when a payload cannot be split into 16-bit words
var ErrOddLength = errors.New("aseba: odd payload length")

// EncodeWords packs words into a frame payload, least significant byte first
func EncodeWords(words []uint16) ([]byte, error) {
	if len(words) > MaxFrameWords {
		return nil, fmt.Errorf("aseba: %d words do not fit in a frame (max %d)", len(words), MaxFrameWords)
	}
	data := make([]byte, len(words)*2)
	for i, w := range words {
		binary.LittleEndian.PutUint16(data[i*2:], w)
	}
	return data, nil
}

// DecodeWords splits a frame payload into little-endian words
func DecodeWords(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return words, nil
}

// FrameFromWords builds a small packet frame from node and words
func FrameFromWords(node uint8, words []uint16) (Frame, error) {
	data, err := EncodeWords(words)
	if err != nil {
		return Frame{}, err
	}
	return NewFrame(MakeID(TypeSmallPacket, node), data)
}

// WordsFromFrame decodes the payload of a frame into words
func WordsFromFrame(f Frame) ([]uint16, error) {
	return DecodeWords(f.Payload())
}
