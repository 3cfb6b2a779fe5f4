// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

const snapshotVersion = 1

// snapshot is the CBOR document holding a simulated flash
type snapshot struct {
	Version int      `cbor:"0,keyasint"`
	Sectors []Sector `cbor:"1,keyasint"`
	Memory  []byte   `cbor:"2,keyasint"`
}

// MarshalCBOR encodes the flash contents and sector map
func (d *SimDevice) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(snapshot{
		Version: snapshotVersion,
		Sectors: d.sectors,
		Memory:  d.mem,
	})
}

// UnmarshalCBOR restores flash contents encoded by MarshalCBOR. The device
// comes back locked, as after a reset.
func (d *SimDevice) UnmarshalCBOR(data []byte) error {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode flash snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("unsupported flash snapshot version %d", s.Version)
	}
	restored, err := NewSimDevice(s.Sectors)
	if err != nil {
		return fmt.Errorf("flash snapshot sector map: %w", err)
	}
	if len(s.Memory) != len(restored.mem) {
		return fmt.Errorf("flash snapshot holds %d bytes, sector map needs %d", len(s.Memory), len(restored.mem))
	}
	copy(restored.mem, s.Memory)
	*d = *restored
	return nil
}

// SaveSnapshot writes the flash to path
func (d *SimDevice) SaveSnapshot(path string) error {
	data, err := d.MarshalCBOR()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads a flash written by SaveSnapshot
func LoadSnapshot(path string) (*SimDevice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := &SimDevice{}
	if err := d.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenSnapshot loads path, or returns fresh when path does not exist yet
func OpenSnapshot(path string, fresh func() (*SimDevice, error)) (*SimDevice, error) {
	d, err := LoadSnapshot(path)
	if errors.Is(err, os.ErrNotExist) {
		return fresh()
	}
	return d, err
}
