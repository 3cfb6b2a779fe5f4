// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Asebaboot - Aseba CAN bootloader tools
//
// A CLI tool for flashing, reading back and monitoring nodes running the
// Aseba CAN bootloader, and for simulating such nodes.

package main

import (
	"os"

	"github.com/Thermoquad/asebaboot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
