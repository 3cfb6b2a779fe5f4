// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Leave the bootloader and start the application",
	Long: `Send RESET to a node in the bootloader and wait for its acknowledgement.

The node reboots into the application right after acknowledging.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	addClientFlags(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Asebaboot - Reset\n")
	fmt.Printf("Connection: %s\n", connInfo)

	c := newClient(bus)
	if err := c.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("reset node %d: %w", nodeID, err)
	}
	fmt.Printf("Node %d acknowledged reset\n", nodeID)
	return nil
}
