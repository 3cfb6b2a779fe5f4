// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/asebaboot/internal/host"
)

var (
	describeTimeout int
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Wait for a node to describe its flash layout",
	Long: `Wait for the bootloader description of a node until timeout.

A node announces its page size, first page and page count once each time it
enters the bootloader. Power-cycle or reset the node after starting this
command.

Exit codes:
  0 - Description received before timeout
  1 - Timeout reached without a description
  2 - Connection error`,
	RunE: runDescribe,
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().IntVar(&describeTimeout, "timeout", 10, "Timeout in seconds to wait for the description")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	bus, connInfo, err := OpenBus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("Asebaboot - Describe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Node: %d\n", nodeID)
	fmt.Printf("Timeout: %d seconds\n", describeTimeout)
	fmt.Printf("Waiting for bootloader description...\n\n")

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(describeTimeout)*time.Second)
	defer cancel()

	c := host.New(bus, nodeID, host.WithLogger(glogLogger{}))
	start := time.Now()
	d, err := c.WaitDescription(ctx)
	if err != nil {
		bus.Close()
		if errors.Is(err, host.ErrTimeout) {
			fmt.Fprintf(os.Stderr, "TIMEOUT: No description received within %d seconds\n", describeTimeout)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("SUCCESS: Description received after %.2f seconds\n", time.Since(start).Seconds())
	fmt.Printf("  Page size:  %d bytes (%d words)\n", d.PageSize, d.PageWords())
	fmt.Printf("  First page: %d\n", d.FirstPage)
	fmt.Printf("  Pages:      %d (%d-%d)\n", d.PageCount, d.FirstPage, int(d.FirstPage)+int(d.PageCount)-1)
	fmt.Printf("  Capacity:   %d bytes\n", int(d.PageSize)*int(d.PageCount))
	return nil
}
