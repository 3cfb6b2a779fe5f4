// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/asebaboot/internal/transport"
	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

var (
	scanTimeout int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nodes entering the bootloader",
	Long: `Listen for bootloader descriptions from any node on the bus.

Each node describes itself once when it enters the bootloader, so power-cycle
or reset the nodes after starting the scan. The --node flag is ignored.

Examples:
  # Scan an SLCAN adapter
  asebaboot scan --port /dev/ttyACM0

  # Scan through a WebSocket hub
  asebaboot scan --url ws://localhost:8080/can --timeout 20

Exit codes:
  0 - At least one node found
  1 - No node found before timeout
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Timeout in seconds for the scan")
}

func runScan(cmd *cobra.Command, args []string) error {
	bus, connInfo, err := OpenBus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("Asebaboot - Node Scan\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", scanTimeout)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(scanTimeout)*time.Second)
	defer cancel()

	nodes, err := scanNodes(ctx, bus, func(node uint8, d aseba.Description) {
		fmt.Printf("Node found:\n")
		fmt.Printf("  Node: %d\n", node)
		fmt.Printf("  Page size: %d bytes\n", d.PageSize)
		fmt.Printf("  Pages: %d-%d\n", d.FirstPage, int(d.FirstPage)+int(d.PageCount)-1)
	})
	if err != nil {
		bus.Close()
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}

	if len(nodes) == 0 {
		bus.Close()
		fmt.Printf("\nFAILED: No nodes found within %d seconds\n", scanTimeout)
		os.Exit(1)
	}

	ids := make([]int, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	fmt.Printf("\nSUCCESS: Found %d node(s): %v\n", len(ids), ids)
	return nil
}

// scanNodes collects descriptions until ctx ends. found is called once per
// node, the first time it describes itself.
func scanNodes(ctx context.Context, bus transport.WaitBus, found func(uint8, aseba.Description)) (map[uint8]aseba.Description, error) {
	nodes := make(map[uint8]aseba.Description)
	for {
		f, err := bus.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nodes, nil
			}
			return nodes, err
		}
		if f.Type() != aseba.TypeSmallPacket {
			continue
		}
		words, err := aseba.WordsFromFrame(f)
		if err != nil || len(words) == 0 || words[0] != aseba.PushDescription {
			continue
		}
		d, err := aseba.ParseDescription(words)
		if err != nil {
			continue
		}
		if _, seen := nodes[f.Node()]; !seen && found != nil {
			found(f.Node(), d)
		}
		nodes[f.Node()] = d
	}
}
