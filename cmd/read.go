// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/asebaboot/internal/host"
)

var (
	readPage  int
	readCount int
	readOut   string
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read flash pages from a node",
	Long: `Read one or more consecutive pages from a node and write them to a file.

Pages are numbered as the node describes them: the first page is the node's
first page, not zero. Without --page the first page is read.`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	addClientFlags(readCmd)
	readCmd.Flags().IntVar(&readPage, "page", -1, "First page to read (default: the node's first page)")
	readCmd.Flags().IntVar(&readCount, "count", 1, "Number of pages to read")
	readCmd.Flags().StringVarP(&readOut, "out", "o", "", "Output file")
	readCmd.MarkFlagRequired("out")
}

func runRead(cmd *cobra.Command, args []string) error {
	if readCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Asebaboot - Read\n")
	fmt.Printf("Connection: %s\n", connInfo)

	ctx := cmd.Context()
	c := newClient(bus)
	d, err := describe(ctx, c, os.Stdout)
	if err != nil {
		return err
	}

	first := readPage
	if first < 0 {
		first = int(d.FirstPage)
	}
	last := first + readCount - 1
	for _, page := range []int{first, last} {
		if page < int(d.FirstPage) || page >= int(d.FirstPage)+int(d.PageCount) {
			return &host.PageRangeError{Page: page, FirstPage: d.FirstPage, PageCount: d.PageCount}
		}
	}

	var image []byte
	for page := first; page <= last; page++ {
		words, err := c.ReadPage(ctx, uint16(page))
		if err != nil {
			return err
		}
		image = append(image, host.WordsToBytes(words)...)
		fmt.Printf("  page %d: %d bytes\n", page, 2*len(words))
	}

	if err := os.WriteFile(readOut, image, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(image), readOut)
	return nil
}
