// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/asebaboot/internal/host"
	"github.com/Thermoquad/asebaboot/internal/transport"
)

var (
	writeImage  string
	writeStart  int
	writeVerify bool
	writeReset  bool
	writeTUI    bool
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Flash a raw binary image to a node",
	Long: `Write a raw binary image into consecutive flash pages of a node.

The image is split into pages of the size the node describes; the last page
is padded with 0xFF. Pages are written in ascending order starting at
--start, which defaults to the node's first page.

With --verify every page is read back and compared after it is committed.
With --reset the node is told to start the application once all pages are
written.`,
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
	addClientFlags(writeCmd)
	writeCmd.Flags().StringVarP(&writeImage, "image", "i", "", "Raw binary image to flash")
	writeCmd.Flags().IntVar(&writeStart, "start", -1, "First page to write (default: the node's first page)")
	writeCmd.Flags().BoolVar(&writeVerify, "verify", false, "Read back and compare every page")
	writeCmd.Flags().BoolVar(&writeReset, "reset", false, "Start the application after flashing")
	writeCmd.Flags().BoolVar(&writeTUI, "tui", false, "Show a terminal progress view")
	writeCmd.MarkFlagRequired("image")
}

func runWrite(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(writeImage)
	if err != nil {
		return err
	}

	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	if writeTUI {
		return runFlashTUI(cmd.Context(), bus, connInfo, image)
	}

	fmt.Printf("Asebaboot - Write\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Image: %s (%d bytes)\n", writeImage, len(image))

	var lastPhase string
	c := newClient(bus,
		host.WithVerify(writeVerify),
		host.WithProgressCallback(func(p host.Progress) {
			if p.Phase != lastPhase {
				fmt.Printf("\nPhase: %s\n", strings.ToUpper(p.Phase))
				lastPhase = p.Phase
			}
			if p.TotalPages > 0 {
				fmt.Printf("\r\033[K  page %d/%d | %d bytes | %.1f%% | %s",
					p.CurrentPage, p.TotalPages, p.BytesWritten, p.Percentage,
					p.ElapsedTime.Round(time.Millisecond))
			}
		}),
	)

	start := time.Now()
	err = flashImage(cmd.Context(), c, image, os.Stdout)
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("\nFlashed %d bytes in %s\n", len(image), time.Since(start).Round(time.Millisecond))
	if writeReset {
		fmt.Printf("Node %d started the application\n", nodeID)
	}
	return nil
}

// flashImage runs the whole update: describe, write, optionally reset
func flashImage(ctx context.Context, c *host.Client, image []byte, out io.Writer) error {
	d, err := describe(ctx, c, out)
	if err != nil {
		return err
	}

	start := writeStart
	if start < 0 {
		start = int(d.FirstPage)
	}
	if start > 0xFFFF {
		return &host.PageRangeError{Page: start, FirstPage: d.FirstPage, PageCount: d.PageCount}
	}
	if err := c.Flash(ctx, image, uint16(start)); err != nil {
		return err
	}

	if writeReset {
		return c.Reset(ctx)
	}
	return nil
}

// newFlashClient is used by the TUI, which reports progress itself
func newFlashClient(bus transport.WaitBus, progress host.ProgressCallback) *host.Client {
	return newClient(bus,
		host.WithVerify(writeVerify),
		host.WithProgressCallback(progress),
	)
}
