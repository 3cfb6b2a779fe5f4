// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/asebaboot/internal/host"
	"github.com/Thermoquad/asebaboot/internal/transport"
	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// Client flags shared by the commands that talk to a node
var (
	replyTimeout    time.Duration
	pageRetries     int
	frameDelay      time.Duration
	describeWait    time.Duration
	layoutPageSize  uint16
	layoutFirstPage uint16
	layoutPageCount uint16
)

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&replyTimeout, "reply-timeout", 2*time.Second, "Time to wait for each reply from the node")
	cmd.Flags().IntVar(&pageRetries, "retries", 2, "Extra attempts for a page whose acknowledgement timed out")
	cmd.Flags().DurationVar(&frameDelay, "frame-delay", 0, "Pause after each PAGE_DATA frame")
	cmd.Flags().DurationVar(&describeWait, "wait", 30*time.Second, "Time to wait for the node description")

	// A node only describes itself when it enters the bootloader; these
	// flags allow talking to one that already has
	cmd.Flags().Uint16Var(&layoutPageSize, "page-size", 0, "Page size in bytes (skips waiting for the description)")
	cmd.Flags().Uint16Var(&layoutFirstPage, "first-page", 0, "First page number (with --page-size)")
	cmd.Flags().Uint16Var(&layoutPageCount, "page-count", 0, "Number of pages (with --page-size)")
}

// newClient builds a client from the shared flags plus opts
func newClient(bus transport.WaitBus, opts ...host.Option) *host.Client {
	base := []host.Option{
		host.WithLogger(glogLogger{}),
		host.WithTimeout(replyTimeout),
		host.WithRetries(pageRetries),
		host.WithFrameDelay(frameDelay),
	}
	if layoutPageSize > 0 {
		base = append(base, host.WithDescription(aseba.Description{
			PageSize:  layoutPageSize,
			FirstPage: layoutFirstPage,
			PageCount: layoutPageCount,
		}))
	}
	return host.New(bus, nodeID, append(base, opts...)...)
}

// describe returns the node layout, waiting for it when not configured
func describe(ctx context.Context, c *host.Client, out io.Writer) (aseba.Description, error) {
	if d, ok := c.Description(); ok {
		return d, nil
	}

	fmt.Fprintf(out, "Waiting for node %d to enter the bootloader...\n", c.Node())
	ctx, cancel := context.WithTimeout(ctx, describeWait)
	defer cancel()
	return c.WaitDescription(ctx)
}
