// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/asebaboot/internal/transport"
	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

var (
	monitorStatsInterval int
	monitorAllNodes      bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display bootloader traffic in human-readable format",
	Long: `Continuously decode and display bootloader frames as they arrive.

Each frame is shown with its timestamp, identifier, opcode and decoded
arguments. A statistics summary is printed at the configured interval and
on exit.

Only frames for --node are shown unless --all is given.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 10, "Statistics interval in seconds (0 disables)")
	monitorCmd.Flags().BoolVar(&monitorAllNodes, "all", false, "Show frames for every node")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Asebaboot - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := aseba.NewStatistics()
	defer func() { fmt.Print("\n" + stats.String()) }()

	return monitor(cmd.Context(), bus, stats, time.Duration(monitorStatsInterval)*time.Second)
}

// monitor prints frames until ctx ends or the bus closes
func monitor(ctx context.Context, bus transport.WaitBus, stats *aseba.Statistics, interval time.Duration) error {
	lastStats := time.Now()
	for {
		f, err := bus.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, transport.ErrClosed) {
				glog.Infof("Connection closed")
				return nil
			}
			return err
		}

		if !monitorAllNodes && f.Node() != nodeID {
			continue
		}
		stats.Update(f)
		fmt.Print(aseba.FormatFrame(time.Now(), f))

		if interval > 0 && time.Since(lastStats) >= interval {
			fmt.Print("\n" + stats.String() + "\n")
			lastStats = time.Now()
		}
	}
}
