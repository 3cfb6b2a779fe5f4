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

	"github.com/Thermoquad/asebaboot/internal/boot"
	"github.com/Thermoquad/asebaboot/internal/flash"
	"github.com/Thermoquad/asebaboot/internal/node"
	"github.com/Thermoquad/asebaboot/internal/transport"
	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

var (
	deviceFlash      string
	deviceRetained   string
	deviceTimeout    time.Duration
	devicePoll       time.Duration
	deviceVerify     bool
	devicePowerCycle bool
	deviceGeometry   = flash.DefaultGeometry()
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Run a simulated bootloader node",
	Long: `Run a simulated bootloader node on the selected bus.

The node announces its flash layout, accepts page writes and reads, and jumps
to a placeholder application after RESET or when no host addressed it within
--timeout. The application re-enters the bootloader when it receives RESET.

With --flash the flash contents are kept in a CBOR snapshot file, loaded at
start and saved whenever the application starts and on exit. With --retained
the reboot-to-application request survives restarts of this process;
--power-cycle clears it first.`,
	RunE: runDevice,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.Flags().StringVar(&deviceFlash, "flash", "", "Flash snapshot file (CBOR)")
	deviceCmd.Flags().StringVar(&deviceRetained, "retained", "", "Retained memory file (CBOR)")
	deviceCmd.Flags().DurationVar(&deviceTimeout, "timeout", 5*time.Second, "Boot to the application when no host speaks within this time (0 waits forever)")
	deviceCmd.Flags().DurationVar(&devicePoll, "poll", time.Millisecond, "Idle time between receive polls")
	deviceCmd.Flags().BoolVar(&deviceVerify, "verify", false, "Verify every page after programming")
	deviceCmd.Flags().BoolVar(&devicePowerCycle, "power-cycle", false, "Clear retained memory before starting")

	// Geometry flags
	deviceCmd.Flags().Uint32Var(&deviceGeometry.BaseAddress, "base", deviceGeometry.BaseAddress, "Address of page 0")
	deviceCmd.Flags().IntVar(&deviceGeometry.PageSize, "page-size", deviceGeometry.PageSize, "Page size in bytes")
	deviceCmd.Flags().IntVar(&deviceGeometry.PagesPerSector, "pages-per-sector", deviceGeometry.PagesPerSector, "Pages per erase sector")
	deviceCmd.Flags().IntVar(&deviceGeometry.FirstSector, "first-sector", deviceGeometry.FirstSector, "Sector holding page 0")
	deviceCmd.Flags().IntVar(&deviceGeometry.FirstPage, "first-page", deviceGeometry.FirstPage, "Page number announced for page 0")
	deviceCmd.Flags().IntVar(&deviceGeometry.AvailablePages, "pages", deviceGeometry.AvailablePages, "Number of programmable pages")
}

func runDevice(cmd *cobra.Command, args []string) error {
	if err := deviceGeometry.Validate(); err != nil {
		return err
	}

	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	dev, err := openDeviceFlash()
	if err != nil {
		return err
	}

	var mem boot.RetainedMemory = &boot.MemoryRetained{}
	if deviceRetained != "" {
		fr := boot.NewFileRetained(deviceRetained)
		if devicePowerCycle {
			if err := fr.PowerCycle(); err != nil {
				return err
			}
		}
		mem = fr
	}

	fmt.Printf("Asebaboot - Simulated Node\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Node: %d\n", nodeID)
	fmt.Printf("Flash: %d pages of %d bytes at 0x%08X (first page %d)\n",
		deviceGeometry.AvailablePages, deviceGeometry.PageSize, deviceGeometry.BaseAddress, deviceGeometry.FirstPage)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	n, err := node.New(node.Config{
		NodeID:       nodeID,
		Geometry:     deviceGeometry,
		Timeout:      deviceTimeout,
		PollInterval: devicePoll,
		Verify:       deviceVerify,
	}, bus, dev, mem, node.WithApplication(func(ctx context.Context, _ *flash.Manager) bool {
		saveDeviceFlash(dev)
		fmt.Printf("Application running\n")
		reset := waitForReset(ctx, bus)
		if reset {
			fmt.Printf("Reset requested, entering bootloader\n")
		}
		return reset
	}))
	if err != nil {
		return err
	}

	out, err := n.Boot(cmd.Context())
	saveDeviceFlash(dev)
	if fr, ok := mem.(*boot.FileRetained); ok && fr.Err != nil {
		glog.Errorf("retained memory: %v", fr.Err)
	}

	fmt.Printf("\nResets: %d, application entered: %t, timed out: %t\n", out.Resets, out.Jumped, out.TimedOut)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openDeviceFlash() (*flash.SimDevice, error) {
	fresh := func() (*flash.SimDevice, error) {
		if deviceGeometry == flash.DefaultGeometry() {
			return flash.NewSTM32F4Device(), nil
		}
		return flash.NewDeviceFor(deviceGeometry)
	}
	if deviceFlash == "" {
		return fresh()
	}
	return flash.OpenSnapshot(deviceFlash, fresh)
}

func saveDeviceFlash(dev *flash.SimDevice) {
	if deviceFlash == "" {
		return
	}
	if err := dev.SaveSnapshot(deviceFlash); err != nil {
		glog.Errorf("save flash snapshot: %v", err)
		return
	}
	glog.V(1).Infof("flash saved to %s", deviceFlash)
}

// waitForReset plays the application's part of the protocol: a RESET
// addressed to this node sends it back to the bootloader
func waitForReset(ctx context.Context, bus transport.WaitBus) bool {
	for {
		f, err := bus.Wait(ctx)
		if err != nil {
			return false
		}
		words, err := aseba.WordsFromFrame(f)
		if err != nil || len(words) < 2 {
			continue
		}
		if words[0] == aseba.CmdReset && words[1] == uint16(nodeID) {
			return true
		}
	}
}
