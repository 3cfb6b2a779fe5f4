// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Serial (SLCAN) connection flags
	portName string
	baudRate int
	bitrate  int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// MQTT connection flags
	mqttURL string

	nodeID uint8
)

var rootCmd = &cobra.Command{
	Use:   "asebaboot",
	Short: "Aseba CAN bootloader tools",
	Long: `Asebaboot - Field firmware update over CAN for Aseba nodes.

Programs, reads back and resets nodes running the Aseba bootloader, monitors
bootloader traffic, and can run a simulated bootloader node for testing.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200] [--bitrate 1000000]  (SLCAN adapter)
  WebSocket: --url ws://host/path [--username user]
  MQTT:      --mqtt tcp://broker:1883/prefix

For WebSocket authentication, the password is read from the ASEBA_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Logging uses glog; pass -v=2 for per-frame traces.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "SLCAN serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().IntVar(&bitrate, "bitrate", 1000000, "CAN bitrate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// MQTT connection flags
	rootCmd.PersistentFlags().StringVar(&mqttURL, "mqtt", "", "MQTT broker URL (tcp://host:port/prefix)")

	rootCmd.PersistentFlags().Uint8VarP(&nodeID, "node", "n", 1, "Bootloader node id")

	// glog registers -v, -logtostderr and friends on the standard flag set
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
