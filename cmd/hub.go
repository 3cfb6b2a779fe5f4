// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/asebaboot/internal/transport"
)

var (
	hubListen string
	hubPath   string
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Serve a WebSocket CAN relay",
	Long: `Serve a virtual CAN bus over WebSocket.

Every binary frame a client sends is relayed to all other clients, so a
simulated node started with "device --url" and a host tool started with
"write --url" can talk without CAN hardware.

With --username, clients must authenticate with HTTP Basic auth. The password
is read from ASEBA_PASSWORD or prompted.`,
	RunE: runHub,
}

func init() {
	rootCmd.AddCommand(hubCmd)
	hubCmd.Flags().StringVar(&hubListen, "listen", ":8080", "Listen address")
	hubCmd.Flags().StringVar(&hubPath, "path", "/can", "WebSocket endpoint path")
}

func runHub(cmd *cobra.Command, args []string) error {
	password := ""
	if wsUsername != "" {
		var err error
		password, err = GetPassword()
		if err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle(hubPath, transport.NewHub(wsUsername, password))
	srv := &http.Server{
		Addr:              hubListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("Asebaboot - Hub\n")
	fmt.Printf("Listening: ws://%s%s\n", hubListen, hubPath)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			glog.Errorf("hub shutdown: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
