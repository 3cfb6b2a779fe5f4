// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/asebaboot/internal/transport"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("ASEBA_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenBus opens an SLCAN, WebSocket or MQTT bus based on flags
func OpenBus() (transport.WaitBus, string, error) {
	switch {
	case wsURL != "":
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		bus, err := transport.DialWebSocket(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("WebSocket: %s", wsURL), nil

	case mqttURL != "":
		bus, err := transport.DialMQTT(mqttURL)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("MQTT: %s (%s)", mqttURL, bus.Topic()), nil

	case portName != "":
		bus, err := transport.OpenSLCAN(portName, baudRate, bitrate)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("SLCAN: %s @ %d baud, %d bit/s", portName, baudRate, bitrate), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --mqtt must be specified")
}
