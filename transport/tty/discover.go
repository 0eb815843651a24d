// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package tty

import (
	"fmt"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DeviceInfo describes one candidate serial port, trimmed from the
// teacher's detection.DeviceInfo down to what a bridge cmdline tool
// needs to offer the user a choice (no probing: the bridge has nothing
// like the PN532's firmware-version command to identify a device
// before the handshake runs).
type DeviceInfo struct {
	Path         string
	VID          string
	PID          string
	SerialNumber string
}

// ListPorts enumerates candidate serial devices, the tty equivalent of
// the teacher's detection/uart port enumeration but without its
// PN532-probing registry: this package doesn't know how to identify
// the bridge without completing the handshake, so it only lists ports.
func ListPorts() ([]DeviceInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("tty: enumerating ports: %w", err)
	}

	infos := make([]DeviceInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, DeviceInfo{
			Path:         d.Name,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return infos, nil
}

// ListPortNames is a fallback for platforms where the detailed
// enumerator is unavailable, using go.bug.st/serial's plain listing.
func ListPortNames() ([]string, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("tty: listing ports: %w", err)
	}
	return names, nil
}
