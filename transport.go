// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"io"
	"time"
)

// Port is the link-level transport a Connection speaks host opcode
// frames and MCU reply frames over. It is the generalization of the
// original source's raw arduino_fd_/BufferedReadWriter pair: something
// that can be written to, read from with a deadline, and reset.
//
// transport/tty implements Port over a real serial device with
// go.bug.st/serial; internal/mcusim implements it in memory for tests.
type Port interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline bounds the next Read call, the way the background
	// reader uses it to notice a stop request without a self-pipe (§6;
	// see DESIGN.md, reader.go entry).
	SetReadDeadline(t time.Time) error

	// ResetTarget asserts and releases the MCU's reset line, or bounces
	// the DTR-wired serial control line on a real port (§4.6 "Connection
	// handshake").
	ResetTarget() error
}

// PortType names the concrete Port implementation, mirroring the
// teacher's TransportType enum used for diagnostics and logging.
type PortType string

const (
	// PortTTY is a real serial device opened via transport/tty.
	PortTTY PortType = "tty"
	// PortSimulated is an internal/mcusim in-memory port used in tests.
	PortSimulated PortType = "simulated"
)

// TypedPort is implemented by Ports that know their own PortType, used
// only for logging; Connection does not branch on it.
type TypedPort interface {
	Port
	Type() PortType
}
