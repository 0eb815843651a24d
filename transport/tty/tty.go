// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package tty implements iec1541.Port over a real serial device, using
// go.bug.st/serial the way the teacher's transport/uart package does
// for its UART transport.
package tty

import (
	"fmt"
	"time"

	"github.com/aeckleder/iec1541"
	"go.bug.st/serial"
)

// ValidBaudRates is the subset of standard rates the link may be
// configured to run at (§6 "Serial line setup").
var ValidBaudRates = []int{
	0, 50, 75, 110, 134, 150, 200, 300, 600, 1200, 2400,
	4800, 9600, 19200, 38400, 57600, 115200, 230400,
}

func isValidBaudRate(rate int) bool {
	for _, r := range ValidBaudRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Port is a real serial-device Port, implementing iec1541.Port.
type Port struct {
	port serial.Port
	name string
}

var _ iec1541.TypedPort = (*Port)(nil)

// Open opens device at 1200 baud briefly to trigger the MCU's DTR
// reset, sleeps 1s, reprograms to baudRate, and flushes any input that
// accumulated during the reset (§6 "Serial line setup"). Raw mode is
// 8N1 with no flow control; go.bug.st/serial's own mode covers the
// framing bits, and setRawVMinVTime reaches past it to set the exact
// VMIN=1/VTIME=1 the spec calls for on Linux. SetReadDeadline layers a
// cooperative timeout on top for the background reader's poll loop.
func Open(device string, baudRate int) (*Port, error) {
	if !isValidBaudRate(baudRate) {
		return nil, fmt.Errorf("tty: unsupported baud rate %d", baudRate)
	}

	sp, err := serial.Open(device, &serial.Mode{
		BaudRate: 1200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("tty: opening %s: %w", device, err)
	}

	time.Sleep(time.Second)

	if err := sp.SetMode(&serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("tty: reconfiguring %s to %d baud: %w", device, baudRate, err)
	}

	if err := sp.ResetInputBuffer(); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("tty: flushing %s: %w", device, err)
	}

	if err := setRawVMinVTime(device); err != nil {
		_ = sp.Close()
		return nil, err
	}

	return &Port{port: sp, name: device}, nil
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) { return p.port.Read(b) }

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) { return p.port.Write(b) }

// Close implements io.Closer.
func (p *Port) Close() error { return p.port.Close() }

// SetReadDeadline implements iec1541.Port by translating an absolute
// deadline into go.bug.st/serial's relative read timeout, polled by the
// background reader the same way it would poll a self-pipe.
func (p *Port) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return p.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return p.port.SetReadTimeout(d)
}

// ResetTarget bounces DTR to reset the MCU (§6), the same line the
// original source's baud-rate drop exploits on boards that wire DTR to
// the reset pin through a capacitor.
func (p *Port) ResetTarget() error {
	if err := p.port.SetDTR(false); err != nil {
		return fmt.Errorf("tty: clearing DTR: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.port.SetDTR(true); err != nil {
		return fmt.Errorf("tty: setting DTR: %w", err)
	}
	return nil
}

// Type implements iec1541.TypedPort.
func (p *Port) Type() iec1541.PortType { return iec1541.PortTTY }

// Name returns the device path this Port was opened on.
func (p *Port) Name() string { return p.name }
