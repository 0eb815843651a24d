// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package mcu implements the MCU Framing Layer (§4.3): it reads single-
// character opcodes from the host serial stream, executes them against
// an iec.Controller, and writes back framed replies, including the
// connect/handshake banner exchange and asynchronous log frames.
package mcu

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aeckleder/iec1541/internal/wire"
	"github.com/aeckleder/iec1541/mcu/iec"
	"github.com/aeckleder/iec1541/mcu/linedriver"
)

// ProtocolVersion is the version this implementation advertises in its
// connect_arduino banner (§6 "Connection handshake": "proto >= 3").
const ProtocolVersion = 3

// DebugChannel is one declared log source, emitted as a `!` frame at
// startup (§4.3 "declare debug channels").
type DebugChannel struct {
	ID   byte
	Name string
}

// Framing is the MCU-side loop: it owns the serial stream and an
// iec.Controller built from the pin assignment the host sends during
// the handshake.
type Framing struct {
	rw       io.ReadWriter
	br       *bufio.Reader
	bus      linedriver.Bus
	channels []DebugChannel

	engine     *iec.Engine
	controller *iec.Controller
}

// New builds a Framing loop over rw (the serial link) and bus (the
// line-level hardware, real or simulated). channels are declared to
// the host once the handshake configuration line arrives.
func New(rw io.ReadWriter, bus linedriver.Bus, channels []DebugChannel) *Framing {
	return &Framing{
		rw:       rw,
		br:       bufio.NewReaderSize(rw, wire.MaxLineLength*2),
		bus:      bus,
		channels: channels,
	}
}

// Handshake emits the connect_arduino banner, blocks for the host's
// `OK>...` configuration line, and builds the Engine/Controller from
// the pin assignment it carries (§4.3, §6).
func (f *Framing) Handshake() error {
	if _, err := fmt.Fprintf(f.rw, "connect_arduino:%d\r", ProtocolVersion); err != nil {
		return fmt.Errorf("mcu: writing banner: %w", err)
	}

	line, err := f.br.ReadBytes(wire.Terminator)
	if err != nil {
		return fmt.Errorf("mcu: reading configuration line: %w", err)
	}
	line = line[:len(line)-1]

	dev, _, err := parseConfigLine(string(line))
	if err != nil {
		return fmt.Errorf("mcu: %w", err)
	}

	f.engine = iec.NewEngine(f.bus, dev)
	f.controller = iec.NewController(f.engine)

	for _, ch := range f.channels {
		if _, err := fmt.Fprintf(f.rw, "%c%c%s\r", wire.RespDebugChannel, ch.ID, ch.Name); err != nil {
			return fmt.Errorf("mcu: declaring debug channel %q: %w", ch.Name, err)
		}
	}
	return nil
}

// parseConfigLine parses "OK>dev|atn|clk|data|reset|srq|timestamp"
// (§6). Only the device number matters to the Engine; the pin numbers
// and timestamp are returned unparsed in rest, and Handshake discards
// them, since f.bus is already wired before the handshake runs.
func parseConfigLine(line string) (dev byte, rest string, err error) {
	if !strings.HasPrefix(line, "OK>") {
		return 0, "", fmt.Errorf("malformed configuration line %q", line)
	}
	fields := strings.Split(strings.TrimPrefix(line, "OK>"), "|")
	if len(fields) < 7 {
		return 0, "", fmt.Errorf("configuration line %q has %d fields, want 7", line, len(fields))
	}
	d, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", fmt.Errorf("bad device number %q: %w", fields[0], err)
	}
	return byte(d), strings.Join(fields[1:], "|"), nil
}

// Log emits an asynchronous D/W/E/I frame for channel id (§4.3 "the MCU
// may emit log frames").
func (f *Framing) Log(level byte, id byte, message string) error {
	_, err := fmt.Fprintf(f.rw, "%c%c%s\r", level, id, message)
	return err
}

// Run reads opcodes forever until rw returns an error (typically the
// host closing its side during shutdown) or an unknown opcode arrives.
func (f *Framing) Run() error {
	for {
		op, err := f.br.ReadByte()
		if err != nil {
			return err
		}
		if err := f.dispatch(op); err != nil {
			return err
		}
	}
}

// dispatch executes one opcode frame per §4.3 and writes its reply.
func (f *Framing) dispatch(op byte) error {
	switch op {
	case wire.OpReset:
		return f.handleReset()
	case wire.OpOpen:
		return f.handleOpen()
	case wire.OpClose:
		return f.handleClose()
	case wire.OpGetData:
		return f.handleGet()
	case wire.OpPutData:
		return f.handlePut()
	default:
		return fmt.Errorf("mcu: unknown opcode %#x", op)
	}
}

func (f *Framing) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(f.br, buf)
	return buf, err
}

func (f *Framing) handleReset() error {
	err := f.controller.PulseReset()
	return f.writeStatus(err)
}

func (f *Framing) handleOpen() error {
	hdr, err := f.readN(3)
	if err != nil {
		return err
	}
	dev, ch, n := hdr[0], hdr[1], int(hdr[2])
	payload, err := f.readN(n)
	if err != nil {
		return err
	}
	return f.writeStatus(f.controller.OpenSecondary(dev, ch, payload))
}

func (f *Framing) handleClose() error {
	hdr, err := f.readN(2)
	if err != nil {
		return err
	}
	return f.writeStatus(f.controller.CloseSecondary(hdr[0], hdr[1]))
}

func (f *Framing) handleGet() error {
	hdr, err := f.readN(2)
	if err != nil {
		return err
	}
	data, err := f.controller.ReceiveUntilEOI(hdr[0], hdr[1])
	if len(data) > 0 {
		if werr := f.writeData(data); werr != nil {
			return werr
		}
	}
	return f.writeStatus(err)
}

func (f *Framing) handlePut() error {
	hdr, err := f.readN(3)
	if err != nil {
		return err
	}
	dev, ch := hdr[0], hdr[1]
	n := wire.DecodeChunkLen(hdr[2])
	chunk, err := f.readN(n)
	if err != nil {
		return err
	}
	return f.writeStatus(f.controller.SendChunk(dev, ch, chunk))
}

// writeData emits one escaped `r<payload>\r` frame (§4.3 "Must escape the payload").
func (f *Framing) writeData(data []byte) error {
	_, err := fmt.Fprintf(f.rw, "%c%s\r", wire.RespData, escape(data))
	return err
}

// writeStatus emits the terminating `s<message>\r` frame, empty on
// success (§4.3).
func (f *Framing) writeStatus(err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_, werr := fmt.Fprintf(f.rw, "%c%s\r", wire.RespStatus, msg)
	return werr
}

// escape applies the same byte-stuffing scheme as the host's escape(),
// duplicated here since the MCU side has no dependency on the host
// package (SPEC_FULL §6 resolves the scheme: '\r' -> ESC 'R', ESC -> ESC ESC).
func escape(data []byte) []byte {
	const escByte = 0x1B
	const escR = 'R'
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case wire.Terminator:
			out = append(out, escByte, escR)
		case escByte:
			out = append(out, escByte, escByte)
		default:
			out = append(out, b)
		}
	}
	return out
}
