// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package mcusim simulates the MCU side of the link at the wire level,
// the way the teacher's internal/testing package simulates a PN532
// chip for transport tests. VirtualMCU implements io.ReadWriter (and
// the host's Port interface) so it can be handed directly to
// iec1541.Create without a real serial device.
package mcusim

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aeckleder/iec1541/internal/wire"
)

// timeoutError satisfies net.Error the way a real deadline-exceeded
// read on a serial port or socket would, since backgroundReader only
// treats net.Error timeouts as "no data yet, keep polling".
type timeoutError struct{}

func (timeoutError) Error() string   { return "mcusim: read deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

// OpResult is what an opcode handler returns: zero or more data frames
// (each becomes one escaped `r<payload>\r` frame) and a status message
// (empty string means success).
type OpResult struct {
	DataFrames [][]byte
	Status     string
}

// Handlers lets a test override what each opcode does; a nil field
// falls back to a success-with-no-data default.
type Handlers struct {
	OnReset func() OpResult
	OnOpen  func(dev, ch byte, cmd []byte) OpResult
	OnClose func(dev, ch byte) OpResult
	OnGet   func(dev, ch byte) OpResult
	OnPut   func(dev, ch byte, chunk []byte) OpResult
}

// VirtualMCU is an in-memory stand-in for the MCU side of the link.
type VirtualMCU struct {
	mu       sync.Mutex
	outBuf   bytes.Buffer
	rxBuf    bytes.Buffer
	closed   bool
	deadline time.Time

	configured bool
	handlers   Handlers

	ResetCount int
	OpenCalls  []OpenCall
	CloseCalls []CloseCall
	GetCalls   []GetCall
	PutCalls   []PutCall

	// ConfigLine captures the `OK>...` line the host sent during the
	// handshake, for assertions in tests.
	ConfigLine string
}

// OpenCall, CloseCall, GetCall and PutCall record one dispatched
// request for test assertions.
type (
	OpenCall  struct{ Dev, Ch byte; Cmd []byte }
	CloseCall struct{ Dev, Ch byte }
	GetCall   struct{ Dev, Ch byte }
	PutCall   struct{ Dev, Ch byte; Chunk []byte }
)

// New creates a simulator that will emit bannerLine (typically
// "connect_arduino:3") as its first reply, preceded by garbageLines
// bogus lines to exercise the handshake's retry loop (§8 "Banner retry").
func New(bannerLine string, garbageLines ...string) *VirtualMCU {
	v := &VirtualMCU{}
	for _, g := range garbageLines {
		v.outBuf.WriteString(g)
		v.outBuf.WriteByte(wire.Terminator)
	}
	v.outBuf.WriteString(bannerLine)
	v.outBuf.WriteByte(wire.Terminator)
	return v
}

// SetHandlers installs per-opcode overrides. Handlers are looked up when
// each opcode is dispatched, so they apply to every request written
// after this call.
func (v *VirtualMCU) SetHandlers(h Handlers) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers = h
}

// QueueLogFrame injects an asynchronous `D/W/E/I` frame, to test log
// transparency (§8 "Log transparency").
func (v *VirtualMCU) QueueLogFrame(level byte, id byte, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outBuf.WriteByte(level)
	v.outBuf.WriteByte(id)
	v.outBuf.WriteString(message)
	v.outBuf.WriteByte(wire.Terminator)
}

// QueueDebugDeclaration injects an `!` debug-channel declaration frame.
func (v *VirtualMCU) QueueDebugDeclaration(id byte, name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outBuf.WriteByte(wire.RespDebugChannel)
	v.outBuf.WriteByte(id)
	v.outBuf.WriteString(name)
	v.outBuf.WriteByte(wire.Terminator)
}

// Read implements io.Reader, draining whatever has been queued for the
// host. It blocks (subject to SetReadDeadline) until data is available,
// the same wait-for-bytes behavior a real tty read has.
func (v *VirtualMCU) Read(p []byte) (int, error) {
	for {
		v.mu.Lock()
		if v.outBuf.Len() > 0 {
			n, _ := v.outBuf.Read(p)
			v.mu.Unlock()
			return n, nil
		}
		if v.closed {
			v.mu.Unlock()
			return 0, fmt.Errorf("mcusim: read on closed port")
		}
		deadline := v.deadline
		v.mu.Unlock()

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, timeoutError{}
		}
		time.Sleep(time.Millisecond)
	}
}

// Write implements io.Writer: bytes from the host are appended to an
// internal receive buffer and dispatched as soon as they form a
// complete frame, mirroring how the real MCU firmware consumes its
// UART byte-by-byte and only reacts once it has a full opcode.
func (v *VirtualMCU) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, fmt.Errorf("mcusim: write on closed port")
	}
	v.rxBuf.Write(p)
	v.dispatchLocked()
	return len(p), nil
}

// Close implements io.Closer.
func (v *VirtualMCU) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// SetReadDeadline implements the deadline half of iec1541.Port.
func (v *VirtualMCU) SetReadDeadline(t time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deadline = t
	return nil
}

// ResetTarget implements iec1541.Port; the simulator has no hardware
// reset line to bounce, so it only records that one was requested.
func (v *VirtualMCU) ResetTarget() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ResetCount++
	return nil
}

// dispatchLocked processes as many complete units as rxBuf currently
// holds. Called with v.mu held.
func (v *VirtualMCU) dispatchLocked() {
	for {
		if !v.configured {
			if !v.dispatchConfigLocked() {
				return
			}
			continue
		}
		if !v.dispatchOpcodeLocked() {
			return
		}
	}
}

// dispatchConfigLocked looks for the `OK>...\r` handshake line. It
// returns false if the line is not yet complete.
func (v *VirtualMCU) dispatchConfigLocked() bool {
	data := v.rxBuf.Bytes()
	idx := bytes.IndexByte(data, wire.Terminator)
	if idx < 0 {
		return false
	}
	line := string(data[:idx])
	v.rxBuf.Next(idx + 1)
	v.ConfigLine = line
	v.configured = true
	return true
}

// dispatchOpcodeLocked consumes one opcode frame if a complete one is
// buffered. It returns false when more bytes are needed.
func (v *VirtualMCU) dispatchOpcodeLocked() bool {
	data := v.rxBuf.Bytes()
	if len(data) < 1 {
		return false
	}

	switch data[0] {
	case wire.OpReset:
		v.rxBuf.Next(1)
		v.ResetCount++
		res := OpResult{}
		if v.handlers.OnReset != nil {
			res = v.handlers.OnReset()
		}
		v.emitLocked(res)
		return true

	case wire.OpOpen:
		if len(data) < 4 {
			return false
		}
		n := int(data[3])
		if len(data) < 4+n {
			return false
		}
		dev, ch, cmd := data[1], data[2], append([]byte(nil), data[4:4+n]...)
		v.rxBuf.Next(4 + n)
		v.OpenCalls = append(v.OpenCalls, OpenCall{Dev: dev, Ch: ch, Cmd: cmd})
		res := OpResult{}
		if v.handlers.OnOpen != nil {
			res = v.handlers.OnOpen(dev, ch, cmd)
		}
		v.emitLocked(res)
		return true

	case wire.OpClose:
		if len(data) < 3 {
			return false
		}
		dev, ch := data[1], data[2]
		v.rxBuf.Next(3)
		v.CloseCalls = append(v.CloseCalls, CloseCall{Dev: dev, Ch: ch})
		res := OpResult{}
		if v.handlers.OnClose != nil {
			res = v.handlers.OnClose(dev, ch)
		}
		v.emitLocked(res)
		return true

	case wire.OpGetData:
		if len(data) < 3 {
			return false
		}
		dev, ch := data[1], data[2]
		v.rxBuf.Next(3)
		v.GetCalls = append(v.GetCalls, GetCall{Dev: dev, Ch: ch})
		res := OpResult{}
		if v.handlers.OnGet != nil {
			res = v.handlers.OnGet(dev, ch)
		}
		v.emitLocked(res)
		return true

	case wire.OpPutData:
		if len(data) < 4 {
			return false
		}
		n := wire.DecodeChunkLen(data[3])
		if len(data) < 4+n {
			return false
		}
		dev, ch, chunk := data[1], data[2], append([]byte(nil), data[4:4+n]...)
		v.rxBuf.Next(4 + n)
		v.PutCalls = append(v.PutCalls, PutCall{Dev: dev, Ch: ch, Chunk: chunk})
		res := OpResult{}
		if v.handlers.OnPut != nil {
			res = v.handlers.OnPut(dev, ch, chunk)
		}
		v.emitLocked(res)
		return true

	default:
		// Unrecognized opcode: drop it, the way a confused simulator
		// should not hang a test.
		v.rxBuf.Next(1)
		return true
	}
}

// emitLocked writes res as `r` frames (escaped) followed by the
// terminating `s` frame, per §4.3.
func (v *VirtualMCU) emitLocked(res OpResult) {
	for _, d := range res.DataFrames {
		v.outBuf.WriteByte(wire.RespData)
		v.outBuf.Write(escapeForSim(d))
		v.outBuf.WriteByte(wire.Terminator)
	}
	v.outBuf.WriteByte(wire.RespStatus)
	v.outBuf.WriteString(res.Status)
	v.outBuf.WriteByte(wire.Terminator)
}

// escapeForSim applies the same byte-stuffing scheme the production
// escape() function uses, duplicated here so the simulator has no
// import-cycle dependency on the root package.
func escapeForSim(data []byte) []byte {
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
