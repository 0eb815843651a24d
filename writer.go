// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"fmt"

	"github.com/aeckleder/iec1541/internal/wire"
)

// frameWriter is the sole producer of the tty (§4.4, §5). Every method
// here assumes the caller already holds the connection's write lock, so
// writes and the responseCorrelator.begin() that precedes them stay
// atomic with respect to the background reader.
type frameWriter struct {
	port  Port
	trace *traceBuffer
}

func newFrameWriter(port Port, trace *traceBuffer) *frameWriter {
	return &frameWriter{port: port, trace: trace}
}

func (w *frameWriter) writeRaw(data []byte, note string) error {
	if w.trace != nil {
		w.trace.record(TraceTX, data, note)
	}
	_, err := w.port.Write(data)
	return err
}

// writeReset writes the `r` opcode frame (§3, §4.6).
func (w *frameWriter) writeReset() error {
	return w.writeRaw([]byte{wire.OpReset}, "reset")
}

// writeOpen writes the `o dev chan len cmd` opcode frame (§3, §4.6).
// cmd must be at most wire.MaxOpenPayload bytes.
func (w *frameWriter) writeOpen(dev, ch byte, cmd []byte) error {
	if len(cmd) > wire.MaxOpenPayload {
		return fmt.Errorf("open payload of %d bytes exceeds %d", len(cmd), wire.MaxOpenPayload)
	}
	frame := make([]byte, 0, 4+len(cmd))
	frame = append(frame, wire.OpOpen, dev, ch, byte(len(cmd)))
	frame = append(frame, cmd...)
	return w.writeRaw(frame, "open")
}

// writeClose writes the `c dev chan` opcode frame (§3, §4.6).
func (w *frameWriter) writeClose(dev, ch byte) error {
	return w.writeRaw([]byte{wire.OpClose, dev, ch}, "close")
}

// writeGetData writes the `g dev chan` opcode frame (§3, §4.6).
func (w *frameWriter) writeGetData(dev, ch byte) error {
	return w.writeRaw([]byte{wire.OpGetData, dev, ch}, "get")
}

// writePutData writes one `p dev chan len data` opcode frame. chunk
// must be at most wire.MaxPutChunk bytes; callers split larger payloads
// into multiple chunks (§4.6 "WriteToChannel").
func (w *frameWriter) writePutData(dev, ch byte, chunk []byte) error {
	if len(chunk) == 0 || len(chunk) > wire.MaxPutChunk {
		return fmt.Errorf("put chunk of %d bytes outside [1, %d]", len(chunk), wire.MaxPutChunk)
	}
	frame := make([]byte, 0, 4+len(chunk))
	frame = append(frame, wire.OpPutData, dev, ch, wire.EncodeChunkLen(len(chunk)))
	frame = append(frame, chunk...)
	return w.writeRaw(frame, "put")
}
