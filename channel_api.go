// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"context"
	"errors"
	"strconv"

	"github.com/aeckleder/iec1541/internal/wire"
)

// doRequest serializes one request/response round trip: it holds
// writeMu for the whole exchange so overlapping Channel API calls are
// serialized rather than interleaved on the wire (§5 "at-most-one"),
// opens the correlator's slot before writing (§4.5: "must be called
// before the request bytes are written so the reader cannot race
// ahead"), then blocks for the matching `s` frame.
func (c *Connection) doRequest(ctx context.Context, write func() error) ([]byte, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.corr.begin()
	if err := write(); err != nil {
		c.corr.abort(nil) // clear the slot; nothing to report to a waiter since there is none yet
		return nil, NewConnectionFailure("write", err)
	}
	return c.corr.await(ctx)
}

// Reset pulses the MCU's RESET line and waits for the drive to settle
// electrically before reporting success (§4.6 "Reset"). The MCU emits
// its `s` reply immediately; the settle delay is purely a host-side
// courtesy to callers that will issue a request right after.
func (c *Connection) Reset(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.corr.begin()
	if err := c.writer.writeReset(); err != nil {
		c.corr.abort(nil)
		return NewConnectionFailure("Reset", err)
	}
	if err := sleepWithContext(ctx, c.cfg.ResetSettleDelay); err != nil {
		c.corr.abort(nil)
		return NewConnectionFailure("Reset", err)
	}
	_, err := c.corr.await(ctx)
	return wrapBusFailure("Reset", err)
}

// OpenChannel opens a logical channel on dev with the given command
// string (§4.6 "OpenChannel"). cmd must be at most wire.MaxOpenPayload
// bytes.
func (c *Connection) OpenChannel(ctx context.Context, dev, ch byte, cmd []byte) error {
	if len(cmd) > wire.MaxOpenPayload {
		return NewInvalidArgument("OpenChannel", errTooLongOpen(len(cmd)))
	}
	_, err := c.doRequest(ctx, func() error {
		return c.writer.writeOpen(dev, ch, cmd)
	})
	return wrapBusFailure("OpenChannel", err)
}

// ReadFromChannel reads bytes until EOI from dev/ch (§4.6 "ReadFromChannel").
// The result is the payload carried by the last `r` frame received
// before the terminating `s` frame.
func (c *Connection) ReadFromChannel(ctx context.Context, dev, ch byte) ([]byte, error) {
	data, err := c.doRequest(ctx, func() error {
		return c.writer.writeGetData(dev, ch)
	})
	if err != nil {
		return nil, wrapBusFailure("ReadFromChannel", err)
	}
	return data, nil
}

// WriteToChannel splits data into chunks of at most wire.MaxPutChunk
// bytes and issues one `p` request per chunk, waiting for each chunk's
// `s` before sending the next (§4.6 "WriteToChannel"). The first
// failing chunk aborts the remainder.
func (c *Connection) WriteToChannel(ctx context.Context, dev, ch byte, data []byte) error {
	for offset := 0; offset < len(data); offset += wire.MaxPutChunk {
		end := offset + wire.MaxPutChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		_, err := c.doRequest(ctx, func() error {
			return c.writer.writePutData(dev, ch, chunk)
		})
		if err != nil {
			return wrapBusFailure("WriteToChannel", err)
		}
	}
	return nil
}

// CloseChannel closes a previously opened logical channel (§4.6 "CloseChannel").
func (c *Connection) CloseChannel(ctx context.Context, dev, ch byte) error {
	_, err := c.doRequest(ctx, func() error {
		return c.writer.writeClose(dev, ch)
	})
	return wrapBusFailure("CloseChannel", err)
}

// wrapBusFailure renames a bare IEC_CONNECTION_FAILURE produced by the
// reader (which does not know the operation name) to carry op, leaving
// other error kinds untouched.
func wrapBusFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.Kind == KindBusFailure {
		return NewBusFailure(op, se.Message)
	}
	return err
}

func errTooLongOpen(n int) error {
	return errors.New("open command string exceeds 255 bytes: got " + strconv.Itoa(n))
}
