// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"fmt"

	"github.com/aeckleder/iec1541/internal/wire"
)

// The link terminates every `r` frame at the first unescaped '\r' (§3),
// so the frame contents must never contain a bare '\r'. The source
// leaves the exact scheme to a shared utility; SPEC_FULL §6 resolves the
// Open Question with simple ESC byte-stuffing: '\r' becomes ESC 'R', and
// a literal ESC becomes ESC ESC. Both are symmetric and lossless over
// all 256 byte values, which is all the spec invariant requires.
const (
	escByte = 0x1B
	escR    = 'R'
)

// escape encodes data so it contains no bare '\r', for use in an `r`
// frame payload.
func escape(data []byte) []byte {
	if data == nil {
		return nil
	}
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

// unescape is the inverse of escape. It returns an error if the escaped
// payload ends mid-sequence or contains an unrecognized escape.
func unescape(data []byte) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != escByte {
			out = append(out, b)
			continue
		}
		i++
		if i >= len(data) {
			return nil, fmt.Errorf("unescape: truncated escape sequence at offset %d", i-1)
		}
		switch data[i] {
		case escR:
			out = append(out, wire.Terminator)
		case escByte:
			out = append(out, escByte)
		default:
			return nil, fmt.Errorf("unescape: unknown escape byte %#x at offset %d", data[i], i)
		}
	}
	return out, nil
}
