// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package drive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCall records one WriteToChannel invocation a fakeChannel saw.
type writeCall struct {
	dev, ch byte
	data    []byte
}

// fakeChannel is a minimal in-memory Channel double, standing in for a
// real Connection the way mcusim.VirtualMCU stands in for a real MCU
// in the root package's tests.
type fakeChannel struct {
	writes []writeCall
}

func (f *fakeChannel) OpenChannel(context.Context, byte, byte, []byte) error { return nil }
func (f *fakeChannel) ReadFromChannel(context.Context, byte, byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeChannel) CloseChannel(context.Context, byte, byte) error { return nil }

func (f *fakeChannel) WriteToChannel(_ context.Context, dev, ch byte, data []byte) error {
	f.writes = append(f.writes, writeCall{dev: dev, ch: ch, data: append([]byte(nil), data...)})
	return nil
}

// §4.7 "CustomFirmwareFragment": a fragment longer than one M-W line is
// split into 35-byte chunks, each addressed sequentially, followed by
// a single M-E at the fragment's load address.
func TestUploadFirmwareFragmentChunksAndExecutes(t *testing.T) {
	fc := &fakeChannel{}
	c := NewCBM1541(fc, 9)

	binary := make([]byte, 40)
	for i := range binary {
		binary[i] = byte(i)
	}
	frag := CustomFirmwareFragment{
		Binary:        binary,
		LoadingAddr:   0x0500,
		FirmwareState: FirmwareCustomReadWrite,
	}

	require.NoError(t, c.UploadFirmwareFragment(context.Background(), frag))
	require.Len(t, fc.writes, 3)

	mw1, mw2, exec := fc.writes[0], fc.writes[1], fc.writes[2]

	assert.Equal(t, byte(9), mw1.dev)
	assert.Equal(t, commandChannel, mw1.ch)
	assert.Equal(t, []byte{'M', '-', 'W', 0x00, 0x05, 35}, mw1.data[:6])
	assert.Equal(t, binary[:35], mw1.data[6:])

	assert.Equal(t, []byte{'M', '-', 'W', 0x23, 0x05, 5}, mw2.data[:6])
	assert.Equal(t, binary[35:], mw2.data[6:])

	assert.Equal(t, []byte{'M', '-', 'E', 0x00, 0x05}, exec.data)
	assert.Equal(t, FirmwareCustomReadWrite, c.state)
}

// A fragment no longer than one M-W line needs exactly one M-W and one
// M-E, with no further chunking.
func TestUploadFirmwareFragmentSingleChunk(t *testing.T) {
	fc := &fakeChannel{}
	c := NewCBM1541(fc, 9)

	frag := CustomFirmwareFragment{
		Binary:      []byte{0xA9, 0x00, 0x60},
		LoadingAddr: 0x0300,
	}

	require.NoError(t, c.UploadFirmwareFragment(context.Background(), frag))
	require.Len(t, fc.writes, 2)
	assert.Equal(t, []byte{'M', '-', 'W', 0x00, 0x03, 3, 0xA9, 0x00, 0x60}, fc.writes[0].data)
	assert.Equal(t, []byte{'M', '-', 'E', 0x00, 0x03}, fc.writes[1].data)
}
