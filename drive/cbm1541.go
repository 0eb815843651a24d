// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package drive

import (
	"context"
	"fmt"
)

// Channel is the logical interface CBM1541 needs from a core
// Connection, scoped down to the four operations §4.7 says the
// external collaborator builds on. It lets cbm1541_test.go substitute
// a fake without depending on a real Connection or the wire.
type Channel interface {
	OpenChannel(ctx context.Context, dev, ch byte, cmd []byte) error
	ReadFromChannel(ctx context.Context, dev, ch byte) ([]byte, error)
	WriteToChannel(ctx context.Context, dev, ch byte, data []byte) error
	CloseChannel(ctx context.Context, dev, ch byte) error
}

// commandChannel is channel 15, the 1541's command/status channel
// (GLOSSARY "Channel").
const commandChannel byte = 15

// FirmwareState tracks what custom 6502 code, if any, is currently
// resident in the drive's RAM (original_source cbm1541_drive.h
// FirmwareState).
type FirmwareState int

const (
	FirmwareNoCustomCode FirmwareState = iota
	FirmwareCustomFormatting
	FirmwareCustomReadWrite
)

// CustomFirmwareFragment is a small 6502 machine-code blob to upload
// into the drive's RAM via M-W and invoke via M-E (original_source
// cbm1541_drive.h CustomFirmwareFragment).
type CustomFirmwareFragment struct {
	Binary        []byte
	LoadingAddr   uint16
	FirmwareState FirmwareState
}

// CBM1541 layers sector I/O and firmware-fragment upload onto the core
// Channel API for a physical drive at device number Dev (§4.7
// "CBM1541Drive"). It is not responsible for the drive's own firmware
// internals or for 1541 DOS semantics beyond M-W/M-E.
type CBM1541 struct {
	Channel Channel
	Dev     byte

	state FirmwareState
}

// NewCBM1541 wraps ch for device dev.
func NewCBM1541(ch Channel, dev byte) *CBM1541 {
	return &CBM1541{Channel: ch, Dev: dev}
}

// GetNumSectors implements Drive using the fixed 1541 zone table; the
// core has no notion of sector counts, since that is drive firmware
// knowledge, not bus protocol (§4.7 "the core is not responsible for
// sector numbering").
func (*CBM1541) GetNumSectors(track int) (int, error) {
	return sectorsPerTrack(track)
}

// UploadFirmwareFragment loads frag into the drive's RAM and starts it,
// for callers that want a custom fast formatter or sector-I/O routine
// resident before issuing the DOS commands that exercise it
// (original_source cbm1541_drive.h). FormatDiscLowLevel and the
// ReadSector/WriteSector pair do not require this. The fragment travels
// host-to-MCU inside length-prefixed `p` frames, which carry any byte
// value unchanged; escape() in the core package applies only to the
// MCU's `r` replies.
func (c *CBM1541) UploadFirmwareFragment(ctx context.Context, frag CustomFirmwareFragment) error {
	if err := c.uploadFragment(ctx, frag); err != nil {
		return err
	}
	return c.executeFragment(ctx, frag.LoadingAddr)
}

// uploadFragment sends an M-W (memory write) command per chunk of at
// most 35 bytes (the 1541's command-channel line limit) to load frag
// into drive RAM, the way the original firmware-upload collaborator
// does before invoking an M-E (original_source cbm1541_drive.h).
func (c *CBM1541) uploadFragment(ctx context.Context, frag CustomFirmwareFragment) error {
	const maxMWChunk = 35
	addr := frag.LoadingAddr
	for off := 0; off < len(frag.Binary); off += maxMWChunk {
		end := off + maxMWChunk
		if end > len(frag.Binary) {
			end = len(frag.Binary)
		}
		chunk := frag.Binary[off:end]
		cmd := make([]byte, 0, 5+len(chunk))
		cmd = append(cmd, 'M', '-', 'W', byte(addr&0xFF), byte(addr>>8), byte(len(chunk)))
		cmd = append(cmd, chunk...)
		if err := c.Channel.WriteToChannel(ctx, c.Dev, commandChannel, cmd); err != nil {
			return fmt.Errorf("drive: uploading firmware fragment at $%04X: %w", addr, err)
		}
		addr += uint16(len(chunk))
	}
	c.state = frag.FirmwareState
	return nil
}

// executeFragment issues an M-E (memory execute) command at addr
// (original_source cbm1541_drive.h).
func (c *CBM1541) executeFragment(ctx context.Context, addr uint16) error {
	cmd := []byte{'M', '-', 'E', byte(addr & 0xFF), byte(addr >> 8)}
	return c.Channel.WriteToChannel(ctx, c.Dev, commandChannel, cmd)
}

// ReadSector implements Drive by opening channel 2 for a raw
// track/sector read (B-R style access pattern), reading the 256-byte
// payload the MCU returns, and closing the channel.
func (c *CBM1541) ReadSector(track, sector int) ([]byte, error) {
	ctx := context.Background()
	cmd := []byte(fmt.Sprintf("U1:2 0 %d %d", track, sector))
	if err := c.Channel.OpenChannel(ctx, c.Dev, 2, cmd); err != nil {
		return nil, fmt.Errorf("drive: opening track %d sector %d: %w", track, sector, err)
	}
	defer func() { _ = c.Channel.CloseChannel(ctx, c.Dev, 2) }()

	data, err := c.Channel.ReadFromChannel(ctx, c.Dev, 2)
	if err != nil {
		return nil, fmt.Errorf("drive: reading track %d sector %d: %w", track, sector, err)
	}
	if len(data) != SectorSize {
		return nil, fmt.Errorf("drive: short sector read: got %d bytes, want %d", len(data), SectorSize)
	}
	return data, nil
}

// WriteSector implements Drive, the write-side counterpart of
// ReadSector using U2 (block-write) in place of U1.
func (c *CBM1541) WriteSector(track, sector int, data []byte) error {
	if len(data) != SectorSize {
		return fmt.Errorf("drive: sector write must be %d bytes, got %d", SectorSize, len(data))
	}
	ctx := context.Background()
	cmd := []byte(fmt.Sprintf("U2:2 0 %d %d", track, sector))
	if err := c.Channel.OpenChannel(ctx, c.Dev, 2, cmd); err != nil {
		return fmt.Errorf("drive: opening track %d sector %d: %w", track, sector, err)
	}
	defer func() { _ = c.Channel.CloseChannel(ctx, c.Dev, 2) }()

	if err := c.Channel.WriteToChannel(ctx, c.Dev, 2, data); err != nil {
		return fmt.Errorf("drive: writing track %d sector %d: %w", track, sector, err)
	}
	return nil
}

// FormatDiscLowLevel implements FormattingDrive by opening the command
// channel with an N: (new disk) DOS command (§4.7 "FormatDiscLowLevel").
// maxTrack is accepted for interface symmetry with the fragment-upload
// variants a real low-level formatter would use; this implementation
// relies on the drive's built-in N: command rather than uploading a
// custom formatting fragment, since the core's job ends at exposing
// channel bandwidth, not at reproducing 1541 DOS.
func (c *CBM1541) FormatDiscLowLevel(_ int, diskName, diskID string) error {
	ctx := context.Background()
	cmd := []byte(fmt.Sprintf("N:%s,%s", diskName, diskID))
	if err := c.Channel.OpenChannel(ctx, c.Dev, commandChannel, cmd); err != nil {
		return fmt.Errorf("drive: formatting: %w", err)
	}
	defer func() { _ = c.Channel.CloseChannel(ctx, c.Dev, commandChannel) }()

	if _, err := c.Channel.ReadFromChannel(ctx, c.Dev, commandChannel); err != nil {
		return fmt.Errorf("drive: formatting: %w", err)
	}
	return nil
}

var (
	_ Drive           = (*CBM1541)(nil)
	_ FormattingDrive = (*CBM1541)(nil)
)
