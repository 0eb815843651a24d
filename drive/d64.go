// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package drive

import (
	"fmt"
	"io"
	"os"
)

// D64Image is a read/write view of a .d64 disk image file (§4.7
// "ImageDriveD64"). It implements Drive using the standard 35-track
// zone layout; no directory or file-system semantics are interpreted,
// matching the spec's "not responsible for sector numbering" scoping
// of the image's own internal layout to a flat sector array.
type D64Image struct {
	f *os.File
}

// OpenD64 opens an existing .d64 file for read/write sector access.
func OpenD64(path string) (*D64Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644) //nolint:gosec // path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("drive: opening %s: %w", path, err)
	}
	return &D64Image{f: f}, nil
}

// CreateD64 creates a new, zero-filled 35-track .d64 image at path.
func CreateD64(path string) (*D64Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("drive: creating %s: %w", path, err)
	}
	total := 0
	for track := 1; track <= 35; track++ {
		n, _ := sectorsPerTrack(track)
		total += n
	}
	if err := f.Truncate(int64(total * SectorSize)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("drive: sizing %s: %w", path, err)
	}
	return &D64Image{f: f}, nil
}

// Close closes the underlying file.
func (d *D64Image) Close() error { return d.f.Close() }

func offset(track, sector int) (int64, error) {
	n, err := sectorsPerTrack(track)
	if err != nil {
		return 0, err
	}
	if sector < 0 || sector >= n {
		return 0, fmt.Errorf("drive: sector %d out of range [0,%d) on track %d", sector, n, track)
	}
	var base int64
	for t := 1; t < track; t++ {
		tn, _ := sectorsPerTrack(t)
		base += int64(tn)
	}
	return (base + int64(sector)) * SectorSize, nil
}

// GetNumSectors implements Drive.
func (*D64Image) GetNumSectors(track int) (int, error) {
	return sectorsPerTrack(track)
}

// ReadSector implements Drive.
func (d *D64Image) ReadSector(track, sector int) ([]byte, error) {
	off, err := offset(track, sector)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, SectorSize)
	if _, err := d.f.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, fmt.Errorf("drive: reading track %d sector %d: %w", track, sector, err)
	}
	return buf, nil
}

// WriteSector implements Drive.
func (d *D64Image) WriteSector(track, sector int, data []byte) error {
	if len(data) != SectorSize {
		return fmt.Errorf("drive: sector write must be %d bytes, got %d", SectorSize, len(data))
	}
	off, err := offset(track, sector)
	if err != nil {
		return err
	}
	if _, err := d.f.WriteAt(data, off); err != nil {
		return fmt.Errorf("drive: writing track %d sector %d: %w", track, sector, err)
	}
	return nil
}

var _ Drive = (*D64Image)(nil)
