// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package drive implements the external collaborators specified only
// at their interface boundary (§4.7): a Drive abstraction shared by a
// real CBM-1541 (driven over the core's Channel API) and a .d64 disk
// image file, so disc-copy can treat "source" and "target" uniformly.
package drive

import "fmt"

// Drive is the sector-addressed interface both a physical 1541 and a
// .d64 image satisfy (§4.7 "ImageDriveD64 ... providing the same
// ReadSector/WriteSector/GetNumSectors abstract interface as the
// physical drive").
type Drive interface {
	// GetNumSectors returns the sector count for track (1-based, CBM
	// convention), or an error if track is out of range.
	GetNumSectors(track int) (int, error)
	// ReadSector returns the 256-byte contents of track/sector.
	ReadSector(track, sector int) ([]byte, error)
	// WriteSector writes exactly 256 bytes to track/sector.
	WriteSector(track, sector int, data []byte) error
}

// FormattingDrive is implemented by drives that support low-level
// formatting (§4.7 "FormatDiscLowLevel"); a .d64 image does not need
// formatting, so it does not implement this.
type FormattingDrive interface {
	Drive
	FormatDiscLowLevel(maxTrack int, diskName, diskID string) error
}

// SectorSize is the fixed sector size of a CBM-1541 disk (GLOSSARY "Sector").
const SectorSize = 256

// sectorsPerTrack is the standard 1541 zone table: tracks 1-17 have 21
// sectors, 18-24 have 19, 25-30 have 18, 31-35 have 17.
func sectorsPerTrack(track int) (int, error) {
	switch {
	case track >= 1 && track <= 17:
		return 21, nil
	case track >= 18 && track <= 24:
		return 19, nil
	case track >= 25 && track <= 30:
		return 18, nil
	case track >= 31 && track <= 35:
		return 17, nil
	default:
		return 0, fmt.Errorf("drive: track %d out of range [1,35]", track)
	}
}
