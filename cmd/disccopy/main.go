// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

// Command disccopy copies a .d64 image onto a physical CBM-1541; it does
// not read a physical disk into an image. It orchestrates drive.Drive and a core Connection outside
// the protocol core itself (§4.7 "Disc-copy CLI: orchestrates drive +
// image; outside the core"). It is a cobra re-expression of
// original_source/commandline/disccopy.cc's boost::program_options CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aeckleder/iec1541"
	"github.com/aeckleder/iec1541/drive"
	"github.com/aeckleder/iec1541/transport/tty"
	"github.com/spf13/cobra"
)

var (
	serialDevice string
	serialSpeed  int
	verify       bool
	source       string
	target       int
	formatFirst  bool
	diskName     string
	diskID       string
	sessionLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "disccopy",
	Short: "IEC bus disc copy utility",
	Long: `disccopy copies a .d64 disk image onto a physical CBM-1541 drive attached
over the IEC bus bridge.`,
	RunE: runCopy,
}

func init() {
	rootCmd.Flags().StringVar(&serialDevice, "serial", "/dev/ttyUSB0", "serial interface to use")
	rootCmd.Flags().IntVar(&serialSpeed, "speed", 57600, "baud rate")
	rootCmd.Flags().BoolVar(&verify, "verify", false, "verify copy")
	rootCmd.Flags().StringVar(&source, "source", "", "disk image to copy from")
	rootCmd.Flags().IntVar(&target, "target", 9, "device to copy to")
	rootCmd.Flags().BoolVar(&formatFirst, "format", false, "format disc prior to copying")
	rootCmd.Flags().StringVar(&diskName, "disk-name", "COPY", "disk name used when --format is set")
	rootCmd.Flags().StringVar(&diskID, "disk-id", "01", "disk id used when --format is set")
	rootCmd.Flags().BoolVar(&sessionLog, "session-log", false, "write a timestamped iec1541_<ts>.log of this run's Debugf output")
}

func main() {
	fmt.Println("IEC Bus disc copy utility.")

	// Flags are parsed inside Execute; cobra runs this initializer after
	// parsing and before runCopy.
	cobra.OnInitialize(func() {
		if !sessionLog {
			return
		}
		path, err := iec1541.InitSessionLog()
		if err != nil {
			fmt.Fprintln(os.Stderr, "session log:", err)
			os.Exit(1)
		}
		fmt.Println("session log:", path)
	})
	defer func() { _ = iec1541.CloseSessionLog() }()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if path := iec1541.GetSessionLogPath(); path != "" {
			fmt.Fprintln(os.Stderr, "see", path, "for a detailed trace")
		}
		os.Exit(1)
	}
}

func runCopy(_ *cobra.Command, _ []string) error {
	if source == "" {
		return fmt.Errorf("--source is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	iec1541.Debugf("opening %s at %d baud", serialDevice, serialSpeed)
	port, err := tty.Open(serialDevice, serialSpeed)
	if err != nil {
		return fmt.Errorf("opening %s: %w", serialDevice, err)
	}
	defer func() { _ = port.Close() }()

	conn, err := iec1541.Create(ctx, port)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() { _ = conn.Close() }()

	iec1541.Debugf("bus handshake complete, resetting device %d", target)
	if err := conn.Reset(ctx); err != nil {
		return fmt.Errorf("resetting bus: %w", err)
	}

	d := drive.NewCBM1541(conn, byte(target))

	if formatFirst {
		if err := d.FormatDiscLowLevel(40, diskName, diskID); err != nil {
			return fmt.Errorf("formatting target: %w", err)
		}
	}

	img, err := drive.OpenD64(source)
	if err != nil {
		return fmt.Errorf("opening source image %s: %w", source, err)
	}
	defer func() { _ = img.Close() }()

	return copyAllSectors(img, d)
}

func copyAllSectors(src, dst drive.Drive) error {
	for track := 1; track <= 35; track++ {
		n, err := src.GetNumSectors(track)
		if err != nil {
			return err
		}
		for sector := 0; sector < n; sector++ {
			data, err := src.ReadSector(track, sector)
			if err != nil {
				return fmt.Errorf("reading track %d sector %d from image: %w", track, sector, err)
			}
			if err := dst.WriteSector(track, sector, data); err != nil {
				return fmt.Errorf("writing track %d sector %d to drive: %w", track, sector, err)
			}
			if verify {
				if err := verifySector(dst, track, sector, data); err != nil {
					return err
				}
			}
		}
	}
	fmt.Println("copy complete.")
	return nil
}

func verifySector(dst drive.Drive, track, sector int, want []byte) error {
	got, err := dst.ReadSector(track, sector)
	if err != nil {
		return fmt.Errorf("verifying track %d sector %d: %w", track, sector, err)
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("verify mismatch at track %d sector %d offset %d: got %#x, want %#x",
				track, sector, i, got[i], want[i])
		}
	}
	return nil
}
