// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

//go:build linux

package tty

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setRawVMinVTime opens device directly (alongside go.bug.st/serial's own
// handle to the same path) to apply the exact VMIN=1/VTIME=1 non-canonical
// (raw) mode settings §6 specifies. go.bug.st/serial's Mode struct has no VMIN/VTIME
// knob of its own — it approximates the read-deadline behavior through
// SetReadTimeout instead — so this reaches past it straight to the
// termios the two file descriptors share, the same way a second `stty`
// invocation against an already-open tty affects every other opener of
// that line discipline. The auxiliary fd is closed immediately after; the
// termios settings it wrote persist on the device, not on the fd.
func setRawVMinVTime(device string) error {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("tty: opening %s for termios setup: %w", device, err)
	}
	defer func() { _ = unix.Close(fd) }()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tty: reading termios for %s: %w", device, err)
	}

	// cfmakeraw-equivalent: no echo, no canonical processing, no signal
	// generation, 8 data bits, no flow control (§6 "Raw mode").
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8

	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("tty: writing termios for %s: %w", device, err)
	}
	return nil
}
