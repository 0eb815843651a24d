// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

//go:build !linux

package tty

// setRawVMinVTime is a no-op off Linux: go.bug.st/serial's own raw-mode
// setup plus SetReadTimeout is the best available approximation of
// VMIN=1/VTIME=1 on platforms without a stable termios ioctl numbering
// (§6 "Raw mode" is written against a Linux-hosted bridge).
func setRawVMinVTime(string) error { return nil }
