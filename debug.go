// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"fmt"
	"os"
	"time"
)

// debugEnabled controls whether debug logging reaches the console.
var debugEnabled = false

func init() {
	if os.Getenv("IEC1541_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// Debugf writes a formatted debug line to the session log (if one is
// open) and, when debug mode is enabled, to the console.
func Debugf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	if sessionLogWriter != nil {
		ts := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", ts, message)
	}
	if debugEnabled {
		_, _ = fmt.Printf("DEBUG: %s\n", message)
	}
}

// Debugln is the fmt.Println analogue of Debugf.
func Debugln(args ...any) {
	message := fmt.Sprint(args...)
	if sessionLogWriter != nil {
		ts := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", ts, message)
	}
	if debugEnabled {
		_, _ = fmt.Print("DEBUG: ")
		_, _ = fmt.Println(args...)
	}
}

// SetDebugEnabled allows tests and applications to toggle console debug
// output programmatically.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// LogLevel is the level letter carried by a D/W/E/I frame (§3), plus a
// trace level the original_source logs at but the distilled spec omits
// (SPEC_FULL §5).
type LogLevel byte

const (
	LogLevelDebug LogLevel = 'D'
	LogLevelWarn  LogLevel = 'W'
	LogLevelError LogLevel = 'E'
	LogLevelInfo  LogLevel = 'I'
	LogLevelTrace LogLevel = 'T'
)

func (l LogLevel) String() string {
	return string(rune(l))
}

// LogHandler receives every log frame emitted by the MCU, with the
// debug-channel id already resolved to its declared human name (§4.4).
// Log frames never resolve a pending request ("log transparency", §8).
type LogHandler func(level LogLevel, channel, message string)

// defaultLogHandler funnels MCU log frames into Debugf so a connection
// that didn't install a handler still surfaces them under IEC1541_DEBUG.
func defaultLogHandler(level LogLevel, channel, message string) {
	Debugf("%s[%s] %s", level, channel, message)
}
