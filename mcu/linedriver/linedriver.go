// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package linedriver models the IEC bus's open-collector lines over
// real GPIO pins (§4.1 "Line Driver"), grounded on the teacher's
// transport/spi package's use of periph.io/x/conn for hardware access
// on a host that is not an Arduino but a Go-capable board such as a
// Raspberry Pi.
package linedriver

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Line identifies one of the bus's five open-collector signals (§3 "Line").
type Line int

const (
	ATN Line = iota
	Clock
	Data
	Reset
	SRQIn
)

func (l Line) String() string {
	switch l {
	case ATN:
		return "ATN"
	case Clock:
		return "CLOCK"
	case Data:
		return "DATA"
	case Reset:
		return "RESET"
	case SRQIn:
		return "SRQ"
	default:
		return "UNKNOWN"
	}
}

// Bus is the Line Driver contract (§4.1): pull/release a line, read its
// wired-OR state, and wait with a bounded timeout for an edge. pulled
// == true means the line is driven low; released means high-impedance,
// letting an external pull-up (or another device's pull) set the level.
type Bus interface {
	Write(line Line, pulled bool) error
	Read(line Line) (bool, error)
	Wait(line Line, pulled bool, timeout time.Duration) error
	CheckReset() (bool, error)
}

// GPIOBus is a Bus backed by real periph.io GPIO pins, one per Line.
// Reading a pin always switches it to input first (§4.1 contract), so
// Write and Read race only with each other, not with themselves.
type GPIOBus struct {
	pins [5]gpio.PinIO
}

// NewGPIOBus builds a GPIOBus from five already-resolved pins, in Line
// order: ATN, CLOCK, DATA, RESET, SRQIn.
func NewGPIOBus(atn, clock, data, reset, srq gpio.PinIO) *GPIOBus {
	return &GPIOBus{pins: [5]gpio.PinIO{atn, clock, data, reset, srq}}
}

func (b *GPIOBus) pin(line Line) (gpio.PinIO, error) {
	if line < ATN || line > SRQIn {
		return nil, fmt.Errorf("linedriver: invalid line %d", line)
	}
	return b.pins[line], nil
}

// Write pulls line low (output, Level low) or releases it (input, relying
// on the external pull-up to hold it high) (§4.1 "write(line, pulled)").
func (b *GPIOBus) Write(line Line, pulled bool) error {
	pin, err := b.pin(line)
	if err != nil {
		return err
	}
	if pulled {
		return pin.Out(gpio.Low)
	}
	return pin.In(gpio.PullUp, gpio.NoEdge)
}

// Read switches the pin to input and reports whether it reads low
// (pulled by some device) or high (released by all of them).
func (b *GPIOBus) Read(line Line) (bool, error) {
	pin, err := b.pin(line)
	if err != nil {
		return false, err
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return false, err
	}
	return pin.Read() == gpio.Low, nil
}

// Wait polls line until it reads pulled, or timeout elapses (§4.1
// "wait(line, target_state, timeout)"). periph.io's WaitForEdge exists
// on some backends but not all GPIO chips reliably fire edges fast
// enough for IEC's microsecond-scale handshakes, so this polls instead,
// the same tradeoff the original Arduino firmware makes with
// digitalRead in a tight loop.
func (b *GPIOBus) Wait(line Line, pulled bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		state, err := b.Read(line)
		if err != nil {
			return err
		}
		if state == pulled {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("linedriver: timeout waiting for %s to reach pulled=%v", line, pulled)
		}
	}
}

// CheckReset reports whether the RESET line is currently sensed pulled
// (§4.1 "check_reset()").
func (b *GPIOBus) CheckReset() (bool, error) {
	return b.Read(Reset)
}
