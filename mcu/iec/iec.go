// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package iec implements the byte-level Commodore IEC bus protocol on
// top of a linedriver.Bus (§4.2 "IEC Engine"): talker/listener
// turn-around, byte send/receive with EOI signalling, and ATN command
// decoding. It is grounded on uno2iec/iec_driver.h's IEC class from the
// original firmware, re-expressed as an explicit state machine instead
// of Arduino-style free functions operating on global pin state.
package iec

import (
	"errors"
	"time"

	"github.com/aeckleder/iec1541/mcu/linedriver"
)

// BusState is a small bit-set, reset to empty on every Reset (§3 "BusState").
type BusState struct {
	EOI   bool
	ATN   bool
	Error bool
}

// ATN command classes, decoded from the high nibble of the command
// byte (§3 "ATN Command"). Low nibble is the device or channel number.
const (
	ClassListen   byte = 0x20
	ClassUnlisten byte = 0x3F
	ClassTalk     byte = 0x40
	ClassUntalk   byte = 0x5F
	ClassData     byte = 0x60
	ClassClose    byte = 0xE0
	ClassOpen     byte = 0xF0
)

// Secondary DATA sub-commands sent after LISTEN/TALK addressing, used
// by the MCU Framing Layer to select a channel (§4.3).
const (
	SecondaryOpen  byte = ClassOpen
	SecondaryClose byte = ClassClose
	SecondaryData  byte = ClassData
)

// MaxATNPayload bounds an ATNCmd's secondary payload (§3: "payload: bytes[0..40]").
const MaxATNPayload = 40

// ATNCmd is a decoded ATN command: a device/channel addressed, plus any
// secondary bytes read while ATN stayed asserted (§3 "ATN Command").
type ATNCmd struct {
	Code    byte
	Payload [MaxATNPayload]byte
	Len     byte
}

// ATNCheck tells the caller what kind of ATN sequence just completed
// (§4.2 "checkATN").
type ATNCheck int

const (
	ATNIdle ATNCheck = iota
	ATNCmdGeneric
	ATNCmdListen
	ATNCmdTalk
	ATNError
	ATNReset
)

// Timing constants (§4.2, §9). The original firmware's comments cite
// ~200us as the window past which a held CLOCK release signals EOI;
// byte-level waits are bounded in the low milliseconds so a stuck line
// surfaces as a timeout instead of a hang (§9 "Timeout safety").
const (
	eoiThreshold  = 200 * time.Microsecond
	byteTimeout   = 5 * time.Millisecond
	atnWaitPeriod = 2 * time.Millisecond
)

var errTimeout = errors.New("iec: line wait timed out")

// Engine runs the byte-level IEC protocol over a Bus for one device.
// DeviceNumber 0 is the host/controller, the only role this
// implementation exercises as a talker/listener initiator (§4.2 "Host
// mode (device number 0) is treated specially").
type Engine struct {
	Bus          linedriver.Bus
	DeviceNumber byte
	State        BusState
}

// NewEngine builds an Engine bound to bus for the given device number.
func NewEngine(bus linedriver.Bus, deviceNumber byte) *Engine {
	return &Engine{Bus: bus, DeviceNumber: deviceNumber}
}

// Reset clears BusState, the engine's response to a sensed RESET line
// or an explicit reset request (§3 "Lifecycles").
func (e *Engine) Reset() {
	e.State = BusState{}
}

// SendByte shifts out one byte, LSB-first, with the device as listener
// addressed and an optional EOI flag on the last byte of a transfer
// (§4.2 "Send-byte protocol").
func (e *Engine) SendByte(b byte, eoi bool) error {
	if err := e.Bus.Write(linedriver.Clock, true); err != nil {
		return err
	}
	if err := e.Bus.Write(linedriver.Data, false); err != nil {
		return err
	}
	if err := e.Bus.Wait(linedriver.Data, false, byteTimeout); err != nil {
		e.State.Error = true
		return err
	}

	if eoi {
		if err := e.Bus.Write(linedriver.Clock, false); err != nil {
			return err
		}
		if err := e.Bus.Wait(linedriver.Data, true, byteTimeout); err != nil {
			e.State.Error = true
			return err
		}
		if err := e.Bus.Wait(linedriver.Data, false, byteTimeout); err != nil {
			e.State.Error = true
			return err
		}
	}

	if err := e.Bus.Write(linedriver.Clock, true); err != nil {
		return err
	}
	for bit := 0; bit < 8; bit++ {
		set := (b>>bit)&1 != 0
		if err := e.Bus.Write(linedriver.Data, !set); err != nil {
			return err
		}
		if err := e.Bus.Write(linedriver.Clock, false); err != nil {
			return err
		}
		if err := e.Bus.Write(linedriver.Clock, true); err != nil {
			return err
		}
	}
	if err := e.Bus.Wait(linedriver.Data, true, byteTimeout); err != nil {
		e.State.Error = true
		return err
	}
	return nil
}

// ReceiveByte clocks in one byte, LSB-first, with the device as talker
// addressed. It flags EOI on the returned bool if the wait for the
// sender to release CLOCK before the byte starts takes longer than
// eoiThreshold (§4.2 "Receive-byte protocol", §8 "EOI detection").
func (e *Engine) ReceiveByte() (byte, bool, error) {
	if err := e.Bus.Write(linedriver.Clock, false); err != nil {
		return 0, false, err
	}
	if err := e.Bus.Write(linedriver.Data, false); err != nil {
		return 0, false, err
	}

	eoi := false
	waitStart := time.Now()
	if err := e.Bus.Wait(linedriver.Clock, false, byteTimeout); err != nil {
		e.State.Error = true
		return 0, false, err
	}
	if time.Since(waitStart) > eoiThreshold {
		eoi = true
		if err := e.Bus.Write(linedriver.Data, true); err != nil {
			return 0, false, err
		}
		if err := e.Bus.Write(linedriver.Data, false); err != nil {
			return 0, false, err
		}
	}

	var b byte
	for bit := 0; bit < 8; bit++ {
		if err := e.Bus.Wait(linedriver.Clock, true, byteTimeout); err != nil {
			e.State.Error = true
			return 0, false, err
		}
		level, err := e.Bus.Read(linedriver.Data)
		if err != nil {
			return 0, false, err
		}
		if !level {
			b |= 1 << bit
		}
		if err := e.Bus.Wait(linedriver.Clock, false, byteTimeout); err != nil {
			e.State.Error = true
			return 0, false, err
		}
	}
	if err := e.Bus.Write(linedriver.Data, true); err != nil {
		return 0, false, err
	}

	e.State.EOI = eoi
	return b, eoi, nil
}

// TurnAround swaps the host from listener to talker when addressed by
// a TALK command (§4.2 "Turn-around").
func (e *Engine) TurnAround() error {
	if err := e.Bus.Write(linedriver.Clock, true); err != nil {
		return err
	}
	return e.Bus.Write(linedriver.Data, false)
}

// UndoTurnAround reverses TurnAround when the host relinquishes the
// talker role.
func (e *Engine) UndoTurnAround() error {
	if err := e.Bus.Write(linedriver.Clock, false); err != nil {
		return err
	}
	return e.Bus.Write(linedriver.Data, true)
}

// CheckATN implements §4.2's checkATN: if ATN is released, report IDLE.
// Otherwise become listener-ready, receive the primary command byte,
// and if it addresses this device, keep reading secondary bytes until
// ATN releases.
func (e *Engine) CheckATN() (ATNCmd, ATNCheck) {
	var cmd ATNCmd

	pulled, err := e.Bus.Read(linedriver.ATN)
	if err != nil {
		return cmd, ATNError
	}
	if !pulled {
		return cmd, ATNIdle
	}
	e.State.ATN = true

	if reset, _ := e.Bus.CheckReset(); reset {
		return cmd, ATNReset
	}

	if err := e.Bus.Write(linedriver.Data, true); err != nil {
		return cmd, ATNError
	}

	primary, _, err := e.ReceiveByte()
	if err != nil {
		return cmd, ATNError
	}
	cmd.Code = primary

	class := primary & 0xF0
	switch {
	case primary == ClassUnlisten:
		class = ClassUnlisten
	case primary == ClassUntalk:
		class = ClassUntalk
	}

	addressed := class == ClassListen || class == ClassTalk
	targetDev := primary & 0x0F
	if addressed && targetDev != e.DeviceNumber {
		if err := e.Bus.Wait(linedriver.ATN, false, 5*atnWaitPeriod); err != nil {
			return cmd, ATNError
		}
		return cmd, ATNIdle
	}

	if addressed {
		for {
			pulled, err := e.Bus.Read(linedriver.ATN)
			if err != nil {
				return cmd, ATNError
			}
			if !pulled {
				break
			}
			if cmd.Len >= MaxATNPayload {
				break
			}
			b, _, err := e.ReceiveByte()
			if err != nil {
				return cmd, ATNError
			}
			cmd.Payload[cmd.Len] = b
			cmd.Len++
		}
	}

	switch class {
	case ClassListen:
		return cmd, ATNCmdListen
	case ClassTalk:
		return cmd, ATNCmdTalk
	default:
		return cmd, ATNCmdGeneric
	}
}
