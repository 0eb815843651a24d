// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec

import (
	"time"

	"github.com/aeckleder/iec1541/mcu/linedriver"
)

// resetPulseDuration is how long RESET is held pulled before release,
// long enough for a 1541's power-on self test to notice (§4.3 "r: pulse
// RESET line").
const resetPulseDuration = 20 * time.Millisecond

// atnSettle gives a freshly-addressed device time to switch roles
// before the first command byte goes out, mirroring the small delays
// uno2iec's IEC class inserts around ATN transitions.
const atnSettle = 1 * time.Millisecond

// Controller drives ATN sequences as the bus master (host device
// number 0), the role the MCU Framing Layer plays on the host's behalf
// toward the 1541 (§4.3). It is a thin sequencing layer over Engine's
// byte primitives: Engine does the bit-banging, Controller orders the
// ATN/LISTEN/TALK/secondary/turn-around steps §4.3 specifies for each
// opcode.
type Controller struct {
	Engine *Engine
}

// NewController wraps engine as a bus controller.
func NewController(engine *Engine) *Controller {
	return &Controller{Engine: engine}
}

// PulseReset asserts RESET, holds it, and releases it (§4.3 "r").
func (c *Controller) PulseReset() error {
	if err := c.Engine.Bus.Write(linedriver.Reset, true); err != nil {
		return err
	}
	time.Sleep(resetPulseDuration)
	if err := c.Engine.Bus.Write(linedriver.Reset, false); err != nil {
		return err
	}
	c.Engine.Reset()
	return nil
}

// withATN asserts ATN, runs fn, then releases ATN, the shape every
// opcode handler in §4.3 follows.
func (c *Controller) withATN(fn func() error) error {
	bus := c.Engine.Bus
	if err := bus.Write(linedriver.ATN, true); err != nil {
		return err
	}
	time.Sleep(atnSettle)
	err := fn()
	_ = bus.Write(linedriver.ATN, false)
	return err
}

// addressDevice sends UNLISTEN, then LISTEN|dev or TALK|dev, under ATN.
func (c *Controller) addressDevice(dev byte, talk bool) error {
	if err := c.Engine.SendByte(ClassUnlisten, false); err != nil {
		return err
	}
	class := ClassListen
	if talk {
		class = ClassTalk
	}
	return c.Engine.SendByte(class|(dev&0x0F), false)
}

// OpenSecondary runs the UNLISTEN, LISTEN(dev), secondary OPEN|chan,
// payload (last byte EOI-flagged), UNLISTEN sequence for the `o`
// opcode (§4.3 "o").
func (c *Controller) OpenSecondary(dev, ch byte, payload []byte) error {
	return c.withATN(func() error {
		if err := c.addressDevice(dev, false); err != nil {
			return err
		}
		if err := c.Engine.SendByte(SecondaryOpen|(ch&0x0F), false); err != nil {
			return err
		}
		for i, b := range payload {
			eoi := i == len(payload)-1
			if err := c.Engine.SendByte(b, eoi); err != nil {
				return err
			}
		}
		return c.Engine.SendByte(ClassUnlisten, false)
	})
}

// CloseSecondary runs UNLISTEN, LISTEN(dev), secondary CLOSE|chan,
// UNLISTEN (§4.3 "c").
func (c *Controller) CloseSecondary(dev, ch byte) error {
	return c.withATN(func() error {
		if err := c.addressDevice(dev, false); err != nil {
			return err
		}
		if err := c.Engine.SendByte(SecondaryClose|(ch&0x0F), false); err != nil {
			return err
		}
		return c.Engine.SendByte(ClassUnlisten, false)
	})
}

// ReceiveUntilEOI runs UNLISTEN, TALK(dev), secondary DATA|chan,
// turn-around, then receives bytes until the EOI-flagged byte or an
// error (§4.3 "g"). It always ends by undoing the turn-around.
func (c *Controller) ReceiveUntilEOI(dev, ch byte) ([]byte, error) {
	var out []byte
	err := c.withATN(func() error {
		if err := c.addressDevice(dev, true); err != nil {
			return err
		}
		return c.Engine.SendByte(SecondaryData|(ch&0x0F), false)
	})
	if err != nil {
		return nil, err
	}

	if err := c.Engine.TurnAround(); err != nil {
		return nil, err
	}
	defer func() { _ = c.Engine.UndoTurnAround() }()

	for {
		b, eoi, err := c.Engine.ReceiveByte()
		if err != nil {
			return out, err
		}
		out = append(out, b)
		if eoi {
			return out, nil
		}
	}
}

// SendChunk runs UNLISTEN, LISTEN(dev), secondary DATA|chan, then sends
// chunk without an EOI flag on any byte, since chunks are reassembled
// host-side (§4.3 "p": "do not send EOI").
func (c *Controller) SendChunk(dev, ch byte, chunk []byte) error {
	return c.withATN(func() error {
		if err := c.addressDevice(dev, false); err != nil {
			return err
		}
		if err := c.Engine.SendByte(SecondaryData|(ch&0x0F), false); err != nil {
			return err
		}
		for _, b := range chunk {
			if err := c.Engine.SendByte(b, false); err != nil {
				return err
			}
		}
		return c.Engine.SendByte(ClassUnlisten, false)
	})
}
