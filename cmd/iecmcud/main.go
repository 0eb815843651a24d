// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

// Command iecmcud runs the MCU Framing Layer on a Go-capable board
// wired to the IEC bus, the role the original firmware plays on an
// Arduino, so the same protocol engine can run on anything periph.io
// supports (e.g. a Raspberry Pi) instead of requiring AVR firmware.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/aeckleder/iec1541/mcu"
	"github.com/aeckleder/iec1541/mcu/linedriver"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func main() {
	log.SetFlags(log.Lmsgprefix | log.Lmicroseconds)
	log.SetPrefix("iecmcud: ")

	port := flag.String("port", "/dev/ttyAMA0", "serial device connected to the host")
	baud := flag.Int("baud", 115200, "serial baud rate")
	atnPin := flag.String("atn-pin", "GPIO5", "GPIO name for ATN")
	clockPin := flag.String("clock-pin", "GPIO4", "GPIO name for CLOCK")
	dataPin := flag.String("data-pin", "GPIO3", "GPIO name for DATA")
	resetPin := flag.String("reset-pin", "GPIO7", "GPIO name for RESET")
	srqPin := flag.String("srq-pin", "GPIO6", "GPIO name for SRQ")
	flag.Parse()

	if _, err := host.Init(); err != nil {
		log.Fatalf("initializing GPIO host: %v", err)
	}

	bus, err := buildBus(*atnPin, *clockPin, *dataPin, *resetPin, *srqPin)
	if err != nil {
		log.Fatalf("wiring GPIO lines: %v", err)
	}

	for {
		log.Println("opening serial port", *port)
		if err := runSession(*port, *baud, bus); err != nil {
			log.Printf("session ended: %v", err)
		}
		time.Sleep(2 * time.Second)
	}
}

func buildBus(atn, clock, data, reset, srq string) (*linedriver.GPIOBus, error) {
	pins := make([]gpio.PinIO, 5)
	names := []string{atn, clock, data, reset, srq}
	for i, name := range names {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, errUnknownPin(name)
		}
		pins[i] = p
	}
	return linedriver.NewGPIOBus(pins[0], pins[1], pins[2], pins[3], pins[4]), nil
}

type errUnknownPin string

func (e errUnknownPin) Error() string { return "unknown GPIO pin " + string(e) }

func runSession(device string, baud int, bus *linedriver.GPIOBus) error {
	sp, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return err
	}
	defer func() { _ = sp.Close() }()

	channels := []mcu.DebugChannel{
		{ID: 'A', Name: "CLIENT"},
	}
	framing := mcu.New(sp, bus, channels)
	if err := framing.Handshake(); err != nil {
		return err
	}
	log.Println("handshake complete, entering command loop")
	return framing.Run()
}
