// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec

import (
	"testing"
	"time"

	"github.com/aeckleder/iec1541/mcu/linedriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus is a minimal linedriver.Bus double that lets a test control
// exactly how long a Wait call takes before the awaited condition
// becomes true, so EOI timing (§8 "EOI detection") and timeout
// behavior (§8 "Timeout safety") can be tested deterministically
// without a second live Engine on the other end of the line.
type fakeBus struct {
	state     map[linedriver.Line]bool
	waitDelay time.Duration // how long Wait takes to observe the target state
	neverMet  bool          // if true, Wait always times out
}

func newFakeBus() *fakeBus {
	return &fakeBus{state: make(map[linedriver.Line]bool)}
}

func (b *fakeBus) Write(line linedriver.Line, pulled bool) error {
	b.state[line] = pulled
	return nil
}

func (b *fakeBus) Read(line linedriver.Line) (bool, error) {
	return b.state[line], nil
}

func (b *fakeBus) Wait(line linedriver.Line, pulled bool, timeout time.Duration) error {
	if b.neverMet {
		time.Sleep(minDuration(timeout, 2*time.Millisecond))
		return errTimeout
	}
	if b.waitDelay > timeout {
		time.Sleep(timeout)
		return errTimeout
	}
	// Spin instead of sleeping: time.Sleep can overshoot a sub-millisecond
	// delay by far more than eoiThreshold.
	for start := time.Now(); time.Since(start) < b.waitDelay; {
	}
	b.state[line] = pulled
	return nil
}

func (b *fakeBus) CheckReset() (bool, error) {
	return b.state[linedriver.Reset], nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

var _ linedriver.Bus = (*fakeBus)(nil)

// TestReceiveByteFlagsEOIPastThreshold exercises §8 "EOI detection":
// a clock-release wait longer than the EOI threshold flags the byte.
func TestReceiveByteFlagsEOIPastThreshold(t *testing.T) {
	bus := newFakeBus()
	bus.waitDelay = eoiThreshold + 2*time.Millisecond
	e := NewEngine(bus, 0)

	_, eoi, err := e.ReceiveByte()
	require.NoError(t, err)
	assert.True(t, eoi)
	assert.True(t, e.State.EOI)
}

// TestReceiveByteNoEOIBelowThreshold checks the negative case: a quick
// clock release does not flag EOI.
func TestReceiveByteNoEOIBelowThreshold(t *testing.T) {
	bus := newFakeBus()
	bus.waitDelay = eoiThreshold / 4
	e := NewEngine(bus, 0)

	_, eoi, err := e.ReceiveByte()
	require.NoError(t, err)
	assert.False(t, eoi)
}

// TestReceiveByteTimeoutSafety checks §8 "Timeout safety": a peer that
// never responds surfaces as a bounded-time error, not a hang.
func TestReceiveByteTimeoutSafety(t *testing.T) {
	bus := newFakeBus()
	bus.neverMet = true
	e := NewEngine(bus, 0)

	done := make(chan error, 1)
	go func() {
		_, _, err := e.ReceiveByte()
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.True(t, e.State.Error)
	case <-time.After(byteTimeout * 10):
		t.Fatal("ReceiveByte did not return within a bounded time")
	}
}

func TestSendByteTimeoutSafety(t *testing.T) {
	bus := newFakeBus()
	bus.neverMet = true
	e := NewEngine(bus, 0)

	done := make(chan error, 1)
	go func() {
		done <- e.SendByte('A', false)
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(byteTimeout * 10):
		t.Fatal("SendByte did not return within a bounded time")
	}
}

func TestCheckATNIdleWhenReleased(t *testing.T) {
	bus := newFakeBus()
	e := NewEngine(bus, 0)

	_, check := e.CheckATN()
	assert.Equal(t, ATNIdle, check)
}
