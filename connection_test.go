// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"context"
	"testing"
	"time"

	"github.com/aeckleder/iec1541/internal/mcusim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, sim *mcusim.VirtualMCU, opts ...Option) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts = append([]Option{WithResetSettleDelay(0)}, opts...)
	conn, err := Create(ctx, sim, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Scenario 1 (§8): banner, config, Reset.
func TestScenarioResetSucceeds(t *testing.T) {
	sim := mcusim.New("connect_arduino:3")
	conn := connect(t, sim)

	ctx := context.Background()
	require.NoError(t, conn.Reset(ctx))
	assert.Equal(t, 1, sim.ResetCount)
	assert.Contains(t, sim.ConfigLine, "OK>0|5|4|3|7|6|")
}

// Scenario 2 (§8): OpenChannel writes the exact wire bytes.
func TestScenarioOpenChannel(t *testing.T) {
	sim := mcusim.New("connect_arduino:3")
	conn := connect(t, sim)

	require.NoError(t, conn.OpenChannel(context.Background(), 9, 15, []byte("I0")))
	require.Len(t, sim.OpenCalls, 1)
	assert.Equal(t, byte(9), sim.OpenCalls[0].Dev)
	assert.Equal(t, byte(15), sim.OpenCalls[0].Ch)
	assert.Equal(t, []byte("I0"), sim.OpenCalls[0].Cmd)
}

// Scenario 3 (§8): ReadFromChannel returns the last `r` payload before `s`.
func TestScenarioReadFromChannel(t *testing.T) {
	sim := mcusim.New("connect_arduino:3")
	sim.SetHandlers(mcusim.Handlers{
		OnGet: func(byte, byte) mcusim.OpResult {
			return mcusim.OpResult{DataFrames: [][]byte{[]byte("DRIVE OK")}}
		},
	})
	conn := connect(t, sim)

	data, err := conn.ReadFromChannel(context.Background(), 9, 15)
	require.NoError(t, err)
	assert.Equal(t, "DRIVE OK", string(data))
}

// Scenario 4 (§8): WriteToChannel with 300 bytes issues 256+44 chunks.
func TestScenarioWriteToChannelChunking(t *testing.T) {
	sim := mcusim.New("connect_arduino:3")
	conn := connect(t, sim)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, conn.WriteToChannel(context.Background(), 9, 2, data))

	require.Len(t, sim.PutCalls, 2)
	assert.Len(t, sim.PutCalls[0].Chunk, 256)
	assert.Len(t, sim.PutCalls[1].Chunk, 44)
	assert.Equal(t, data, append(append([]byte{}, sim.PutCalls[0].Chunk...), sim.PutCalls[1].Chunk...))
}

// Scenario 5 (§8): a bare `s` with a message fails as IEC_CONNECTION_FAILURE.
func TestScenarioBusFailureNoDataFrame(t *testing.T) {
	sim := mcusim.New("connect_arduino:3")
	sim.SetHandlers(mcusim.Handlers{
		OnGet: func(byte, byte) mcusim.OpResult {
			return mcusim.OpResult{Status: "41,FILE NOT FOUND,18,00"}
		},
	})
	conn := connect(t, sim)

	_, err := conn.ReadFromChannel(context.Background(), 9, 15)
	require.Error(t, err)
	assert.True(t, IsBusFailure(err))
	assert.Contains(t, err.Error(), "41,FILE NOT FOUND,18,00")
}

// Scenario 6 (§8): interleaved log frames do not disturb the response.
func TestScenarioLogTransparency(t *testing.T) {
	sim := mcusim.New("connect_arduino:3")

	var gotLevel LogLevel
	var gotChannel, gotMessage string
	logged := make(chan struct{}, 1)

	sim.SetHandlers(mcusim.Handlers{})
	conn := connect(t, sim, WithLogHandler(func(level LogLevel, channel, message string) {
		gotLevel, gotChannel, gotMessage = level, channel, message
		logged <- struct{}{}
	}))

	sim.QueueDebugDeclaration('A', "CLIENT")
	sim.QueueLogFrame(byte(LogLevelDebug), 'A', "hello")
	require.NoError(t, conn.OpenChannel(context.Background(), 9, 15, []byte("I0")))

	select {
	case <-logged:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log callback")
	}
	assert.Equal(t, LogLevelDebug, gotLevel)
	assert.Equal(t, "CLIENT", gotChannel)
	assert.Equal(t, "hello", gotMessage)
}

// §8 "Banner retry": garbage lines before a valid banner still succeed.
func TestBannerRetrySucceeds(t *testing.T) {
	sim := mcusim.New("connect_arduino:3", "garbage1", "garbage2", "garbage3", "garbage4")
	connect(t, sim)
}

// §8 "Banner retry": five consecutive bad banners fail the connection.
func TestBannerRetryExhausted(t *testing.T) {
	sim := mcusim.New("still garbage", "g1", "g2", "g3", "g4")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Create(ctx, sim, WithResetSettleDelay(0))
	require.Error(t, err)
	assert.True(t, IsConnectionFailure(err))
}

// §8 "Protocol version": a banner below the minimum fails the connection.
func TestProtocolVersionTooLow(t *testing.T) {
	sim := mcusim.New("connect_arduino:2")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Create(ctx, sim, WithResetSettleDelay(0), WithHandshakeRetries(&HandshakeRetryConfig{MaxAttempts: 1, MinProtocolVersion: 3}))
	require.Error(t, err)
}

// §8 "Shutdown liveness": closing with an outstanding request resolves
// it promptly instead of hanging.
func TestShutdownLivenessResolvesOutstandingRequest(t *testing.T) {
	sim := mcusim.New("connect_arduino:3")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Create(ctx, sim, WithResetSettleDelay(0))
	require.NoError(t, err)

	conn.corr.begin()
	done := make(chan error, 1)
	go func() {
		_, err := conn.corr.await(context.Background())
		done <- err
	}()

	require.NoError(t, conn.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("await did not resolve after Close")
	}
}
