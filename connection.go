// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aeckleder/iec1541/internal/syncutil"
	"github.com/aeckleder/iec1541/internal/wire"
)

// PinAssignment names the GPIO pin wired to each IEC line on the MCU
// side of the link, sent once during the handshake (§3 "ConnectionConfig",
// §6 "Connection handshake"). The reference configuration is ATN=5,
// CLOCK=4, DATA=3, RESET=7, SRQ=6.
type PinAssignment struct {
	ATN   int
	Clock int
	Data  int
	Reset int
	SRQ   int
}

// DefaultPinAssignment mirrors the reference pins from original_source's
// iec_driver.h (kDataPin=3, kClockPin=4, kAtnPin=5, kSrqInPin=6, kResetPin=7).
func DefaultPinAssignment() PinAssignment {
	return PinAssignment{ATN: 5, Clock: 4, Data: 3, Reset: 7, SRQ: 6}
}

// ConnectionConfig bundles everything Create needs beyond the Port
// itself. The functional Option pattern below is the teacher's
// device.go Option/ConnectOption shape, generalized from PN532 SAM
// configuration to this link's handshake parameters.
type ConnectionConfig struct {
	HostDeviceNumber     byte
	Pins                 PinAssignment
	HandshakeRetries     *HandshakeRetryConfig
	HandshakeReadTimeout time.Duration
	ResetSettleDelay     time.Duration
	LogHandler           LogHandler
	TraceSize            int
	clockFunc            func() time.Time
}

// DefaultConnectionConfig matches the reference handshake in §6: host
// device number 0, the reference pin assignment, up to 5 banner
// retries requiring protocol >= 3, a 2s per-attempt banner read
// timeout, and a 2s reset settle delay (§4.6 "Reset").
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		HostDeviceNumber:     0,
		Pins:                 DefaultPinAssignment(),
		HandshakeRetries:     DefaultHandshakeRetryConfig(),
		HandshakeReadTimeout: 2 * time.Second,
		ResetSettleDelay:     2 * time.Second,
		TraceSize:            16,
		clockFunc:            time.Now,
	}
}

// Option configures a ConnectionConfig, applied in Create.
type Option func(*ConnectionConfig)

// WithPins overrides the reference pin assignment sent during the
// handshake.
func WithPins(p PinAssignment) Option {
	return func(c *ConnectionConfig) { c.Pins = p }
}

// WithHostDeviceNumber overrides the host device number sent during the
// handshake. The original always uses 0; SPEC_FULL §5 supplements the
// distilled spec by exposing it, since the wire format carries it as a
// plain field with no protocol reason to hardcode it.
func WithHostDeviceNumber(dev byte) Option {
	return func(c *ConnectionConfig) { c.HostDeviceNumber = dev }
}

// WithHandshakeRetries overrides the banner-retry policy (§8 "Banner retry").
func WithHandshakeRetries(r *HandshakeRetryConfig) Option {
	return func(c *ConnectionConfig) { c.HandshakeRetries = r }
}

// WithResetSettleDelay overrides the post-reset settle delay (§4.6 "Reset").
func WithResetSettleDelay(d time.Duration) Option {
	return func(c *ConnectionConfig) { c.ResetSettleDelay = d }
}

// WithReadTimeout overrides the per-attempt read deadline the handshake
// applies while waiting for the connect_arduino banner (§6 "Connection
// handshake"). It has no effect on request/response timing once the
// connection is established: per §5, the core relies on the MCU to
// always eventually emit an `s` frame rather than imposing a per-request
// timeout of its own.
func WithReadTimeout(d time.Duration) Option {
	return func(c *ConnectionConfig) { c.HandshakeReadTimeout = d }
}

// WithLogHandler installs a callback for `D/W/E/I` log frames (§4.4).
// If unset, log frames funnel into Debugf via defaultLogHandler.
func WithLogHandler(h LogHandler) Option {
	return func(c *ConnectionConfig) { c.LogHandler = h }
}

// WithTraceSize overrides the wire-trace ring buffer's capacity attached
// to handshake CONNECTION_FAILURE errors returned by Create, for
// post-mortem debugging.
func WithTraceSize(n int) Option {
	return func(c *ConnectionConfig) { c.TraceSize = n }
}

// Connection is the host-side handle for one IEC bridge link: the
// owned Port, the background reader, the frame writer, and the
// correlation engine that binds them (§3 "Lifecycles", §5). It is not
// safe to share a Connection's Channel API calls across goroutines
// without external serialization beyond what writeMu already provides
// for a single in-flight request — concurrent callers are serialized,
// not parallelized, matching §5's "one outstanding request at a time".
type Connection struct {
	port    Port
	cfg     *ConnectionConfig
	corr    *responseCorrelator
	debugCh *debugChannelMap
	writer  *frameWriter
	reader  *backgroundReader
	trace   *traceBuffer

	writeMu syncutil.Mutex
}

// Create opens a handshake over port and returns a ready Connection.
// It is the Go counterpart of IECBusConnection::Create followed by
// Initialize in the original source: this single call performs both,
// since Go has no analogue to the two-phase constructor-then-Initialize
// split the original uses to report setup errors without exceptions.
func Create(ctx context.Context, port Port, opts ...Option) (*Connection, error) {
	cfg := DefaultConnectionConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	trace := newTraceBuffer("", cfg.TraceSize)
	conn := &Connection{
		port:    port,
		cfg:     cfg,
		corr:    newResponseCorrelator(),
		debugCh: newDebugChannelMap(),
		writer:  newFrameWriter(port, trace),
		trace:   trace,
	}

	if err := conn.initialize(ctx); err != nil {
		return nil, trace.wrapError(err)
	}

	conn.reader = newBackgroundReader(port, conn.corr, conn.debugCh, cfg.LogHandler, trace)
	go conn.reader.run()

	return conn, nil
}

// initialize performs the banner handshake (§4.3, §6 "Connection
// handshake", §8 "Banner retry", "Protocol version"). It runs entirely
// on the caller's goroutine, before the background reader starts, so it
// owns the port's read side exclusively during this phase — mirroring
// Initialize's single-threaded retry loop in the original source.
func (c *Connection) initialize(ctx context.Context) error {
	br := bufio.NewReaderSize(c.port, wire.MaxLineLength*2)

	var version int
	attempt := func(attemptNum int) error {
		_ = c.port.SetReadDeadline(time.Now().Add(c.cfg.HandshakeReadTimeout))
		line, err := br.ReadBytes(wire.Terminator)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadBanner, err)
		}
		line = line[:len(line)-1]
		if c.trace != nil {
			c.trace.record(TraceRX, line, "banner")
		}

		text := string(line)
		if !strings.HasPrefix(text, wire.ConnectBannerPrefix) {
			return fmt.Errorf("%w: %q", ErrBadBanner, text)
		}
		suffix := strings.TrimPrefix(text, wire.ConnectBannerPrefix)
		v, convErr := strconv.Atoi(suffix)
		if convErr != nil {
			return fmt.Errorf("%w: bad protocol version %q", ErrBadBanner, suffix)
		}
		min := 3
		if c.cfg.HandshakeRetries != nil {
			min = c.cfg.HandshakeRetries.MinProtocolVersion
		}
		if v < min {
			return fmt.Errorf("%w: got %d, need >= %d", ErrUnsupportedProtocol, v, min)
		}
		version = v
		return nil
	}

	onRetry := func(attemptNum int, err error) {
		Debugf("handshake: attempt %d failed: %v", attemptNum+1, err)
	}

	if err := retryHandshake(ctx, c.cfg.HandshakeRetries, attempt, onRetry); err != nil {
		return NewConnectionFailure("Initialize", err)
	}

	now := c.now()
	cfgLine := fmt.Sprintf("OK>%d|%d|%d|%d|%d|%d|%s\r",
		c.cfg.HostDeviceNumber, c.cfg.Pins.ATN, c.cfg.Pins.Clock, c.cfg.Pins.Data,
		c.cfg.Pins.Reset, c.cfg.Pins.SRQ, now.Format("2006-01-02.15:04:05"))
	if c.trace != nil {
		c.trace.record(TraceTX, []byte(cfgLine), "config")
	}
	if _, err := c.port.Write([]byte(cfgLine)); err != nil {
		return NewConnectionFailure("Initialize", fmt.Errorf("writing config line: %w", err))
	}

	_ = version // retained for future diagnostics; protocol is otherwise uniform from v3 on
	return nil
}

func (c *Connection) now() time.Time {
	if c.cfg.clockFunc != nil {
		return c.cfg.clockFunc()
	}
	return time.Now()
}

// Close shuts the connection down: it stops the background reader and
// closes the underlying port (§3 "Lifecycles": "writes a byte on an
// internal wake pipe ... then the fd is closed"). Any request blocked
// in await() resolves to a CONNECTION_FAILURE before Close returns
// (§8 "Shutdown liveness").
func (c *Connection) Close() error {
	if c.reader != nil {
		c.reader.close()
	}
	return c.port.Close()
}

// DebugChannels returns a snapshot of the id->name map declared by `!`
// frames so far.
func (c *Connection) DebugChannels() map[byte]string {
	return c.debugCh.snapshot()
}
