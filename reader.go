// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/aeckleder/iec1541/internal/syncutil"
	"github.com/aeckleder/iec1541/internal/wire"
)

// debugChannelMap tracks the id->name mapping declared by `!` frames
// (§4.4), guarded because log frames can arrive on the reader goroutine
// while a caller inspects the map via Connection.DebugChannels.
type debugChannelMap struct {
	mu    syncutil.RWMutex
	names map[byte]string
}

func newDebugChannelMap() *debugChannelMap {
	return &debugChannelMap{names: make(map[byte]string)}
}

func (m *debugChannelMap) set(id byte, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[id] = name
}

func (m *debugChannelMap) get(id byte) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.names[id]
	return name, ok
}

func (m *debugChannelMap) snapshot() map[byte]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[byte]string, len(m.names))
	for k, v := range m.names {
		out[k] = v
	}
	return out
}

// backgroundReader is the sole consumer of the Port (§4.4, §5 "the
// background reader is the sole consumer of the tty"). It is the Go
// counterpart of iec_host_lib.cc's ProcessResponses: the original
// selects over {arduino_fd_, tthread_pipe_[0]} to learn about shutdown
// without closing the fd out from under a blocking read; a stop channel
// plus a cooperative SetReadDeadline poll is the idiomatic Go
// equivalent (DESIGN.md, reader.go entry).
type backgroundReader struct {
	port    Port
	br      *bufio.Reader
	corr    *responseCorrelator
	debugCh *debugChannelMap
	logger  LogHandler
	trace   *traceBuffer

	stop chan struct{}
	done chan struct{}

	lastResponse []byte
}

const readerPollInterval = 200 * time.Millisecond

func newBackgroundReader(port Port, corr *responseCorrelator, debugCh *debugChannelMap, logger LogHandler, trace *traceBuffer) *backgroundReader {
	if logger == nil {
		logger = defaultLogHandler
	}
	return &backgroundReader{
		port:    port,
		br:      bufio.NewReaderSize(port, wire.MaxLineLength*2),
		corr:    corr,
		debugCh: debugCh,
		logger:  logger,
		trace:   trace,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// run is the reader goroutine's body. It exits when stop() is closed or
// the port returns a non-timeout error, resolving any pending request
// with CONNECTION_FAILURE before exiting (§4.5, §8 "Shutdown liveness").
func (r *backgroundReader) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			r.corr.abort(NewConnectionFailure("read", ErrShuttingDown))
			return
		default:
		}

		_ = r.port.SetReadDeadline(time.Now().Add(readerPollInterval))
		disc, err := r.br.ReadByte()
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			r.corr.abort(NewConnectionFailure("read", fmt.Errorf("%w: %v", ErrReaderExited, err)))
			return
		}

		if err := r.handleFrame(disc); err != nil {
			r.corr.abort(NewConnectionFailure("read", err))
			return
		}
	}
}

// handleFrame dispatches on the single-byte discriminator per §4.4.
func (r *backgroundReader) handleFrame(disc byte) error {
	switch disc {
	case wire.RespDebugChannel:
		return r.handleDebugDeclaration()
	case byte(LogLevelDebug), byte(LogLevelWarn), byte(LogLevelError), byte(LogLevelInfo), byte(LogLevelTrace):
		return r.handleLogLine(LogLevel(disc))
	case wire.RespData:
		return r.handleDataFrame()
	case wire.RespStatus:
		return r.handleStatusFrame()
	default:
		Debugf("reader: unknown discriminator %q, ignoring line", disc)
		_, _ = r.readLine()
		return nil
	}
}

// readLine reads up to an unescaped '\r', bounded by wire.MaxLineLength,
// the way the original caps each line at kMaxLength.
func (r *backgroundReader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes(wire.Terminator)
	if err != nil {
		return nil, err
	}
	line = line[:len(line)-1] // drop terminator
	if len(line) > wire.MaxLineLength {
		return nil, fmt.Errorf("line exceeds %d bytes", wire.MaxLineLength)
	}
	return line, nil
}

func (r *backgroundReader) handleDebugDeclaration() error {
	line, err := r.readLine()
	if err != nil {
		return fmt.Errorf("malformed debug channel declaration: %w", err)
	}
	if len(line) < 1 {
		return errors.New("empty debug channel declaration")
	}
	id, name := line[0], string(line[1:])
	r.debugCh.set(id, name)
	if r.trace != nil {
		r.trace.record(TraceRX, line, "debug-channel")
	}
	return nil
}

func (r *backgroundReader) handleLogLine(level LogLevel) error {
	line, err := r.readLine()
	if err != nil {
		return fmt.Errorf("malformed log line: %w", err)
	}
	if len(line) < 1 {
		return errors.New("empty log line")
	}
	id, message := line[0], string(line[1:])
	name, ok := r.debugCh.get(id)
	if !ok {
		Debugf("reader: log frame for undeclared channel %q", id)
		name = fmt.Sprintf("?%c", id)
	}
	r.logger(level, name, message)
	return nil
}

func (r *backgroundReader) handleDataFrame() error {
	line, err := r.readLine()
	if err != nil {
		return fmt.Errorf("malformed data frame: %w", err)
	}
	payload, err := unescape(line)
	if err != nil {
		return fmt.Errorf("malformed data frame: %w", err)
	}
	r.lastResponse = payload
	if r.trace != nil {
		r.trace.record(TraceRX, line, "data")
	}
	return nil
}

func (r *backgroundReader) handleStatusFrame() error {
	line, err := r.readLine()
	if err != nil {
		return fmt.Errorf("malformed status frame: %w", err)
	}
	if r.trace != nil {
		r.trace.record(TraceRX, line, "status")
	}

	payload := r.lastResponse
	r.lastResponse = nil

	var resultErr error
	if len(line) > 0 {
		resultErr = NewBusFailure("", string(line))
	}
	r.corr.resolve(payload, resultErr)
	return nil
}

// close signals the reader to stop and waits for it to exit.
func (r *backgroundReader) close() {
	close(r.stop)
	<-r.done
}

// isTimeoutErr recognizes both net.Error-style timeouts (go.bug.st/serial
// and internal/mcusim both surface these) and the plain os-level ones.
func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
