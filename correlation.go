// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"context"
	"fmt"

	"github.com/aeckleder/iec1541/internal/syncutil"
)

// responseCorrelator is the Go equivalent of the original source's
// std::promise<std::string>/std::future pair (iec_host_lib.h
// response_promise_): one outstanding request at a time, handed its
// result by the background reader when an `s` frame arrives (§4.3, §8
// "at-most-one-in-flight").
//
// Where the original blocks the calling thread on future.get(), this
// blocks on a channel receive, which composes with context cancellation
// and the reader's own shutdown path.
type responseCorrelator struct {
	mu      syncutil.Mutex
	pending chan correlatedResult
}

type correlatedResult struct {
	data []byte
	err  error
}

func newResponseCorrelator() *responseCorrelator {
	return &responseCorrelator{}
}

// begin opens the one-slot window for a new request. It panics if a
// request is already outstanding: every Channel API call is already
// serialized through the connection's write path (§6 "Concurrency"), so
// a second begin() before the first resolves is a programming error in
// this package, not a condition a caller can trigger.
func (c *responseCorrelator) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		panic("iec1541: responseCorrelator.begin called with a request already in flight")
	}
	c.pending = make(chan correlatedResult, 1)
}

// resolve delivers a result to whichever goroutine is waiting in await,
// called from the background reader on an `s` frame (§4.3). It is a
// no-op if nothing is currently pending, mirroring the original's
// guard against an unsolicited status line.
func (c *responseCorrelator) resolve(data []byte, err error) bool {
	c.mu.Lock()
	ch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- correlatedResult{data: data, err: err}
	return true
}

// abort resolves any pending request with err, used when the reader
// goroutine exits or the connection is closing (§6 "Shutdown liveness").
func (c *responseCorrelator) abort(err error) {
	c.resolve(nil, err)
}

// await blocks until resolve or abort delivers a result, or ctx is
// cancelled first. On cancellation the slot is cleared so a later
// resolve (from a reply that arrives after the caller gave up) does not
// leak into the next request.
func (c *responseCorrelator) await(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	ch := c.pending
	c.mu.Unlock()
	if ch == nil {
		return nil, fmt.Errorf("iec1541: await called with no request in flight")
	}
	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending == ch {
			c.pending = nil
		}
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}
