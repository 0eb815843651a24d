// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"context"
	"fmt"
	"time"
)

// HandshakeRetryConfig configures the banner-retry loop in Initialize
// (§6 "Connection handshake", §8 "Banner retry"). Unlike the teacher's
// general-purpose backoff, the original source retries a fixed number
// of times with no delay between attempts, because each attempt is
// already a blocking read with its own OS-level timeout; we keep that
// shape rather than layering exponential backoff on top of it.
type HandshakeRetryConfig struct {
	// MaxAttempts is the number of banner reads to try before giving up.
	MaxAttempts int
	// MinProtocolVersion rejects banners below this version.
	MinProtocolVersion int
}

// DefaultHandshakeRetryConfig mirrors kNumRetries=5 and
// kMinProtocolVersion=3 from the original implementation.
func DefaultHandshakeRetryConfig() *HandshakeRetryConfig {
	return &HandshakeRetryConfig{
		MaxAttempts:        5,
		MinProtocolVersion: 3,
	}
}

// retryHandshake calls attempt up to config.MaxAttempts times, stopping
// early on success or on a non-retryable error. onRetry is invoked with
// each transient failure that is followed by another attempt (not the
// last one) so the caller can log it, as the original source does on a
// malformed banner.
func retryHandshake(
	ctx context.Context, config *HandshakeRetryConfig,
	attempt func(attemptNum int) error, onRetry func(attemptNum int, err error),
) error {
	if config == nil {
		config = DefaultHandshakeRetryConfig()
	}

	var lastErr error
	for i := 0; i < config.MaxAttempts; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handshake cancelled: %w", ctx.Err())
		default:
		}

		err := attempt(i)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryableBanner(err) {
			return err
		}
		if i < config.MaxAttempts-1 && onRetry != nil {
			onRetry(i, err)
		}
	}
	return lastErr
}

// sleepWithContext is used by the reset settle delay (§4.6) and any
// other place the core needs a cancellable sleep.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
