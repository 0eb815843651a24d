// iec1541
// Copyright (c) 2026 The iec1541 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later

package iec1541

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEscapeRoundTrip checks the §8 "Escape round-trip" property:
// unescape(escape(b)) == b for arbitrary byte strings.
func TestEscapeRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		[]byte("hello"),
		{0x0D},
		{0x1B},
		{0x0D, 0x1B, 0x0D, 0x0D},
		allBytes(),
	}
	for _, c := range cases {
		got, err := unescape(escape(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestEscapeContainsNoBareCR(t *testing.T) {
	data := []byte{0x0D, 'a', 0x0D, 'b'}
	escaped := escape(data)
	for _, b := range escaped {
		assert.NotEqual(t, byte(0x0D), b)
	}
}

func TestUnescapeTruncatedEscape(t *testing.T) {
	_, err := unescape([]byte{'a', 0x1B})
	assert.Error(t, err)
}

func TestUnescapeUnknownEscape(t *testing.T) {
	_, err := unescape([]byte{0x1B, 'Q'})
	assert.Error(t, err)
}

func allBytes() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
