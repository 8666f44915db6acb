// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1h":  time.Hour,
		"30m": 30 * time.Minute,
		"45s": 45 * time.Second,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestParseDurationRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "1", "1x", "-1h", "0h"} {
		_, err := ParseDuration(in)
		require.Errorf(t, err, "expected error for %q", in)
	}
}

func TestNewPoolRejectsInvertedRange(t *testing.T) {
	_, err := NewPool("192.168.8.200", "192.168.8.100", "1h")
	require.Error(t, err)
}

func TestPoolContains(t *testing.T) {
	p, err := NewPool("192.168.8.100", "192.168.8.110", "1h")
	require.NoError(t, err)
	require.True(t, p.Contains("192.168.8.105"))
	require.False(t, p.Contains("192.168.9.1"))
	require.False(t, p.Contains("garbage"))
}
