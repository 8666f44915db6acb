// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockAdvance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMock(base)
	require.Equal(t, base, c.Now())

	c.Advance(time.Hour)
	require.Equal(t, base.Add(time.Hour), c.Now())
	require.Equal(t, time.Hour, c.Since(base))
	require.Equal(t, -time.Hour, c.Until(base))
}

func TestRealClockMonotonic(t *testing.T) {
	var r Real
	a := r.Now()
	b := r.Now()
	require.False(t, b.Before(a))
}
