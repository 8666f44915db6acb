// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsoleHandlerIncludesComponentAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf})
	l.WithComponent("dhcpserver").Info("offer sent", "ip", "10.0.0.5")

	out := buf.String()
	require.Contains(t, out, "dhcpserver:")
	require.Contains(t, out, "offer sent")
	require.Contains(t, out, "ip=10.0.0.5")
	require.Contains(t, out, "[info]")
}

func TestSetLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})
	l.Debug("should be dropped")
	require.Empty(t, strings.TrimSpace(buf.String()))

	l.SetLevel(LevelDebug)
	l.Debug("now visible")
	require.Contains(t, buf.String(), "now visible")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelWarn, ParseLevel("warn"))
	require.Equal(t, LevelError, ParseLevel("error"))
	require.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
