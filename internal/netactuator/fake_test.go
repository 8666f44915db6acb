// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netactuator

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nijaru/beryl-router/internal/dhcpclient"
)

func TestFakeRecordsAppliedLease(t *testing.T) {
	f := &Fake{}
	l := dhcpclient.Lease{IP: net.ParseIP("203.0.113.5")}

	require.NoError(t, f.ApplyLease(context.Background(), "wan0", l))

	last, ok := f.Last()
	require.True(t, ok)
	require.Equal(t, "wan0", last.Interface)
	require.Equal(t, l.IP, last.Lease.IP)
}

func TestFakeReturnsConfiguredError(t *testing.T) {
	f := &Fake{Err: context.DeadlineExceeded}
	err := f.ApplyLease(context.Background(), "wan0", dhcpclient.Lease{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
