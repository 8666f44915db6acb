// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lease

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nijaru/beryl-router/internal/clock"
)

func testPool(t *testing.T) Pool {
	t.Helper()
	p, err := NewPool("192.168.8.100", "192.168.8.103", "1h")
	require.NoError(t, err)
	return p
}

func TestAllocateStaticBindingAlwaysWins(t *testing.T) {
	statics := map[string]StaticBinding{
		"aa:bb:cc:00:00:01": {IP: "192.168.8.50", Hostname: "printer"},
	}
	db := New(testPool(t), statics, "", clock.NewMock(time.Now()))

	l, ok := db.Allocate("aa:bb:cc:00:00:01", "")
	require.True(t, ok)
	require.Equal(t, "192.168.8.50", l.IP)
	require.True(t, l.Static)

	// Repeated allocation (e.g. lease renewal) still returns the static IP.
	l2, ok := db.Allocate("aa:bb:cc:00:00:01", "192.168.8.101")
	require.True(t, ok)
	require.Equal(t, "192.168.8.50", l2.IP)
}

func TestAllocateRefreshesExistingLease(t *testing.T) {
	mock := clock.NewMock(time.Now())
	db := New(testPool(t), nil, "", mock)

	first, ok := db.Allocate("aa:bb:cc:00:00:02", "")
	require.True(t, ok)

	mock.Advance(30 * time.Minute)
	second, ok := db.Allocate("aa:bb:cc:00:00:02", "")
	require.True(t, ok)
	require.Equal(t, first.IP, second.IP)
	require.True(t, second.ExpiresAt.After(first.ExpiresAt))
}

func TestAllocateHonorsRequestedIPWhenFree(t *testing.T) {
	db := New(testPool(t), nil, "", clock.NewMock(time.Now()))

	l, ok := db.Allocate("aa:bb:cc:00:00:03", "192.168.8.102")
	require.True(t, ok)
	require.Equal(t, "192.168.8.102", l.IP)
}

func TestAllocateFallsBackToFirstFreeIP(t *testing.T) {
	db := New(testPool(t), nil, "", clock.NewMock(time.Now()))

	l, ok := db.Allocate("aa:bb:cc:00:00:04", "192.168.9.1") // out of pool
	require.True(t, ok)
	require.Equal(t, "192.168.8.100", l.IP)
}

func TestAllocateNeverDoubleBooksAnIP(t *testing.T) {
	db := New(testPool(t), nil, "", clock.NewMock(time.Now()))

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		mac := []byte{0xaa, 0xbb, 0xcc, 0x00, 0x00, byte(i + 10)}
		l, ok := db.Allocate(macString(mac), "")
		require.True(t, ok)
		require.False(t, seen[l.IP], "IP %s double-booked", l.IP)
		seen[l.IP] = true
	}

	// Pool is exhausted (4 addresses, 4 MACs already hold them).
	_, ok := db.Allocate(macString([]byte{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0xff}), "")
	require.False(t, ok)
}

func TestAllocateReclaimsExpiredDynamicIP(t *testing.T) {
	mock := clock.NewMock(time.Now())
	pool, err := NewPool("192.168.8.100", "192.168.8.100", "1h")
	require.NoError(t, err)
	db := New(pool, nil, "", mock)

	first, ok := db.Allocate("aa:bb:cc:00:00:20", "")
	require.True(t, ok)

	mock.Advance(2 * time.Hour)
	second, ok := db.Allocate("aa:bb:cc:00:00:21", "")
	require.True(t, ok)
	require.Equal(t, first.IP, second.IP)
}

func TestLookupByHostnameCaseInsensitive(t *testing.T) {
	statics := map[string]StaticBinding{
		"aa:bb:cc:00:00:01": {IP: "192.168.8.50", Hostname: "Printer"},
	}
	db := New(testPool(t), statics, "", clock.NewMock(time.Now()))
	_, ok := db.Allocate("aa:bb:cc:00:00:01", "")
	require.True(t, ok)

	ip, ok := db.LookupByHostname("PRINTER")
	require.True(t, ok)
	require.Equal(t, "192.168.8.50", ip)
}

func TestPersistLoadRoundTrip(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "leases.json")
	mock := clock.NewMock(time.Now())
	db := New(testPool(t), nil, journal, mock)

	_, ok := db.Allocate("aa:bb:cc:00:00:30", "")
	require.True(t, ok)
	require.NoError(t, db.Persist())

	restored := New(testPool(t), nil, journal, mock)
	require.NoError(t, restored.Load())

	l, ok := restored.Lookup("aa:bb:cc:00:00:30")
	require.True(t, ok)
	require.Equal(t, "192.168.8.100", l.IP)
}

func TestLoadDiscardsExpiredEntries(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "leases.json")
	past := clock.NewMock(time.Now().Add(-2 * time.Hour))
	db := New(testPool(t), nil, journal, past)
	_, ok := db.Allocate("aa:bb:cc:00:00:40", "")
	require.True(t, ok)
	require.NoError(t, db.Persist())

	now := clock.NewMock(time.Now())
	restored := New(testPool(t), nil, journal, now)
	require.NoError(t, restored.Load())

	_, ok = restored.Lookup("aa:bb:cc:00:00:40")
	require.False(t, ok)
}

func TestLoadIgnoresMalformedJournal(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "leases.json")
	require.NoError(t, os.WriteFile(journal, []byte("not json"), 0o644))

	db := New(testPool(t), nil, journal, clock.NewMock(time.Now()))
	require.NoError(t, db.Load())
	_, ok := db.Lookup("aa:bb:cc:00:00:01")
	require.False(t, ok)
}

func TestExpireReapRemovesOnlyExpiredDynamicLeases(t *testing.T) {
	mock := clock.NewMock(time.Now())
	statics := map[string]StaticBinding{
		"aa:bb:cc:00:00:01": {IP: "192.168.8.50"},
	}
	pool, err := NewPool("192.168.8.100", "192.168.8.101", "1h")
	require.NoError(t, err)
	db := New(pool, statics, "", mock)

	_, ok := db.Allocate("aa:bb:cc:00:00:01", "")
	require.True(t, ok)
	_, ok = db.Allocate("aa:bb:cc:00:00:02", "")
	require.True(t, ok)

	mock.Advance(2 * time.Hour)
	db.ExpireReap()

	_, ok = db.Lookup("aa:bb:cc:00:00:01")
	require.True(t, ok, "static lease must survive reaping")
	_, ok = db.Lookup("aa:bb:cc:00:00:02")
	require.False(t, ok, "expired dynamic lease must be reaped")
}

func macString(b []byte) string {
	const hex = "0123456789abcdef"
	out := make([]byte, 0, 17)
	for i, c := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hex[c>>4], hex[c&0x0f])
	}
	return string(out)
}
