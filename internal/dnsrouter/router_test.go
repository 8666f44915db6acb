// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnsrouter

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	hosts map[string]string
}

func (f *fakeLookup) LookupByHostname(name string) (string, bool) {
	ip, ok := f.hosts[name]
	return ip, ok
}

func TestBareHostnameStripsLocalDomain(t *testing.T) {
	r := New(&fakeLookup{}, "lan", nil)
	h, ok := r.bareHostname("printer.lan")
	require.True(t, ok)
	require.Equal(t, "printer", h)

	_, ok = r.bareHostname("printer.example.com")
	require.False(t, ok)
}

func TestBareHostnameAcceptsAnyNameWhenNoLocalDomain(t *testing.T) {
	r := New(&fakeLookup{}, "", nil)
	h, ok := r.bareHostname("printer")
	require.True(t, ok)
	require.Equal(t, "printer", h)
}

func TestHandleSynthesizesLocalARecord(t *testing.T) {
	r := New(&fakeLookup{hosts: map[string]string{"printer": "192.168.8.50"}}, "lan", nil)

	req := new(dns.Msg)
	req.SetQuestion("printer.lan.", dns.TypeA)

	rw := &recordingWriter{}
	r.handle(rw, req)

	require.NotNil(t, rw.msg)
	require.Len(t, rw.msg.Answer, 1)
	a, ok := rw.msg.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "192.168.8.50", a.A.String())
	require.EqualValues(t, synthesizedTTL, a.Hdr.Ttl)
	require.False(t, rw.msg.Authoritative)
	require.True(t, rw.msg.RecursionAvailable)
}

func TestNewDefaultsToFallbackUpstream(t *testing.T) {
	r := New(&fakeLookup{}, "", nil)
	require.Equal(t, []string{fallbackUpstream}, r.upstreams)
}

func TestClassifyErrorMapsToServerFailure(t *testing.T) {
	require.Equal(t, dns.RcodeServerFailure, classifyError(errTest{}))
}

type errTest struct{}

func (errTest) Error() string { return "boom" }

type recordingWriter struct {
	msg *dns.Msg
}

func (w *recordingWriter) WriteMsg(m *dns.Msg) error {
	w.msg = m
	return nil
}

func (w *recordingWriter) LocalAddr() net.Addr       { return &net.UDPAddr{} }
func (w *recordingWriter) RemoteAddr() net.Addr      { return &net.UDPAddr{} }
func (w *recordingWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *recordingWriter) Close() error              { return nil }
func (w *recordingWriter) TsigStatus() error         { return nil }
func (w *recordingWriter) TsigTimersOnly(bool)       {}
func (w *recordingWriter) Hijack()                   {}
