// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcpclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/stretchr/testify/require"
)

type fakeInner struct {
	leases  []*nclient4.Lease
	errs    []error
	calls   int
	closed  bool
}

func (f *fakeInner) Request(ctx context.Context, mods ...dhcpv4.Modifier) (*nclient4.Lease, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.leases) {
		return f.leases[i], nil
	}
	return f.leases[len(f.leases)-1], nil
}

func (f *fakeInner) Close() error {
	f.closed = true
	return nil
}

type fakeApplier struct {
	applied []Lease
}

func (f *fakeApplier) ApplyLease(ctx context.Context, iface string, l Lease) error {
	f.applied = append(f.applied, l)
	return nil
}

func ackWith(ip string, leaseSeconds uint32) *dhcpv4.DHCPv4 {
	ack := &dhcpv4.DHCPv4{
		YourIPAddr: net.ParseIP(ip).To4(),
		Options:    dhcpv4.Options{},
	}
	ack.Options.Update(dhcpv4.OptGeneric(dhcpv4.OptionIPAddressLeaseTime, uint32Bytes(leaseSeconds)))
	return ack
}

func uint32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestFromACKAppliesDefaultsWhenOptionsMissing(t *testing.T) {
	ack := &dhcpv4.DHCPv4{
		YourIPAddr: net.ParseIP("10.0.0.5").To4(),
		Options:    dhcpv4.Options{},
	}
	l := fromACK(ack)
	require.Equal(t, "10.0.0.5", l.IP.String())
	require.Equal(t, defaultLeaseTime, l.LeaseTime)
	require.Nil(t, l.Gateway)
	require.Empty(t, l.DNS)
}

func TestFromACKReadsLeaseTime(t *testing.T) {
	ack := ackWith("10.0.0.5", 7200)
	l := fromACK(ack)
	require.Equal(t, 7200*time.Second, l.LeaseTime)
}

func TestRunAppliesLeaseAndStopsOnCancel(t *testing.T) {
	inner := &fakeInner{leases: []*nclient4.Lease{{ACK: ackWith("10.0.0.5", 1)}}}
	applier := &fakeApplier{}
	c := &Client{iface: "wan0", applier: applier, inner: inner}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(applier.applied) >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func TestRunBacksOffAfterFailedHandshake(t *testing.T) {
	inner := &fakeInner{errs: []error{context.DeadlineExceeded}}
	c := &Client{iface: "wan0", applier: &fakeApplier{}, inner: inner}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	require.LessOrEqual(t, inner.calls, 2)
}
