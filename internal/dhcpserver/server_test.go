// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcpserver

import (
	"net"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/beryl-router/internal/clock"
	"github.com/nijaru/beryl-router/internal/lease"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	pool, err := lease.NewPool("192.168.8.100", "192.168.8.110", "1h")
	require.NoError(t, err)
	db := lease.New(pool, nil, "", clock.NewMock(time.Now()))
	return &Server{
		iface: "lan0",
		db:    db,
		opts: Options{
			ServerIP:   net.ParseIP("192.168.8.1").To4(),
			Gateway:    net.ParseIP("192.168.8.1").To4(),
			DNS:        []net.IP{net.ParseIP("192.168.8.1").To4()},
			SubnetMask: net.IPMask(net.ParseIP("255.255.255.0").To4()),
		},
	}
}

func discoverFor(mac net.HardwareAddr) *dhcpv4.DHCPv4 {
	m, _ := dhcpv4.NewDiscovery(mac)
	return m
}

func requestFor(mac net.HardwareAddr, requested net.IP) *dhcpv4.DHCPv4 {
	m := &dhcpv4.DHCPv4{
		OpCode:        dhcpv4.OpcodeBootRequest,
		HWType:        iana.HWTypeEthernet,
		ClientHWAddr:  mac,
		ClientIPAddr:  net.IPv4zero,
		YourIPAddr:    net.IPv4zero,
		ServerIPAddr:  net.IPv4zero,
		GatewayIPAddr: net.IPv4zero,
		Options:       dhcpv4.Options{},
	}
	m.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeRequest))
	m.UpdateOption(dhcpv4.OptRequestedIPAddress(requested))
	return m
}

func TestHandleDiscoverOffersAllocatedIP(t *testing.T) {
	s := testServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:00:00:01")
	reply, err := s.handleDiscover(discoverFor(mac))
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeOffer, reply.MessageType())
	require.Equal(t, "192.168.8.100", reply.YourIPAddr.String())
}

func TestHandleDiscoverSilentDropWhenPoolExhausted(t *testing.T) {
	pool, err := lease.NewPool("192.168.8.100", "192.168.8.100", "1h")
	require.NoError(t, err)
	db := lease.New(pool, nil, "", clock.NewMock(time.Now()))
	s := &Server{iface: "lan0", db: db, opts: Options{ServerIP: net.ParseIP("192.168.8.1").To4()}}

	first, _ := net.ParseMAC("aa:bb:cc:00:00:01")
	_, err = s.handleDiscover(discoverFor(first))
	require.NoError(t, err)

	second, _ := net.ParseMAC("aa:bb:cc:00:00:02")
	reply, err := s.handleDiscover(discoverFor(second))
	require.NoError(t, err)
	require.Nil(t, reply)
}

func TestHandleRequestAcksMatchingIP(t *testing.T) {
	s := testServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:00:00:01")
	reply, err := s.handleRequest(requestFor(mac, net.ParseIP("192.168.8.100")))
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeAck, reply.MessageType())
	require.Equal(t, "192.168.8.100", reply.YourIPAddr.String())
}

func TestHandleRequestNaksMismatchedIP(t *testing.T) {
	s := testServer(t)
	mac, _ := net.ParseMAC("aa:bb:cc:00:00:01")

	// A second MAC takes 192.168.8.100 first.
	other, _ := net.ParseMAC("aa:bb:cc:00:00:02")
	_, err := s.handleDiscover(discoverFor(other))
	require.NoError(t, err)

	reply, err := s.handleRequest(requestFor(mac, net.ParseIP("192.168.8.100")))
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeNak, reply.MessageType())
}
