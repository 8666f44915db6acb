// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhcpserver implements C3: the LAN-side DHCP server. It owns no
// state of its own — every allocation decision is delegated to the
// lease database (C2); the server is stateless between messages.
package dhcpserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/lease"
	"github.com/nijaru/beryl-router/internal/logging"
)

const defaultSubnetMask = "255.255.255.0"

// Options holds the values relayed in every OFFER/ACK beyond the
// allocated address itself.
type Options struct {
	ServerIP   net.IP
	Gateway    net.IP
	DNS        []net.IP
	SubnetMask net.IPMask
}

// Server runs the UDP/:67 receive loop for one LAN interface.
type Server struct {
	iface   string
	db      *lease.Database
	opts    Options
	conn    net.PacketConn
}

// New binds a DGRAM socket to UDP port 67 on iface with broadcast and
// reuse-address enabled. server4.NewIPv4UDPConn is used only to obtain
// that socket; the receive loop below is hand-rolled so the server can
// be cancelled cooperatively instead of running a blocking library
// loop.
func New(iface string, db *lease.Database, opts Options) (*Server, error) {
	if opts.SubnetMask == nil {
		opts.SubnetMask = net.IPMask(net.ParseIP(defaultSubnetMask).To4())
	}
	conn, err := server4.NewIPv4UDPConn(iface, &net.UDPAddr{IP: net.IPv4zero, Port: 67})
	if err != nil {
		return nil, berr.Wrapf(err, berr.KindUnavailable, "bind DHCP socket on %s", iface)
	}
	return &Server{iface: iface, db: db, opts: opts, conn: conn}, nil
}

// Close releases the listening socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// handler is server4's handler signature, kept for idiomatic
// compatibility with the library even though the receive loop below is
// hand-rolled rather than server4.Server.
type handler = func(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4)

// Run reads datagrams until ctx is cancelled, decoding and dispatching
// each one. Socket errors are logged and the loop continues; only
// cancellation or a closed socket stops it.
func (s *Server) Run(ctx context.Context) {
	log := logging.WithComponent("dhcpserver")
	buf := make([]byte, 4096)

	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	h := s.handle
	for {
		n, peer, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error("read error", "interface", s.iface, "error", err)
			continue
		}

		m, err := dhcpv4.FromBytes(buf[:n])
		if err != nil {
			log.Debug("dropping malformed packet", "interface", s.iface, "error", err)
			continue
		}
		if m.OpCode != dhcpv4.OpcodeBootRequest {
			continue // BootReply messages originate from a server, never a client.
		}
		h(s.conn, peer, m)
	}
}

// handle dispatches on the DHCP message type.
func (s *Server) handle(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
	log := logging.WithComponent("dhcpserver")
	dest := broadcastDest(peer)

	var reply *dhcpv4.DHCPv4
	var err error

	switch m.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		reply, err = s.handleDiscover(m)
	case dhcpv4.MessageTypeRequest:
		reply, err = s.handleRequest(m)
	case dhcpv4.MessageTypeRelease, dhcpv4.MessageTypeDecline, dhcpv4.MessageTypeInform:
		return // Accepted, no-op; a future extension may act on these.
	default:
		log.Debug("dropping unknown message type", "type", m.MessageType())
		return
	}

	if err != nil {
		log.Debug("dropping request", "mac", m.ClientHWAddr, "error", err)
		return
	}
	if reply == nil {
		return
	}

	if _, err := conn.WriteTo(reply.ToBytes(), dest); err != nil {
		log.Error("write error", "interface", s.iface, "dest", dest, "error", err)
	}
}

// broadcastDest simplifies reply delivery: every reply is broadcast to
// 255.255.255.255:68 regardless of the client's broadcast flag.
func broadcastDest(peer net.Addr) net.Addr {
	return &net.UDPAddr{IP: net.IPv4bcast, Port: 68}
}

func (s *Server) handleDiscover(m *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	l, ok := s.db.Allocate(m.ClientHWAddr.String(), requestedIP(m))
	if !ok {
		return nil, nil // Silent drop: pool exhausted and no static binding.
	}
	return dhcpv4.NewReplyFromRequest(m, s.offerOptions(l)...)
}

func (s *Server) handleRequest(m *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	mac := m.ClientHWAddr.String()

	var want string
	switch {
	case m.ServerIdentifier() != nil && m.RequestedIPAddress() != nil:
		// Selecting state.
		want = m.RequestedIPAddress().String()
	case !m.ClientIPAddr.IsUnspecified():
		// Renewing state.
		want = m.ClientIPAddr.String()
	default:
		want = requestedIP(m)
	}

	l, ok := s.db.Allocate(mac, want)
	if !ok {
		return s.nak(m), nil
	}
	if want != "" && l.IP != want {
		return s.nak(m), nil
	}
	return dhcpv4.NewReplyFromRequest(m, s.ackOptions(l)...)
}

func (s *Server) nak(m *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	reply, err := dhcpv4.NewReplyFromRequest(m,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
		dhcpv4.WithServerIP(s.opts.ServerIP),
	)
	if err != nil {
		logging.WithComponent("dhcpserver").Error("failed to build NAK", "error", err)
		return nil
	}
	return reply
}

func (s *Server) offerOptions(l lease.Lease) []dhcpv4.Modifier {
	return s.commonOptions(l, dhcpv4.MessageTypeOffer)
}

func (s *Server) ackOptions(l lease.Lease) []dhcpv4.Modifier {
	return s.commonOptions(l, dhcpv4.MessageTypeAck)
}

func (s *Server) commonOptions(l lease.Lease, mt dhcpv4.MessageType) []dhcpv4.Modifier {
	ip := net.ParseIP(l.IP).To4()
	mods := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(mt),
		dhcpv4.WithYourIP(ip),
		dhcpv4.WithServerIP(s.opts.ServerIP),
		dhcpv4.WithNetmask(s.opts.SubnetMask),
		dhcpv4.WithLeaseTime(uint32(s.db.LeaseDuration() / time.Second)),
	}
	if s.opts.Gateway != nil {
		mods = append(mods, dhcpv4.WithRouter(s.opts.Gateway))
	}
	if len(s.opts.DNS) > 0 {
		mods = append(mods, dhcpv4.WithDNS(s.opts.DNS...))
	}
	return mods
}

func requestedIP(m *dhcpv4.DHCPv4) string {
	if ip := m.RequestedIPAddress(); ip != nil {
		return ip.String()
	}
	return ""
}
