// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhcpclient implements C4: a WAN-side DHCP client that
// performs the DISCOVER→OFFER→REQUEST→ACK handshake and keeps the
// lease renewed for as long as the supervisor keeps the task running.
package dhcpclient

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/logging"
)

// nakBackoff is the fixed back-off applied after a NAK before the next
// handshake attempt.
const nakBackoff = 5 * time.Second

const (
	defaultNetmask   = "255.255.255.0"
	defaultLeaseTime = 3600 * time.Second
)

// Lease is the result handed to the network actuator (C7) after a
// successful handshake or renewal.
type Lease struct {
	IP         net.IP
	Netmask    net.IPMask
	Gateway    net.IP
	DNS        []net.IP
	LeaseTime  time.Duration
	ServerID   net.IP
	ObtainedAt time.Time
}

// Applier receives every newly acquired or renewed lease. C7's
// netactuator.Actuator satisfies this interface directly, keeping this
// package free of a dependency on the netactuator package itself.
type Applier interface {
	ApplyLease(ctx context.Context, iface string, lease Lease) error
}

// Client runs the acquire/renew loop for one WAN interface.
type Client struct {
	iface   string
	applier Applier
	inner   dhcpClient
}

// dhcpClient is the subset of *nclient4.Client this package calls,
// narrowed so tests can substitute a fake handshake.
type dhcpClient interface {
	Request(ctx context.Context, mods ...dhcpv4.Modifier) (*nclient4.Lease, error)
	Close() error
}

// New builds a Client bound to iface using nclient4's default broadcast
// socket. The xid is chosen by nclient4 internally and reused across one
// full handshake.
func New(iface string, applier Applier) (*Client, error) {
	inner, err := nclient4.New(iface)
	if err != nil {
		return nil, berr.Wrapf(err, berr.KindUnavailable, "open DHCP client socket on %s", iface)
	}
	return &Client{iface: iface, applier: applier, inner: inner}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.inner.Close()
}

// Run drives the acquire-then-renew loop until ctx is cancelled. A
// failed handshake (including NAK) backs off nakBackoff before retrying;
// a successful lease sleeps T1 = lease_time/2 before the next handshake.
// Full RFC 2131 T1/T2/rebind tracking is out of scope.
func (c *Client) Run(ctx context.Context) {
	log := logging.WithComponent("dhcpclient")
	for {
		lease, err := c.acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("DHCP handshake failed", "interface", c.iface, "error", err)
			if !sleepOrDone(ctx, nakBackoff) {
				return
			}
			continue
		}

		if c.applier != nil {
			if err := c.applier.ApplyLease(ctx, c.iface, lease); err != nil {
				log.Warn("failed to apply lease to interface", "interface", c.iface, "error", err)
			}
		}

		t1 := lease.LeaseTime / 2
		log.Info("lease acquired", "interface", c.iface, "ip", lease.IP, "renew_in", t1)
		if !sleepOrDone(ctx, t1) {
			return
		}
	}
}

func (c *Client) acquire(ctx context.Context) (Lease, error) {
	result, err := c.inner.Request(ctx)
	if err != nil {
		return Lease{}, berr.Wrap(err, berr.KindUnavailable, "DHCP request")
	}
	return fromACK(result.ACK), nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// fromACK translates an ACK packet into the Lease struct C7 consumes,
// applying defaults for any option the server omitted.
func fromACK(ack *dhcpv4.DHCPv4) Lease {
	l := Lease{
		IP:        ack.YourIPAddr,
		Netmask:   net.IPMask(net.ParseIP(defaultNetmask).To4()),
		LeaseTime: defaultLeaseTime,
		ServerID:  ack.ServerIPAddr,
		ObtainedAt: time.Now(),
	}

	if mask := ack.Options.Get(dhcpv4.OptionSubnetMask); len(mask) == 4 {
		l.Netmask = net.IPMask(mask)
	}
	if routers := ack.Options.Get(dhcpv4.OptionRouter); len(routers) >= 4 {
		l.Gateway = net.IP(routers[:4])
	}
	if dns := ack.Options.Get(dhcpv4.OptionDomainNameServer); len(dns) > 0 {
		for i := 0; i+4 <= len(dns); i += 4 {
			l.DNS = append(l.DNS, net.IP(dns[i:i+4]))
		}
	}
	if raw := ack.Options.Get(dhcpv4.OptionIPAddressLeaseTime); len(raw) == 4 {
		l.LeaseTime = time.Duration(binary.BigEndian.Uint32(raw)) * time.Second
	}
	if sid := ack.Options.Get(dhcpv4.OptionServerIdentifier); len(sid) == 4 {
		l.ServerID = net.IP(sid)
	}

	return l
}
