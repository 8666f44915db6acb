// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netactuator

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/vishvananda/netlink"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/dhcpclient"
	"github.com/nijaru/beryl-router/internal/logging"
)

// resolverPath is the system resolver file rewritten in step 4.
const resolverPath = "/etc/resolv.conf"

// Netlink is the production Actuator, backed by
// github.com/vishvananda/netlink.
type Netlink struct {
	ResolverPath string
}

// NewNetlink builds a Netlink actuator that rewrites the default
// system resolver file.
func NewNetlink() *Netlink {
	return &Netlink{ResolverPath: resolverPath}
}

// ApplyLease flushes the interface's existing addresses, installs the
// new one, replaces the default route, and rewrites the resolver file,
// in that order. Installing the address is fatal on failure; the route
// and resolver steps are logged and non-fatal.
func (n *Netlink) ApplyLease(ctx context.Context, iface string, lease dhcpclient.Lease) error {
	log := logging.WithComponent("netactuator")

	link, err := netlink.LinkByName(iface)
	if err != nil {
		return berr.Wrapf(err, berr.KindUnavailable, "resolve interface %s", iface)
	}

	if err := flushAddresses(link); err != nil {
		log.Warn("failed to flush existing addresses", "interface", iface, "error", err)
	}

	if err := installAddress(link, lease.IP, lease.Netmask); err != nil {
		return berr.Wrapf(err, berr.KindUnavailable, "install address on %s", iface)
	}
	log.Info("installed address", "interface", iface, "ip", lease.IP, "netmask", lease.Netmask)

	if lease.Gateway != nil && !lease.Gateway.IsUnspecified() {
		if err := installDefaultRoute(link, lease.Gateway); err != nil {
			log.Warn("failed to install default route", "interface", iface, "gateway", lease.Gateway, "error", err)
		}
	}

	if len(lease.DNS) > 0 {
		if err := writeResolverFile(n.ResolverPath, lease.DNS); err != nil {
			log.Warn("failed to rewrite resolver file", "path", n.ResolverPath, "error", err)
		}
	}

	return nil
}

func flushAddresses(link netlink.Link) error {
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return err
	}
	var lastErr error
	for _, a := range addrs {
		if err := netlink.AddrDel(link, &a); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func installAddress(link netlink.Link, ip net.IP, mask net.IPMask) error {
	if mask == nil {
		mask = net.CIDRMask(24, 32)
	}
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: mask}}
	if err := netlink.AddrAdd(link, addr); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func installDefaultRoute(link netlink.Link, gateway net.IP) error {
	routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
	if err == nil {
		for _, r := range routes {
			if r.Dst == nil {
				_ = netlink.RouteDel(&r) // Best-effort; errors here are never fatal.
			}
		}
	}

	route := &netlink.Route{LinkIndex: link.Attrs().Index, Gw: gateway, Dst: nil}
	if err := netlink.RouteAdd(route); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func writeResolverFile(path string, servers []net.IP) error {
	var out string
	for _, s := range servers {
		out += fmt.Sprintf("nameserver %s\n", s)
	}
	return os.WriteFile(path, []byte(out), 0o644)
}
