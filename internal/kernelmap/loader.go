// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernelmap

import (
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/vishvananda/netlink"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/logging"
)

// Tables bundles the four kernel-resident tables the supervisor needs,
// plus the attachment handles that keep the kernel program loaded.
type Tables struct {
	Blocklist     *IPTable
	PortBlocklist *PortTable
	EgressBlock   *IPTable
	Stats         *StatsTable

	coll   *ebpf.Collection
	xdp    link.Link
	egress link.Link
}

// Close detaches the kernel program and releases every map file
// descriptor. Safe to call on a Tables built by NewFakeTables, where it
// is a pure map-close with no attachment to tear down.
func (t *Tables) Close() error {
	if t.xdp != nil {
		_ = t.xdp.Close()
	}
	if t.egress != nil {
		_ = t.egress.Close()
	}
	_ = t.Blocklist.Close()
	_ = t.PortBlocklist.Close()
	_ = t.EgressBlock.Close()
	_ = t.Stats.m.Close()
	if t.coll != nil {
		t.coll.Close()
	}
	return nil
}

// Load reads the compiled kernel-program object at objPath, loads its
// maps and programs into the kernel, and attaches the ingress program
// as XDP and the egress program as TC on iface. skbMode forces XDP
// generic (skb) mode instead of native driver mode, for NICs or
// virtual interfaces whose driver lacks native XDP support.
func Load(objPath, iface string, skbMode bool) (*Tables, error) {
	log := logging.WithComponent("kernelmap")

	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, berr.Wrap(err, berr.KindInternal, "load kernel program spec")
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, berr.Wrap(err, berr.KindInternal, "load kernel program into kernel")
	}

	t := &Tables{
		coll:          coll,
		Blocklist:     NewBlocklist(coll.Maps[NameBlocklist]),
		PortBlocklist: NewPortBlocklist(coll.Maps[NamePortBlocklist]),
		EgressBlock:   NewEgressBlock(coll.Maps[NameEgressBlock]),
		Stats:         NewStatsTable(coll.Maps[NameStats]),
	}

	link_, err := netlink.LinkByName(iface)
	if err != nil {
		coll.Close()
		return nil, berr.Wrapf(err, berr.KindUnavailable, "resolve interface %s", iface)
	}

	xdpProg, ok := coll.Programs["ingress_filter"]
	if !ok {
		coll.Close()
		return nil, berr.New(berr.KindInternal, "kernel program missing ingress_filter")
	}
	flags := link.XDPGenericMode
	if !skbMode {
		flags = link.XDPDriverMode
	}
	xdp, err := link.AttachXDP(link.XDPOptions{
		Program:   xdpProg,
		Interface: link_.Attrs().Index,
		Flags:     flags,
	})
	if err != nil {
		coll.Close()
		return nil, berr.Wrapf(err, berr.KindUnavailable, "attach XDP to %s", iface)
	}
	t.xdp = xdp

	if egressProg, ok := coll.Programs["egress_filter"]; ok {
		tc, err := link.AttachTCX(link.TCXOptions{
			Program:   egressProg,
			Interface: link_.Attrs().Index,
			Attach:    ebpf.AttachTCXEgress,
		})
		if err != nil {
			log.Warn("egress TC attach failed, egress blocklist will not be enforced", "interface", iface, "error", err)
		} else {
			t.egress = tc
		}
	}

	log.Info("kernel program attached", "interface", iface, "skb_mode", skbMode)
	return t, nil
}

// NewFakeTables builds the four tables over ordinary in-kernel maps that
// are never read by any loaded program. It is used in integration tests
// and on hosts with no compiled kernel object, so the rest of the
// control plane can be exercised without a real packet-filter program
// attached.
func NewFakeTables() (*Tables, error) {
	blocklist, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       NameBlocklist,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 4096,
	})
	if err != nil {
		return nil, berr.Wrap(err, berr.KindInternal, "create fake BLOCKLIST map")
	}
	portBlocklist, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       NamePortBlocklist,
		Type:       ebpf.Hash,
		KeySize:    2,
		ValueSize:  4,
		MaxEntries: 1024,
	})
	if err != nil {
		blocklist.Close()
		return nil, berr.Wrap(err, berr.KindInternal, "create fake PORT_BLOCKLIST map")
	}
	egressBlock, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       NameEgressBlock,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 4096,
	})
	if err != nil {
		blocklist.Close()
		portBlocklist.Close()
		return nil, berr.Wrap(err, berr.KindInternal, "create fake EGRESS_BLOCK map")
	}
	stats, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       NameStats,
		Type:       ebpf.PerCPUArray,
		KeySize:    4,
		ValueSize:  24,
		MaxEntries: 1,
	})
	if err != nil {
		blocklist.Close()
		portBlocklist.Close()
		egressBlock.Close()
		return nil, berr.Wrap(err, berr.KindInternal, "create fake STATS map")
	}

	return &Tables{
		Blocklist:     NewBlocklist(blocklist),
		PortBlocklist: NewPortBlocklist(portBlocklist),
		EgressBlock:   NewEgressBlock(egressBlock),
		Stats:         NewStatsTable(stats),
	}, nil
}
