// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netactuator implements C7: applying a newly acquired DHCP
// lease to the host's WAN interface (address, default route, resolver
// hints). The production implementation is a thin Go interface over
// github.com/vishvananda/netlink; callers depend only on the interface
// so tests can substitute a fake.
package netactuator

import (
	"context"

	"github.com/nijaru/beryl-router/internal/dhcpclient"
)

// Actuator applies an acquired DHCP lease to a network interface. It
// satisfies dhcpclient.Applier, so C4 depends only on this interface.
type Actuator interface {
	ApplyLease(ctx context.Context, iface string, lease dhcpclient.Lease) error
}
