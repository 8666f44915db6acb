// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netactuator

import (
	"context"
	"sync"

	"github.com/nijaru/beryl-router/internal/dhcpclient"
)

// Fake records every ApplyLease call instead of touching the host
// network stack, for use by tests of C4/C6 that depend only on the
// Actuator interface.
type Fake struct {
	mu      sync.Mutex
	Applied []AppliedLease
	Err     error
}

// AppliedLease is one recorded ApplyLease invocation.
type AppliedLease struct {
	Interface string
	Lease     dhcpclient.Lease
}

func (f *Fake) ApplyLease(ctx context.Context, iface string, lease dhcpclient.Lease) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Applied = append(f.Applied, AppliedLease{Interface: iface, Lease: lease})
	return nil
}

// Last returns the most recently applied lease, if any.
func (f *Fake) Last() (AppliedLease, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Applied) == 0 {
		return AppliedLease{}, false
	}
	return f.Applied[len(f.Applied)-1], true
}
