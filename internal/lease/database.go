// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lease

import (
	"sync"
	"time"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/clock"
	"github.com/nijaru/beryl-router/internal/logging"
)

// StaticBinding is a permanent MAC→IP assignment taken from
// configuration. It is never written to the journal and never expires.
type StaticBinding struct {
	IP       string
	Hostname string
}

// Database is the MAC→lease index described by C2, guarded by a single
// reader/writer lock shared between the DHCP server (writer) and the
// DNS router (reader).
type Database struct {
	mu sync.RWMutex

	pool     Pool
	statics  map[string]StaticBinding // MAC -> binding
	byMAC    map[string]Lease         // MAC -> active lease (static or dynamic)
	byIP     map[string]string        // IP -> MAC, derived

	clock      clock.Clock
	journalPath string
}

// New builds an empty database over pool, with the given static
// bindings (MAC -> StaticBinding). journalPath may be empty, in which
// case Persist and Load are no-ops.
func New(pool Pool, statics map[string]StaticBinding, journalPath string, c clock.Clock) *Database {
	if c == nil {
		c = clock.Real{}
	}
	return &Database{
		pool:        pool,
		statics:     statics,
		byMAC:       make(map[string]Lease),
		byIP:        make(map[string]string),
		clock:       c,
		journalPath: journalPath,
	}
}

// LeaseDuration returns the pool's configured lease lifetime.
func (d *Database) LeaseDuration() time.Duration {
	return d.pool.Duration
}

// Allocate tries, in order: a static binding for mac, an existing
// non-expired lease for mac, the client's requested address if free,
// then the next free address in the pool. It returns (lease, true) on
// success, or (Lease{}, false) when mac is not a valid MAC address or
// the pool is exhausted and mac has no static binding.
func (d *Database) Allocate(mac, requestedIP string) (Lease, bool) {
	normMAC, err := normalizeMAC(mac)
	if err != nil {
		return Lease{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()

	// Rule 1: static binding always wins and never expires.
	if sb, ok := d.statics[normMAC]; ok {
		l := Lease{MAC: normMAC, IP: sb.IP, Hostname: sb.Hostname, Static: true}
		d.commitLocked(normMAC, l)
		d.persistLocked()
		return l, true
	}

	// Rule 2: refresh an existing non-expired lease.
	if existing, ok := d.byMAC[normMAC]; ok && existing.Valid(now) {
		existing.ExpiresAt = now.Add(d.pool.Duration)
		d.commitLocked(normMAC, existing)
		d.persistLocked()
		return existing, true
	}

	// Rule 3: honor the requested IP if it is free and in-pool.
	if requestedIP != "" && d.pool.Contains(requestedIP) && d.ipAvailableLocked(requestedIP, normMAC, now) {
		l := Lease{MAC: normMAC, IP: requestedIP, ExpiresAt: now.Add(d.pool.Duration)}
		d.commitLocked(normMAC, l)
		d.persistLocked()
		return l, true
	}

	// Rule 4: first free IP in the pool, ascending.
	var chosen string
	d.pool.Each(func(ip string) bool {
		if d.ipAvailableLocked(ip, normMAC, now) {
			chosen = ip
			return false
		}
		return true
	})
	if chosen == "" {
		return Lease{}, false
	}
	l := Lease{MAC: normMAC, IP: chosen, ExpiresAt: now.Add(d.pool.Duration)}
	d.commitLocked(normMAC, l)
	d.persistLocked()
	return l, true
}

// ipAvailableLocked reports whether ip is free for requesterMAC: not
// claimed by any static binding, and not held by a different MAC's
// non-expired lease. Callers must hold d.mu.
func (d *Database) ipAvailableLocked(ip, requesterMAC string, now time.Time) bool {
	for _, sb := range d.statics {
		if sb.IP == ip {
			return false
		}
	}
	if owner, ok := d.byIP[ip]; ok && owner != requesterMAC {
		if l, ok := d.byMAC[owner]; ok && l.Valid(now) {
			return false
		}
	}
	return true
}

// commitLocked installs lease into both indices, replacing any prior IP
// index entry this MAC held. Callers must hold d.mu.
func (d *Database) commitLocked(mac string, l Lease) {
	if prior, ok := d.byMAC[mac]; ok && prior.IP != l.IP {
		delete(d.byIP, prior.IP)
	}
	d.byMAC[mac] = l
	d.byIP[l.IP] = mac
}

// Lookup returns the current active lease for mac, if any.
func (d *Database) Lookup(mac string) (Lease, bool) {
	normMAC, err := normalizeMAC(mac)
	if err != nil {
		return Lease{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.byMAC[normMAC]
	if !ok || !l.Valid(d.clock.Now()) {
		return Lease{}, false
	}
	return l, true
}

// LookupByHostname performs a case-insensitive search over all active
// leases and returns the bound IP, if any.
func (d *Database) LookupByHostname(name string) (string, bool) {
	needle := normalizeHostname(name)
	if needle == "" {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	now := d.clock.Now()
	for _, l := range d.byMAC {
		if l.Hostname != "" && normalizeHostname(l.Hostname) == needle && l.Valid(now) {
			return l.IP, true
		}
	}
	return "", false
}

// ExpireReap prunes expired dynamic leases from the in-memory indices
// and re-persists, mirroring the periodic sweep driven by the
// supervisor's stats ticker.
func (d *Database) ExpireReap() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	removed := 0
	for mac, l := range d.byMAC {
		if l.Static || l.Valid(now) {
			continue
		}
		delete(d.byMAC, mac)
		delete(d.byIP, l.IP)
		removed++
	}
	if removed > 0 {
		logging.WithComponent("lease").Debug("reaped expired leases", "count", removed)
		d.persistLocked()
	}
}

// persistLocked calls Persist while d.mu is already held for writing.
func (d *Database) persistLocked() {
	if d.journalPath == "" {
		return
	}
	if err := d.writeJournalLocked(); err != nil {
		logging.WithComponent("lease").Warn("failed to persist lease journal", "path", d.journalPath, "error", err)
	}
}

// Persist writes every currently-valid, non-static lease to the JSON
// journal. Expired dynamic leases are pruned from the output, not just
// skipped. Persist failures are logged, never returned to the DHCP
// allocation path, which remains authoritative in memory regardless.
func (d *Database) Persist() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeJournalLocked()
}
