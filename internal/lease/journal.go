// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lease

import (
	"encoding/json"
	"os"
	"time"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/logging"
)

// journalRecord is the on-disk JSON shape of one persisted lease.
type journalRecord struct {
	MAC       string    `json:"mac"`
	IP        string    `json:"ip"`
	Hostname  string    `json:"hostname,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// writeJournalLocked serializes every currently-valid dynamic lease to
// d.journalPath. Callers must hold d.mu for writing.
func (d *Database) writeJournalLocked() error {
	if d.journalPath == "" {
		return nil
	}

	now := d.clock.Now()
	records := make([]journalRecord, 0, len(d.byMAC))
	for mac, l := range d.byMAC {
		if l.Static || !l.Valid(now) {
			continue
		}
		records = append(records, journalRecord{
			MAC:       mac,
			IP:        l.IP,
			Hostname:  l.Hostname,
			ExpiresAt: l.ExpiresAt,
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return berr.Wrap(err, berr.KindInternal, "marshal lease journal")
	}
	if err := os.WriteFile(d.journalPath, data, 0o644); err != nil {
		return berr.Wrap(err, berr.KindUnavailable, "write lease journal")
	}
	return nil
}

// Load reads the JSON journal at d.journalPath, discarding malformed or
// expired records silently, and installs the survivors as active
// dynamic leases. A missing file is not an error: the database simply
// starts empty.
func (d *Database) Load() error {
	if d.journalPath == "" {
		return nil
	}

	data, err := os.ReadFile(d.journalPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return berr.Wrap(err, berr.KindUnavailable, "read lease journal")
	}

	var records []journalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		logging.WithComponent("lease").Warn("lease journal is malformed, starting with an empty database", "path", d.journalPath, "error", err)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for _, r := range records {
		normMAC, err := normalizeMAC(r.MAC)
		if err != nil {
			continue
		}
		if r.ExpiresAt.Before(now) || r.ExpiresAt.Equal(now) {
			continue
		}
		if _, isStatic := d.statics[normMAC]; isStatic {
			continue
		}
		l := Lease{MAC: normMAC, IP: r.IP, Hostname: r.Hostname, ExpiresAt: r.ExpiresAt}
		d.commitLocked(normMAC, l)
	}
	return nil
}
