// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package kernelmap is the façade C1 describes: typed, non-caching
// read/write access to the four tables the in-kernel packet filter
// consults on its fast path. The façade never holds a userspace copy of
// table contents — every operation round-trips through the kernel map,
// because the kernel program is the only authoritative reader.
package kernelmap

import (
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/nijaru/beryl-router/internal/berr"
)

// Action is the packet-action tag written into every table value slot.
// The numeric encoding is fixed: it is consumed bit-for-bit by the
// kernel program.
type Action uint32

const (
	ActionPass Action = 0
	ActionDrop Action = 1
)

// Table is the façade over one kernel-resident associative table keyed
// by K (uint32 for the IP tables, uint16 for the port table). A key is
// either absent (equivalent to Pass) or present with value ActionDrop;
// Pass entries are never written.
type Table[K comparable] struct {
	name string
	m    *ebpf.Map
}

// NewTable wraps an already-loaded *ebpf.Map. name is used only for
// error messages and logging.
func NewTable[K comparable](name string, m *ebpf.Map) *Table[K] {
	return &Table[K]{name: name, m: m}
}

// ReplaceAll is the reload workhorse: it enumerates existing keys,
// removes them, then inserts the new set. This is deliberately not
// transactional, creating a brief open-policy window accepted as the
// trade-off for bulk-mutation capacity. A kernel-side failure on one
// entry is logged by the caller and does not abort the rest of the
// replacement (best-effort policy).
func (t *Table[K]) ReplaceAll(keys []K) []error {
	existing, err := t.Keys()
	if err == nil {
		for _, k := range existing {
			_ = t.m.Delete(&k)
		}
	}

	var errs []error
	for _, k := range keys {
		if err := t.Insert(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Insert writes key → Drop. A Pass entry is never written; callers that
// want to allow a previously-blocked key should call Remove instead.
func (t *Table[K]) Insert(key K) error {
	v := ActionDrop
	if err := t.m.Update(&key, &v, ebpf.UpdateAny); err != nil {
		return berr.Wrapf(err, berr.KindUnavailable, "kernel map %s: insert", t.name)
	}
	return nil
}

// Remove deletes key from the table, making it equivalent to Pass.
func (t *Table[K]) Remove(key K) error {
	if err := t.m.Delete(&key); err != nil {
		return berr.Wrapf(err, berr.KindUnavailable, "kernel map %s: remove", t.name)
	}
	return nil
}

// Keys returns every key currently present in the table.
func (t *Table[K]) Keys() ([]K, error) {
	var (
		key   K
		value Action
		keys  []K
	)
	it := t.m.Iterate()
	for it.Next(&key, &value) {
		keys = append(keys, key)
	}
	if err := it.Err(); err != nil {
		return nil, berr.Wrapf(err, berr.KindUnavailable, "kernel map %s: iterate", t.name)
	}
	return keys, nil
}

// Close releases the underlying map file descriptor.
func (t *Table[K]) Close() error {
	return t.m.Close()
}

func (t *Table[K]) String() string {
	return fmt.Sprintf("kernelmap.Table(%s)", t.name)
}
