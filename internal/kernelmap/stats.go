// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernelmap

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"

	"github.com/nijaru/beryl-router/internal/berr"
)

// Counters is the summed view of the STATS table's single per-CPU slot.
// Wraparound over 2^64 packets is accepted; no saturating addition is
// performed.
type Counters struct {
	Total   uint64
	Passed  uint64
	Dropped uint64
}

// statsRecord mirrors the kernel program's per-CPU value layout exactly:
// three consecutive u64 counters.
type statsRecord struct {
	Total   uint64
	Passed  uint64
	Dropped uint64
}

// StatsTable reads the STATS map's single per-CPU slot.
type StatsTable struct {
	m *ebpf.Map
}

// NewStatsTable wraps an already-loaded STATS map.
func NewStatsTable(m *ebpf.Map) *StatsTable {
	return &StatsTable{m: m}
}

// Read sums the per-CPU counters independently and returns the totals.
func (s *StatsTable) Read() (Counters, error) {
	records := make([]statsRecord, possibleCPUs())
	if err := s.m.Lookup(uint32(0), &records); err != nil {
		return Counters{}, berr.Wrap(err, berr.KindUnavailable, "kernel map STATS: read")
	}

	var c Counters
	for _, r := range records {
		c.Total += r.Total
		c.Passed += r.Passed
		c.Dropped += r.Dropped
	}
	return c, nil
}

// possibleCPUs returns the number of per-CPU slots the kernel allocated
// for per-CPU map values, reading /sys/devices/system/cpu/possible the
// way the kernel itself sizes per-CPU map values; it falls back to
// runtime.NumCPU() on platforms where that file is unavailable (e.g. in
// unit tests against an in-memory fake map).
func possibleCPUs() int {
	f, err := os.Open("/sys/devices/system/cpu/possible")
	if err != nil {
		return runtime.NumCPU()
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return runtime.NumCPU()
	}
	n, err := parseCPURange(strings.TrimSpace(scanner.Text()))
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// parseCPURange parses strings of the form "0-7" or "0,2,4" as found in
// /sys/devices/system/cpu/possible, returning the count of CPUs covered.
func parseCPURange(s string) (int, error) {
	if s == "" {
		return 0, berr.New(berr.KindValidation, "empty cpu range")
	}
	max := -1
	for _, part := range strings.Split(s, ",") {
		bounds := strings.SplitN(part, "-", 2)
		var hi int
		var err error
		if len(bounds) == 2 {
			hi, err = strconv.Atoi(bounds[1])
		} else {
			hi, err = strconv.Atoi(bounds[0])
		}
		if err != nil {
			return 0, err
		}
		if hi > max {
			max = hi
		}
	}
	return max + 1, nil
}
