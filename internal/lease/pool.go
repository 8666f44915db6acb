// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lease

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nijaru/beryl-router/internal/berr"
)

// Pool is the contiguous inclusive IPv4 range leases are allocated from.
type Pool struct {
	Start    uint32
	End      uint32
	Duration time.Duration
}

// NewPool parses start and end as dotted-quad IPv4 addresses and
// duration as a string of the form "<N>{h|m|s}".
func NewPool(start, end, duration string) (Pool, error) {
	s, err := ipToUint32(start)
	if err != nil {
		return Pool{}, berr.Wrapf(err, berr.KindValidation, "pool start %q", start)
	}
	e, err := ipToUint32(end)
	if err != nil {
		return Pool{}, berr.Wrapf(err, berr.KindValidation, "pool end %q", end)
	}
	if e < s {
		return Pool{}, berr.Errorf(berr.KindValidation, "pool end %q precedes start %q", end, start)
	}
	d, err := ParseDuration(duration)
	if err != nil {
		return Pool{}, berr.Wrapf(err, berr.KindValidation, "pool lease_time %q", duration)
	}
	return Pool{Start: s, End: e, Duration: d}, nil
}

// Contains reports whether ip falls within the pool's inclusive range.
func (p Pool) Contains(ip string) bool {
	v, err := ipToUint32(ip)
	if err != nil {
		return false
	}
	return v >= p.Start && v <= p.End
}

// Each calls fn for every address in the pool, ascending, stopping early
// if fn returns false.
func (p Pool) Each(fn func(ip string) bool) {
	for v := p.Start; v <= p.End; v++ {
		if !fn(uint32ToIP(v)) {
			return
		}
		if v == p.End {
			break
		}
	}
}

// ParseDuration parses the pool's "<N>{h|m|s}" lease-time notation.
// Unlike time.ParseDuration, this requires a single unit suffix and no
// fractional or compound form.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, berr.New(berr.KindValidation, "empty duration")
	}
	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return 0, berr.Errorf(berr.KindValidation, "invalid duration %q", s)
	}
	switch unit {
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 's':
		return time.Duration(n) * time.Second, nil
	default:
		return 0, berr.Errorf(berr.KindValidation, "invalid duration unit in %q", s)
	}
}

func ipToUint32(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, berr.New(berr.KindValidation, "invalid IPv4 address: "+s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, berr.New(berr.KindValidation, "not an IPv4 address: "+s)
	}
	return binary.BigEndian.Uint32(v4), nil
}

func uint32ToIP(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IPv4(b[0], b[1], b[2], b[3]).String()
}
