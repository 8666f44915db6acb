// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernelmap

import (
	"encoding/binary"
	"net"

	"github.com/cilium/ebpf"

	"github.com/nijaru/beryl-router/internal/berr"
)

// The four named tables the kernel program exposes.
const (
	NameBlocklist     = "BLOCKLIST"
	NamePortBlocklist = "PORT_BLOCKLIST"
	NameEgressBlock   = "EGRESS_BLOCK"
	NameStats         = "STATS"
)

// IPTable is a Table keyed by host-byte-order IPv4 addresses, as the
// kernel program expects. BLOCKLIST and EGRESS_BLOCK are both IPTables.
type IPTable = Table[uint32]

// PortTable is a Table keyed by host-byte-order TCP/UDP ports.
// PORT_BLOCKLIST is a PortTable.
type PortTable = Table[uint16]

// NewBlocklist wraps the ingress BLOCKLIST map.
func NewBlocklist(m *ebpf.Map) *IPTable {
	return NewTable[uint32](NameBlocklist, m)
}

// NewEgressBlock wraps the egress EGRESS_BLOCK map.
func NewEgressBlock(m *ebpf.Map) *IPTable {
	return NewTable[uint32](NameEgressBlock, m)
}

// NewPortBlocklist wraps the PORT_BLOCKLIST map.
func NewPortBlocklist(m *ebpf.Map) *PortTable {
	return NewTable[uint16](NamePortBlocklist, m)
}

// IPToKey converts a dotted-quad or net.IP into the host-byte-order
// uint32 the kernel program uses as a table key. The wire form of an
// IPv4 address is big-endian; the kernel program reads it as a native
// (host-order, little-endian on every architecture this ships on) u32,
// so userspace must byte-swap on the way in.
func IPToKey(ip net.IP) (uint32, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, berr.New(berr.KindValidation, "not an IPv4 address: "+ip.String())
	}
	return binary.NativeEndian.Uint32(swapIPBytes(v4)), nil
}

// ParseIPToKey parses s as an IPv4 address and converts it via IPToKey.
func ParseIPToKey(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, berr.New(berr.KindValidation, "invalid IP address: "+s)
	}
	return IPToKey(ip)
}

// KeyToIP is the inverse of IPToKey.
func KeyToIP(key uint32) net.IP {
	var wire [4]byte
	binary.NativeEndian.PutUint32(wire[:], key)
	swapped := swapIPBytes(wire[:])
	return net.IPv4(swapped[0], swapped[1], swapped[2], swapped[3])
}

// swapIPBytes reverses a 4-byte slice in place on a copy, converting
// between the wire's fixed big-endian byte order and the kernel
// program's native-order interpretation of the same 4 bytes.
func swapIPBytes(b []byte) []byte {
	out := make([]byte, 4)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	return out
}
