// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/cespare/xxhash/v2"
)

// Family is the address family of a flow's endpoints.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Addr is a fixed-width, comparable address: IPv4 addresses are stored in
// the low 4 bytes with the rest zeroed, IPv6 addresses use all 16 bytes.
type Addr [16]byte

// AddrFromIP converts a net.IP into the fixed-width form used by Key.
func AddrFromIP(ip net.IP) Addr {
	var a Addr
	if v4 := ip.To4(); v4 != nil {
		copy(a[:4], v4)
		return a
	}
	if v6 := ip.To16(); v6 != nil {
		copy(a[:], v6)
	}
	return a
}

// Key uniquely identifies a flow. It is direction-agnostic: the tuple
// (A:pA, B:pB) and (B:pB, A:pA) hash and compare equal. For ICMP, PortA/PortB
// hold (normalized type, id) rather than ports, and only the addresses swap:
// (A, B, type, id) and (B, A, type, id) hash and compare equal.
type Key struct {
	Family Family
	Proto  uint8
	AddrA  Addr
	AddrB  Addr
	PortA  uint16
	PortB  uint16
	Salt   uint64
}

// newKey builds the key for a packet as seen (not direction-normalized);
// direction-agnostic matching is handled by Equal and Hash, not by
// canonicalizing the key's own field order.
func newKey(pkt *Packet, salt uint64) Key {
	k := Key{
		Family: pkt.Family,
		Proto:  pkt.Proto,
		AddrA:  AddrFromIP(pkt.Src),
		AddrB:  AddrFromIP(pkt.Dst),
		Salt:   salt,
	}
	if isICMP(pkt.Proto) {
		k.PortA = uint16(normalizeICMPType(pkt.ICMPType))
		k.PortB = pkt.ICMPID
	} else {
		k.PortA = pkt.SPort
		k.PortB = pkt.DPort
	}
	return k
}

func isICMP(proto uint8) bool {
	return proto == 1 /* ICMP */ || proto == 58 /* ICMPv6 */
}

// normalizeICMPType folds an echo reply (0) onto the echo request type (8)
// so that a request and its matching reply hash and compare to the same
// flow.
func normalizeICMPType(t uint8) uint8 {
	if t == 0 {
		return 8
	}
	return t
}

type endpoint struct {
	addr Addr
	port uint16
}

func (e endpoint) bytes() []byte {
	buf := make([]byte, 18)
	copy(buf, e.addr[:])
	binary.BigEndian.PutUint16(buf[16:], e.port)
	return buf
}

// canonicalEndpoints returns the key's two endpoints in a stable order so
// that the same two endpoints always produce the same pair regardless of
// which side initiated the conversation.
func (k Key) canonicalEndpoints() (lo, hi endpoint) {
	a := endpoint{k.AddrA, k.PortA}
	b := endpoint{k.AddrB, k.PortB}
	if isICMP(k.Proto) && bytes.Compare(k.AddrA[:], k.AddrB[:]) > 0 {
		// Only the addresses swap between an ICMP request and its reply;
		// (type, id) keeps its order.
		return endpoint{k.AddrB, k.PortA}, endpoint{k.AddrA, k.PortB}
	}
	if bytes.Compare(a.bytes(), b.bytes()) <= 0 {
		return a, b
	}
	return b, a
}

// Hash returns a direction-agnostic hash of the key.
func (k Key) Hash() uint64 {
	lo, hi := k.canonicalEndpoints()

	h := xxhash.New()
	h.Write([]byte{byte(k.Family), k.Proto})
	h.Write(lo.bytes())
	h.Write(hi.bytes())
	var saltBuf [8]byte
	binary.BigEndian.PutUint64(saltBuf[:], k.Salt)
	h.Write(saltBuf[:])
	return h.Sum64()
}

// Equal reports whether two keys identify the same flow, regardless of
// which side is "A" in either key.
func (k Key) Equal(o Key) bool {
	if k.Family != o.Family || k.Proto != o.Proto || k.Salt != o.Salt {
		return false
	}
	direct := k.AddrA == o.AddrA && k.PortA == o.PortA && k.AddrB == o.AddrB && k.PortB == o.PortB
	swapped := k.AddrA == o.AddrB && k.PortA == o.PortB && k.AddrB == o.AddrA && k.PortB == o.PortA
	if isICMP(k.Proto) {
		// (type, id) describes the exchange rather than either endpoint, so
		// only the addresses swap between a request and its reply.
		swapped = k.AddrA == o.AddrB && k.AddrB == o.AddrA && k.PortA == o.PortA && k.PortB == o.PortB
	}
	return direct || swapped
}
