// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

// directionOf reports whether pkt travels toward the server side of rec,
// i.e. the side that sent the packet that created the flow. A record's Key
// retains its creator's AddrA/PortA (see newKey).
//
// For TCP/UDP/SCTP, ports are the primary signal: if the packet's own
// source and destination ports differ, the packet's source port is
// compared against the flow's recorded source port. Only when the ports
// can't discriminate (sp == dp) does the comparison fall through to
// addresses. ICMP/ICMPv6 and anything else always compares by address,
// since ports there (type/id) don't carry the same src/dst semantics.
func directionOf(pkt *Packet, rec *Record) bool {
	k := rec.Key

	if isICMP(pkt.Proto) {
		pA := uint16(normalizeICMPType(pkt.ICMPType))
		return addrEq(k.AddrA, AddrFromIP(pkt.Src)) && k.PortA == pA
	}

	if isPortProto(pkt.Proto) && pkt.SPort != pkt.DPort {
		return k.PortA == pkt.SPort
	}
	return addrEq(k.AddrA, AddrFromIP(pkt.Src))
}

// isPortProto reports whether proto is one of the transport protocols whose
// ports are meaningful for direction tie-breaking (TCP, UDP, SCTP).
func isPortProto(proto uint8) bool {
	switch proto {
	case 6 /* TCP */, 17 /* UDP */, 132 /* SCTP */ :
		return true
	default:
		return false
	}
}

// isICMPv4Error reports whether pkt is an ICMPv4 error message (as opposed
// to an informational message like echo request/reply). Error messages
// ride along an existing flow in response to some other packet and must
// not advance that flow's seen-both-directions bookkeeping: an ICMP
// destination-unreachable answering a probe must not look like the probe's
// own reply and close the flow out early.
func isICMPv4Error(pkt *Packet) bool {
	if pkt.Family != FamilyIPv4 || pkt.Proto != 1 {
		return false
	}
	switch pkt.ICMPType {
	case 3 /* destination unreachable */, 4 /* source quench */, 5 /* redirect */,
		11 /* time exceeded */, 12 /* parameter problem */ :
		return true
	default:
		return false
	}
}

func addrEq(a, b Addr) bool {
	return a == b
}
