// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import "net"

// Packet is the boundary struct the flow engine accepts from whatever
// decodes wire packets into the 5-tuple (+family). Decoding, protocol
// analysis, and everything downstream of flow assignment are out of
// scope here and are supplied by the caller.
type Packet struct {
	Family Family
	Proto  uint8
	Src    net.IP
	Dst    net.IP
	SPort  uint16
	DPort  uint16

	// ICMPType and ICMPID are only meaningful when Proto identifies ICMP
	// or ICMPv6; SPort/DPort are ignored in that case.
	ICMPType uint8
	ICMPID   uint16

	// Length is the packet's wire length in bytes. The flow core does not
	// consume it; it rides along for the downstream pipeline.
	Length uint16

	// Flow is populated by ProcessPacket once the owning record has been
	// found or created.
	Flow *Record
	// ToServer reports the packet's direction relative to the flow's
	// originating side, set by ProcessPacket.
	ToServer bool
	// Established reports whether, as of this packet, both directions of
	// the flow have now been seen.
	Established bool
	// NoPacketInspect and NoPayloadInspect are copied from the flow's own
	// sticky flags (see Record.SetNoInspect) once the flow is resolved.
	NoPacketInspect  bool
	NoPayloadInspect bool
}
