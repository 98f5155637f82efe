// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func udpPacket(src, dst string, sport, dport uint16) *Packet {
	return &Packet{
		Family: FamilyIPv4,
		Proto:  17,
		Src:    net.ParseIP(src),
		Dst:    net.ParseIP(dst),
		SPort:  sport,
		DPort:  dport,
	}
}

func TestDirectionOf_EqualPortsFallsThroughToAddress(t *testing.T) {
	creator := udpPacket("10.0.0.1", "10.0.0.2", 5000, 5000)
	rec := &Record{Key: newKey(creator, 1)}

	assert.True(t, directionOf(creator, rec), "the creating packet is always toward the server")

	reverse := udpPacket("10.0.0.2", "10.0.0.1", 5000, 5000)
	assert.False(t, directionOf(reverse, rec), "swapping source/destination with equal ports should flip direction")
}

func TestDirectionOf_PortMismatchWinsOverAddress(t *testing.T) {
	creator := tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80)
	rec := &Record{Key: newKey(creator, 1)}

	reply := tcpPacket("10.0.0.2", "10.0.0.1", 80, 1111)
	assert.False(t, directionOf(reply, rec))
}

func TestDirectionOf_ICMPComparesAddressOnly(t *testing.T) {
	req := &Packet{Family: FamilyIPv4, Proto: 1, Src: net.ParseIP("10.0.0.1"), Dst: net.ParseIP("10.0.0.2"), ICMPType: 8, ICMPID: 42}
	rec := &Record{Key: newKey(req, 1)}

	assert.True(t, directionOf(req, rec))

	reply := &Packet{Family: FamilyIPv4, Proto: 1, Src: net.ParseIP("10.0.0.2"), Dst: net.ParseIP("10.0.0.1"), ICMPType: 0, ICMPID: 42}
	assert.False(t, directionOf(reply, rec))
}

func TestIsICMPv4Error(t *testing.T) {
	unreachable := &Packet{Family: FamilyIPv4, Proto: 1, ICMPType: 3}
	assert.True(t, isICMPv4Error(unreachable))

	echo := &Packet{Family: FamilyIPv4, Proto: 1, ICMPType: 8}
	assert.False(t, isICMPv4Error(echo))

	v6 := &Packet{Family: FamilyIPv6, Proto: 58, ICMPType: 3}
	assert.False(t, isICMPv4Error(v6), "the suppression rule is IPv4-specific")
}
