// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowengine/internal/logging"
	"grimm.is/flowengine/internal/metrics"
)

func testEngine(cfg Config) *Engine {
	log := logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
	return NewEngine(cfg, DefaultTimeoutTable(), log, metrics.NewFlowMetrics())
}

func TestEngine_ProcessPacketCreatesThenReuses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HashSize = 16
	e := testEngine(cfg)

	now := time.Now()
	p1 := tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80)
	require.True(t, e.ProcessPacket(p1, now))
	require.NotNil(t, p1.Flow)
	assert.True(t, p1.ToServer)
	assert.Equal(t, int32(1), p1.Flow.UseCount.Load())

	p2 := tcpPacket("10.0.0.2", "10.0.0.1", 80, 1111)
	require.True(t, e.ProcessPacket(p2, now.Add(time.Millisecond)))
	assert.Same(t, p1.Flow, p2.Flow, "reply packet should land on the same flow")
	assert.False(t, p2.ToServer, "reply packet should be identified as not-to-server")
	assert.Equal(t, int32(2), p2.Flow.UseCount.Load())

	flags, _ := p2.Flow.snapshot()
	assert.True(t, flags&FlagEstablished != 0, "seeing both directions should establish the flow")
}

func TestEngine_ProcessPacketRefusedWhenMemcapExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HashSize = 16
	cfg.Memcap = 1
	cfg.Prealloc = 0
	e := testEngine(cfg)

	p := tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80)
	ok := e.ProcessPacket(p, time.Now())
	assert.False(t, ok)
	assert.Nil(t, p.Flow)
	assert.True(t, e.Emergency(), "a refused allocation must raise emergency mode immediately, not wait for the next manager pass")
}

func TestEngine_ReleasePacketDecrementsUseCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HashSize = 16
	e := testEngine(cfg)

	p := tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80)
	require.True(t, e.ProcessPacket(p, time.Now()))
	assert.Equal(t, int32(1), p.Flow.UseCount.Load())

	e.ReleasePacket(p)
	assert.Equal(t, int32(0), p.Flow.UseCount.Load())
}

func TestEngine_ICMPv4ErrorDoesNotAdvanceSeen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HashSize = 16
	e := testEngine(cfg)

	now := time.Now()
	echoReq := &Packet{Family: FamilyIPv4, Proto: 1, Src: net.ParseIP("10.0.0.1"), Dst: net.ParseIP("10.0.0.2"), ICMPType: 8, ICMPID: 7}
	require.True(t, e.ProcessPacket(echoReq, now))

	destUnreach := &Packet{Family: FamilyIPv4, Proto: 1, Src: net.ParseIP("10.0.0.2"), Dst: net.ParseIP("10.0.0.1"), ICMPType: 3, ICMPID: 7}
	require.True(t, e.ProcessPacket(destUnreach, now.Add(time.Millisecond)))
	assert.Same(t, echoReq.Flow, destUnreach.Flow, "error message should match the same flow as the original echo")

	flags, _ := destUnreach.Flow.snapshot()
	assert.True(t, flags&FlagToClientSeen == 0, "an ICMP error must not mark the reverse direction seen")
	assert.False(t, destUnreach.Established)
}

func TestEngine_ShutdownReleasesAllMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HashSize = 16
	cfg.Prealloc = 20
	e := testEngine(cfg)

	now := time.Now()
	for i := 0; i < 10; i++ {
		p := tcpPacket("10.0.0.1", "10.0.0.2", uint16(2000+i), 80)
		require.True(t, e.ProcessPacket(p, now))
		e.ReleasePacket(p)
	}
	require.Equal(t, int64(10), e.table.ActiveCount())
	require.Greater(t, e.acct.Used(), int64(0))

	e.Shutdown()

	assert.Equal(t, int64(0), e.table.ActiveCount())
	assert.Equal(t, int64(0), e.acct.Used(), "shutdown must release every accounted byte")
	assert.Equal(t, 0, e.spares.Len(), "shutdown must drain the spare queue")
}

func TestNewEngine_InvalidConfigPanics(t *testing.T) {
	log := logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})

	cfg := DefaultConfig()
	cfg.HashSize = 0
	assert.Panics(t, func() { NewEngine(cfg, DefaultTimeoutTable(), log, nil) })

	cfg = DefaultConfig()
	cfg.EmergencyRecoveryPercent = 0
	assert.Panics(t, func() { NewEngine(cfg, DefaultTimeoutTable(), log, nil) })
}

func TestEngine_EmergencyTogglesViaSetEmergency(t *testing.T) {
	e := testEngine(DefaultConfig())
	assert.False(t, e.Emergency())
	e.setEmergency(true)
	assert.True(t, e.Emergency())
	e.setEmergency(false)
	assert.False(t, e.Emergency())
}
