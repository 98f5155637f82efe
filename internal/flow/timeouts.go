// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"sync"
	"time"
)

// Proto is the coarse protocol classification used to select a timeout
// row. Protocols the engine does not specialize fall back to ProtoDefault.
type Proto uint8

const (
	ProtoDefault Proto = iota
	ProtoTCP
	ProtoUDP
	ProtoICMP
	protoCount
)

// ClassifyProto maps an IP protocol number onto the coarse Proto used for
// timeout lookups.
func ClassifyProto(ipProto uint8) Proto {
	switch ipProto {
	case 6:
		return ProtoTCP
	case 17:
		return ProtoUDP
	case 1, 58:
		return ProtoICMP
	default:
		return ProtoDefault
	}
}

// Phase is a flow's position in its protocol's lifecycle, used to pick
// which timeout row within a Proto applies.
type Phase uint8

const (
	PhaseNew Phase = iota
	PhaseEstablished
	PhaseClosing
	phaseCount
)

// row holds the normal and emergency timeout for one (Proto, Phase) pair.
type row struct {
	normal    time.Duration
	emergency time.Duration
}

// CleanupFunc frees a flow's opaque protocol context once the flow is
// evicted. A protocol analyzer registers one per protocol it understands
// via TimeoutTable.SetCleanupHook; protocols with none registered simply
// carry a nil ProtoCtx through eviction untouched.
type CleanupFunc func(protoCtx any)

// StateProbeFunc reports a flow's protocol-specific lifecycle phase from
// its opaque protocol context. ok is false when the analyzer defers to the
// seen-both-directions heuristic (effectivePhase) instead of naming a phase
// itself. Closed is only meaningful for TCP; other protocols that register
// a probe should never return PhaseClosing.
type StateProbeFunc func(protoCtx any) (phase Phase, ok bool)

// TimeoutTable holds the per-protocol, per-phase timeout matrix, plus the
// per-protocol cleanup/state-probe collaborator hooks. It is safe for
// concurrent reads once built; writers (config loading) must finish before
// the table is shared with packet-processing goroutines.
type TimeoutTable struct {
	mu   sync.RWMutex
	rows [protoCount][phaseCount]row

	// cleanup and probe are the per-protocol collaborator hooks protocol
	// analyzers register; both default to nil (no-op / "no opinion").
	cleanup [protoCount]CleanupFunc
	probe   [protoCount]StateProbeFunc
}

// DefaultTimeoutTable returns the built-in protocol timeout matrix.
func DefaultTimeoutTable() *TimeoutTable {
	t := &TimeoutTable{}
	t.rows[ProtoDefault][PhaseNew] = row{30 * time.Second, 10 * time.Second}
	t.rows[ProtoDefault][PhaseEstablished] = row{300 * time.Second, 100 * time.Second}
	t.rows[ProtoDefault][PhaseClosing] = row{30 * time.Second, 10 * time.Second}

	t.rows[ProtoTCP][PhaseNew] = row{60 * time.Second, 20 * time.Second}
	t.rows[ProtoTCP][PhaseEstablished] = row{3600 * time.Second, 1200 * time.Second}
	t.rows[ProtoTCP][PhaseClosing] = row{60 * time.Second, 20 * time.Second}

	t.rows[ProtoUDP][PhaseNew] = row{30 * time.Second, 10 * time.Second}
	t.rows[ProtoUDP][PhaseEstablished] = row{300 * time.Second, 100 * time.Second}
	t.rows[ProtoUDP][PhaseClosing] = row{30 * time.Second, 10 * time.Second}

	t.rows[ProtoICMP][PhaseNew] = row{30 * time.Second, 10 * time.Second}
	t.rows[ProtoICMP][PhaseEstablished] = row{300 * time.Second, 100 * time.Second}
	t.rows[ProtoICMP][PhaseClosing] = row{30 * time.Second, 10 * time.Second}

	return t
}

// Set assigns the normal timeout for (proto, phase).
func (t *TimeoutTable) Set(proto Proto, phase Phase, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[proto][phase].normal = d
}

// SetEmergency assigns the emergency-mode timeout for (proto, phase).
func (t *TimeoutTable) SetEmergency(proto Proto, phase Phase, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[proto][phase].emergency = d
}

// SetTimeouts assigns all three normal-regime timeouts for proto at once,
// the registration shape protocol analyzers use at init.
func (t *TimeoutTable) SetTimeouts(proto Proto, newT, established, closed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[proto][PhaseNew].normal = newT
	t.rows[proto][PhaseEstablished].normal = established
	t.rows[proto][PhaseClosing].normal = closed
}

// SetEmergencyTimeouts is SetTimeouts' emergency-regime counterpart.
func (t *TimeoutTable) SetEmergencyTimeouts(proto Proto, newT, established, closed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[proto][PhaseNew].emergency = newT
	t.rows[proto][PhaseEstablished].emergency = established
	t.rows[proto][PhaseClosing].emergency = closed
}

// SetCleanupHook registers the cleanup hook a protocol analyzer uses to
// free a flow's ProtoCtx once it's evicted, mirroring the collaborator
// contract's set_cleanup(proto, fn).
func (t *TimeoutTable) SetCleanupHook(proto Proto, fn CleanupFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup[proto] = fn
}

// SetStateProbeHook registers the state-probe hook a protocol analyzer uses
// to report a flow's lifecycle phase from its ProtoCtx, mirroring the
// collaborator contract's set_state_probe(proto, fn).
func (t *TimeoutTable) SetStateProbeHook(proto Proto, fn StateProbeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probe[proto] = fn
}

// cleanupHook returns the registered cleanup hook for proto, or nil.
func (t *TimeoutTable) cleanupHook(proto Proto) CleanupFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cleanup[proto]
}

// stateProbeHook returns the registered state-probe hook for proto, or nil.
func (t *TimeoutTable) stateProbeHook(proto Proto) StateProbeFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.probe[proto]
}

// Timeout returns the timeout duration applicable to a record in the given
// proto/phase, under the given emergency state. The closing phase only
// exists for TCP; every other protocol falls back to its established row.
func (t *TimeoutTable) Timeout(proto Proto, phase Phase, emergency bool) time.Duration {
	if phase == PhaseClosing && proto != ProtoTCP {
		phase = PhaseEstablished
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	r := t.rows[proto][phase]
	if !emergency {
		return r.normal
	}
	return r.emergency
}
