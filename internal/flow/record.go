// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"sync"
	"sync/atomic"
	"time"
)

// Flags records coarse lifecycle state of a Record as a bitset.
type Flags uint32

const (
	// FlagNew marks a record that has not yet seen traffic in both
	// directions.
	FlagNew Flags = 1 << iota
	// FlagEstablished marks a record that has seen traffic in both
	// directions (see Touch).
	FlagEstablished
	// FlagClosing marks a record whose protocol has signaled teardown but
	// which is kept briefly for straggling packets.
	FlagClosing
	// FlagEmergency marks a record created while the engine was in
	// emergency mode.
	FlagEmergency
	// FlagTimedOut marks a record for eviction on the manager's next pass
	// regardless of its remaining timeout (set by MarkTimedOut).
	FlagTimedOut
	// FlagToServerSeen marks that at least one packet traveling toward the
	// flow's server side has been observed.
	FlagToServerSeen
	// FlagToClientSeen marks that at least one packet traveling toward the
	// flow's client side has been observed.
	FlagToClientSeen
	// FlagIPOnlyToServer marks that a protocol analyzer has given up
	// parsing this flow's toserver side and asked for IP-only tracking.
	FlagIPOnlyToServer
	// FlagIPOnlyToClient is FlagIPOnlyToServer's toclient counterpart.
	FlagIPOnlyToClient
	// FlagNoPacketInspect marks a record whose packets should bypass rule
	// matching entirely, set by a protocol analyzer and propagated onto
	// every packet attached to this flow.
	FlagNoPacketInspect
	// FlagNoPayloadInspect is FlagNoPacketInspect's payload-only counterpart.
	FlagNoPayloadInspect
)

// Record is a single tracked flow: its identity, lifecycle state, and
// intrusive link into the hash bucket chain it belongs to.
//
// A Record's Key, creation fields, and bucket links are owned by the table
// under the bucket's mutex. Lifecycle fields (Flags, LastSeen, ProtoCtx) may be
// read and written by the packet-processing goroutine currently holding the
// flow (see UseCount) as well as by the manager during eviction scans, so
// they are guarded by the mu field rather than the bucket mutex.
type Record struct {
	Key Key

	mu       sync.Mutex
	Flags    Flags
	Created  time.Time
	LastSeen time.Time

	// ProtoCtx is an opaque handle owned by whichever protocol analyzer is
	// tracking this flow's application-level state (TCP reassembly, a
	// parser's session state, ...). The flow core never looks inside it; it
	// only carries it and frees it via the analyzer's registered cleanup
	// hook (TimeoutTable.SetCleanupHook) once the flow is evicted.
	ProtoCtx any

	// UseCount is the number of packet-processing goroutines currently
	// holding a reference to this record. The manager will not evict a
	// record whose UseCount is nonzero.
	UseCount atomic.Int32

	// Size is the accounted memory footprint of this record, charged
	// against the engine's Accountant on allocation and released on
	// eviction.
	Size int64

	// next chains records within the same hash bucket.
	next *Record
	// prev/nextLRU/prevLRU could thread an LRU list; the engine instead
	// walks buckets directly during eviction (see manager.go), so only the
	// bucket chain link is needed.
}

// Touch updates LastSeen and, unless suppressSeen is set, records that a
// packet traveling in the given direction was observed and establishes the
// flow once both directions have been seen. suppressSeen is set for ICMPv4
// error messages: the packet still refreshes liveness but must not advance
// the flow toward ESTABLISHED, so a transient ICMP error riding along an
// otherwise one-sided flow cannot prematurely close it out.
func (r *Record) Touch(now time.Time, toServer bool, suppressSeen bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastSeen = now
	if suppressSeen {
		return
	}
	if toServer {
		r.Flags |= FlagToServerSeen
	} else {
		r.Flags |= FlagToClientSeen
	}
	if r.Flags&FlagToServerSeen != 0 && r.Flags&FlagToClientSeen != 0 && r.Flags&FlagEstablished == 0 {
		r.Flags |= FlagEstablished
		r.Flags &^= FlagNew
	}
}

// MarkTimedOut flags the record for eviction on the manager's next pass
// regardless of its remaining timeout, used when a collaborator knows the
// conversation is dead (a decoder-observed RST, an operator flush).
func (r *Record) MarkTimedOut() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Flags |= FlagTimedOut
}

// MarkClosing flags the record as tearing down.
func (r *Record) MarkClosing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Flags |= FlagClosing
}

// SetIPOnly marks one direction of the flow as having fallen back to
// IP-only tracking, called by a protocol analyzer that has given up parsing
// this flow's application layer.
func (r *Record) SetIPOnly(toServer bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if toServer {
		r.Flags |= FlagIPOnlyToServer
	} else {
		r.Flags |= FlagIPOnlyToClient
	}
}

// SetNoInspect marks the flow to bypass rule/payload inspection; both
// settings are sticky for the flow's lifetime and propagated onto every
// packet ProcessPacket attaches it to.
func (r *Record) SetNoInspect(noPacket, noPayload bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if noPacket {
		r.Flags |= FlagNoPacketInspect
	}
	if noPayload {
		r.Flags |= FlagNoPayloadInspect
	}
}

// effectivePhase derives a record's timeout phase from its flags: closing
// wins over established, established wins over new. Used whenever no
// protocol state-probe hook is registered for the flow's protocol (see
// TimeoutTable.SetStateProbeHook).
func effectivePhase(flags Flags) Phase {
	switch {
	case flags&FlagClosing != 0:
		return PhaseClosing
	case flags&FlagEstablished != 0:
		return PhaseEstablished
	default:
		return PhaseNew
	}
}

// snapshot returns the fields the manager needs to judge eviction, taken
// under the record's own mutex rather than the bucket's.
func (r *Record) snapshot() (flags Flags, lastSeen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Flags, r.LastSeen
}

// trySnapshot is snapshot's non-blocking counterpart: it reports ok=false
// instead of waiting if r's mutex is currently held. Callers that hold the
// bucket mutex while scanning a chain (the manager's eviction walk) must use
// this instead of snapshot, so a record contended by the packet path is
// deferred to the next pass rather than blocking the whole bucket on it.
func (r *Record) trySnapshot() (flags Flags, lastSeen time.Time, ok bool) {
	if !r.mu.TryLock() {
		return 0, time.Time{}, false
	}
	defer r.mu.Unlock()
	return r.Flags, r.LastSeen, true
}

// reset clears a record for reuse from the spare queue. The caller must
// hold the only reference to r (it must not be reachable from any bucket).
func (r *Record) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Key = Key{}
	r.Flags = 0
	r.ProtoCtx = nil
	r.Created = time.Time{}
	r.LastSeen = time.Time{}
	r.UseCount.Store(0)
	r.Size = 0
	r.next = nil
}
