// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"sync/atomic"
	"time"

	"grimm.is/flowengine/internal/logging"
	"grimm.is/flowengine/internal/metrics"
)

// Engine is the flow tracking core: the shared hash table plus the
// memory accountant, spare queue, and timeout matrix that govern it, and
// the emergency flag packet-processing goroutines consult on every
// lookup. It holds no reference to the Manager that drives eviction; the
// two communicate only through the shared fields below.
type Engine struct {
	cfg       Config
	table     *Table
	acct      *Accountant
	spares    *SpareQueue
	timeouts  *TimeoutTable
	log       *logging.Logger
	metrics   *metrics.FlowMetrics
	emergency atomic.Bool
}

// NewEngine constructs an Engine and pre-fills its spare queue to
// cfg.Prealloc, so the first packets hit a warm pool rather than the
// allocator.
func NewEngine(cfg Config, timeouts *TimeoutTable, log *logging.Logger, m *metrics.FlowMetrics) *Engine {
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	acct := NewAccountant(cfg.Memcap)
	spares := NewSpareQueue()
	spares.Fill(cfg.Prealloc, approxRecordSize, acct)

	e := &Engine{
		cfg:      cfg,
		table:    NewTable(cfg.HashSize, acct, spares),
		acct:     acct,
		spares:   spares,
		timeouts: timeouts,
		log:      log.WithComponent("flow"),
		metrics:  m,
	}
	if m != nil {
		m.SpareQueueSize.Set(float64(spares.Len()))
	}
	return e
}

// Table exposes the underlying hash table, mainly for the Manager.
func (e *Engine) Table() *Table { return e.table }

// Accountant exposes the memory accountant, mainly for the Manager.
func (e *Engine) Accountant() *Accountant { return e.acct }

// Spares exposes the spare queue, mainly for the Manager.
func (e *Engine) Spares() *SpareQueue { return e.spares }

// Timeouts exposes the timeout matrix.
func (e *Engine) Timeouts() *TimeoutTable { return e.timeouts }

// Emergency reports whether the engine is currently in emergency mode.
func (e *Engine) Emergency() bool { return e.emergency.Load() }

// setEmergency transitions emergency mode and logs the change; called by
// the Manager and by ProcessPacket when an allocation is refused.
func (e *Engine) setEmergency(on bool) {
	if e.emergency.Swap(on) == on {
		return
	}
	if on {
		e.log.Warn("entering emergency flow eviction mode", "memcap_used", e.acct.Used(), "memcap", e.acct.Cap())
	} else {
		e.log.Info("leaving emergency flow eviction mode")
	}
	if e.metrics != nil {
		if on {
			e.metrics.Emergency.Set(1)
		} else {
			e.metrics.Emergency.Set(0)
		}
	}
}

// ProcessPacket finds or creates the flow for pkt, attaches it to pkt, and
// updates the flow's direction and liveness bookkeeping. The sequence: hash
// the tuple, lock the bucket, find-or-create, release the bucket lock, update
// direction and last-seen under the record's own mutex, then bump the
// record's use count after the caller has a stable pointer.
//
// It reports false, leaving pkt.Flow nil, when the spare queue is empty and
// the memcap is exhausted — resource pressure is never surfaced as an
// error, only as the absence of a flow, matching LookupOrCreate's own
// refused result.
func (e *Engine) ProcessPacket(pkt *Packet, now time.Time) bool {
	k := newKey(pkt, e.table.Salt())
	emergency := e.Emergency()

	rec, created, refused := e.table.LookupOrCreate(k, now, emergency)
	if refused {
		// Emergency mode starts the instant an allocation is refused, not
		// on the manager's next poll.
		e.setEmergency(true)
		if e.metrics != nil {
			e.metrics.FlowsDropped.Inc()
		}
		return false
	}

	pkt.ToServer = directionOf(pkt, rec)
	rec.Touch(now, pkt.ToServer, isICMPv4Error(pkt))

	flags, _ := rec.snapshot()
	pkt.Established = flags&FlagEstablished != 0
	pkt.NoPacketInspect = flags&FlagNoPacketInspect != 0
	pkt.NoPayloadInspect = flags&FlagNoPayloadInspect != 0

	pkt.Flow = rec
	rec.UseCount.Add(1)

	if created {
		if e.metrics != nil {
			e.metrics.FlowsCreated.Inc()
			e.metrics.ActiveFlows.Set(float64(e.table.ActiveCount()))
		}
	}
	return true
}

// ReleasePacket decrements the use count the matching ProcessPacket call
// incremented. Callers must invoke it exactly once per successful
// ProcessPacket call once they are done referencing pkt.Flow.
func (e *Engine) ReleasePacket(pkt *Packet) {
	if pkt.Flow == nil {
		return
	}
	pkt.Flow.UseCount.Add(-1)
}

// Shutdown is engine teardown's one shot: it drains every bucket and the
// spare queue, releasing all accounted memory back to the Accountant. The
// caller is responsible for joining the Manager and ensuring no
// packet-processing goroutine is still calling ProcessPacket first;
// Shutdown must not run concurrently with either.
func (e *Engine) Shutdown() {
	e.table.drainAll()
	for {
		r := e.spares.Pop()
		if r == nil {
			break
		}
		e.acct.Release(r.Size)
	}
	if e.metrics != nil {
		e.metrics.ActiveFlows.Set(0)
		e.metrics.SpareQueueSize.Set(0)
		e.metrics.MemoryUsed.Set(float64(e.acct.Used()))
	}
}
