// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/flowengine/internal/logging"
	"grimm.is/flowengine/internal/metrics"
)

// Manager periodically scans the flow table for expired records, recycles
// them, replenishes the spare queue, raises the engine's emergency flag
// when memcap pressure reaches 100%, and clears it once enough flows have
// been released. It is the slow-path counterpart to
// Engine.ProcessPacket.
type Manager struct {
	engine *Engine
	cfg    Config
	log    *logging.Logger
	metr   *metrics.FlowMetrics

	// cursor is the next bucket index to scan, published atomically so a
	// metrics scrape (or a second manager instance, should the engine ever
	// run one) reads a consistent resume point.
	cursor atomic.Int64

	// releasedSinceEmergency counts flows evicted since emergency mode was
	// last entered, reset on entry. Emergency clears only once this reaches
	// EmergencyRecoveryPercent of HashSize, not on a byte-level read of the
	// accountant.
	releasedSinceEmergency int64
}

// NewManager creates a Manager for engine.
func NewManager(engine *Engine, cfg Config, log *logging.Logger, m *metrics.FlowMetrics) *Manager {
	return &Manager{
		engine: engine,
		cfg:    cfg,
		log:    log.WithComponent("flow-manager"),
		metr:   m,
	}
}

// Start runs the manager loop until ctx is canceled, waking every
// cfg.ManagerInterval to run one pass. It returns once the loop has
// stopped, joining via an errgroup the way the rest of this codebase
// coordinates background workers.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.ManagerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.runOnce(time.Now())
			}
		}
	})
	return g.Wait()
}

// runOnce performs one eviction pass. Normal operation scans cfg.PruneBatch
// buckets starting at the cursor and stops. Under emergency mode the pass
// instead keeps scanning additional batches, up to one full sweep of the
// table, stopping early once enough flows have been released to meet the
// recovery target; emergency clears once the target is met or once an
// entire sweep evicted nothing further.
func (m *Manager) runOnce(now time.Time) {
	t := m.engine.table
	total := t.BucketCount()
	if total == 0 {
		return
	}

	batch := m.cfg.PruneBatch
	if batch <= 0 || batch > total {
		batch = total
	}

	emergency := m.engine.Emergency()
	start := int(m.cursor.Load())
	threshold := m.recoveryThreshold()

	evicted := 0
	scanned := 0
	for {
		n := batch
		if emergency && scanned+n > total {
			n = total - scanned
		}
		evicted += m.scanBuckets((start+scanned)%total, n, now, emergency)
		scanned += n
		if !emergency || scanned >= total {
			break
		}
		if m.releasedSinceEmergency+int64(evicted) >= threshold {
			break
		}
	}
	m.cursor.Store(int64((start + scanned) % total))

	if emergency {
		m.releasedSinceEmergency += int64(evicted)
		if m.releasedSinceEmergency >= threshold || evicted == 0 {
			m.engine.setEmergency(false)
			m.releasedSinceEmergency = 0
		}
	} else {
		m.releasedSinceEmergency = 0
		// Pressure at 100% of the cap enters emergency mode here, alongside
		// ProcessPacket's own immediate trigger on an outright refusal; this
		// catches an allocation that exactly fills the cap.
		if acct := m.engine.acct; acct.Cap() > 0 && acct.Pressure() >= 1.0 {
			m.engine.setEmergency(true)
		}
	}

	if m.metr != nil {
		m.metr.ManagerPasses.Inc()
		if evicted > 0 {
			m.metr.FlowsEvicted.WithLabelValues("timeout").Add(float64(evicted))
		}
		m.metr.ActiveFlows.Set(float64(t.ActiveCount()))
		m.metr.MemoryUsed.Set(float64(m.engine.acct.Used()))
	}

	m.replenishSpares()
}

// scanBuckets walks count buckets starting at start (wrapping at the table
// size), evicting every record whose timeout has elapsed and whose use
// count permits, and reports how many it evicted. Evicted records are
// recycled onto the spare queue while it is below its target; past that,
// and always under emergency mode (so accounted usage can actually fall
// back below the recovery point), their bytes go back to the accountant
// instead.
func (m *Manager) scanBuckets(start, count int, now time.Time, emergency bool) int {
	t := m.engine.table
	total := t.BucketCount()
	evicted := 0

	for i := 0; i < count; i++ {
		idx := (start + i) % total
		t.withBucket(idx, func(b *bucket) {
			var expired []*Record
			b.walk(func(r *Record) {
				if isExpired, ok := m.isExpired(r, now, emergency); ok && isExpired {
					expired = append(expired, r)
				}
			})
			for _, r := range expired {
				if r.UseCount.Load() != 0 {
					continue
				}
				t.evictLocked(b, r)
				if cleanup := m.engine.timeouts.cleanupHook(ClassifyProto(r.Key.Proto)); cleanup != nil {
					cleanup(r.ProtoCtx)
				}
				switch {
				case emergency:
					t.release(r)
				case t.spares.Len() >= m.cfg.Prealloc:
					t.release(r)
				default:
					t.recycle(r)
				}
				evicted++
			}
		})
	}
	return evicted
}

// recoveryThreshold is the number of flows that must be released, counted
// from emergency entry, before emergency mode may clear.
func (m *Manager) recoveryThreshold() int64 {
	th := int64(m.cfg.EmergencyRecoveryPercent) * int64(m.engine.table.BucketCount()) / 100
	if th <= 0 {
		th = 1
	}
	return th
}

// isExpired reports whether r's timeout, chosen per its protocol/phase and
// the current emergency state, has elapsed as of now. Phase is whatever the
// protocol's registered state-probe hook reports, if any; otherwise it
// falls back to the seen-both-directions heuristic (effectivePhase).
//
// ok is false if r's own mutex could not be acquired without blocking. The
// caller holds the bucket mutex for the whole walk, so a contended record
// (e.g. a packet mid-flight on it) must be skipped and deferred to the next
// pass rather than blocked on, per the manager's try-lock-or-defer
// concurrency contract.
func (m *Manager) isExpired(r *Record, now time.Time, emergency bool) (expired, ok bool) {
	flags, lastSeen, ok := r.trySnapshot()
	if !ok {
		return false, false
	}
	if flags&FlagTimedOut != 0 {
		return true, true
	}
	proto := ClassifyProto(r.Key.Proto)

	phase := effectivePhase(flags)
	if probe := m.engine.timeouts.stateProbeHook(proto); probe != nil {
		if p, ok := probe(r.ProtoCtx); ok {
			phase = p
		}
	}

	timeout := m.engine.timeouts.Timeout(proto, phase, emergency)
	return now.Sub(lastSeen) >= timeout, true
}

// replenishSpares tops the spare queue back up to cfg.Prealloc, subject to
// the memcap, so ProcessPacket keeps finding pre-allocated records on the
// hot path.
func (m *Manager) replenishSpares() {
	added := m.engine.spares.Fill(m.cfg.Prealloc, approxRecordSize, m.engine.acct)
	if m.metr != nil {
		m.metr.SpareQueueSize.Set(float64(m.engine.spares.Len()))
	}
	if added > 0 {
		m.log.Debug("replenished spare flow queue", "added", added, "size", m.engine.spares.Len())
	}
}
