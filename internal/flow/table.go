// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
	"time"

	"grimm.is/flowengine/internal/errors"
)

// approxRecordSize is the per-record footprint charged against the memcap:
// a flat estimate rather than unsafe.Sizeof(Record{}) plus chain overhead,
// so accounting stays a single add per flow.
const approxRecordSize = 256

// Table is the fixed-size bucketed hash table of flow Records, shared
// across packet-processing goroutines. Each bucket has its own mutex so
// lookups and inserts into different buckets never contend; a bucket's
// mutex guards both its chain and the lifecycle fields of the records in
// it during insertion/removal (the Records' own mu still guards concurrent
// field updates once found).
type Table struct {
	buckets []bucket
	salt    uint64

	acct   *Accountant
	spares *SpareQueue

	active atomic.Int64
}

// NewTable creates a Table with hashSize buckets, a random per-process
// salt (so an external actor cannot predict bucket placement), and the
// given accounting and spare-record collaborators.
//
// The bucket array itself is not separately charged against acct: at
// typical hash sizes its footprint is a small, fixed multiple of
// approxRecordSize and the tests in this package deliberately exercise
// memcaps far below even one record's cost to probe the eviction/emergency
// boundary, so folding the bucket array into the same budget would make
// those caps fail table construction outright rather than exhaust it on
// first flow.
func NewTable(hashSize uint32, acct *Accountant, spares *SpareQueue) *Table {
	var saltBuf [8]byte
	_, _ = rand.Read(saltBuf[:])

	return &Table{
		buckets: make([]bucket, hashSize),
		salt:    binary.BigEndian.Uint64(saltBuf[:]),
		acct:    acct,
		spares:  spares,
	}
}

// Salt returns the table's per-process hash salt, exposed so callers can
// build Keys consistent with this table without reaching into internals.
func (t *Table) Salt() uint64 {
	return t.salt
}

func (t *Table) bucketIndex(k Key) uint32 {
	return uint32(k.Hash() % uint64(len(t.buckets)))
}

// ActiveCount returns the number of live records currently in the table.
func (t *Table) ActiveCount() int64 {
	return t.active.Load()
}

// LookupOrCreate finds the record matching k, or allocates a new one (from
// the spare queue if available, else fresh, subject to the memcap) and
// inserts it. It returns the record, whether it was newly created, and
// whether creation was refused because the memcap is exhausted and the
// spare queue is empty.
func (t *Table) LookupOrCreate(k Key, now time.Time, emergency bool) (rec *Record, created bool, refused bool) {
	idx := t.bucketIndex(k)
	b := &t.buckets[idx]

	b.mu.Lock()
	defer b.mu.Unlock()

	if r := b.find(k); r != nil {
		return r, false, false
	}

	r := t.spares.Pop()
	if r == nil {
		if !t.acct.TryAlloc(approxRecordSize) {
			return nil, false, true
		}
		r = &Record{Size: approxRecordSize}
	}

	r.Key = k
	r.Flags = FlagNew
	if emergency {
		r.Flags |= FlagEmergency
	}
	r.Created = now
	r.LastSeen = now

	b.pushHead(r)
	t.active.Add(1)
	return r, true, false
}

// Remove deletes a record matching k from its bucket, recycling it onto
// the spare queue and returning true if found.
func (t *Table) Remove(k Key) bool {
	idx := t.bucketIndex(k)
	b := &t.buckets[idx]

	b.mu.Lock()
	r := b.find(k)
	if r == nil {
		b.mu.Unlock()
		return false
	}
	b.unlink(r)
	b.mu.Unlock()

	t.active.Add(-1)
	t.recycle(r)
	return true
}

// recycle resets r and returns it to the spare queue for reuse.
func (t *Table) recycle(r *Record) {
	assertUnheld(r)
	size := r.Size
	r.reset()
	r.Size = size
	t.spares.Push(r)
}

// release resets r and gives its accounted bytes back to the memcap instead
// of returning it to the spare queue, used when the spare queue is already
// at its target size (or the engine is shedding memory under emergency
// pressure) so recycling it would only grow the pool past its watermark.
func (t *Table) release(r *Record) {
	assertUnheld(r)
	size := r.Size
	r.reset()
	t.acct.Release(size)
}

// assertUnheld aborts if r still has active holders. Reclaiming a record a
// packet-processing goroutine is inspecting is a programming error, not a
// recoverable condition; eviction must check the use count before handing
// a record here.
func assertUnheld(r *Record) {
	if n := r.UseCount.Load(); n != 0 {
		panic(errors.Errorf(errors.KindInternal, "flow: reclaiming record with %d active holders", n))
	}
}

// evictLocked removes r from bucket b's chain. The caller must hold b.mu
// and must know r is a member of b's chain. Used by the manager, which
// already walks buckets under their own mutex.
func (t *Table) evictLocked(b *bucket, r *Record) {
	if b.unlink(r) {
		t.active.Add(-1)
	}
}

// BucketCount returns the number of buckets in the table.
func (t *Table) BucketCount() int {
	return len(t.buckets)
}

// withBucket runs fn with bucket i locked, used by the manager to scan and
// evict without exporting bucket internals.
func (t *Table) withBucket(i int, fn func(*bucket)) {
	b := &t.buckets[i]
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// drainAll unlinks and releases every record from every bucket, returning
// their accounted bytes to acct. Used only at engine shutdown; the caller
// must serialize it against any still-running packet-processing goroutines
// and the manager.
func (t *Table) drainAll() {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		for b.head != nil {
			r := b.head
			b.unlink(r)
			t.active.Add(-1)
			t.acct.Release(r.Size)
		}
		b.mu.Unlock()
	}
}
