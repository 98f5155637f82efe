// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestTable(memcap int64, prealloc int) (*Table, *Accountant, *SpareQueue) {
	acct := NewAccountant(memcap)
	spares := NewSpareQueue()
	spares.Fill(prealloc, approxRecordSize, acct)
	return NewTable(16, acct, spares), acct, spares
}

func TestTable_LookupOrCreateThenFind(t *testing.T) {
	tbl, _, _ := newTestTable(0, 4)
	k := newKey(tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80), tbl.Salt())
	now := time.Now()

	r1, created, refused := tbl.LookupOrCreate(k, now, false)
	assert.True(t, created)
	assert.False(t, refused)
	assert.Equal(t, int64(1), tbl.ActiveCount())

	r2, created2, _ := tbl.LookupOrCreate(k, now, false)
	assert.False(t, created2)
	assert.Same(t, r1, r2, "second lookup for the same tuple must return the existing record")
}

func TestTable_LookupOrCreateReverseTupleFindsSame(t *testing.T) {
	tbl, _, _ := newTestTable(0, 4)
	fwd := newKey(tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80), tbl.Salt())
	rev := newKey(tcpPacket("10.0.0.2", "10.0.0.1", 80, 1111), tbl.Salt())
	now := time.Now()

	r1, _, _ := tbl.LookupOrCreate(fwd, now, false)
	r2, created2, _ := tbl.LookupOrCreate(rev, now, false)
	assert.False(t, created2)
	assert.Same(t, r1, r2)
}

func TestTable_LookupOrCreateRefusedWhenExhausted(t *testing.T) {
	acct := NewAccountant(1)
	spares := NewSpareQueue()
	tbl := NewTable(16, acct, spares)

	k := newKey(tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80), tbl.Salt())
	_, _, refused := tbl.LookupOrCreate(k, time.Now(), false)
	assert.True(t, refused, "memcap of 1 byte cannot fit an approxRecordSize record")
}

func TestTable_LookupOrCreateUsesSpareBeforeAllocating(t *testing.T) {
	acct := NewAccountant(approxRecordSize) // room for exactly one record
	spares := NewSpareQueue()
	spares.Push(&Record{Size: approxRecordSize}) // pre-charged spare, no further accounting needed
	tbl := NewTable(16, acct, spares)

	k := newKey(tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80), tbl.Salt())
	_, created, refused := tbl.LookupOrCreate(k, time.Now(), false)
	assert.True(t, created)
	assert.False(t, refused)
}

func TestTable_RemoveRecyclesToSpareQueue(t *testing.T) {
	tbl, _, spares := newTestTable(0, 0)
	k := newKey(tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80), tbl.Salt())
	tbl.LookupOrCreate(k, time.Now(), false)

	assert.True(t, tbl.Remove(k))
	assert.Equal(t, int64(0), tbl.ActiveCount())
	assert.Equal(t, 1, spares.Len())
	assert.False(t, tbl.Remove(k), "removing twice should report false the second time")
}

func TestTable_RecycleHeldRecordPanics(t *testing.T) {
	tbl, _, _ := newTestTable(0, 0)
	r := &Record{Size: approxRecordSize}
	r.UseCount.Store(1)

	assert.Panics(t, func() { tbl.recycle(r) }, "reclaiming a record with active holders must abort")
}

func TestTable_EmergencyFlagIsStampedOnCreate(t *testing.T) {
	tbl, _, _ := newTestTable(0, 0)
	k := newKey(tcpPacket("10.0.0.1", "10.0.0.2", 1111, 80), tbl.Salt())
	r, _, _ := tbl.LookupOrCreate(k, time.Now(), true)
	assert.True(t, r.Flags&FlagEmergency != 0)
}
