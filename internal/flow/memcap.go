// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import "sync/atomic"

// Accountant tracks memory charged against a configured cap using a single
// atomic counter, so packet-processing goroutines can test-and-charge an
// allocation without holding any table-wide lock.
type Accountant struct {
	cap  int64
	used atomic.Int64
}

// NewAccountant creates an Accountant enforcing the given byte cap. A cap of
// 0 or less disables enforcement: TryAlloc always succeeds.
func NewAccountant(memcap int64) *Accountant {
	return &Accountant{cap: memcap}
}

// TryAlloc attempts to charge n bytes against the cap, succeeding only if
// doing so would not exceed it. It is implemented as a CAS loop so
// concurrent callers never overshoot the cap even transiently.
func (a *Accountant) TryAlloc(n int64) bool {
	if a.cap <= 0 {
		a.used.Add(n)
		return true
	}
	for {
		cur := a.used.Load()
		next := cur + n
		if next > a.cap {
			return false
		}
		if a.used.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Release returns n bytes to the available budget.
func (a *Accountant) Release(n int64) {
	a.used.Add(-n)
}

// Used returns the currently charged byte count.
func (a *Accountant) Used() int64 {
	return a.used.Load()
}

// Cap returns the configured byte cap.
func (a *Accountant) Cap() int64 {
	return a.cap
}

// Pressure reports the fraction of the cap currently in use, in [0,1]. It
// returns 0 if enforcement is disabled.
func (a *Accountant) Pressure() float64 {
	if a.cap <= 0 {
		return 0
	}
	return float64(a.used.Load()) / float64(a.cap)
}
