// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flow implements the flow tracking core: a fixed-size bucketed
// hash table keyed by the network 5-tuple, shared across packet-processing
// goroutines, governed by a global memory cap, and driven into an
// emergency eviction mode under memory pressure.
package flow

import (
	"time"

	"grimm.is/flowengine/internal/errors"
)

// Config holds the immutable-after-init tuning parameters of a flow
// engine. These correspond directly to the flow.* configuration keys.
type Config struct {
	// HashSize is the number of buckets in the flow table.
	HashSize uint32
	// Memcap is the byte cap on memory used by flow records. The bucket
	// array is not charged against it (see NewTable).
	Memcap int64
	// Prealloc is the target size of the spare queue.
	Prealloc int
	// EmergencyRecoveryPercent is the percentage (1..100) of HashSize that
	// must be released before emergency mode is cleared.
	EmergencyRecoveryPercent int
	// PruneBatch is the number of buckets scanned per manager pass.
	PruneBatch int
	// ManagerInterval is how often the manager wakes to scan for timeouts.
	ManagerInterval time.Duration
}

// validate rejects parameter combinations the engine cannot start with.
// Construction treats these as fatal; the config loader never produces
// them (it substitutes defaults), so a violation here is a hand-built
// Config.
func (c Config) validate() error {
	if c.HashSize == 0 {
		return errors.New(errors.KindConfig, "flow: hash-size must be at least 1")
	}
	if c.EmergencyRecoveryPercent < 1 || c.EmergencyRecoveryPercent > 100 {
		return errors.Errorf(errors.KindConfig, "flow: emergency-recovery %d outside 1..100", c.EmergencyRecoveryPercent)
	}
	return nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HashSize:                 65536,
		Memcap:                   32 * 1024 * 1024,
		Prealloc:                 10000,
		EmergencyRecoveryPercent: 30,
		PruneBatch:               5,
		ManagerInterval:          1 * time.Second,
	}
}
