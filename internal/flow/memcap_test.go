// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountant_TryAllocRespectsCap(t *testing.T) {
	a := NewAccountant(100)
	assert.True(t, a.TryAlloc(60))
	assert.True(t, a.TryAlloc(40))
	assert.False(t, a.TryAlloc(1), "cap is exhausted, allocation should be refused")
	assert.Equal(t, int64(100), a.Used())
}

func TestAccountant_ReleaseFreesBudget(t *testing.T) {
	a := NewAccountant(100)
	assert.True(t, a.TryAlloc(100))
	a.Release(50)
	assert.Equal(t, int64(50), a.Used())
	assert.True(t, a.TryAlloc(50))
}

func TestAccountant_ZeroCapDisablesEnforcement(t *testing.T) {
	a := NewAccountant(0)
	assert.True(t, a.TryAlloc(1<<40))
}

func TestAccountant_Pressure(t *testing.T) {
	a := NewAccountant(200)
	a.TryAlloc(100)
	assert.InDelta(t, 0.5, a.Pressure(), 0.001)
}

func TestAccountant_ConcurrentAllocNeverOvershoots(t *testing.T) {
	a := NewAccountant(1000)
	var wg sync.WaitGroup
	var successes int32Counter
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.TryAlloc(10) {
				successes.inc()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, a.Used(), int64(1000))
	assert.Equal(t, a.Used(), int64(successes.get())*10)
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
