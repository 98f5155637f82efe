// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpareQueue_PushPopFIFO(t *testing.T) {
	q := NewSpareQueue()
	r1 := &Record{}
	r2 := &Record{}
	q.Push(r1)
	q.Push(r2)

	assert.Equal(t, 2, q.Len())
	assert.Same(t, r1, q.Pop())
	assert.Same(t, r2, q.Pop())
	assert.Nil(t, q.Pop())
}

func TestSpareQueue_FillRespectsMemcap(t *testing.T) {
	acct := NewAccountant(250)
	q := NewSpareQueue()
	added := q.Fill(10, 100, acct)

	assert.Equal(t, 2, added, "only 2 records of size 100 fit under a 250 cap")
	assert.Equal(t, 2, q.Len())
}

func TestSpareQueue_FillStopsAtTarget(t *testing.T) {
	acct := NewAccountant(0)
	q := NewSpareQueue()
	q.Fill(5, 10, acct)
	assert.Equal(t, 5, q.Len())

	added := q.Fill(5, 10, acct)
	assert.Equal(t, 0, added)
	assert.Equal(t, 5, q.Len())
}
