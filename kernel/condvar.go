// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "sort"

// CondVar is a Mesa-style condition variable (§4.6). Unlike the ready queue
// and a Semaphore's wait set, its wait set holds not threads but private
// binary semaphores, one per waiter, each tagged with the waiter's
// effective priority at the moment it called Wait.
//
// §9's open question is settled here, not worked around: the tag is a
// snapshot, never refreshed by a donation the waiter receives after it
// parks (nothing walks a semaphore waiter's donor chain, only a lock
// waiter's — a CondVar waiter isn't a lock holder being donated to). See
// condvar_test.go's TestSignalUsesWaitTimeSnapshot, which pins this
// literally rather than leaving it implicit.
type CondVar struct {
	k       *Kernel
	name    string
	waiters []*condWaiter
}

type condWaiter struct {
	sem *Semaphore
	tag int
}

// NewCondVar creates a condition variable with an empty wait set.
func (k *Kernel) NewCondVar(name string) *CondVar {
	return &CondVar{k: k, name: name}
}

// Name returns the condition variable's diagnostic label.
func (c *CondVar) Name() string { return c.name }

// Wait atomically releases l and blocks self until signalled, then
// reacquires l before returning. self must hold l. The condition the
// caller is waiting for must be re-checked after Wait returns — Mesa
// semantics give no guarantee it still holds.
func (c *CondVar) Wait(self *Thread, l *Lock) {
	k := c.k

	k.mu.Lock()
	assert(l.holder == self, self.id, "cond %q: wait without holding lock %q", c.name, l.name)
	w := &condWaiter{sem: k.NewSemaphore(c.name+".waiter", 0), tag: self.effPriority}
	idx := sort.Search(len(c.waiters), func(i int) bool { return c.waiters[i].tag < w.tag })
	c.waiters = append(c.waiters, nil)
	copy(c.waiters[idx+1:], c.waiters[idx:])
	c.waiters[idx] = w
	k.mu.Unlock()

	l.Release(self)
	w.sem.Down()
	l.Acquire(self)
}

// Signal wakes the highest-tagged waiter, if any. self must hold l.
func (c *CondVar) Signal(self *Thread, l *Lock) {
	k := c.k

	k.mu.Lock()
	assert(l.holder == self, self.id, "cond %q: signal without holding lock %q", c.name, l.name)
	if len(c.waiters) == 0 {
		k.mu.Unlock()
		return
	}
	sort.SliceStable(c.waiters, func(i, j int) bool { return c.waiters[i].tag > c.waiters[j].tag })
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	k.mu.Unlock()

	w.sem.Up()
}

// Broadcast wakes every waiter currently parked on c, highest tag first.
func (c *CondVar) Broadcast(self *Thread, l *Lock) {
	for {
		c.k.mu.Lock()
		empty := len(c.waiters) == 0
		c.k.mu.Unlock()
		if empty {
			return
		}
		c.Signal(self, l)
	}
}
