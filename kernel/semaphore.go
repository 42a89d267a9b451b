// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// Semaphore is a counting semaphore with a priority-ordered wait set (§4.3).
// It is the primitive Lock and CondVar are both built from: Lock wraps one
// bound to 1 as its internal binary semaphore, and CondVar hands each
// waiter a private one bound to 0.
type Semaphore struct {
	k       *Kernel
	name    string
	value   int
	waiters plist
}

// NewSemaphore creates a semaphore with the given initial value, owned by
// k. name is used only for diagnostics (DebugSnapshot, vlog lines).
func (k *Kernel) NewSemaphore(name string, value int) *Semaphore {
	assert(value >= 0, -1, "semaphore %q: negative initial value %d", name, value)
	return &Semaphore{k: k, name: name, value: value}
}

// Name returns the semaphore's diagnostic label.
func (s *Semaphore) Name() string { return s.name }

// Down waits for the semaphore to become positive and decrements it. While
// the value is 0 the caller is inserted into the wait set in priority order
// and blocked; it may be woken and re-blocked more than once if another
// thread races it to the decremented value, though under this package's
// single-CPU baton-passing discipline that can only happen across distinct
// Up calls, never concurrently.
func (s *Semaphore) Down() {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	self := k.mustCurrentLocked()
	for s.value == 0 {
		k.blockLocked(self)
		s.waiters.push(self)
		k.dispatchLocked(self)
		self = k.mustCurrentLocked()
	}
	s.value--
}

// TryDown attempts Down without blocking: it decrements and returns true if
// the value is positive, or returns false immediately if it is 0.
func (s *Semaphore) TryDown() bool {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up increments the semaphore and, if a waiter exists, wakes the
// highest-priority one. The wait set is re-sorted by each waiter's *current*
// effective priority first, since a blocked waiter's priority can have
// changed since it parked (donation received through some other lock it
// holds). If the woken thread now outranks the running thread, Up yields
// right away via preemptIfHigherLocked. Kernel.Tick does not call Up.
func (s *Semaphore) Up() {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	s.value++
	s.waiters.resort()
	if woken := s.waiters.pop(); woken != nil {
		k.unblockLocked(woken)
		k.preemptIfHigherLocked(woken)
	}
}
