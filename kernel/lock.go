// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// Lock is a mutex with priority donation (§4.4): at most one holder, which
// must be the same thread that acquires and releases it; non-recursive.
// Internally it is a binary Semaphore plus the holder/donation bookkeeping
// §4.5 needs.
//
// Lock also satisfies sync.Locker (Lock/Unlock delegate to Acquire/Release
// against Kernel.Current()) the same way the teacher's own
// internal/lock.TryLocker augments sync.Locker with TryLock — so a *Lock can be handed to any idiomatic Go code that expects a
// plain mutex, while Acquire(t)/Release(t) remain the spec-accurate entry
// points the scheduler and tests use when they need to name the acquiring
// thread explicitly.
type Lock struct {
	k      *Kernel
	name   string
	sem    *Semaphore
	holder *Thread
}

// NewLock creates a lock at rest (no holder).
func (k *Kernel) NewLock(name string) *Lock {
	return &Lock{k: k, name: name, sem: k.NewSemaphore(name+".sem", 1)}
}

// Name returns the lock's diagnostic label.
func (l *Lock) Name() string { return l.name }

// Holder returns the thread currently holding l, or nil.
func (l *Lock) Holder() *Thread {
	k := l.k
	k.mu.Lock()
	defer k.mu.Unlock()
	return l.holder
}

// Acquire blocks until t holds l. If l is already held by a different
// thread and the donation policy is active, t's wait is recorded as
// waitingOn and propagated up the holder chain before t blocks on the
// internal semaphore (§4.5). Re-acquiring a lock already held by t is a
// contract violation, not a queueing op.
func (l *Lock) Acquire(t *Thread) {
	k := l.k

	k.mu.Lock()
	assert(l.holder != t, t.id, "lock %q: recursive acquire by thread %d", l.name, t.id)
	if l.holder != nil && k.policy.donates() {
		t.waitingOn = l
		k.donateLocked(t, l.holder)
	}
	k.mu.Unlock()

	l.sem.Down()

	k.mu.Lock()
	t.waitingOn = nil
	l.holder = t
	t.heldLocks = append(t.heldLocks, l)
	k.mu.Unlock()
}

// TryAcquire attempts Acquire without blocking. No donation is recorded
// because no waiting occurred. Like Acquire, a recursive try-acquire by the
// current holder is a contract violation, not a false return: pintos
// asserts !lock_held_by_current_thread in both lock_acquire (synch.c:206)
// and lock_try_acquire (synch.c:283), and this mirrors that rather than
// letting the already-held binary semaphore's TryDown silently report
// failure.
func (l *Lock) TryAcquire(t *Thread) bool {
	k := l.k

	k.mu.Lock()
	recursive := l.holder == t
	k.mu.Unlock()
	assert(!recursive, t.id, "lock %q: recursive try_acquire by thread %d", l.name, t.id)

	if !l.sem.TryDown() {
		return false
	}

	k.mu.Lock()
	l.holder = t
	t.heldLocks = append(t.heldLocks, l)
	k.mu.Unlock()
	return true
}

// Release gives up l, which t must currently hold. Under the donation
// policy, every donor waiting specifically on l is revoked from t's donor
// list (§4.4's selective revocation) and t's effective priority is
// recomputed before the internal semaphore is bumped, which may unblock a
// waiter and yield.
func (l *Lock) Release(t *Thread) {
	k := l.k

	k.mu.Lock()
	assert(l.holder == t, t.id, "lock %q: release by non-holder thread %d", l.name, t.id)
	l.holder = nil
	if k.policy.donates() {
		t.heldLocks = removeLock(t.heldLocks, l)
		k.revokeLocked(t, l)
	}
	k.mu.Unlock()

	l.sem.Up()
}

// removeLock returns locks with l removed, preserving order.
func removeLock(locks []*Lock, l *Lock) []*Lock {
	for i, held := range locks {
		if held == l {
			return append(locks[:i], locks[i+1:]...)
		}
	}
	return locks
}

// Lock implements sync.Locker against the kernel's notion of "current
// thread," for code that wants to treat a *Lock as an ordinary mutex.
func (l *Lock) Lock() { l.Acquire(l.k.Current()) }

// Unlock implements sync.Locker.
func (l *Lock) Unlock() { l.Release(l.k.Current()) }

// TryLock mirrors the teacher's TryLocker augmentation of sync.Locker.
func (l *Lock) TryLock() bool { return l.TryAcquire(l.k.Current()) }
