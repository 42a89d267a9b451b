// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "v.io/x/lib/vlog"

// Create allocates a new thread running entry as its body, the Go reading of
// thread_create(name, priority, function, aux): entry takes a closure over
// whatever thread_func's void* aux pointer would have carried, rather than a
// raw argument. The new thread is inserted into the ready queue at its
// priority and, if it outranks the creator's effective priority, the
// creator yields immediately (§4.2). Create returns (-1, ErrNoPages) if the
// simulated page allocator is exhausted — the only recoverable error
// surface in this package (§7).
func (k *Kernel) Create(name string, priority int, entry func(k *Kernel, self *Thread)) (int, error) {
	if priority < priMin || priority > priMax {
		mustf(-1, "priority %d out of range [%d,%d]", priority, priMin, priMax)
	}

	k.mu.Lock()
	creator := k.mustCurrentLocked()
	t := k.newThreadLocked(name, priority)
	if t == nil {
		k.mu.Unlock()
		return -1, ErrNoPages
	}
	k.policy.onThreadCreated(t, creator)
	t.state = Ready
	k.readyQueue.push(t)
	outranks := t.effPriority > creator.effPriority
	k.mu.Unlock()

	vlog.Infof("thread %d (%s) created, base=%d eff=%d", t.id, t.name, t.basePriority, t.effPriority)

	go k.runThread(t, entry)

	if outranks {
		k.Yield()
	}
	return t.id, nil
}

// runThread is the first thing a created thread's goroutine does: park on
// its own resume channel until the dispatcher hands it the CPU, the Go
// reading of "sets up the captured frame so the first resume calls a
// wrapper that ... invokes entry(arg)." Returning from entry is equivalent
// to falling off the end of kernel_thread in the source: it calls Exit on
// the caller's behalf so thread bodies never need to call it explicitly.
func (k *Kernel) runThread(t *Thread, entry func(k *Kernel, self *Thread)) {
	<-t.resumeCh
	entry(k, t)
	k.Exit()
}

// Yield gives up the CPU voluntarily. The idle thread never yields through
// this path (it has its own poll loop in idleLoop); any other thread is
// re-inserted into the ready queue at its priority and the dispatcher picks
// whoever now ranks highest, which may be the same thread again.
func (k *Kernel) Yield() {
	k.mu.Lock()
	defer k.mu.Unlock()
	self := k.mustCurrentLocked()
	if self == k.idle {
		return
	}
	self.state = Ready
	k.readyQueue.push(self)
	k.dispatchLocked(self)
}

// Block transitions the current thread to Blocked and switches away from
// it. Callers are responsible for having already recorded where the thread
// will be found and woken (a wait set, the sleep heap) before calling this;
// Block only performs the generic "stop running" half that Sleep, a
// contended Lock.Acquire, Semaphore.Down and CondVar.Wait all share.
func (k *Kernel) Block() {
	k.mu.Lock()
	defer k.mu.Unlock()
	self := k.mustCurrentLocked()
	k.blockLocked(self)
	k.dispatchLocked(self)
}

// Unblock moves a Blocked thread to Ready. Per §4.2 it never preempts on
// its own — callers that can tell whether the newly-ready thread outranks
// the one currently running call preemptIfHigherLocked (or CheckPreempt)
// themselves.
func (k *Kernel) Unblock(t *Thread) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.unblockLocked(t)
}

// Exit transitions the current thread to Dying and switches away from it
// for the last time. dispatchLocked leaves mu unlocked on this path (the
// caller's goroutine is about to terminate and must never touch k.mu
// again), so Exit deliberately does not defer an Unlock.
func (k *Kernel) Exit() {
	k.mu.Lock()
	self := k.mustCurrentLocked()
	vlog.Infof("thread %d (%s) exiting", self.id, self.name)
	self.state = Dying
	k.dispatchLocked(self)
}

// SetPriority updates the current thread's base priority. Under MLFQS this
// is silently ignored (§4.2, §4.7); otherwise it recomputes effective
// priority by invariant 2 and yields if the ready queue's new head outranks
// the caller.
func (k *Kernel) SetPriority(p int) {
	if p < priMin || p > priMax {
		mustf(-1, "priority %d out of range [%d,%d]", p, priMin, priMax)
	}
	k.mu.Lock()
	self := k.mustCurrentLocked()
	k.policy.setPriority(self, p)
	yield := false
	if head := k.readyQueue.peek(); head != nil && head.effPriority > self.effPriority {
		yield = true
	}
	k.mu.Unlock()
	if yield {
		k.Yield()
	}
}

// GetPriority returns the current thread's effective priority (base, as
// raised by donation; or the MLFQS-computed value).
func (k *Kernel) GetPriority() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mustCurrentLocked().effPriority
}

// SetNice updates the current thread's MLFQS niceness, the Go reading of
// thread_set_nice: a thread calls this on itself, typically as the first
// thing it does after Create returns, since nice otherwise only ever comes
// from inheriting the creator's value (§4.7). It immediately recomputes
// priority from the new nice and yields if that drops the caller below the
// new ready-queue head. Meaningless (but harmless) under the donation
// policy, where nothing ever reads nice.
func (k *Kernel) SetNice(n int) {
	if n < niceMin || n > niceMax {
		mustf(-1, "nice %d out of range [%d,%d]", n, niceMin, niceMax)
	}
	k.mu.Lock()
	self := k.mustCurrentLocked()
	self.nice = n
	yield := false
	if k.policy.kind() == PolicyMLFQS {
		self.effPriority = mlfqsPriority(self)
		self.basePriority = self.effPriority
		if head := k.readyQueue.peek(); head != nil && head.effPriority > self.effPriority {
			yield = true
		}
	}
	k.mu.Unlock()
	if yield {
		k.Yield()
	}
}

// GetNice returns the current thread's MLFQS niceness.
func (k *Kernel) GetNice() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mustCurrentLocked().nice
}
