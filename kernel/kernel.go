// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel implements the core of a small teaching-OS scheduler: a
// cooperative/preemptive thread dispatcher, its synchronization primitives
// (semaphore, lock with priority donation, condition variable), and its two
// interchangeable priority policies (static priority with donation, and a
// multilevel feedback queue). See the package-level design document for the
// full rationale; this file holds the Kernel object that everything else
// hangs off of.
package kernel

import (
	"runtime"
	"sync"

	"v.io/x/lib/vlog"

	"github.com/sorrybro2/pintos-go/kernel/fixed"
)

// Kernel is one instance of the scheduler: its ready queue, sleep set, all
// synchronization-primitive bookkeeping, and the single-CPU baton-passing
// dispatcher described in the design notes. All mutable state is guarded by
// mu, which stands in for "interrupts disabled" throughout this package —
// there are no spinlocks and no finer-grained locking, matching the
// all-or-nothing critical-section discipline of the original.
type Kernel struct {
	mu sync.Mutex

	cfg    Config
	policy policy
	bootID string

	nextID  int
	running *Thread
	idle    *Thread
	initial *Thread

	readyQueue plist
	sleeping   sleepHeap

	allThreads       map[int]*Thread
	destructionQueue []*Thread

	pages *pageAllocator

	ticks        uint64
	sliceUsed    int
	yieldPending bool

	loadAvg fixed.Fixed

	idleStarted chan struct{}

	// idleTicks/kernelTicks/userTicks track PrintStats's idle/kernel/user
	// tick counters, the Go rendition of thread_print_stats.
	idleTicks, kernelTicks, userTicks uint64
}

// New constructs a Kernel with the given configuration, creates its idle
// thread, and boots it as the initial running thread — the Go analogue of
// thread_init plus thread_start.
func New(cfg Config) *Kernel {
	cfg = cfg.normalized()
	k := &Kernel{
		cfg:         cfg,
		bootID:      newBootID(),
		allThreads:  make(map[int]*Thread),
		pages:       newPageAllocator(cfg.MaxThreads),
		idleStarted: make(chan struct{}),
	}
	if cfg.Policy == PolicyMLFQS {
		k.policy = mlfqsPolicy{}
	} else {
		k.policy = donationPolicy{}
	}

	vlog.Infof("kernel boot %s: policy=%s timer_freq=%d", k.bootID, cfg.Policy, cfg.TimerFreq)

	initial := k.newThreadLocked("main", priDefault)
	if initial == nil {
		mustf(-1, "boot: page allocator exhausted before the initial thread could be created")
	}
	k.policy.onThreadCreated(initial, nil)
	initial.state = Running
	k.running = initial
	k.initial = initial

	idle := k.newThreadLocked("idle", priMin)
	if idle == nil {
		mustf(-1, "boot: page allocator exhausted before the idle thread could be created")
	}
	k.idle = idle
	idle.state = Blocked
	go k.idleLoop(idle)
	<-k.idleStarted

	return k
}

// newThreadLocked allocates and registers a Thread. Must be called with mu
// held, except during New where no other goroutine can yet observe k.
func (k *Kernel) newThreadLocked(name string, priority int) *Thread {
	pg := k.pages.alloc()
	if pg == nil {
		return nil
	}
	k.nextID++
	t := newThread(k.nextID, name, priority, pg)
	t.nice = k.cfg.DefaultNice
	k.allThreads[t.id] = t
	return t
}

// mustCurrentLocked returns the running thread, panicking via ViolationError
// if there is none (a programmer-contract violation: no caller should be
// executing kernel code outside of some thread's context).
func (k *Kernel) mustCurrentLocked() *Thread {
	if k.running == nil {
		mustf(-1, "no current thread")
	}
	k.running.checkSentinel()
	return k.running
}

// Current returns the currently running thread.
func (k *Kernel) Current() *Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mustCurrentLocked()
}

// BootID returns the UUID tag attached to every log line this Kernel
// emits, letting concurrent kernel instances be told apart in shared logs.
func (k *Kernel) BootID() string { return k.bootID }

// PolicyKind reports which priority policy this Kernel was booted with.
func (k *Kernel) PolicyKind() PolicyKind { return k.policy.kind() }

// idleLoop is the idle thread's body: a cooperative poll-and-park loop, the
// Go-native reading of "halts the CPU awaiting the next interrupt." Go
// cannot literally halt an arbitrary goroutine until woken by an unrelated
// one, so idle polls whether the ready queue has gained a member, parking
// on its own resume channel (no spin) whenever dispatch hands the CPU to
// someone else, and yielding the Go scheduler between polls otherwise.
func (k *Kernel) idleLoop(self *Thread) {
	k.mu.Lock()
	close(k.idleStarted)
	k.mu.Unlock()

	for {
		k.mu.Lock()
		if !k.readyQueue.empty() {
			self.state = Blocked
			k.dispatchLocked(self)
			k.mu.Unlock()
			continue
		}
		k.mu.Unlock()
		runtime.Gosched()
	}
}

// reapLocked frees every page on the destruction queue: the Go analogue of
// the dispatcher's "reap any page on the destruction queue" step, run at
// the head of every dispatch pass.
func (k *Kernel) reapLocked() {
	for _, t := range k.destructionQueue {
		delete(k.allThreads, t.id)
		k.pages.free(t.page)
	}
	k.destructionQueue = k.destructionQueue[:0]
}

// dispatchLocked performs the context switch away from self, which must
// already be in a non-Running state. It reaps the destruction queue,
// chooses the next thread to run (the ready head, or idle if none), and
// hands it the CPU via baton-passing over resume channels.
//
// Contract: called with mu held. If self is not Dying, dispatchLocked
// returns with mu held again (possibly after a real suspend-and-resume
// round trip). If self is Dying, it returns with mu NOT held, and the
// caller's goroutine must not touch k.mu again — it is about to terminate.
func (k *Kernel) dispatchLocked(self *Thread) {
	k.reapLocked()

	next := k.readyQueue.pop()
	if next == nil {
		next = k.idle
	}

	k.running = next
	next.state = Running
	k.sliceUsed = 0
	k.yieldPending = false

	if k.cfg.ActivateAddressSpace != nil {
		k.cfg.ActivateAddressSpace(next)
	}

	dying := self.state == Dying
	if dying && self != k.initial {
		k.destructionQueue = append(k.destructionQueue, self)
	}

	if next == self {
		return
	}

	next.resumeCh <- struct{}{}

	if dying {
		k.mu.Unlock()
		return
	}

	k.mu.Unlock()
	<-self.resumeCh
	k.mu.Lock()
}

// checkPreemptLocked performs an immediate preemptive yield of the running
// thread if a yield has been requested and a real switch would occur. This
// is the cooperative checkpoint that CheckPreempt and Semaphore.Up run
// (blocking primitives switch away through dispatchLocked instead, which
// clears yieldPending), and the direct equivalent of "preemption deferred
// to interrupt return":
// Kernel.Tick only ever sets yieldPending; the running thread's next
// checkpoint is what actually switches.
func (k *Kernel) checkPreemptLocked() {
	if !k.yieldPending || k.running == nil || k.running == k.idle {
		return
	}
	if k.readyQueue.empty() {
		k.yieldPending = false
		return
	}
	self := k.running
	self.state = Ready
	k.readyQueue.push(self)
	k.dispatchLocked(self)
}

// CheckPreempt is the public checkpoint a long-running thread body should
// call periodically to cooperatively honor a pending tick-driven
// preemption. Semaphore.Up (and so Lock.Release and CondVar.Signal) runs the
// same checkpoint, and a blocking primitive gives up the CPU anyway; a
// thread that never blocks must call it itself.
func (k *Kernel) CheckPreempt() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkPreemptLocked()
}

// blockLocked transitions the running thread self to Blocked. The caller is
// responsible for having already placed self wherever it will be found and
// woken (a sleep heap or a primitive's wait set) before calling this; it
// only performs the state-machine edge, never the switch itself.
func (k *Kernel) blockLocked(self *Thread) {
	assert(self.state == Running, self.id, "block: thread %d is not running", self.id)
	self.state = Blocked
}

// unblockLocked moves a Blocked thread to Ready and inserts it into the
// ready queue in priority order. Per §4.2, unblock never preempts on its
// own; callers that need to decide separately: sema_up, lock release and
// cond_signal via preemptIfHigherLocked, the timer tick's wake pass via
// markYieldIfHigherLocked.
func (k *Kernel) unblockLocked(t *Thread) {
	assert(t.state == Blocked, t.id, "unblock: thread %d is not blocked", t.id)
	t.state = Ready
	k.readyQueue.push(t)
}

// markYieldIfHigherLocked arms a preemption request if t now outranks the
// running thread, without running the checkpoint itself. This is what
// Kernel.Tick's sleeper-wake pass calls: an interrupt handler never blocks
// and never switches directly (§5), so it can only flag "yield on return"
// and leave the actual switch to the running thread's next checkpoint.
func (k *Kernel) markYieldIfHigherLocked(t *Thread) {
	if k.running != nil && t.effPriority > k.running.effPriority {
		k.yieldPending = true
	}
}

// preemptIfHigherLocked marks a preemption request if t now outranks the
// running thread, then runs the shared checkpoint immediately. This is the
// single implementation of "yield now" used by sema_up, lock release, and
// cond_signal/broadcast, all of which are called from ordinary thread
// context (never from Kernel.Tick) and so may switch right away.
func (k *Kernel) preemptIfHigherLocked(t *Thread) {
	k.markYieldIfHigherLocked(t)
	k.checkPreemptLocked()
}
