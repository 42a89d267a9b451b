// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"sort"

	"github.com/davecgh/go-spew/spew"

	"github.com/sorrybro2/pintos-go/kernel/fixed"
)

// State is a thread's position in the state machine described in the
// scheduler's design: Running, Ready, Blocked, Dying.
type State int

const (
	// Ready means the thread is runnable and sitting in the ready queue.
	Ready State = iota
	// Running means the thread currently owns the (single, simulated) CPU.
	Running
	// Blocked means the thread is parked in a sleep set or a
	// synchronization primitive's wait set.
	Blocked
	// Dying means the thread has exited and is awaiting page reclamation
	// by the next dispatcher pass.
	Dying
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Dying:
		return "dying"
	default:
		return "unknown"
	}
}

// threadMagic is the sentinel value written at Thread construction and
// checked on every access to "the current thread" — the Go-native reading
// of pintos' THREAD_MAGIC stack-overflow canary.
const threadMagic = 0xcd6abf4b

// dlnode is the single intrusive list handle shared by the ready queue's
// priority buckets and a semaphore's wait set. A thread waiting on a
// condition variable sits in its private semaphore's wait set through this
// same handle; the condition variable's own wait set is a slice of
// condWaiter records and uses no dlnode. A thread occupies at most one such
// list at a time, matching invariant 3 of the
// data model: ready queue xor exactly one wait set xor sleep set xor CPU.
type dlnode struct {
	prev, next *dlnode
	prio       int
	linked     bool
	owner      interface{}
}

// Thread is one scheduler-visible thread: identity, priorities, donation
// bookkeeping, lock membership, and the resume handle used to hand the
// simulated CPU to its goroutine. It is allocated once by Create from the
// kernel's pageAllocator and never moves for the thread's lifetime, mirroring
// "record co-located with its stack in one allocated page."
type Thread struct {
	id   int
	name string

	state State

	basePriority int
	effPriority  int

	// donors holds every thread currently donating priority to this one,
	// kept sorted by donor effective priority descending (invariant 2).
	donors []*Thread

	heldLocks []*Lock
	waitingOn *Lock

	// MLFQS-only fields; zero and unused under the donation policy.
	nice      int
	recentCPU fixed.Fixed

	wakeTick uint64

	node dlnode

	resumeCh chan struct{}

	page *page

	sentinel uint64
}

// newThread allocates a Thread from the given page and zero-initializes its
// scheduling fields. It does not insert the thread into any queue.
func newThread(id int, name string, priority int, pg *page) *Thread {
	t := &Thread{
		id:           id,
		name:         name,
		state:        Blocked,
		basePriority: priority,
		effPriority:  priority,
		resumeCh:     make(chan struct{}, 1),
		page:         pg,
		sentinel:     threadMagic,
	}
	pg.thread = t
	return t
}

// checkSentinel panics with a corruption ViolationError if t's sentinel has
// been clobbered — the Go reading of "stack overflow likely," retained here
// to catch API misuse that aliases into Thread memory rather than a real
// hardware stack overrun, which Go's runtime stacks cannot suffer.
func (t *Thread) checkSentinel() {
	if t.sentinel != threadMagic {
		mustf(t.id, "thread sentinel corrupted, stack overflow likely")
	}
}

// ID returns the thread's unique identifier.
func (t *Thread) ID() int { return t.id }

// Name returns the thread's human-readable label.
func (t *Thread) Name() string { return t.name }

// State returns the thread's current state.
func (t *Thread) State() State {
	t.checkSentinel()
	return t.state
}

// BasePriority returns the thread's configured (non-donated) priority.
func (t *Thread) BasePriority() int {
	t.checkSentinel()
	return t.basePriority
}

// EffectivePriority returns the priority the scheduler actually uses:
// base priority as raised by donation, or the MLFQS-computed priority.
func (t *Thread) EffectivePriority() int {
	t.checkSentinel()
	return t.effPriority
}

// Nice returns the thread's MLFQS niceness.
func (t *Thread) Nice() int { return t.nice }

// RecentCPU returns the raw fixed-point recent_cpu value.
func (t *Thread) RecentCPU() fixed.Fixed { return t.recentCPU }

// GetRecentCPU returns 100*recent_cpu rounded to the nearest integer, the
// exported MLFQS observable.
func (t *Thread) GetRecentCPU() int {
	return t.recentCPU.MulInt(100).Round()
}

// recomputeEffectivePriority applies invariant 2: effective priority is the
// max of base priority and the greatest donor effective priority. Donors
// are kept sorted descending, so the max is always donors[0] if present.
func (t *Thread) recomputeEffectivePriority() int {
	max := t.basePriority
	if len(t.donors) > 0 && t.donors[0].effPriority > max {
		max = t.donors[0].effPriority
	}
	t.effPriority = max
	return max
}

// insertDonor adds d to t's donor list in descending-effective-priority
// order, or repositions it if already present (re-propagation after a
// priority change). Mirrors pintos' list_insert_ordered keyed on
// higher_priority_donate.
func (t *Thread) insertDonor(d *Thread) {
	t.removeDonor(d)
	idx := sort.Search(len(t.donors), func(i int) bool {
		return t.donors[i].effPriority < d.effPriority
	})
	t.donors = append(t.donors, nil)
	copy(t.donors[idx+1:], t.donors[idx:])
	t.donors[idx] = d
}

// removeDonor removes d from t's donor list if present; a no-op otherwise.
func (t *Thread) removeDonor(d *Thread) {
	for i, don := range t.donors {
		if don == d {
			t.donors = append(t.donors[:i], t.donors[i+1:]...)
			return
		}
	}
}

// hasDonor reports whether d is currently donating to t.
func (t *Thread) hasDonor(d *Thread) bool {
	for _, don := range t.donors {
		if don == d {
			return true
		}
	}
	return false
}

// debugThread is the go-spew-friendly view of a Thread used by
// DebugSnapshot: a plain value type so spew doesn't chase the resume
// channel or recurse into donor threads' own donor lists.
type debugThread struct {
	ID        int
	Name      string
	State     string
	Base      int
	Effective int
	Donors    []int
	WaitingOn string
}

func (t *Thread) debugView() debugThread {
	donors := make([]int, 0, len(t.donors))
	for _, d := range t.donors {
		donors = append(donors, d.id)
	}
	waiting := ""
	if t.waitingOn != nil {
		waiting = t.waitingOn.name
	}
	return debugThread{
		ID:        t.id,
		Name:      t.name,
		State:     t.state.String(),
		Base:      t.basePriority,
		Effective: t.effPriority,
		Donors:    donors,
		WaitingOn: waiting,
	}
}

// dump renders a debugThread with go-spew for failure-message use.
func (t *Thread) dump() string {
	return spew.Sdump(t.debugView())
}
