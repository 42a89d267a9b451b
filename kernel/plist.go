// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// plist is a priority-ordered set of threads, built from PRI_MAX+1 FIFO
// buckets — one circular doubly-linked list per priority level, directly
// modeled on the teacher's flow/conn writeq, which keeps one circular list
// per priority class for exactly the same "at most one active membership"
// reason. writeq has three priority classes; a plist has PriMax+1, since
// the ready queue and every wait set in this scheduler are ordered by the
// full [PRI_MIN,PRI_MAX] range rather than a handful of fixed classes.
//
// The same dlnode handle on a Thread is reused across the ready queue and
// every wait set it can ever be a member of, since invariant 3 guarantees a
// thread is never in more than one of them at a time.
type plist struct {
	buckets [priMax + 1]*dlnode
	size    int
}

// push inserts t at the tail of its priority's bucket (FIFO within a
// priority level, so ties break by insertion order per the testable
// properties in the spec).
func (pl *plist) push(t *Thread) {
	prio := t.effPriority
	n := &t.node
	n.owner = t
	n.prio = prio
	n.linked = true
	head := pl.buckets[prio]
	if head == nil {
		n.prev, n.next = n, n
		pl.buckets[prio] = n
	} else {
		n.prev, n.next = head.prev, head
		head.prev.next = n
		head.prev = n
	}
	pl.size++
}

// remove unlinks t from whichever bucket it currently occupies. A no-op if
// t is not currently linked into this list.
func (pl *plist) remove(t *Thread) {
	n := &t.node
	if !n.linked {
		return
	}
	prio := n.prio
	if head := pl.buckets[prio]; head == n {
		if n.next == n {
			pl.buckets[prio] = nil
		} else {
			pl.buckets[prio] = n.next
		}
	}
	n.next.prev = n.prev
	n.prev.next = n.next
	n.prev, n.next = nil, nil
	n.linked = false
	n.owner = nil
	pl.size--
}

// threads returns every member in priority-descending, insertion-order
// (within a priority) order — the "observation order" the testable
// properties are stated against.
func (pl *plist) threads() []*Thread {
	out := make([]*Thread, 0, pl.size)
	for p := priMax; p >= priMin; p-- {
		head := pl.buckets[p]
		if head == nil {
			continue
		}
		n := head
		for {
			out = append(out, n.owner.(*Thread))
			n = n.next
			if n == head {
				break
			}
		}
	}
	return out
}

// peek returns the highest-priority member without removing it, or nil if
// the list is empty.
func (pl *plist) peek() *Thread {
	for p := priMax; p >= priMin; p-- {
		if head := pl.buckets[p]; head != nil {
			return head.owner.(*Thread)
		}
	}
	return nil
}

// pop removes and returns the highest-priority member, or nil if empty.
func (pl *plist) pop() *Thread {
	t := pl.peek()
	if t != nil {
		pl.remove(t)
	}
	return t
}

// empty reports whether the list has no members.
func (pl *plist) empty() bool { return pl.size == 0 }

// len returns the number of members.
func (pl *plist) len() int { return pl.size }

// resort rebuilds every bucket using each member's *current* effective
// priority. Needed because a blocked thread's effective priority can
// change while parked (donation through a different lock it holds), and
// sema_up / signal must "re-sort the wait set by current effective
// priority" before picking the head, per the spec.
func (pl *plist) resort() {
	members := pl.threads()
	for p := range pl.buckets {
		pl.buckets[p] = nil
	}
	pl.size = 0
	for _, t := range members {
		t.node.linked = false
		pl.push(t)
	}
}
