// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"sort"

	"github.com/davecgh/go-spew/spew"
)

// Snapshot is a go-spew-friendly, pointer-free view of a Kernel's
// scheduling state: every live thread plus the ready queue's and donor
// graph's current shape. Tests dump this on assertion failure so a failure
// message reads as a structural diff instead of a bare integer mismatch.
type Snapshot struct {
	Ticks   uint64
	Policy  string
	Running int
	Ready   []debugThread
	All     []debugThread
}

// DebugSnapshot captures the kernel's current scheduling state for
// diagnostic dumping.
func (k *Kernel) DebugSnapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	snap := Snapshot{
		Ticks:  k.ticks,
		Policy: k.policy.kind().String(),
	}
	if k.running != nil {
		snap.Running = k.running.id
	}
	for _, t := range k.readyQueue.threads() {
		snap.Ready = append(snap.Ready, t.debugView())
	}
	for _, id := range sortedThreadIDs(k.allThreads) {
		snap.All = append(snap.All, k.allThreads[id].debugView())
	}
	return snap
}

// Dump renders a Snapshot with go-spew for use in require/assert failure
// messages.
func (s Snapshot) Dump() string {
	return spew.Sdump(s)
}

func sortedThreadIDs(m map[int]*Thread) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
