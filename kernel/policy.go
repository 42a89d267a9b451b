// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "github.com/sorrybro2/pintos-go/kernel/fixed"

// PolicyKind names the two mutually exclusive priority policies. It is
// fixed once at Kernel construction and never changes thereafter.
type PolicyKind int

const (
	// PolicyDonation is the static-priority policy with donation.
	PolicyDonation PolicyKind = iota
	// PolicyMLFQS is the multilevel feedback queue policy.
	PolicyMLFQS
)

func (k PolicyKind) String() string {
	if k == PolicyMLFQS {
		return "mlfqs"
	}
	return "donation"
}

// policy captures everything that differs between the donation and MLFQS
// priority schemes. The policy flag is fixed at boot and selects one
// implementation once, in New; Lock.Acquire/Release and SetPriority call
// through Kernel.policy rather than branching on a boolean themselves, so
// the two code paths stay structurally separated by construction rather
// than by discipline.
type policy interface {
	kind() PolicyKind

	// donates reports whether lock acquisition should propagate priority
	// donation. False under MLFQS.
	donates() bool

	// setPriority implements SetPriority's policy-specific half: under
	// donation it updates base priority; under MLFQS it is a no-op.
	setPriority(t *Thread, p int)

	// onThreadCreated initializes policy-specific fields on a newly
	// created thread, given its creator.
	onThreadCreated(t, creator *Thread)

	// onTick runs once per timer tick for the running thread, before the
	// shared slice-accounting in Kernel.Tick. Used by MLFQS to bump
	// recent_cpu; a no-op under donation.
	onTick(k *Kernel, running *Thread)
}

// donationPolicy is the static-priority-with-donation policy.
type donationPolicy struct{}

func (donationPolicy) kind() PolicyKind  { return PolicyDonation }
func (donationPolicy) donates() bool     { return true }
func (donationPolicy) onTick(*Kernel, *Thread) {}

func (donationPolicy) setPriority(t *Thread, p int) {
	t.basePriority = p
	t.recomputeEffectivePriority()
}

func (donationPolicy) onThreadCreated(t, creator *Thread) {
	// Base priority was already set from the caller's argument; nothing
	// else to inherit under this policy.
}

// mlfqsPolicy is the multilevel feedback queue policy.
type mlfqsPolicy struct{}

func (mlfqsPolicy) kind() PolicyKind { return PolicyMLFQS }
func (mlfqsPolicy) donates() bool    { return false }

// setPriority is a no-op under MLFQS: priority is entirely formula-derived.
func (mlfqsPolicy) setPriority(t *Thread, p int) {}

// onThreadCreated: a new thread inherits the creator's nice and recent_cpu,
// then computes its own priority immediately.
func (mlfqsPolicy) onThreadCreated(t, creator *Thread) {
	if creator != nil {
		t.nice = creator.nice
		t.recentCPU = creator.recentCPU
	}
	t.effPriority = mlfqsPriority(t)
	t.basePriority = t.effPriority
}

// onTick increments the running thread's recent_cpu by one fixed-point
// unit, per tick, when it isn't the idle thread.
func (mlfqsPolicy) onTick(k *Kernel, running *Thread) {
	running.recentCPU = running.recentCPU.AddInt(1)
}

// mlfqsPriority computes priority(t) = clamp(PRI_MAX - trunc(recent_cpu/4)
// - 2*nice, PRI_MIN, PRI_MAX).
func mlfqsPriority(t *Thread) int {
	p := priMax - t.recentCPU.DivInt(4).Trunc() - 2*t.nice
	if p < priMin {
		p = priMin
	}
	if p > priMax {
		p = priMax
	}
	return p
}

// mlfqsTick runs, on every TIMER_FREQ'th tick, the load_avg and then the
// recent_cpu recomputation, followed by the every-4-tick priority
// recomputation, per §4.7 ("Priority recomputation for this tick also runs").
// Called with Kernel.mu held, from Kernel.Tick.
func (k *Kernel) mlfqsTick() {
	if k.ticks%uint64(k.cfg.TimerFreq) == 0 {
		k.recomputeLoadAvgLocked()
		for _, t := range k.allThreads {
			if t == k.idle {
				continue
			}
			t.recentCPU = mlfqsRecentCPU(t, k.loadAvg)
		}
	}

	if k.ticks%4 == 0 {
		k.recomputePrioritiesLocked()
	}
}

// recomputeLoadAvgLocked implements load_avg = (59/60)*load_avg +
// (1/60)*ready_count, where ready_count is the number of Ready threads plus
// 1 if the running thread isn't idle.
func (k *Kernel) recomputeLoadAvgLocked() {
	readyCount := k.readyQueue.len()
	if k.running != nil && k.running != k.idle {
		readyCount++
	}
	fiftyNineSixtieths := fixed.FromInt(59).Div(fixed.FromInt(60))
	oneSixtieth := fixed.FromInt(1).Div(fixed.FromInt(60))
	k.loadAvg = k.loadAvg.Mul(fiftyNineSixtieths).Add(oneSixtieth.MulInt(readyCount))
}

// mlfqsRecentCPU implements recent_cpu = (2*load_avg)/(2*load_avg+1) *
// recent_cpu + nice.
func mlfqsRecentCPU(t *Thread, loadAvg fixed.Fixed) fixed.Fixed {
	twoLoadAvg := loadAvg.MulInt(2)
	coeff := twoLoadAvg.Div(twoLoadAvg.AddInt(1))
	return coeff.Mul(t.recentCPU).AddInt(t.nice)
}

// recomputePrioritiesLocked recomputes every live thread's priority from
// its current recent_cpu and nice, re-sorts the ready queue, and marks a
// preemption request if the new ready head outranks the running thread.
func (k *Kernel) recomputePrioritiesLocked() {
	for _, t := range k.allThreads {
		if t == k.idle {
			continue
		}
		oldPrio := t.effPriority
		newPrio := mlfqsPriority(t)
		t.effPriority = newPrio
		t.basePriority = newPrio
		if oldPrio != newPrio && t.state == Ready {
			k.readyQueue.remove(t)
			k.readyQueue.push(t)
		}
	}
	if head := k.readyQueue.peek(); head != nil && k.running != nil && head.effPriority > k.running.effPriority {
		k.yieldPending = true
	}
}

// GetLoadAvg returns round(100*load_avg), the exported MLFQS observable.
func (k *Kernel) GetLoadAvg() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadAvg.MulInt(100).Round()
}
