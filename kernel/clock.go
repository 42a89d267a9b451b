// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "container/heap"

// sleepHeap is a container/heap min-heap of threads keyed by wake_tick,
// directly modeled on the teacher's own timekeeper.ManualTime time-heap —
// the same "priority queue of pending wake-ups, driven by an externally
// advanced clock" shape, specialized from time.Time keys to tick counts.
type sleepHeap []*Thread

func (h sleepHeap) Len() int            { return len(h) }
func (h sleepHeap) Less(i, j int) bool  { return h[i].wakeTick < h[j].wakeTick }
func (h sleepHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sleepHeap) Push(x interface{}) { *h = append(*h, x.(*Thread)) }
func (h *sleepHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Now returns the current tick count.
func (k *Kernel) Now() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}

// Sleep blocks the current thread for n ticks. n<=0 returns immediately.
// The insertion into the sleep set and the state transition to Blocked both
// happen while Kernel.mu is held, matching "both the insert and the state
// change occur with interrupts disabled."
func (k *Kernel) Sleep(n int) {
	if n <= 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	self := k.mustCurrentLocked()
	self.wakeTick = k.ticks + uint64(n)
	heap.Push(&k.sleeping, self)
	k.blockLocked(self)
	k.dispatchLocked(self)
}

// Msleep sleeps for approximately ms milliseconds, the Go reading of
// timer_msleep (devices/timer.c:122-128): it converts the duration to
// ticks via num*TIMER_FREQ/denom and delegates to Sleep, rather than
// busy-waiting the way real_time_delay does for sub-tick remainders.
func (k *Kernel) Msleep(ms int64) {
	k.Sleep(int(ms * int64(k.cfg.TimerFreq) / 1000))
}

// Usleep sleeps for approximately us microseconds, the Go reading of
// timer_usleep.
func (k *Kernel) Usleep(us int64) {
	k.Sleep(int(us * int64(k.cfg.TimerFreq) / 1000000))
}

// Nsleep sleeps for approximately ns nanoseconds, the Go reading of
// timer_nsleep.
func (k *Kernel) Nsleep(ns int64) {
	k.Sleep(int(ns * int64(k.cfg.TimerFreq) / 1000000000))
}

// Tick is the periodic handler invoked from the (simulated) device IRQ. It
// advances the clock, wakes due sleepers, debits the running thread's time
// slice, and — under MLFQS — drives the fixed-tick accounting schedule.
// Tick never blocks, never takes a blocking primitive, and never switches
// directly: per §4.2.1, an interrupt handler can only arm yieldPending, and
// leaves the actual context switch to the running thread's next call to
// Kernel.CheckPreempt (or to Semaphore.Up, which runs the same checkpoint,
// or to a blocking primitive, which switches away regardless). This also
// means Tick may safely be called from any
// goroutine, not only the one currently playing the running thread — a
// dedicated ticker goroutine, or a test calling it directly, both work.
func (k *Kernel) Tick() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.ticks++

	for k.sleeping.Len() > 0 && k.sleeping[0].wakeTick <= k.ticks {
		t := heap.Pop(&k.sleeping).(*Thread)
		k.unblockLocked(t)
		k.markYieldIfHigherLocked(t)
	}

	// Credit the tick to whichever stats bucket the running thread falls
	// in, the Go reading of thread_print_stats's idle/kernel/user tallies.
	// This port never models a user address space beyond the inert
	// ActivateAddressSpace hook (§6), so every non-idle thread is counted
	// as kernel time; userTicks stays permanently 0 because nothing in
	// this port ever runs in a user address space to credit it.
	switch running := k.running; {
	case running == nil || running == k.idle:
		k.idleTicks++
	default:
		k.kernelTicks++
	}

	if running := k.running; running != nil && running != k.idle {
		k.policy.onTick(k, running)
	}

	if k.policy.kind() == PolicyMLFQS {
		k.mlfqsTick()
	}

	if running := k.running; running != nil {
		k.sliceUsed++
		if k.sliceUsed >= TimeSlice {
			k.yieldPending = true
		}
	}
}
