// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

const (
	// priMin is the lowest thread priority, reserved for the idle thread.
	priMin = 0
	// priDefault is the initial ("main") thread's priority. Create always
	// takes an explicit priority.
	priDefault = 31
	// priMax is the highest thread priority.
	priMax = 63

	// TimeSlice is the number of ticks a thread runs before the tick
	// handler requests a yield.
	TimeSlice = 4

	// donationDepthLimit bounds the priority-donation propagation walk.
	// This is a correctness-relevant constant, not a tunable: it caps
	// worst-case latency inside a Kernel.mu-held critical section and
	// defends against donation cycles that lock ownership should
	// already rule out.
	donationDepthLimit = 8

	// niceMin and niceMax bound MLFQS niceness.
	niceMin     = -20
	niceMax     = 20
	niceDefault = 0

	// minTimerFreq and maxTimerFreq bound the configured tick rate.
	minTimerFreq = 19
	maxTimerFreq = 1000

	// defaultTimerFreq is used when Config.TimerFreq is zero.
	defaultTimerFreq = 100
)

// PriMin, PriDefault and PriMax re-export the priority bounds for callers
// outside the package (tests, cmd/pintosim).
const (
	PriMin     = priMin
	PriDefault = priDefault
	PriMax     = priMax
)

// NiceMin, NiceMax and NiceDefault re-export the MLFQS niceness bounds.
const (
	NiceMin     = niceMin
	NiceMax     = niceMax
	NiceDefault = niceDefault
)
