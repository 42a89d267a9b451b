// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "github.com/google/uuid"

// Config is the boot-time configuration for a Kernel. Every field has a
// sane default so tests and library callers can populate it
// programmatically without discovering every knob, while cmd/pintosim
// populates the same struct from parsed command-line flags.
type Config struct {
	// Policy selects the priority scheme. Fixed for the lifetime of the
	// Kernel; there is no runtime switch, matching "mutually exclusive,
	// fixed at boot."
	Policy PolicyKind

	// TimerFreq is the simulated tick rate in Hz. It paces MLFQS's
	// once-per-second recomputation (ticks % TimerFreq == 0) and is the
	// conversion rate Msleep/Usleep/Nsleep use to turn durations into ticks.
	// Must satisfy 19 <= TimerFreq <= 1000; zero means defaultTimerFreq.
	TimerFreq int

	// MaxThreads bounds the simulated page allocator's capacity. Zero
	// means unbounded. A positive value makes Create's allocation
	// failure path exercisable deterministically.
	MaxThreads int

	// DefaultNice is the niceness newly created top-level threads start
	// with under MLFQS (threads created by another thread inherit the
	// creator's nice instead, per §4.7).
	DefaultNice int

	// ActivateAddressSpace is the user-program address-space activation
	// hook: a no-op by default, invoked with the incoming thread on
	// every context switch when set. Present in the dispatch path,
	// inert unless supplied, matching the #ifdef USERPROG conditional
	// call in the source.
	ActivateAddressSpace func(*Thread)
}

// normalized returns a copy of cfg with defaults filled in and validated.
func (cfg Config) normalized() Config {
	if cfg.TimerFreq == 0 {
		cfg.TimerFreq = defaultTimerFreq
	}
	if cfg.TimerFreq < minTimerFreq || cfg.TimerFreq > maxTimerFreq {
		mustf(-1, "TimerFreq %d out of range [%d,%d]", cfg.TimerFreq, minTimerFreq, maxTimerFreq)
	}
	if cfg.DefaultNice < niceMin || cfg.DefaultNice > niceMax {
		mustf(-1, "DefaultNice %d out of range [%d,%d]", cfg.DefaultNice, niceMin, niceMax)
	}
	return cfg
}

// bootID tags every Kernel instance so concurrent test runs or concurrent
// demo runs can be told apart in shared log output, the same role
// v.io/v23/context's per-call logger plays in the teacher, scaled down to a
// single tag.
func newBootID() string {
	return uuid.NewString()
}
