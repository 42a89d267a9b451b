// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMsleepUsleepNsleepConvertThroughTimerFreq exercises timer_msleep/
// timer_usleep/timer_nsleep's conversion rule (num*TIMER_FREQ/denom,
// devices/timer.c:122-128): at TimerFreq=100, 20ms, 20000us and
// 20000000ns should all convert to the same 2-tick sleep.
func TestMsleepUsleepNsleepConvertThroughTimerFreq(t *testing.T) {
	const timerFreq = 100

	for _, sleeper := range []struct {
		name string
		call func(k *Kernel)
	}{
		{"Msleep", func(k *Kernel) { k.Msleep(20) }},
		{"Usleep", func(k *Kernel) { k.Usleep(20000) }},
		{"Nsleep", func(k *Kernel) { k.Nsleep(20000000) }},
	} {
		sleeper := sleeper
		t.Run(sleeper.name, func(t *testing.T) {
			k := New(Config{TimerFreq: timerFreq})
			sp := newSpawner(t, k)
			var wokeAt uint64
			// Outranking main makes Create yield, so the sleeper is parked
			// at tick 0 before main advances the clock.
			sp.spawn(sleeper.name, PriDefault+1, func(k *Kernel, self *Thread) {
				sleeper.call(k)
				wokeAt = k.Now()
			})
			for i := 0; i < 2; i++ {
				k.Tick()
			}
			sp.wait()
			require.Equal(t, uint64(2), wokeAt)
		})
	}
}

// TestMsleepZeroReturnsImmediately checks the n<=0 fast path still applies
// once a duration converts to zero ticks.
func TestMsleepZeroReturnsImmediately(t *testing.T) {
	k := New(Config{TimerFreq: 100})
	before := k.Now()
	k.Msleep(0)
	require.Equal(t, before, k.Now())
}
