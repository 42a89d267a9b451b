// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "v.io/x/lib/vlog"

// PrintStats logs the idle/kernel/user tick tallies, the Go rendition of
// thread_print_stats/timer_print_stats merged into one call since this port
// has a single vlog sink rather than the source's two separate printf call
// sites. Under MLFQS it also logs load_avg and every live thread's
// recent_cpu.
func (k *Kernel) PrintStats() {
	k.mu.Lock()
	defer k.mu.Unlock()

	vlog.Infof("kernel %s: %d idle ticks, %d kernel ticks, %d user ticks",
		k.bootID, k.idleTicks, k.kernelTicks, k.userTicks)

	if k.policy.kind() != PolicyMLFQS {
		return
	}
	vlog.Infof("kernel %s: load_avg=%d.%02d", k.bootID, k.loadAvg.MulInt(100).Round()/100, k.loadAvg.MulInt(100).Round()%100)
	for _, id := range sortedThreadIDs(k.allThreads) {
		t := k.allThreads[id]
		if t == k.idle {
			continue
		}
		vlog.Infof("kernel %s: thread %d (%s) nice=%d recent_cpu=%d priority=%d",
			k.bootID, t.id, t.name, t.nice, t.recentCPU.MulInt(100).Round(), t.effPriority)
	}
}
