// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pintosim boots one kernel.Kernel, runs a named demo scenario
// against it, and drives the tick clock from real wall-clock time via a
// time.Ticker at the configured frequency — the host-process analogue of
// the source's timer IRQ, the same role cmd/helloserver's cmdline.Command
// tree plays for the teacher's own binaries.
package main

import (
	"fmt"
	"time"

	"v.io/x/lib/cmdline"
	"v.io/x/lib/vlog"

	"github.com/sorrybro2/pintos-go/kernel"
)

var (
	policyFlag    string
	timerFreqFlag int
	scenarioFlag  string
	durationFlag  time.Duration
)

func main() {
	cmdPintosim.Flags.StringVar(&policyFlag, "policy", "donation", "Priority policy: donation or mlfqs.")
	cmdPintosim.Flags.IntVar(&timerFreqFlag, "timer-freq", 100, "Simulated timer frequency in Hz (19-1000).")
	cmdPintosim.Flags.StringVar(&scenarioFlag, "scenario", "donation-chain", "Demo scenario to run: donation-chain or mlfqs-ladder.")
	cmdPintosim.Flags.DurationVar(&durationFlag, "duration", 3*time.Second, "How long to run the simulated tick clock.")
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(cmdPintosim)
}

var cmdPintosim = &cmdline.Command{
	Runner: cmdline.RunnerFunc(run),
	Name:   "pintosim",
	Short:  "Runs a demo scenario against the teaching-OS core scheduler",
	Long: `
Command pintosim boots a kernel.Kernel with the requested priority policy,
runs a named demo scenario, and drives its tick clock from wall-clock time
for the requested duration before printing scheduler statistics.
`,
}

func run(env *cmdline.Env, args []string) error {
	policy := kernel.PolicyDonation
	if policyFlag == "mlfqs" {
		policy = kernel.PolicyMLFQS
	} else if policyFlag != "donation" {
		return env.UsageErrorf("--policy must be 'donation' or 'mlfqs', got %q", policyFlag)
	}

	k := kernel.New(kernel.Config{
		Policy:    policy,
		TimerFreq: timerFreqFlag,
	})
	vlog.Infof("pintosim: booted kernel %s policy=%s timer_freq=%d", k.BootID(), policy, timerFreqFlag)

	switch scenarioFlag {
	case "donation-chain":
		runDonationChain(k)
	case "mlfqs-ladder":
		runMLFQSLadder(k)
	default:
		return env.UsageErrorf("unknown scenario %q", scenarioFlag)
	}

	// The ticker runs on its own goroutine and only ever calls Tick, which
	// per §4.2.1 never switches directly — it just advances the clock and
	// arms yieldPending. That keeps it safe to call regardless of which
	// thread is currently playing the running role. The initial thread
	// (this goroutine) cooperatively steps aside for the scenario's worker
	// threads by sleeping out the run, the same way any other thread would
	// give up the CPU for a bounded wait.
	ticker := time.NewTicker(time.Second / time.Duration(timerFreqFlag))
	stopTicking := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				k.Tick()
			case <-stopTicking:
				return
			}
		}
	}()

	ticksToRun := int(durationFlag.Seconds() * float64(timerFreqFlag))
	k.Sleep(ticksToRun)

	close(stopTicking)
	ticker.Stop()

	k.PrintStats()
	fmt.Fprintf(env.Stdout, "pintosim: ran %d ticks under %s policy\n", k.Now(), policy)
	return nil
}

// runDonationChain builds scenario 3 from the design document: a chain of
// threads each waiting on a lock held by the next lower-priority thread,
// exercising nested donation all the way up to the current (main) thread.
func runDonationChain(k *kernel.Kernel) {
	const depth = 4
	locks := make([]*kernel.Lock, depth)
	for i := range locks {
		locks[i] = k.NewLock(fmt.Sprintf("L%d", i))
	}

	locks[0].Acquire(k.Current())
	for i := 1; i < depth; i++ {
		i := i
		priority := kernel.PriDefault + i*3
		k.Create(fmt.Sprintf("donor-%d", i), priority, func(k *kernel.Kernel, self *kernel.Thread) {
			locks[i].Acquire(self)
			defer locks[i].Release(self)
			locks[i-1].Acquire(self)
			defer locks[i-1].Release(self)
			k.Sleep(1)
		})
	}
}

// runMLFQSLadder builds scenario 6: three CPU-bound threads at different
// niceness levels, demonstrating that lower nice receives more of the CPU
// once load_avg and recent_cpu have had a chance to diverge.
func runMLFQSLadder(k *kernel.Kernel) {
	for _, nice := range []int{0, 5, 10} {
		nice := nice
		k.Create(fmt.Sprintf("nice-%d", nice), kernel.PriDefault, func(k *kernel.Kernel, self *kernel.Thread) {
			k.SetNice(nice)
			for {
				k.CheckPreempt()
			}
		})
	}
}
