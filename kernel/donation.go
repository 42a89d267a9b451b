// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// donateLocked implements nested donation (§4.5): donor has just begun
// waiting on a lock held by holder. It walks the "waits-on / holds" chain,
// raising each holder's effective priority to at least donor's, up to
// donationDepthLimit steps. The limit both bounds worst-case latency inside
// this mu-held region and defends against a donation cycle that lock
// ownership semantics should already rule out — the walk simply stops
// rather than asserting, per §4.5's "terminates silently."
func (k *Kernel) donateLocked(donor, holder *Thread) {
	d, h := donor, holder
	for depth := 0; depth < donationDepthLimit; depth++ {
		if h == d {
			return
		}

		h.insertDonor(d)
		h.recomputeEffectivePriority()
		if h.state == Ready {
			k.readyQueue.remove(h)
			k.readyQueue.push(h)
		}

		if h.waitingOn == nil {
			return
		}
		next := h.waitingOn.holder
		if next == nil || next == h {
			return
		}
		d, h = h, next
	}
}

// revokeLocked implements selective revocation (§4.4, §4.5): on releasing
// lock l, strip from releaser's donors exactly those threads whose
// waitingOn is l. Donors waiting on a different lock the releaser also
// holds are left untouched, because a thread can hold several locks and be
// donated to through each independently. No transitive revocation is
// needed: each donor was only ever registered with the direct holder it
// was waiting on.
func (k *Kernel) revokeLocked(releaser *Thread, l *Lock) {
	kept := releaser.donors[:0]
	for _, d := range releaser.donors {
		if d.waitingOn == l {
			continue
		}
		kept = append(kept, d)
	}
	releaser.donors = kept
	releaser.recomputeEffectivePriority()
}
