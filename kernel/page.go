// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// page stands in for the one fixed-size page palloc_get_page hands out for
// a thread's control block plus kernel stack. This port has no raw memory to
// place a stack in, so the page carries nothing but a back-pointer to the
// Thread it was allocated for; its only real job is to be a distinct,
// countable allocation unit that pageAllocator can exhaust.
type page struct {
	thread *Thread
}

// pageAllocator is a bounded counter of pages in use, the simulated analogue
// of palloc_get_page's exhaustible page pool; it keeps no list of pages. Config.MaxThreads fixes its
// capacity so Create's allocation-failure path is exercisable deterministically
// in tests instead of only under real memory pressure.
type pageAllocator struct {
	capacity int
	inUse    int
}

func newPageAllocator(capacity int) *pageAllocator {
	return &pageAllocator{capacity: capacity}
}

// alloc returns a zeroed page, or nil if the pool is exhausted.
func (a *pageAllocator) alloc() *page {
	if a.capacity > 0 && a.inUse >= a.capacity {
		return nil
	}
	a.inUse++
	return &page{}
}

// free returns a page to the pool.
func (a *pageAllocator) free(p *page) {
	if p == nil {
		return
	}
	p.thread = nil
	a.inUse--
}
