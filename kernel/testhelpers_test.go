// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"testing"

	"golang.org/x/sync/errgroup"
)

// spawner wraps Kernel.Create with an errgroup.Group so a test can spawn
// several kernel threads and Wait() for every one of them to exit without
// leaking a goroutine if one never finishes. It does not itself run thread
// bodies on the errgroup's goroutines — those are the ordinary goroutines
// Kernel.Create starts — it only gives the test a handle to join on.
type spawner struct {
	t *testing.T
	k *Kernel
	g errgroup.Group
}

func newSpawner(t *testing.T, k *Kernel) *spawner {
	return &spawner{t: t, k: k}
}

// spawn creates a thread running body and registers its completion with the
// spawner's errgroup. It fails the test immediately if Create fails.
func (s *spawner) spawn(name string, priority int, body func(k *Kernel, self *Thread)) int {
	done := make(chan struct{})
	s.g.Go(func() error {
		<-done
		return nil
	})
	id, err := s.k.Create(name, priority, func(k *Kernel, self *Thread) {
		defer close(done)
		body(k, self)
	})
	if err != nil {
		s.t.Fatalf("Create(%s): %v", name, err)
	}
	return id
}

// wait blocks until every thread spawned through this spawner has exited.
func (s *spawner) wait() {
	if err := s.g.Wait(); err != nil {
		s.t.Fatal(err)
	}
}
