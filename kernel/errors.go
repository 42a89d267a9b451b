// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"errors"
	"fmt"

	"v.io/x/lib/vlog"
)

// ErrNoPages is returned by Create when the simulated page allocator has no
// free pages left for a new thread's control block and stack.
var ErrNoPages = errors.New("kernel: no free pages")

// ViolationError reports a programmer contract violation: the Go-native
// reading of pintos' ASSERT-and-PANIC discipline. Every fatal assertion in
// the scheduler raises one of these rather than a bare panic(string), so a
// recovering caller (such as a test) can tell a detected invariant
// violation apart from an unrelated runtime panic.
type ViolationError struct {
	Invariant string
	ThreadID  int
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("kernel: invariant violated: %s (thread %d)", e.Invariant, e.ThreadID)
}

// assert panics with a *ViolationError if cond is false, logging the
// violation through vlog first so it appears in the same structured log
// stream as every other kernel diagnostic.
func assert(cond bool, threadID int, invariant string, args ...interface{}) {
	if cond {
		return
	}
	mustf(threadID, invariant, args...)
}

// mustf unconditionally raises a contract violation.
func mustf(threadID int, invariant string, args ...interface{}) {
	msg := invariant
	if len(args) > 0 {
		msg = fmt.Sprintf(invariant, args...)
	}
	vlog.Errorf("invariant violated: %s (thread %d)", msg, threadID)
	panic(&ViolationError{Invariant: msg, ThreadID: threadID})
}
