// Copyright 2020 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

package sync

import (
	"runtime"
	"sync/atomic"
)

// spinIterations is the number of failed acquisition attempts after which
// SpinMutex yields the processor between attempts.
const spinIterations = 64

// SpinMutex is a mutual exclusion lock that busy-waits instead of parking the
// calling goroutine.
//
// SpinMutex is only appropriate for critical sections whose length is
// bounded and short, such as those that touch a fixed number of per-CPU
// entries. The zero value is an unlocked mutex.
type SpinMutex struct {
	_     NoCopy
	state uint32
}

// Lock locks m. If the lock is already held, Lock spins until it is
// available.
func (m *SpinMutex) Lock() {
	for i := 0; !m.TryLock(); i++ {
		if i >= spinIterations {
			runtime.Gosched()
		}
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *SpinMutex) TryLock() bool {
	// Test before test-and-set to keep the cache line shared while
	// contended.
	if atomic.LoadUint32(&m.state) != 0 {
		return false
	}
	return atomic.CompareAndSwapUint32(&m.state, 0, 1)
}

// Unlock unlocks m.
//
// Preconditions: m is locked.
func (m *SpinMutex) Unlock() {
	if atomic.SwapUint32(&m.state, 0) == 0 {
		panic("unlock of unlocked SpinMutex")
	}
}
