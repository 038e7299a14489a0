// Copyright 2020 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

package sync

import (
	"testing"
)

func TestSpinMutexTryLock(t *testing.T) {
	var m SpinMutex
	if !m.TryLock() {
		t.Fatalf("TryLock on unlocked mutex failed")
	}
	if m.TryLock() {
		t.Fatalf("TryLock on locked mutex succeeded")
	}
	m.Unlock()
	if !m.TryLock() {
		t.Fatalf("TryLock after Unlock failed")
	}
	m.Unlock()
}

func TestSpinMutexUnlockUnlocked(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Unlock of unlocked mutex did not panic")
		}
	}()
	var m SpinMutex
	m.Unlock()
}

func TestSpinMutexExclusion(t *testing.T) {
	const (
		goroutines = 8
		iterations = 1000
	)
	var (
		m       SpinMutex
		wg      WaitGroup
		counter int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	if want := goroutines * iterations; counter != want {
		t.Errorf("counter: got %d, want %d", counter, want)
	}
}

func BenchmarkSpinMutexUncontended(b *testing.B) {
	var m SpinMutex
	for i := 0; i < b.N; i++ {
		m.Lock()
		m.Unlock()
	}
}
