// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tlb

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/asidalloc/pkg/cpuset"
	"gvisor.dev/asidalloc/pkg/sync"
)

func TestLoadAndFlush(t *testing.T) {
	m := NewModel(2)
	if err := m.Load(0, 5, 1); err != nil {
		t.Fatalf("Load into empty TLB: %v", err)
	}
	if err := m.Load(0, 5, 1); err != nil {
		t.Errorf("reloading the same owner: %v", err)
	}
	// Other CPUs have their own TLB.
	if err := m.Load(1, 5, 2); err != nil {
		t.Errorf("Load on another CPU: %v", err)
	}

	err := m.Load(0, 5, 2)
	var c *Conflict
	if !errors.As(err, &c) {
		t.Fatalf("Load with stale owner: got %v, want *Conflict", err)
	}
	if diff := cmp.Diff(Conflict{CPU: 0, ID: 5, Owner: 2, Stale: 1}, *c); diff != "" {
		t.Errorf("Conflict mismatch (-want +got):\n%s", diff)
	}
	if o, ok := m.Lookup(0, 5); !ok || o != 2 {
		t.Errorf("Lookup after conflict: got (%d, %t), want (2, true)", o, ok)
	}

	m.Flush(0)
	if _, ok := m.Lookup(0, 5); ok {
		t.Errorf("entry survived Flush")
	}
	if err := m.Load(0, 5, 3); err != nil {
		t.Errorf("Load after Flush: %v", err)
	}
	if o, _ := m.Lookup(1, 5); o != 2 {
		t.Errorf("Flush of CPU0 touched CPU1: got owner %d", o)
	}

	want := Stats{Loads: 5, Flushes: 1, Conflicts: 1}
	if diff := cmp.Diff(want, m.Stats()); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
}

func TestEntriesOrdered(t *testing.T) {
	m := NewModel(1)
	for _, e := range []Entry{{9, 3}, {2, 1}, {5, 2}, {2, 4}} {
		m.Load(0, e.ID, e.Owner)
	}
	want := []Entry{{2, 4}, {5, 2}, {9, 3}}
	if diff := cmp.Diff(want, m.Entries(0)); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}
	m.Flush(0)
	if got := m.Entries(0); len(got) != 0 {
		t.Errorf("Entries after Flush = %v, want none", got)
	}
}

func TestConcurrentCPUs(t *testing.T) {
	const cpus = 8
	m := NewModel(cpus)
	var wg sync.WaitGroup
	for cpu := 0; cpu < cpus; cpu++ {
		wg.Add(1)
		go func(cpu cpuset.ID) {
			defer wg.Done()
			for i := uint64(0); i < 1000; i++ {
				if err := m.Load(cpu, i%16, Owner(cpu)); err != nil {
					t.Errorf("CPU %d: %v", cpu, err)
					return
				}
				if i%100 == 0 {
					m.Flush(cpu)
				}
			}
		}(cpuset.ID(cpu))
	}
	wg.Wait()
	if got := m.Stats().Loads; got != cpus*1000 {
		t.Errorf("Loads: got %d, want %d", got, cpus*1000)
	}
}
