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

// Package tlb provides a model of tagged TLBs.
//
// The model tracks, for every CPU, which address space each hardware id was
// last used for. Like real hardware it knows nothing about generations, so
// running an address space under an id whose cached translations belong to a
// different address space is reported as a conflict.
package tlb

import (
	"fmt"

	"github.com/google/btree"

	"gvisor.dev/asidalloc/pkg/atomicbitops"
	"gvisor.dev/asidalloc/pkg/cpuset"
	"gvisor.dev/asidalloc/pkg/sync"
)

// Owner identifies an address space.
type Owner uint64

// Conflict is returned by Load when an id is still tagged with another
// address space.
type Conflict struct {
	CPU   cpuset.ID
	ID    uint64
	Owner Owner
	Stale Owner
}

// Error implements error.Error.
func (c *Conflict) Error() string {
	return fmt.Sprintf("CPU %d: id %d loaded for address space %d but still caches address space %d", c.CPU, c.ID, c.Owner, c.Stale)
}

// Entry is a cached tag: translations for ID belong to Owner.
type Entry struct {
	ID    uint64
	Owner Owner
}

func entryLess(a, b Entry) bool {
	return a.ID < b.ID
}

// cpuTLB is the TLB of one CPU, ordered by id.
type cpuTLB struct {
	mu      sync.Mutex
	entries *btree.BTreeG[Entry]
}

// Model is a set of per-CPU TLBs.
//
// Each CPU's TLB has its own lock, so CPUs may use the model concurrently.
type Model struct {
	cpus *cpuset.PerCPU[cpuTLB]

	loads     atomicbitops.Uint64
	flushes   atomicbitops.Uint64
	conflicts atomicbitops.Uint64
}

// degree is the btree node degree. TLBs hold at most a few hundred ids.
const degree = 8

// NewModel returns a Model with empty TLBs for CPUs [0, maxCPUs).
func NewModel(maxCPUs int) *Model {
	m := &Model{cpus: cpuset.NewPerCPU[cpuTLB](maxCPUs)}
	for i := 0; i < maxCPUs; i++ {
		m.cpus.Get(cpuset.ID(i)).entries = btree.NewG(degree, entryLess)
	}
	return m
}

// Flush drops every entry of cpu's TLB.
func (m *Model) Flush(cpu cpuset.ID) {
	t := m.cpus.Get(cpu)
	t.mu.Lock()
	t.entries.Clear(true)
	t.mu.Unlock()
	m.flushes.Add(1)
}

// Load records that cpu runs owner under id. It returns a *Conflict if the
// TLB still holds entries for id on behalf of another owner; the entries are
// retagged either way.
func (m *Model) Load(cpu cpuset.ID, id uint64, owner Owner) error {
	t := m.cpus.Get(cpu)
	t.mu.Lock()
	defer t.mu.Unlock()
	m.loads.Add(1)
	stale, ok := t.entries.ReplaceOrInsert(Entry{ID: id, Owner: owner})
	if ok && stale.Owner != owner {
		m.conflicts.Add(1)
		return &Conflict{CPU: cpu, ID: id, Owner: owner, Stale: stale.Owner}
	}
	return nil
}

// Lookup returns the owner cached for id on cpu.
func (m *Model) Lookup(cpu cpuset.ID, id uint64) (Owner, bool) {
	t := m.cpus.Get(cpu)
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries.Get(Entry{ID: id})
	return e.Owner, ok
}

// Entries returns the contents of cpu's TLB in id order.
func (m *Model) Entries(cpu cpuset.ID) []Entry {
	t := m.cpus.Get(cpu)
	t.mu.Lock()
	defer t.mu.Unlock()
	es := make([]Entry, 0, t.entries.Len())
	t.entries.Ascend(func(e Entry) bool {
		es = append(es, e)
		return true
	})
	return es
}

// Stats holds model event counts.
type Stats struct {
	Loads     uint64
	Flushes   uint64
	Conflicts uint64
}

// Stats returns the event counts.
func (m *Model) Stats() Stats {
	return Stats{
		Loads:     m.loads.Load(),
		Flushes:   m.flushes.Load(),
		Conflicts: m.conflicts.Load(),
	}
}
