// Copyright 2026 The gVisor Authors.
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

package cpuset

import (
	"fmt"

	"golang.org/x/sys/cpu"

	"gvisor.dev/asidalloc/pkg/atomicbitops"
	"gvisor.dev/asidalloc/pkg/bits"
)

// Mask is an atomic bitmask with one bit per CPU.
//
// All operations are lock-free and may be called concurrently.
type Mask struct {
	max   int
	words []atomicbitops.Uint64
}

// NewMask returns an empty Mask covering CPUs [0, max).
func NewMask(max int) *Mask {
	return &Mask{
		max:   max,
		words: make([]atomicbitops.Uint64, wordsFor(max)),
	}
}

func (m *Mask) locate(id ID) (*atomicbitops.Uint64, uint64) {
	if int(id) >= m.max {
		panic(fmt.Sprintf("CPU %d out of range for mask of %d CPUs", id, m.max))
	}
	return &m.words[id/64], bits.MaskOf[uint64](int(id % 64))
}

// Test reports whether id's bit is set.
func (m *Mask) Test(id ID) bool {
	w, b := m.locate(id)
	return bits.IsAnyOn(w.Load(), b)
}

// TestAndClear clears id's bit and reports whether it was set.
func (m *Mask) TestAndClear(id ID) bool {
	w, b := m.locate(id)
	return bits.IsAnyOn(w.And(^b), b)
}

// Fill replaces the contents of m with the set of CPUs online in o.
func (m *Mask) Fill(o Online) {
	next := make([]uint64, len(m.words))
	o.ForEach(func(id ID) {
		if int(id) >= m.max {
			panic(fmt.Sprintf("online CPU %d out of range for mask of %d CPUs", id, m.max))
		}
		next[id/64] |= bits.MaskOf[uint64](int(id % 64))
	})
	for i := range m.words {
		m.words[i].Store(next[i])
	}
}

// Count returns the number of set bits. The result is not a consistent
// snapshot if m is concurrently modified.
func (m *Mask) Count() int {
	n := 0
	for i := range m.words {
		bits.ForEachSetBit64(m.words[i].Load(), func(int) { n++ })
	}
	return n
}

// PerCPU holds one T for each CPU in [0, max).
//
// Entries are padded to separate cache lines, so that writes by one CPU do
// not contend with accesses to its neighbours' entries. The address of an
// entry is stable for the lifetime of the PerCPU.
type PerCPU[T any] struct {
	entries []perCPUEntry[T]
}

type perCPUEntry[T any] struct {
	_     cpu.CacheLinePad
	value T
}

// NewPerCPU returns a PerCPU with zero-valued entries for CPUs [0, max).
func NewPerCPU[T any](max int) *PerCPU[T] {
	return &PerCPU[T]{
		entries: make([]perCPUEntry[T], max),
	}
}

// Get returns the entry for id.
func (p *PerCPU[T]) Get(id ID) *T {
	if int(id) >= len(p.entries) {
		panic(fmt.Sprintf("CPU %d out of range for per-CPU storage of %d CPUs", id, len(p.entries)))
	}
	return &p.entries[id].value
}

// Len returns the number of entries.
func (p *PerCPU[T]) Len() int {
	return len(p.entries)
}
