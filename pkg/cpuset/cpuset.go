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

// Package cpuset provides CPU identifiers, online CPU sets, per-CPU storage
// and atomic CPU masks.
package cpuset

import (
	"fmt"
	"strings"

	"gvisor.dev/asidalloc/pkg/bits"
)

// ID identifies a CPU. IDs are dense and start at zero.
type ID uint32

// Online enumerates the CPUs that are currently online.
//
// The set may change over time, but MaxCPUs must not, and the set must be
// stable while an allocator's lock is held. Users recount the set whenever
// they need its size; a change to the online set is coordinated by the
// caller.
type Online interface {
	// MaxCPUs returns the exclusive upper bound on CPU IDs.
	MaxCPUs() int

	// IsOnline reports whether id is online.
	IsOnline(id ID) bool

	// ForEach calls f for each online CPU in increasing order.
	ForEach(f func(id ID))
}

// Static is an immutable Online set.
type Static struct {
	max   int
	words []uint64
}

// NewStatic returns a Static containing ids. MaxCPUs is one more than the
// largest id.
func NewStatic(ids ...ID) *Static {
	return NewStaticMax(0, ids...)
}

// NewStaticMax returns a Static containing ids whose MaxCPUs is at least max,
// leaving room for CPUs that are possible but not online.
func NewStaticMax(max int, ids ...ID) *Static {
	for _, id := range ids {
		if int(id) >= max {
			max = int(id) + 1
		}
	}
	s := &Static{
		max:   max,
		words: make([]uint64, wordsFor(max)),
	}
	for _, id := range ids {
		s.words[id/64] |= bits.MaskOf[uint64](int(id % 64))
	}
	return s
}

// Range returns a Static containing CPUs [0, n).
func Range(n int) *Static {
	ids := make([]ID, n)
	for i := range ids {
		ids[i] = ID(i)
	}
	return NewStatic(ids...)
}

// MaxCPUs implements Online.MaxCPUs.
func (s *Static) MaxCPUs() int {
	return s.max
}

// IsOnline implements Online.IsOnline.
func (s *Static) IsOnline(id ID) bool {
	if int(id) >= s.max {
		return false
	}
	return bits.IsAnyOn(s.words[id/64], bits.MaskOf[uint64](int(id%64)))
}

// ForEach implements Online.ForEach.
func (s *Static) ForEach(f func(id ID)) {
	for i, w := range s.words {
		bits.ForEachSetBit64(w, func(b int) {
			f(ID(i*64 + b))
		})
	}
}

// Count returns the number of CPUs in s.
func (s *Static) Count() int {
	return Count(s)
}

// String returns s in Linux list format, e.g. "0-3,8".
func (s *Static) String() string {
	return Format(s)
}

// Count returns the number of online CPUs in o.
func Count(o Online) int {
	n := 0
	o.ForEach(func(ID) { n++ })
	return n
}

// Format renders the online CPUs of o in Linux list format, as used by
// /sys/devices/system/cpu/online.
func Format(o Online) string {
	var (
		sb    strings.Builder
		start = -1
		prev  = -1
	)
	flush := func() {
		if start < 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		if start == prev {
			fmt.Fprintf(&sb, "%d", start)
		} else {
			fmt.Fprintf(&sb, "%d-%d", start, prev)
		}
	}
	o.ForEach(func(id ID) {
		if int(id) != prev+1 || start < 0 {
			flush()
			start = int(id)
		}
		prev = int(id)
	})
	flush()
	return sb.String()
}

func wordsFor(n int) int {
	return (n + 63) / 64
}
