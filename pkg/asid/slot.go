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

package asid

import (
	"gvisor.dev/asidalloc/pkg/atomicbitops"
)

// Slot is an atomically accessed ASID.
//
// Every address space owns one Slot per namespace, and every CPU owns an
// active and a reserved Slot. The zero value holds Invalid.
type Slot[T Word, L Layout] struct {
	// complement holds the bitwise complement of the value, so that the zero
	// value is Invalid.
	complement atomicbitops.Word[T]
}

// Load atomically loads the value.
func (s *Slot[T, L]) Load() ASID[T, L] {
	return ASID[T, L]{value: ^s.complement.Load()}
}

// Store atomically stores a.
func (s *Slot[T, L]) Store(a ASID[T, L]) {
	s.complement.Store(^a.value)
}

// Swap atomically stores a and returns the previous value.
func (s *Slot[T, L]) Swap(a ASID[T, L]) ASID[T, L] {
	return ASID[T, L]{value: ^s.complement.Swap(^a.value)}
}

// CPUState is the allocator state of a single CPU.
//
// Access discipline:
//
//   - active is exchanged by its own CPU without the allocator lock on the
//     fast path, stored by its own CPU with the lock held on the slow path,
//     and exchanged by any CPU with the lock held during roll-over. It is
//     therefore only ever accessed atomically.
//   - reserved is only read or written with the allocator lock held. It is
//     still a Slot so that introspection never races with roll-over.
type CPUState[T Word, L Layout] struct {
	// active is the ASID most recently switched to on this CPU, or Invalid
	// if a roll-over happened since.
	active Slot[T, L]

	// reserved is the ASID that was active on this CPU during the last
	// roll-over in which the CPU had a valid active value.
	reserved Slot[T, L]
}

// checkAndUpdateReserved replaces reserved with update iff it equals old.
//
// Preconditions: the allocator lock is held.
func (s *CPUState[T, L]) checkAndUpdateReserved(old, update ASID[T, L]) bool {
	if s.reserved.Load() != old {
		return false
	}
	s.reserved.Store(update)
	return true
}
