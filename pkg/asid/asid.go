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

// Package asid implements allocation and reclamation of hardware address
// space identifiers.
//
// An ASID is a small numeric tag that the TLB uses to keep translations of
// different address spaces apart. The hardware namespace holds only tens to a
// few hundred values while a kernel hosts many more address spaces, so ids are
// multiplexed: each value carries a generation in its upper bits, and an id is
// only meaningful while its generation is current. When the namespace is
// exhausted the allocator rolls over to a new generation, keeping only the ids
// that are live on some CPU and asking every CPU to flush its TLB once.
//
// Allocation has two entry points. CanUse is the lock-free fast path taken on
// every context switch; Alloc is the locked slow path taken when CanUse fails.
package asid

import (
	"fmt"

	"gvisor.dev/asidalloc/pkg/bits"
)

// Word is the backing integer of a packed ASID value.
type Word interface {
	~uint32 | ~uint64
}

// Layout describes an architecture's ASID namespace. Implementations are
// zero-size types used as type parameters; their methods must return
// constants.
type Layout interface {
	// Name is a short identifier for the layout.
	Name() string

	// IDBits is the number of hardware-visible id bits.
	IDBits() uint

	// Base is the first id available for dynamic assignment. Ids below Base
	// are never handed out.
	Base() uint64

	// RegisterBits is the width of the machine word used to access ASID
	// values.
	RegisterBits() uint
}

// ASID is a packed (generation, id) value:
//
//	 W-1                     IDBits-1      0
//	+------------------------+--------------+
//	|   generation count     |      id      |
//	+------------------------+--------------+
//
// The all-ones value is the Invalid sentinel.
type ASID[T Word, L Layout] struct {
	value T
}

// GenerationInc returns the amount by which the generation advances on each
// roll-over.
func GenerationInc[T Word, L Layout]() T {
	var l L
	return T(1) << l.IDBits()
}

// Mask returns the mask covering the id bits.
func Mask[T Word, L Layout]() T {
	var l L
	return bits.LowMask[T](l.IDBits())
}

// Invalid returns the sentinel value.
func Invalid[T Word, L Layout]() ASID[T, L] {
	return ASID[T, L]{value: ^T(0)}
}

// InvalidGeneration returns the generation that would make the value with
// all id bits set equal to Invalid. The allocator never uses it.
func InvalidGeneration[T Word, L Layout]() T {
	return ^T(0) &^ Mask[T, L]()
}

// Make packs id and generation. The id is truncated to the id bits and the
// generation's id bits are ignored.
func Make[T Word, L Layout](id, generation T) ASID[T, L] {
	m := Mask[T, L]()
	return ASID[T, L]{value: (generation &^ m) | (id & m)}
}

// FromValue returns the ASID with the given packed value.
func FromValue[T Word, L Layout](v T) ASID[T, L] {
	return ASID[T, L]{value: v}
}

// Value returns the packed value.
func (a ASID[T, L]) Value() T {
	return a.value
}

// ID returns the hardware-visible id.
func (a ASID[T, L]) ID() T {
	return a.value & Mask[T, L]()
}

// Generation returns the generation bits.
func (a ASID[T, L]) Generation() T {
	return a.value &^ Mask[T, L]()
}

// IsValid reports whether a is not the Invalid sentinel.
//
// When T is wider than the machine register the value cannot be loaded in a
// single access, so a value is judged invalid when both 32-bit halves are all
// ones. Torn reads of a value being replaced by Invalid are then still seen
// as invalid.
func (a ASID[T, L]) IsValid() bool {
	var l L
	if bits.Width[T]() <= l.RegisterBits() {
		return a.value != ^T(0)
	}
	v := uint64(a.value)
	return uint32(v>>32)&uint32(v) != ^uint32(0)
}

// IsInvalidGeneration reports whether a is the invalid generation itself.
func (a ASID[T, L]) IsInvalidGeneration() bool {
	return a.value == InvalidGeneration[T, L]()
}

// SameGeneration reports whether a belongs to generation. Invalid never
// belongs to a current generation, since the invalid generation is skipped.
func (a ASID[T, L]) SameGeneration(generation T) bool {
	return a.value&^Mask[T, L]() == generation
}

// String implements fmt.Stringer.
func (a ASID[T, L]) String() string {
	if !a.IsValid() {
		return "invalid"
	}
	var l L
	return fmt.Sprintf("%#x:%d", uint64(a.Generation())>>l.IDBits(), uint64(a.ID()))
}
