// Copyright 2022 The gVisor Authors.
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

package atomicbitops

// Unsigned is the set of unsigned integer types that Word can hold.
type Unsigned interface {
	~uint32 | ~uint64
}

// Word is an atomic unsigned integer of width T.
//
// Word is always backed by a 64-bit aligned Uint64 so that 64-bit words are
// safe on 32-bit platforms; narrower values are zero-extended. Arithmetic
// wraps at the width of T, not at 64 bits.
//
// The zero value holds 0.
type Word[T Unsigned] struct {
	value Uint64
}

// Load is analogous to atomic.LoadUint64.
//
//go:nosplit
func (w *Word[T]) Load() T {
	return T(w.value.Load())
}

// Store is analogous to atomic.StoreUint64.
//
//go:nosplit
func (w *Word[T]) Store(v T) {
	w.value.Store(uint64(v))
}

// Swap is analogous to atomic.SwapUint64.
//
//go:nosplit
func (w *Word[T]) Swap(v T) T {
	return T(w.value.Swap(uint64(v)))
}

// CompareAndSwap is analogous to atomic.CompareAndSwapUint64.
//
//go:nosplit
func (w *Word[T]) CompareAndSwap(oldVal, newVal T) bool {
	return w.value.CompareAndSwap(uint64(oldVal), uint64(newVal))
}

// Add atomically adds v and returns the new value, wrapping at the width of
// T.
func (w *Word[T]) Add(v T) T {
	for {
		o := w.value.Load()
		n := T(o) + v
		if w.value.CompareAndSwap(o, uint64(n)) {
			return n
		}
	}
}
