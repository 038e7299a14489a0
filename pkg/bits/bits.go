// Copyright 2018 The gVisor Authors.
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

// Package bits includes all bit related types and operations.
package bits

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Unsigned is the set of unsigned integer types that the operations in this
// package accept.
type Unsigned interface {
	constraints.Unsigned
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T Unsigned](mask, bits T) bool {
	return mask&bits != 0
}

// MaskOf returns a T with only bit i set.
func MaskOf[T Unsigned](i int) T {
	return T(1) << uint(i)
}

// LowMask returns a T with the n least significant bits set. n may be equal
// to the width of T, in which case all bits are set.
func LowMask[T Unsigned](n uint) T {
	if n >= Width[T]() {
		return ^T(0)
	}
	return T(1)<<n - 1
}

// Width returns the number of bits in T.
func Width[T Unsigned]() uint {
	return uint(bits.Len64(uint64(^T(0))))
}

// TrailingZeros64 returns the number of bits before the least significant 1
// bit in x; in other words, it returns the index of the least significant 1
// bit in x. If x is 0, TrailingZeros64 returns 64.
func TrailingZeros64(x uint64) int {
	return bits.TrailingZeros64(x)
}

// ForEachSetBit64 calls f once for each set bit in x, with argument i equal to
// the set bit's index, in increasing order.
func ForEachSetBit64(x uint64, f func(i int)) {
	for x != 0 {
		i := TrailingZeros64(x)
		f(i)
		x &^= MaskOf[uint64](i)
	}
}
