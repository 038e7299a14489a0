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

package bits

import (
	"fmt"
	"reflect"
	"testing"
)

func TestTrailingZeros64(t *testing.T) {
	for i := 0; i <= 64; i++ {
		n := uint64(1) << uint(i)
		if got, want := TrailingZeros64(n), i; got != want {
			t.Errorf("TrailingZeros64(%#x): got %d, wanted %d", n, got, want)
		}
	}

	for i := 0; i < 64; i++ {
		n := ^uint64(0) << uint(i)
		if got, want := TrailingZeros64(n), i; got != want {
			t.Errorf("TrailingZeros64(%#x): got %d, wanted %d", n, got, want)
		}
	}
}

func TestForEachSetBit64(t *testing.T) {
	for _, want := range [][]int{
		{},
		{0},
		{1},
		{63},
		{0, 1},
		{1, 3, 5},
		{0, 63},
	} {
		var n uint64
		for _, i := range want {
			n |= MaskOf[uint64](i)
		}
		// "Slice values are deeply equal when ... they are both nil or both
		// non-nil ..."
		got := make([]int, 0)
		ForEachSetBit64(n, func(i int) {
			got = append(got, i)
		})
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ForEachSetBit64(%#x): iterated bits %v, wanted %v", n, got, want)
		}
	}
}

func TestIsAnyOn(t *testing.T) {
	for _, tc := range []struct {
		mask uint64
		bits uint64
		want bool
	}{
		{0, 0, false},
		{MaskOf[uint64](63), MaskOf[uint64](63), true},
		{MaskOf[uint64](0), MaskOf[uint64](1), false},
		{MaskOf[uint64](1) | MaskOf[uint64](63), MaskOf[uint64](0) | MaskOf[uint64](63), true},
		{MaskOf[uint64](1) | MaskOf[uint64](63), MaskOf[uint64](0) | MaskOf[uint64](62), false},
	} {
		if got := IsAnyOn(tc.mask, tc.bits); got != tc.want {
			t.Errorf("IsAnyOn(%#x, %#x) = %v, wanted: %v", tc.mask, tc.bits, got, tc.want)
		}
	}
}

func TestLowMask(t *testing.T) {
	for _, test := range []struct {
		n      uint
		want32 uint32
		want64 uint64
	}{
		{0, 0, 0},
		{1, 0x1, 0x1},
		{8, 0xff, 0xff},
		{32, 0xffffffff, 0xffffffff},
		{48, 0xffffffff, 0xffffffffffff},
		{64, 0xffffffff, 0xffffffffffffffff},
	} {
		t.Run(fmt.Sprintf("%d", test.n), func(t *testing.T) {
			if got := LowMask[uint32](test.n); got != test.want32 {
				t.Errorf("LowMask[uint32](%d): got %#x, wanted %#x", test.n, got, test.want32)
			}
			if got := LowMask[uint64](test.n); got != test.want64 {
				t.Errorf("LowMask[uint64](%d): got %#x, wanted %#x", test.n, got, test.want64)
			}
		})
	}
}

func TestWidth(t *testing.T) {
	if got := Width[uint8](); got != 8 {
		t.Errorf("Width[uint8]: got %d, wanted 8", got)
	}
	if got := Width[uint32](); got != 32 {
		t.Errorf("Width[uint32]: got %d, wanted 32", got)
	}
	if got := Width[uint64](); got != 64 {
		t.Errorf("Width[uint64]: got %d, wanted 64", got)
	}
}
