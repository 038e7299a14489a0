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
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPacking(t *testing.T) {
	inc := GenerationInc[uint32, tiny]()
	if inc != 4 {
		t.Fatalf("GenerationInc: got %d, want 4", inc)
	}
	if m := Mask[uint32, tiny](); m != 3 {
		t.Errorf("Mask: got %#x, want 0x3", m)
	}
	v := Make[uint32, tiny](7, 3*inc+1)
	if v.ID() != 3 || v.Generation() != 3*inc {
		t.Errorf("Make(7, %#x): got id %d generation %#x, want id 3 generation %#x", 3*inc+1, v.ID(), v.Generation(), 3*inc)
	}
	if !v.SameGeneration(3*inc) || v.SameGeneration(2*inc) {
		t.Errorf("%v: SameGeneration disagrees with Generation %#x", v, v.Generation())
	}
	if got, want := v.String(), "0x3:3"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
}

func TestInvalid(t *testing.T) {
	inv := Invalid[uint32, tiny]()
	if inv.IsValid() {
		t.Errorf("Invalid is valid")
	}
	if got := inv.String(); got != "invalid" {
		t.Errorf("Invalid.String: got %q", got)
	}
	if !FromValue[uint32, tiny](0xfffffffc).IsInvalidGeneration() {
		t.Errorf("0xfffffffc is not the invalid generation")
	}
	// The invalid generation is never current, so Invalid belongs to no
	// usable generation.
	for _, gen := range []uint32{0, 4, 0xfffffff8} {
		if inv.SameGeneration(gen) {
			t.Errorf("Invalid.SameGeneration(%#x) = true", gen)
		}
	}
}

func TestSplitWordValidity(t *testing.T) {
	for _, tc := range []struct {
		value uint64
		valid bool
	}{
		{math.MaxUint64, false},
		{0xffffffff_fffffffe, true},
		{0xfffffffe_ffffffff, true},
		{0x00000001_00000001, true},
		{0, true},
	} {
		if got := FromValue[uint64, ARM32ASID](tc.value).IsValid(); got != tc.valid {
			t.Errorf("ARM32ASID(%#x).IsValid: got %t, want %t", tc.value, got, tc.valid)
		}
	}
}

func TestSlotZeroValue(t *testing.T) {
	var s tinySlot
	if got := s.Load(); got != Invalid[uint32, tiny]() {
		t.Errorf("zero Slot: got %v, want invalid", got)
	}
	v := Make[uint32, tiny](2, 8)
	s.Store(v)
	if old := s.Swap(Invalid[uint32, tiny]()); old != v {
		t.Errorf("Swap: got %v, want %v", old, v)
	}
	if s.Load().IsValid() {
		t.Errorf("Slot still valid after swapping in Invalid")
	}
}

func TestDescribe(t *testing.T) {
	got := []LayoutInfo{
		Describe[uint64, ARM64ASID16](),
		Describe[uint64, ARM32ASID](),
		Describe[uint32, X86PCID](),
	}
	want := []LayoutInfo{
		{Name: "arm64-asid16", IDBits: 16, Base: 1, RegisterBits: 64, WordBits: 64},
		{Name: "arm32-asid", IDBits: 8, Base: 1, RegisterBits: 32, WordBits: 64},
		{Name: "x86-pcid", IDBits: 12, Base: 2, RegisterBits: 64, WordBits: 32},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Describe mismatch (-want +got):\n%s", diff)
	}
	if got := want[2].Usable(); got != 4094 {
		t.Errorf("x86-pcid Usable: got %d, want 4094", got)
	}
}

func TestWrapInterval(t *testing.T) {
	const year = 365 * 24 * time.Hour
	for _, tc := range []struct {
		bits uint
		want float64
		unit time.Duration
	}{
		{32, 429.4967296, time.Second},
		{64, 58494.24, year},
	} {
		got := WrapInterval(tc.bits, 100*time.Nanosecond) / tc.unit.Seconds()
		if math.Abs(got-tc.want)/tc.want > 1e-6 {
			t.Errorf("WrapInterval(%d, 100ns): got %f %v, want %f", tc.bits, got, tc.unit, tc.want)
		}
	}
}
