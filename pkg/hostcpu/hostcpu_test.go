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

package hostcpu

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/asidalloc/pkg/cpuset"
)

func TestMaxValueInLinuxBitmap(t *testing.T) {
	for _, test := range []struct {
		str string
		max uint64
	}{
		{"0", 0},
		{"0\n", 0},
		{"0,2", 2},
		{"0-63", 63},
		{"0-3,8-11", 11},
	} {
		t.Run(fmt.Sprintf("%q", test.str), func(t *testing.T) {
			max, err := maxValueInLinuxBitmap(test.str)
			if err != nil || max != test.max {
				t.Errorf("maxValueInLinuxBitmap: got (%d, %v), wanted (%d, nil)", max, err, test.max)
			}
		})
	}
}

func TestMaxValueInLinuxBitmapErrors(t *testing.T) {
	for _, str := range []string{"", "\n"} {
		t.Run(fmt.Sprintf("%q", str), func(t *testing.T) {
			max, err := maxValueInLinuxBitmap(str)
			if err == nil {
				t.Errorf("maxValueInLinuxBitmap: got (%d, nil), wanted (_, error)", max)
			}
			t.Log(err)
		})
	}
}

func TestParseLinuxBitmap(t *testing.T) {
	for _, test := range []struct {
		str  string
		want []cpuset.ID
	}{
		{"0", []cpuset.ID{0}},
		{"0\n", []cpuset.ID{0}},
		{"0,2", []cpuset.ID{0, 2}},
		{"0-3,8-9", []cpuset.ID{0, 1, 2, 3, 8, 9}},
		{"5-5", []cpuset.ID{5}},
		{"8191", []cpuset.ID{8191}},
	} {
		t.Run(fmt.Sprintf("%q", test.str), func(t *testing.T) {
			got, err := parseLinuxBitmap(test.str)
			if err != nil {
				t.Fatalf("parseLinuxBitmap: got error %v", err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("parseLinuxBitmap mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLinuxBitmapErrors(t *testing.T) {
	for _, str := range []string{"", "\n", "a", "3-1", "0-", "1,,2", "8192", "0-4294967295", "4294967296"} {
		t.Run(fmt.Sprintf("%q", str), func(t *testing.T) {
			if ids, err := parseLinuxBitmap(str); err == nil {
				t.Errorf("parseLinuxBitmap: got (%v, nil), wanted (_, error)", ids)
			}
		})
	}
}

func TestOnline(t *testing.T) {
	online, err := Online()
	if err != nil {
		t.Skipf("host CPUs unavailable: %v", err)
	}
	if online.Count() == 0 {
		t.Errorf("Online returned no CPUs")
	}
	if max, err := MaxPossibleCPU(); err == nil && max < maxCPUs && online.MaxCPUs() <= int(max) {
		t.Errorf("MaxCPUs: got %d, want more than the highest possible CPU %d", online.MaxCPUs(), max)
	}
	t.Logf("online CPUs: %s", online)
}

func TestParseList(t *testing.T) {
	s, err := ParseList("0-1,4")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if got, want := s.String(), "0-1,4"; got != want {
		t.Errorf("ParseList(%q).String(): got %q, want %q", "0-1,4", got, want)
	}
	if s.MaxCPUs() != 5 || s.IsOnline(2) {
		t.Errorf("ParseList: got MaxCPUs %d, IsOnline(2) %t", s.MaxCPUs(), s.IsOnline(2))
	}
	if _, err := ParseList("x"); err == nil {
		t.Errorf("ParseList(%q): got nil error", "x")
	}
}
