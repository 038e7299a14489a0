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

// Package hostcpu provides utilities for working with CPU information provided
// by a host Linux kernel.
package hostcpu

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/sys/unix"
	"gvisor.dev/asidalloc/pkg/cpuset"
	"gvisor.dev/asidalloc/pkg/log"
)

const (
	possiblePath = "/sys/devices/system/cpu/possible"
	onlinePath   = "/sys/devices/system/cpu/online"

	// maxCPUs bounds the CPU ids accepted in a list. It matches the largest
	// NR_CPUS Linux is configured with.
	maxCPUs = 8192
)

// MaxPossibleCPU returns the highest possible CPU number, which is guaranteed
// not to change for the lifetime of the host kernel.
func MaxPossibleCPU() (uint32, error) {
	data, err := os.ReadFile(possiblePath)
	if err != nil {
		return 0, err
	}
	str := string(data)
	// Linux: drivers/base/cpu.c:show_cpus_attr() =>
	// include/linux/cpumask.h:cpumask_print_to_pagebuf() =>
	// lib/bitmap.c:bitmap_print_to_pagebuf()
	i, err := maxValueInLinuxBitmap(str)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (%q): %v", possiblePath, str, err)
	}
	return uint32(i), nil
}

// Online returns the set of CPUs the host reports as online. MaxCPUs covers
// every possible CPU, so CPUs that come online later fit in per-CPU state
// sized from it.
//
// If sysfs is unavailable, Online falls back to the calling thread's
// scheduler affinity mask, which is a subset of the online CPUs.
func Online() (*cpuset.Static, error) {
	possible := 0
	if max, err := MaxPossibleCPU(); err != nil {
		log.Debugf("Reading possible CPUs failed (%v), sizing for online CPUs only", err)
	} else if max < maxCPUs {
		possible = int(max) + 1
	}

	data, err := os.ReadFile(onlinePath)
	if err == nil {
		ids, perr := parseLinuxBitmap(string(data))
		if perr != nil {
			return nil, fmt.Errorf("invalid %s (%q): %w", onlinePath, string(data), perr)
		}
		return cpuset.NewStaticMax(possible, ids...), nil
	}
	log.Debugf("Reading %s failed (%v), falling back to sched_getaffinity", onlinePath, err)

	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	var ids []cpuset.ID
	for i := 0; len(ids) < set.Count(); i++ {
		if set.IsSet(i) {
			ids = append(ids, cpuset.ID(i))
		}
	}
	return cpuset.NewStaticMax(possible, ids...), nil
}

// ParseList returns the CPUs in str, which is in Linux list format, e.g.
// "0-3,8".
func ParseList(str string) (*cpuset.Static, error) {
	ids, err := parseLinuxBitmap(str)
	if err != nil {
		return nil, fmt.Errorf("invalid CPU list %q: %w", str, err)
	}
	return cpuset.NewStatic(ids...), nil
}

// maxValueInLinuxBitmap returns the maximum value specified in str, which is a
// string emitted by Linux's lib/bitmap.c:bitmap_print_to_pagebuf(list=true).
func maxValueInLinuxBitmap(str string) (uint64, error) {
	str = strings.TrimSpace(str)
	// Find the last decimal number in str.
	idx := strings.LastIndexFunc(str, func(c rune) bool {
		return !unicode.IsDigit(c)
	})
	if idx != -1 {
		str = str[idx+1:]
	}
	i, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, err
	}
	return i, nil
}

// parseLinuxBitmap returns every value specified in str, which is in the same
// list format as accepted by maxValueInLinuxBitmap, e.g. "0-3,8,10-11". Ids
// must be below maxCPUs.
func parseLinuxBitmap(str string) ([]cpuset.ID, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil, fmt.Errorf("empty list")
	}
	var ids []cpuset.ID
	for _, r := range strings.Split(str, ",") {
		first, last, isRange := strings.Cut(r, "-")
		lo, err := strconv.ParseUint(first, 10, 32)
		if err != nil {
			return nil, err
		}
		hi := lo
		if isRange {
			if hi, err = strconv.ParseUint(last, 10, 32); err != nil {
				return nil, err
			}
			if hi < lo {
				return nil, fmt.Errorf("descending range %q", r)
			}
		}
		if hi >= maxCPUs {
			return nil, fmt.Errorf("CPU %d in %q exceeds the limit of %d CPUs", hi, r, maxCPUs)
		}
		for v := lo; v <= hi; v++ {
			ids = append(ids, cpuset.ID(v))
		}
	}
	return ids, nil
}
