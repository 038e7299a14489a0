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
	"time"
)

// WrapInterval returns the worst-case time until a wordBits-wide packed value
// wraps around, if every allocInterval a new value is consumed. After a
// wrap, an address space that stayed inactive for the whole interval could
// observe its old value become current again.
//
// With 32 bits and a new value every 100ns the counter wraps after about 429
// seconds; with 64 bits, after about 58494 years.
func WrapInterval(wordBits uint, allocInterval time.Duration) float64 {
	return math.Ldexp(allocInterval.Seconds(), int(wordBits))
}

// WrapInterval returns the wrap interval of the word used by i.
func (i LayoutInfo) WrapInterval(allocInterval time.Duration) float64 {
	return WrapInterval(i.WordBits, allocInterval)
}
