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
	"gvisor.dev/asidalloc/pkg/bitmap"
)

// namespace tracks the ids claimed in the current generation.
//
// All methods require the allocator lock.
type namespace struct {
	// claimed has one bit per id; a set bit means the id is in use in the
	// current generation.
	claimed bitmap.Bitmap

	// base is the first id available for assignment.
	base uint32

	// cursor is where the next scan starts. Occupancy is assumed to be
	// sparse, so a free id is normally found at the cursor.
	cursor uint32
}

func newNamespace(numIDs, base uint32) namespace {
	return namespace{
		claimed: bitmap.New(numIDs),
		base:    base,
		cursor:  base,
	}
}

// numIDs returns the size of the namespace.
func (n *namespace) numIDs() uint32 {
	return n.claimed.Size()
}

// reset releases every id and moves the cursor back to base.
func (n *namespace) reset() {
	n.claimed.Reset()
	n.cursor = n.base
}

// findNext returns the first free id at or after the cursor and advances the
// cursor past it. It returns numIDs() if there is none.
//
// findNext does not claim the id.
func (n *namespace) findNext() uint32 {
	if n.cursor >= n.numIDs() {
		return n.numIDs()
	}
	id, err := n.claimed.FirstZero(n.cursor)
	if err != nil {
		n.cursor = n.numIDs()
		return n.numIDs()
	}
	n.cursor = id + 1
	return id
}

// set claims id.
func (n *namespace) set(id uint32) {
	n.claimed.Add(id)
}

// test reports whether id is claimed.
func (n *namespace) test(id uint32) bool {
	return n.claimed.Contains(id)
}

// count returns the number of claimed ids.
func (n *namespace) count() int {
	return int(n.claimed.GetNumOnes())
}

// ids returns the claimed ids in increasing order.
func (n *namespace) ids() []uint32 {
	return n.claimed.ToSlice()
}
