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
	"gvisor.dev/asidalloc/pkg/bits"
)

// ARM64ASID8 is the 8-bit ASID space of ARMv8 cores without 16-bit ASID
// support. ASID 0 is used by the kernel.
type ARM64ASID8 struct{}

// Name implements Layout.Name.
func (ARM64ASID8) Name() string { return "arm64-asid8" }

// IDBits implements Layout.IDBits.
func (ARM64ASID8) IDBits() uint { return 8 }

// Base implements Layout.Base.
func (ARM64ASID8) Base() uint64 { return 1 }

// RegisterBits implements Layout.RegisterBits.
func (ARM64ASID8) RegisterBits() uint { return 64 }

// ARM64ASID16 is the 16-bit ASID space of ARMv8 cores with
// ID_AA64MMFR0_EL1.ASIDBits == 0b0010.
type ARM64ASID16 struct{}

// Name implements Layout.Name.
func (ARM64ASID16) Name() string { return "arm64-asid16" }

// IDBits implements Layout.IDBits.
func (ARM64ASID16) IDBits() uint { return 16 }

// Base implements Layout.Base.
func (ARM64ASID16) Base() uint64 { return 1 }

// RegisterBits implements Layout.RegisterBits.
func (ARM64ASID16) RegisterBits() uint { return 64 }

// ARM32ASID is the 8-bit ASID space of 32-bit ARM. It is meant to be used with
// a 64-bit word, which the CPU cannot access in one register.
type ARM32ASID struct{}

// Name implements Layout.Name.
func (ARM32ASID) Name() string { return "arm32-asid" }

// IDBits implements Layout.IDBits.
func (ARM32ASID) IDBits() uint { return 8 }

// Base implements Layout.Base.
func (ARM32ASID) Base() uint64 { return 1 }

// RegisterBits implements Layout.RegisterBits.
func (ARM32ASID) RegisterBits() uint { return 32 }

// X86PCID is the 12-bit process-context identifier space of x86-64. PCID 0
// means "no PCID" and PCID 1 is the fixed kernel PCID.
type X86PCID struct{}

// Name implements Layout.Name.
func (X86PCID) Name() string { return "x86-pcid" }

// IDBits implements Layout.IDBits.
func (X86PCID) IDBits() uint { return 12 }

// Base implements Layout.Base.
func (X86PCID) Base() uint64 { return 2 }

// RegisterBits implements Layout.RegisterBits.
func (X86PCID) RegisterBits() uint { return 64 }

// RISCVASID9 is the 9-bit ASID space of Sv39/Sv48 satp.
type RISCVASID9 struct{}

// Name implements Layout.Name.
func (RISCVASID9) Name() string { return "riscv-asid9" }

// IDBits implements Layout.IDBits.
func (RISCVASID9) IDBits() uint { return 9 }

// Base implements Layout.Base.
func (RISCVASID9) Base() uint64 { return 1 }

// RegisterBits implements Layout.RegisterBits.
func (RISCVASID9) RegisterBits() uint { return 64 }

// MIPSASID8 is the 8-bit EntryHi ASID space of 32-bit MIPS.
type MIPSASID8 struct{}

// Name implements Layout.Name.
func (MIPSASID8) Name() string { return "mips-asid8" }

// IDBits implements Layout.IDBits.
func (MIPSASID8) IDBits() uint { return 8 }

// Base implements Layout.Base.
func (MIPSASID8) Base() uint64 { return 1 }

// RegisterBits implements Layout.RegisterBits.
func (MIPSASID8) RegisterBits() uint { return 32 }

// LayoutInfo describes a Layout instantiated with a Word.
type LayoutInfo struct {
	Name         string
	IDBits       uint
	Base         uint64
	RegisterBits uint
	WordBits     uint
}

// NumIDs returns the size of the id namespace.
func (i LayoutInfo) NumIDs() uint64 {
	return 1 << i.IDBits
}

// Usable returns the number of ids available for dynamic assignment.
func (i LayoutInfo) Usable() uint64 {
	if i.Base >= i.NumIDs() {
		return 0
	}
	return i.NumIDs() - i.Base
}

// Describe returns the LayoutInfo for T and L.
func Describe[T Word, L Layout]() LayoutInfo {
	var l L
	return LayoutInfo{
		Name:         l.Name(),
		IDBits:       l.IDBits(),
		Base:         l.Base(),
		RegisterBits: l.RegisterBits(),
		WordBits:     bits.Width[T](),
	}
}
