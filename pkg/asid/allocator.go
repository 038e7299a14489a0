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
	"errors"
	"fmt"
	"time"

	"gvisor.dev/asidalloc/pkg/atomicbitops"
	"gvisor.dev/asidalloc/pkg/bits"
	"gvisor.dev/asidalloc/pkg/cpuset"
	"gvisor.dev/asidalloc/pkg/log"
	"gvisor.dev/asidalloc/pkg/sync"
)

// maxIDBits bounds the namespace bitmap to 1M entries.
const maxIDBits = 20

var (
	// ErrInvalidLayout is returned when a layout's id width does not leave
	// room for a generation in the word, or exceeds the supported namespace
	// size.
	ErrInvalidLayout = errors.New("invalid ASID layout")

	// ErrBaseOutOfRange is returned when a layout's base is not below the
	// namespace size.
	ErrBaseOutOfRange = errors.New("ASID base out of range")

	// ErrNamespaceTooSmall is returned when a roll-over could leave no free
	// id, i.e. when there are no more usable ids than online CPUs.
	ErrNamespaceTooSmall = errors.New("ASID namespace too small for online CPUs")
)

// Opts configures an Allocator.
type Opts struct {
	// Lock guards roll-over state. If nil, a sync.SpinMutex is used.
	Lock sync.Locker

	// Logger receives allocator events. If nil, the global logger is used.
	Logger log.Logger

	// RollOverLogInterval is the minimum interval between roll-over debug
	// messages. If zero, one second is used.
	RollOverLogInterval time.Duration
}

// Stats holds allocator event counts.
type Stats struct {
	// FastPath counts successful CanUse calls.
	FastPath uint64

	// SlowPath counts Alloc calls.
	SlowPath uint64

	// NewIDs counts ids claimed from the namespace.
	NewIDs uint64

	// CarryOvers counts stale values re-stamped with the current generation
	// because a CPU reserved them during roll-over.
	CarryOvers uint64

	// RollOvers counts generation roll-overs.
	RollOvers uint64

	// Flushes counts Alloc calls that reported a TLB flush.
	Flushes uint64

	// GenerationSkips counts roll-overs that skipped the invalid generation.
	GenerationSkips uint64
}

// Allocator hands out ASIDs of layout L to address spaces.
//
// Each address space owns a Slot. On every switch to an address space, the
// context switch code calls CanUse; if it fails, it calls Alloc and flushes
// the local TLB if Alloc says so. It then programs the value in Active(cpu)
// into the hardware.
//
// Two CPUs may call Alloc for the same Slot concurrently; the allocator lock
// serializes them and the second caller finds the value already current. No
// other lock needs to be held.
type Allocator[T Word, L Layout] struct {
	// generation is the current generation. It is only modified with mu
	// held, but is read without it on the fast path.
	generation atomicbitops.Word[T]

	// mu protects the fields below and the reserved field of every CPU.
	mu sync.Locker

	// online is the set of CPUs that may use the allocator. It must not
	// change while mu is held.
	online cpuset.Online

	// cpus is the per-CPU state.
	cpus *cpuset.PerCPU[CPUState[T, L]]

	// flushPending has a bit set for each CPU that must flush its TLB
	// before running with a value of the current generation. Bits are set
	// with mu held and cleared atomically by their own CPU.
	flushPending *cpuset.Mask

	// reserved tracks the ids claimed in the current generation.
	reserved namespace

	log      log.Logger
	rollLog  log.Logger
	fastPath atomicbitops.Uint64
	slowPath atomicbitops.Uint64
	newIDs   atomicbitops.Uint64
	carried  atomicbitops.Uint64
	rolls    atomicbitops.Uint64
	flushes  atomicbitops.Uint64
	skips    atomicbitops.Uint64
}

// New returns an Allocator for the CPUs in online.
//
// CPUs may come online later, provided they are below online.MaxCPUs() and
// the namespace still has more usable ids than online CPUs.
func New[T Word, L Layout](online cpuset.Online, opts Opts) (*Allocator[T, L], error) {
	var l L
	if l.IDBits() == 0 || l.IDBits() > maxIDBits || l.IDBits() >= bits.Width[T]() {
		return nil, fmt.Errorf("%w: %d id bits in a %d-bit word", ErrInvalidLayout, l.IDBits(), bits.Width[T]())
	}
	info := Describe[T, L]()
	if l.Base() >= info.NumIDs() {
		return nil, fmt.Errorf("%w: base %d, %d ids", ErrBaseOutOfRange, l.Base(), info.NumIDs())
	}
	n := cpuset.Count(online)
	if n == 0 || info.Usable() <= uint64(n) {
		return nil, fmt.Errorf("%w: %d usable ids, %d online CPUs", ErrNamespaceTooSmall, info.Usable(), n)
	}

	if opts.Lock == nil {
		opts.Lock = &sync.SpinMutex{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Log()
	}
	if opts.RollOverLogInterval == 0 {
		opts.RollOverLogInterval = time.Second
	}
	a := &Allocator[T, L]{
		mu:           opts.Lock,
		online:       online,
		cpus:         cpuset.NewPerCPU[CPUState[T, L]](online.MaxCPUs()),
		flushPending: cpuset.NewMask(online.MaxCPUs()),
		reserved:     newNamespace(uint32(info.NumIDs()), uint32(l.Base())),
		log:          opts.Logger,
		rollLog:      log.RateLimitedLogger(opts.Logger, opts.RollOverLogInterval),
	}
	a.generation.Store(GenerationInc[T, L]())
	return a, nil
}

// state returns the state of cpu, which must be online.
func (a *Allocator[T, L]) state(cpu cpuset.ID) *CPUState[T, L] {
	if !a.online.IsOnline(cpu) {
		panic(fmt.Sprintf("ASID allocation on CPU %d, which is not online", cpu))
	}
	return a.cpus.Get(cpu)
}

// CanUse is the fast path of a switch to the address space owning slot on
// cpu. It succeeds if slot holds a value of the current generation, in which
// case that value becomes cpu's active ASID and no TLB flush is needed.
//
// CanUse fails if the value is stale or if a roll-over invalidated cpu's
// active ASID since the last switch; the caller must then call Alloc.
//
// CanUse must be called on cpu and takes no locks.
func (a *Allocator[T, L]) CanUse(cpu cpuset.ID, slot *Slot[T, L]) (ASID[T, L], bool) {
	st := a.state(cpu)
	v := slot.Load()
	// SameGeneration implies v is valid.
	if !v.SameGeneration(a.generation.Load()) {
		return v, false
	}
	// A concurrent roll-over replaced active with Invalid and expects this
	// CPU to take the slow path, which reports the pending flush.
	if !st.active.Swap(v).IsValid() {
		return v, false
	}
	a.fastPath.Add(1)
	return v, true
}

// Alloc is the slow path of a switch to the address space owning slot on cpu.
// It makes sure slot holds a value of the current generation, allocating a
// new id if needed, and makes that value cpu's active ASID.
//
// The returned bool reports whether cpu must flush its TLB before running
// with the returned value. It is true at most once per CPU per roll-over.
//
// Alloc must be called on cpu.
func (a *Allocator[T, L]) Alloc(cpu cpuset.ID, slot *Slot[T, L]) (ASID[T, L], bool) {
	st := a.state(cpu)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.slowPath.Add(1)

	// Another CPU may have allocated for this slot, or rolled over, since
	// CanUse looked at it.
	v := slot.Load()
	generation := a.generation.Load()
	if !v.SameGeneration(generation) {
		v = a.newASID(v, generation)
		slot.Store(v)
	}

	st.active.Store(v)

	flush := a.flushPending.TestAndClear(cpu)
	if flush {
		a.flushes.Add(1)
	}
	return v, flush
}

// Active returns cpu's active ASID, which the context switch code programs
// into the hardware after CanUse or Alloc.
func (a *Allocator[T, L]) Active(cpu cpuset.ID) *Slot[T, L] {
	return &a.state(cpu).active
}

// Generation returns the current generation.
func (a *Allocator[T, L]) Generation() T {
	return a.generation.Load()
}

// Stats returns the event counts. Counters are read individually, so the
// result is not a consistent snapshot.
func (a *Allocator[T, L]) Stats() Stats {
	return Stats{
		FastPath:        a.fastPath.Load(),
		SlowPath:        a.slowPath.Load(),
		NewIDs:          a.newIDs.Load(),
		CarryOvers:      a.carried.Load(),
		RollOvers:       a.rolls.Load(),
		Flushes:         a.flushes.Load(),
		GenerationSkips: a.skips.Load(),
	}
}

// checkAndUpdateReserved replaces old with update in the reserved field of
// every online CPU holding old. It reports whether any CPU held it.
//
// Preconditions: a.mu is locked.
func (a *Allocator[T, L]) checkAndUpdateReserved(old, update ASID[T, L]) bool {
	res := false
	a.online.ForEach(func(cpu cpuset.ID) {
		if a.cpus.Get(cpu).checkAndUpdateReserved(old, update) {
			res = true
		}
	})
	return res
}

// newASID returns a value of generation for an address space whose previous
// value was old. If old was active on some CPU during the last roll-over, its
// id is kept; otherwise a free id is claimed, rolling over if there is none.
//
// Preconditions: a.mu is locked.
func (a *Allocator[T, L]) newASID(old ASID[T, L], generation T) ASID[T, L] {
	if old.IsValid() && a.reserved.test(uint32(old.ID())) {
		update := Make[T, L](old.ID(), generation)
		if a.checkAndUpdateReserved(old, update) {
			// The id was live during the roll-over and nobody else has
			// been given it since.
			a.carried.Add(1)
			return update
		}
	}

	id := a.reserved.findNext()
	if id == a.reserved.numIDs() {
		generation = a.generation.Add(GenerationInc[T, L]())
		if FromValue[T, L](generation).IsInvalidGeneration() {
			a.skips.Add(1)
			a.log.Warningf("ASID generation %#x collides with the invalid value, skipping", uint64(generation))
			generation = a.generation.Add(GenerationInc[T, L]())
		}
		a.rollOver()
		id = a.reserved.findNext()
		if id == a.reserved.numIDs() {
			panic(fmt.Sprintf("no free ASID after roll-over: %d of %d ids claimed, base %d", a.reserved.count(), a.reserved.numIDs(), a.reserved.base))
		}
	}
	a.reserved.set(id)
	a.newIDs.Add(1)
	return Make[T, L](T(id), generation)
}

// rollOver releases every id that is not active on some CPU, and marks every
// CPU as needing a TLB flush.
//
// Postconditions:
//   - each online CPU's reserved value is the one it was running, or its
//     previous reserved value if it had none.
//   - each online CPU's active value is Invalid.
//   - the claimed ids are exactly the valid reserved ids.
//
// Preconditions: a.mu is locked.
func (a *Allocator[T, L]) rollOver() {
	a.reserved.reset()

	numOnline := 0
	a.online.ForEach(func(cpu cpuset.ID) {
		numOnline++
		st := a.cpus.Get(cpu)
		v := st.active.Swap(Invalid[T, L]())
		// Keep the reservation from an earlier roll-over if this CPU has not
		// switched since.
		if v.IsValid() {
			st.reserved.Store(v)
		} else {
			v = st.reserved.Load()
		}
		if v.IsValid() {
			a.reserved.set(uint32(v.ID()))
		}
	})

	if n := a.reserved.count(); n > numOnline {
		panic(fmt.Sprintf("%d ASIDs reserved by %d online CPUs", n, numOnline))
	}

	a.flushPending.Fill(a.online)
	a.rolls.Add(1)
	a.rollLog.Debugf("ASID roll-over to generation %#x, %d ids reserved", uint64(a.generation.Load()), a.reserved.count())
}

// CheckInvariants verifies the allocator state and returns an error describing
// the first violation found. It takes the allocator lock.
func (a *Allocator[T, L]) CheckInvariants() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	generation := a.generation.Load()
	if FromValue[T, L](generation).IsInvalidGeneration() {
		return fmt.Errorf("current generation %#x is the invalid generation", uint64(generation))
	}
	if generation&Mask[T, L]() != 0 {
		return fmt.Errorf("current generation %#x has id bits set", uint64(generation))
	}
	for _, id := range a.reserved.ids() {
		if id < a.reserved.base {
			return fmt.Errorf("id %d below base %d is claimed", id, a.reserved.base)
		}
	}

	var err error
	a.online.ForEach(func(cpu cpuset.ID) {
		if err != nil {
			return
		}
		st := a.cpus.Get(cpu)
		for _, v := range []ASID[T, L]{st.active.Load(), st.reserved.Load()} {
			if !v.SameGeneration(generation) {
				continue
			}
			if !a.reserved.test(uint32(v.ID())) {
				err = fmt.Errorf("CPU %d holds %v, whose id is not claimed", cpu, v)
				return
			}
		}
	})
	return err
}
