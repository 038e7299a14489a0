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

// Package vmm implements the address space switch path of a virtual memory
// manager on top of the ASID allocator.
//
// A Manager owns one allocator per hardware namespace, for example stage-1
// ASIDs and VMIDs, and hands each address space a slot in every namespace.
// Switch is called on each context switch.
package vmm

import (
	"errors"
	"fmt"

	"gvisor.dev/asidalloc/pkg/asid"
	"gvisor.dev/asidalloc/pkg/atomicbitops"
	"gvisor.dev/asidalloc/pkg/cpuset"
	"gvisor.dev/asidalloc/pkg/log"
	"gvisor.dev/asidalloc/pkg/metric"
	"gvisor.dev/asidalloc/pkg/sync"
	"gvisor.dev/asidalloc/pkg/tlb"
)

// TLB is the hardware TLB of one namespace.
type TLB interface {
	// Flush invalidates every entry of cpu's TLB.
	Flush(cpu cpuset.ID)

	// Load makes cpu use id for the address space owner. Implementations
	// that model the TLB may return an error if translations cached under
	// id belong to another address space.
	Load(cpu cpuset.ID, id uint64, owner tlb.Owner) error
}

// Namespace configures one hardware namespace.
type Namespace struct {
	// Name is used in metrics and logs. It must be a valid Prometheus label
	// value and unique within a Manager.
	Name string

	// TLB is flushed and loaded on switches. It may be nil.
	TLB TLB
}

// Opts configures a Manager.
type Opts struct {
	// Namespaces lists the namespaces. At least one is required.
	Namespaces []Namespace

	// NewLock returns the lock for each allocator. If nil, allocators use
	// their default.
	NewLock func() sync.Locker

	// Logger is passed to the allocators. If nil, the global logger is used.
	Logger log.Logger

	// Registry receives the Manager's metrics. If nil, a new Registry is
	// created.
	Registry *metric.Registry
}

// ErrNoNamespaces is returned by NewManager when no namespace is configured.
var ErrNoNamespaces = errors.New("no namespaces configured")

// AddressSpace is a set of mappings that threads run in.
type AddressSpace[T asid.Word, L asid.Layout] struct {
	// id identifies the address space to the TLB. It is immutable.
	id tlb.Owner

	// name is for debugging only.
	name string

	// slots holds the ASID of each namespace, indexed like
	// Manager.namespaces.
	slots []asid.Slot[T, L]
}

// ID returns the address space's identifier.
func (as *AddressSpace[T, L]) ID() tlb.Owner {
	return as.id
}

// String implements fmt.Stringer.
func (as *AddressSpace[T, L]) String() string {
	return fmt.Sprintf("%s#%d", as.name, as.id)
}

// ASID returns the current value of the address space's slot in namespace i.
// The value may be stale.
func (as *AddressSpace[T, L]) ASID(i int) asid.ASID[T, L] {
	return as.slots[i].Load()
}

type namespace[T asid.Word, L asid.Layout] struct {
	name  string
	alloc *asid.Allocator[T, L]
	tlb   TLB
}

// Manager multiplexes hardware namespaces across address spaces.
type Manager[T asid.Word, L asid.Layout] struct {
	online     cpuset.Online
	namespaces []namespace[T, L]
	lastID     atomicbitops.Uint64

	registry *metric.Registry
	switches *metric.Uint64Metric
	flushes  *metric.Uint64Metric
}

// Switch path values of the switches metric.
const (
	pathFast = "fast"
	pathSlow = "slow"
)

// NewManager returns a Manager for the CPUs in online.
func NewManager[T asid.Word, L asid.Layout](online cpuset.Online, opts Opts) (*Manager[T, L], error) {
	if len(opts.Namespaces) == 0 {
		return nil, ErrNoNamespaces
	}
	if opts.Registry == nil {
		opts.Registry = metric.NewRegistry()
	}
	m := &Manager[T, L]{
		online:   online,
		registry: opts.Registry,
	}
	names := make([]string, 0, len(opts.Namespaces))
	seen := make(map[string]bool)
	for _, ns := range opts.Namespaces {
		if seen[ns.Name] {
			return nil, fmt.Errorf("duplicate namespace %q", ns.Name)
		}
		seen[ns.Name] = true
		allocOpts := asid.Opts{Logger: opts.Logger}
		if opts.NewLock != nil {
			allocOpts.Lock = opts.NewLock()
		}
		a, err := asid.New[T, L](online, allocOpts)
		if err != nil {
			return nil, fmt.Errorf("namespace %q: %w", ns.Name, err)
		}
		m.namespaces = append(m.namespaces, namespace[T, L]{name: ns.Name, alloc: a, tlb: ns.TLB})
		names = append(names, ns.Name)
	}
	if err := m.registerMetrics(names); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager[T, L]) registerMetrics(names []string) error {
	nsField := metric.NewField("namespace", names)
	var err error
	if m.switches, err = m.registry.NewUint64Metric("asid_switches_total", "Address space switches by allocation path.",
		nsField, metric.NewField("path", []string{pathFast, pathSlow})); err != nil {
		return err
	}
	if m.flushes, err = m.registry.NewUint64Metric("asid_tlb_flushes_total", "TLB flushes requested by the allocator.", nsField); err != nil {
		return err
	}
	for _, c := range []struct {
		name       string
		cumulative bool
		help       string
		value      func(asid.Stats, T) uint64
	}{
		{"asid_generation", false, "Current ASID generation.", func(_ asid.Stats, g T) uint64 { return uint64(g) }},
		{"asid_new_ids_total", true, "Ids claimed from the namespace.", func(s asid.Stats, _ T) uint64 { return s.NewIDs }},
		{"asid_carry_overs_total", true, "Ids kept across a roll-over.", func(s asid.Stats, _ T) uint64 { return s.CarryOvers }},
		{"asid_roll_overs_total", true, "Generation roll-overs.", func(s asid.Stats, _ T) uint64 { return s.RollOvers }},
		{"asid_generation_skips_total", true, "Roll-overs that skipped the invalid generation.", func(s asid.Stats, _ T) uint64 { return s.GenerationSkips }},
	} {
		value := c.value
		if err := m.registry.RegisterCustomUint64Metric(c.name, c.cumulative, c.help, func(fields ...string) uint64 {
			ns := m.namespace(fields[0])
			return value(ns.alloc.Stats(), ns.alloc.Generation())
		}, nsField); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager[T, L]) namespace(name string) *namespace[T, L] {
	for i := range m.namespaces {
		if m.namespaces[i].name == name {
			return &m.namespaces[i]
		}
	}
	panic(fmt.Sprintf("unknown namespace %q", name))
}

// Registry returns the registry holding the Manager's metrics.
func (m *Manager[T, L]) Registry() *metric.Registry {
	return m.registry
}

// Allocator returns the allocator of namespace i.
func (m *Manager[T, L]) Allocator(i int) *asid.Allocator[T, L] {
	return m.namespaces[i].alloc
}

// NumNamespaces returns the number of namespaces.
func (m *Manager[T, L]) NumNamespaces() int {
	return len(m.namespaces)
}

// NewAddressSpace returns an address space with no ASIDs assigned.
func (m *Manager[T, L]) NewAddressSpace(name string) *AddressSpace[T, L] {
	return &AddressSpace[T, L]{
		id:    tlb.Owner(m.lastID.Add(1)),
		name:  name,
		slots: make([]asid.Slot[T, L], len(m.namespaces)),
	}
}

// SwitchResult describes a switch in one namespace.
type SwitchResult[T asid.Word, L asid.Layout] struct {
	// Value is the ASID now active on the CPU.
	Value asid.ASID[T, L]

	// Fast is true if the lock-free path was taken.
	Fast bool

	// Flushed is true if the TLB was flushed.
	Flushed bool
}

// Switch makes as the address space running on cpu. It must be called on
// cpu, with preemption disabled in a real kernel.
//
// The returned results are indexed by namespace. An error is only returned if
// a TLB reports one, in which case the remaining namespaces are not switched.
func (m *Manager[T, L]) Switch(cpu cpuset.ID, as *AddressSpace[T, L]) ([]SwitchResult[T, L], error) {
	results := make([]SwitchResult[T, L], len(m.namespaces))
	for i := range m.namespaces {
		ns := &m.namespaces[i]
		r := &results[i]
		slot := &as.slots[i]
		r.Value, r.Fast = ns.alloc.CanUse(cpu, slot)
		if r.Fast {
			m.switches.Increment(ns.name, pathFast)
		} else {
			r.Value, r.Flushed = ns.alloc.Alloc(cpu, slot)
			m.switches.Increment(ns.name, pathSlow)
		}
		if r.Flushed {
			m.flushes.Increment(ns.name)
		}
		if ns.tlb == nil {
			continue
		}
		if r.Flushed {
			ns.tlb.Flush(cpu)
		}
		if err := ns.tlb.Load(cpu, uint64(r.Value.ID()), as.id); err != nil {
			return results, fmt.Errorf("namespace %q: switch to %v: %w", ns.name, as, err)
		}
	}
	return results, nil
}

// CheckInvariants checks every allocator.
func (m *Manager[T, L]) CheckInvariants() error {
	for i := range m.namespaces {
		if err := m.namespaces[i].alloc.CheckInvariants(); err != nil {
			return fmt.Errorf("namespace %q: %w", m.namespaces[i].name, err)
		}
	}
	return nil
}
