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

// Package sim runs concurrent context switch simulations against the ASID
// allocator, checking every switch against a model of the TLBs.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/asidalloc/asidsim/config"
	"gvisor.dev/asidalloc/pkg/asid"
	"gvisor.dev/asidalloc/pkg/cpuset"
	"gvisor.dev/asidalloc/pkg/log"
	"gvisor.dev/asidalloc/pkg/metric"
	"gvisor.dev/asidalloc/pkg/sync"
	"gvisor.dev/asidalloc/pkg/tlb"
	"gvisor.dev/asidalloc/pkg/vmm"
)

// cancelCheckInterval is the number of switches between checks for
// cancellation.
const cancelCheckInterval = 1024

// NamespaceResult holds the outcome of a simulation in one namespace.
type NamespaceResult struct {
	Name       string
	Generation uint64
	Allocator  asid.Stats
	TLB        tlb.Stats
}

// Result holds the outcome of a simulation.
type Result struct {
	Layout     asid.LayoutInfo
	CPUs       string
	Switches   uint64
	Elapsed    time.Duration
	Namespaces []NamespaceResult
}

type layout struct {
	info asid.LayoutInfo
	run  func(ctx context.Context, conf *config.Config, online cpuset.Online, registry *metric.Registry) (*Result, error)
}

func newLayout[T asid.Word, L asid.Layout]() layout {
	return layout{
		info: asid.Describe[T, L](),
		run:  run[T, L],
	}
}

// layouts lists the supported layouts, each with the word used to store it.
var layouts = []layout{
	newLayout[uint64, asid.ARM64ASID8](),
	newLayout[uint64, asid.ARM64ASID16](),
	newLayout[uint64, asid.ARM32ASID](),
	newLayout[uint64, asid.X86PCID](),
	newLayout[uint64, asid.RISCVASID9](),
	newLayout[uint32, asid.MIPSASID8](),
}

// Layouts returns the supported layouts.
func Layouts() []asid.LayoutInfo {
	infos := make([]asid.LayoutInfo, 0, len(layouts))
	for _, l := range layouts {
		infos = append(infos, l.info)
	}
	return infos
}

// LookupLayout returns the layout with the given name.
func LookupLayout(name string) (asid.LayoutInfo, bool) {
	for _, l := range layouts {
		if l.info.Name == name {
			return l.info, true
		}
	}
	return asid.LayoutInfo{}, false
}

// Run simulates conf.Switches context switches on each CPU in online.
// Metrics are registered in registry.
//
// Run returns an error if a CPU used a stale translation or the allocator's
// invariants are violated; the partial Result is returned along with it.
func Run(ctx context.Context, conf *config.Config, online cpuset.Online, registry *metric.Registry) (*Result, error) {
	for _, l := range layouts {
		if l.info.Name == conf.Layout {
			return l.run(ctx, conf, online, registry)
		}
	}
	return nil, fmt.Errorf("unknown layout %q", conf.Layout)
}

func run[T asid.Word, L asid.Layout](ctx context.Context, conf *config.Config, online cpuset.Online, registry *metric.Registry) (*Result, error) {
	names := conf.NamespaceList()
	models := make([]*tlb.Model, len(names))
	namespaces := make([]vmm.Namespace, len(names))
	for i, name := range names {
		models[i] = tlb.NewModel(online.MaxCPUs())
		namespaces[i] = vmm.Namespace{Name: name, TLB: models[i]}
	}
	opts := vmm.Opts{
		Namespaces: namespaces,
		Registry:   registry,
	}
	if conf.Lock == config.LockMutex {
		opts.NewLock = func() sync.Locker { return &sync.Mutex{} }
	}
	m, err := vmm.NewManager[T, L](online, opts)
	if err != nil {
		return nil, err
	}
	registry.MustRegisterCustomUint64Metric("asidsim_tlb_conflicts_total", true, "Stale translations detected by the TLB model.", func(fields ...string) uint64 {
		for i, name := range names {
			if name == fields[0] {
				return models[i].Stats().Conflicts
			}
		}
		return 0
	}, metric.NewField("namespace", names))

	spaces := make([]*vmm.AddressSpace[T, L], conf.AddressSpaces)
	for i := range spaces {
		spaces[i] = m.NewAddressSpace(fmt.Sprintf("as%d", i))
	}

	res := &Result{
		Layout: asid.Describe[T, L](),
		CPUs:   cpuset.Format(online),
	}
	log.Infof("Simulating %d switches on CPUs %s with layout %s, %d address spaces, namespaces %v", conf.Switches, res.CPUs, res.Layout.Name, len(spaces), names)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	online.ForEach(func(cpu cpuset.ID) {
		g.Go(func() error {
			return worker(ctx, conf, m, models, cpu, spaces)
		})
	})
	err = g.Wait()
	res.Elapsed = time.Since(start)

	if err == nil {
		err = m.CheckInvariants()
	}
	for i := 0; i < m.NumNamespaces(); i++ {
		a := m.Allocator(i)
		res.Namespaces = append(res.Namespaces, NamespaceResult{
			Name:       names[i],
			Generation: uint64(a.Generation()),
			Allocator:  a.Stats(),
			TLB:        models[i].Stats(),
		})
	}
	if len(names) > 0 {
		res.Switches = res.Namespaces[0].TLB.Loads
	}
	if err != nil {
		return res, err
	}
	log.Infof("Simulation done in %v", res.Elapsed)
	return res, nil
}

// worker performs the switches of one CPU.
func worker[T asid.Word, L asid.Layout](ctx context.Context, conf *config.Config, m *vmm.Manager[T, L], models []*tlb.Model, cpu cpuset.ID, spaces []*vmm.AddressSpace[T, L]) error {
	rng := rand.New(rand.NewSource(conf.Seed + int64(cpu)))
	for i := 0; i < conf.Switches; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n := len(spaces)
		// Three out of four switches stay within the working set.
		if conf.WorkingSet > 0 && rng.Intn(4) != 0 {
			n = conf.WorkingSet
		}
		as := spaces[rng.Intn(n)]
		if _, err := m.Switch(cpu, as); err != nil {
			var c *tlb.Conflict
			if errors.As(err, &c) && log.IsLogging(log.Debug) {
				for j, model := range models {
					log.Debugf("CPU %d TLB %d at conflict: %v", cpu, j, model.Entries(cpu))
				}
			}
			return fmt.Errorf("CPU %d, switch %d: %w", cpu, i, err)
		}
		if conf.CheckInterval > 0 && (i+1)%conf.CheckInterval == 0 {
			if err := m.CheckInvariants(); err != nil {
				return fmt.Errorf("CPU %d, after switch %d: %w", cpu, i, err)
			}
		}
	}
	log.Debugf("CPU %d finished %d switches", cpu, conf.Switches)
	return nil
}
