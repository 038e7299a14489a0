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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/asidalloc/asidsim/cmd/util"
	"gvisor.dev/asidalloc/asidsim/config"
	"gvisor.dev/asidalloc/asidsim/sim"
	"gvisor.dev/asidalloc/pkg/metric"
	"gvisor.dev/asidalloc/pkg/prometheus"
)

// Simulate implements subcommands.Command for the "simulate" command.
type Simulate struct {
	metricsFile   string
	metricsPrefix string
}

// Name implements subcommands.Command.Name.
func (*Simulate) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Simulate) Synopsis() string {
	return "run concurrent context switches against the ASID allocator"
}

// Usage implements subcommands.Command.Usage.
func (*Simulate) Usage() string {
	return `simulate [flags] - run one goroutine per simulated CPU, each switching
between address spaces, and check every switch against a model of the TLB.
The simulation is configured by the global flags, including --config.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Simulate) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.metricsFile, "metrics", "", `file to write Prometheus metrics to, or "-" for stdout.`)
	f.StringVar(&s.metricsPrefix, "metrics-prefix", "", "prefix for exported metric names.")
}

// Execute implements subcommands.Command.Execute.
func (s *Simulate) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	online, err := conf.Online()
	if err != nil {
		util.Fatalf("resolving CPUs %q: %v", conf.CPUs, err)
	}

	registry := metric.NewRegistry()
	res, runErr := sim.Run(ctx, conf, online, registry)
	if res != nil {
		if err := printResult(os.Stdout, res); err != nil {
			util.Fatalf("writing result: %v", err)
		}
	}
	if err := s.writeMetrics(conf, registry); err != nil {
		util.Fatalf("writing metrics: %v", err)
	}
	if runErr != nil {
		util.Fatalf("simulation failed: %v", runErr)
	}
	return subcommands.ExitSuccess
}

func (s *Simulate) writeMetrics(conf *config.Config, registry *metric.Registry) error {
	if s.metricsFile == "" {
		return nil
	}
	out := os.Stdout
	if s.metricsFile != "-" {
		f, err := os.Create(s.metricsFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	opts := prometheus.ExportOptions{
		CommentHeader:  fmt.Sprintf("asidsim simulate %v", conf.ToFlags()),
		ExporterPrefix: s.metricsPrefix,
		ExtraLabels:    map[string]string{"layout": conf.Layout},
	}
	_, err := prometheus.Write(out, opts, registry.Snapshot())
	return err
}
