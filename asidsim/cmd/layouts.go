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
	"os"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/asidalloc/asidsim/cmd/util"
)

// Layouts implements subcommands.Command for the "layouts" command.
type Layouts struct {
	interval time.Duration
}

// Name implements subcommands.Command.Name.
func (*Layouts) Name() string {
	return "layouts"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layouts) Synopsis() string {
	return "list the supported ASID layouts"
}

// Usage implements subcommands.Command.Usage.
func (*Layouts) Usage() string {
	return `layouts [flags] - list the supported ASID layouts.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layouts) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&l.interval, "interval", 100*time.Nanosecond, "allocation interval assumed for the wrap-around column.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layouts) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if l.interval <= 0 {
		return util.Errorf("interval must be positive, got %v", l.interval)
	}
	if err := printLayouts(os.Stdout, l.interval); err != nil {
		return util.Errorf("writing layouts: %v", err)
	}
	return subcommands.ExitSuccess
}
