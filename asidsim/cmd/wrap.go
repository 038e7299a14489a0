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
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/asidalloc/asidsim/cmd/util"
	"gvisor.dev/asidalloc/asidsim/config"
)

// Wrap implements subcommands.Command for the "wrap" command.
type Wrap struct {
	interval time.Duration
}

// Name implements subcommands.Command.Name.
func (*Wrap) Name() string {
	return "wrap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Wrap) Synopsis() string {
	return "print the worst-case time until ASID values wrap around"
}

// Usage implements subcommands.Command.Usage.
func (*Wrap) Usage() string {
	return `wrap [flags] - print the worst-case time until the packed generation and
id of the layout selected with --layout wrap around, if a new value is
consumed every --interval.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Wrap) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&w.interval, "interval", 100*time.Nanosecond, "interval between allocations of new values.")
}

// Execute implements subcommands.Command.Execute.
func (w *Wrap) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if w.interval <= 0 {
		return util.Errorf("interval must be positive, got %v", w.interval)
	}
	l, err := lookupLayout(conf.Layout)
	if err != nil {
		return util.Errorf("%v", err)
	}
	util.Infof("%s: %d-bit values wrap after %s at one allocation every %v", l.Name, l.WordBits, formatSeconds(l.WrapInterval(w.interval)), w.interval)
	return subcommands.ExitSuccess
}
