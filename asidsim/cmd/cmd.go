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

// Package cmd holds implementations of the asidsim commands.
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gvisor.dev/asidalloc/asidsim/sim"
	"gvisor.dev/asidalloc/pkg/asid"
)

const year = 365 * 24 * time.Hour

// formatSeconds renders a duration given in seconds, which may be far larger
// than a time.Duration can hold.
func formatSeconds(s float64) string {
	switch {
	case s >= year.Seconds():
		return fmt.Sprintf("%.1f years", s/year.Seconds())
	case s >= 24*time.Hour.Seconds():
		return fmt.Sprintf("%.1f days", s/(24*time.Hour).Seconds())
	default:
		return time.Duration(s * float64(time.Second)).Round(time.Millisecond).String()
	}
}

// printLayouts writes a table of the supported layouts to w.
func printLayouts(w io.Writer, allocInterval time.Duration) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tID BITS\tBASE\tUSABLE\tWORD\tREGISTER\tWRAP @ %v\n", allocInterval)
	for _, l := range sim.Layouts() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", l.Name, l.IDBits, l.Base, l.Usable(), l.WordBits, l.RegisterBits, formatSeconds(l.WrapInterval(allocInterval)))
	}
	return tw.Flush()
}

// printResult writes a summary of a simulation to w.
func printResult(w io.Writer, res *sim.Result) error {
	fmt.Fprintf(w, "layout %s, CPUs %s, %d switches in %v\n", res.Layout.Name, res.CPUs, res.Switches, res.Elapsed)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "NAMESPACE\tGENERATION\tFAST\tSLOW\tNEW IDS\tCARRY-OVERS\tROLL-OVERS\tFLUSHES\tSKIPS\tCONFLICTS\n")
	for _, ns := range res.Namespaces {
		s := ns.Allocator
		fmt.Fprintf(tw, "%s\t%#x\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n", ns.Name, ns.Generation>>res.Layout.IDBits, s.FastPath, s.SlowPath, s.NewIDs, s.CarryOvers, s.RollOvers, s.Flushes, s.GenerationSkips, ns.TLB.Conflicts)
	}
	return tw.Flush()
}

// lookupLayout is sim.LookupLayout with an error for unknown names.
func lookupLayout(name string) (asid.LayoutInfo, error) {
	l, ok := sim.LookupLayout(name)
	if !ok {
		return asid.LayoutInfo{}, fmt.Errorf("unknown layout %q, see 'asidsim layouts'", name)
	}
	return l, nil
}
