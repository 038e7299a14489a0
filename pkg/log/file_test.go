// Copyright 2018 The gVisor Authors.
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

package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPatternOpts(t *testing.T) {
	opts := PatternOpts{
		Command: "simulate",
		Start:   time.Date(2026, time.January, 2, 3, 4, 5, 6000, time.UTC),
	}
	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{"/tmp/log.txt", "/tmp/log.txt"},
		{"/tmp/%COMMAND%.log", "/tmp/simulate.log"},
		{"/tmp/logs/", "/tmp/logs/asidsim.20260102-030405.000006.simulate.txt"},
	} {
		if got := opts.Build(tc.pattern); got != tc.want {
			t.Errorf("Build(%q): got %q, want %q", tc.pattern, got, tc.want)
		}
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "sub", "%COMMAND%.log"), os.O_CREATE|os.O_WRONLY, PatternOpts{Command: "wrap"})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if want := filepath.Join(dir, "sub", "wrap.log"); f.Name() != want {
		t.Errorf("file name: got %q, want %q", f.Name(), want)
	}

	if f, err := OpenFile("", os.O_RDONLY, PatternOpts{}); f != nil || err != nil {
		t.Errorf("OpenFile with empty pattern: got (%v, %v), want (nil, nil)", f, err)
	}
}
