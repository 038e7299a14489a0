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
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %q, expected: %q", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %q, expected: %q", i, l, expected[i])
		}
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if got := strings.Join(tw.lines, ""); got != "no newline\n" {
		t.Errorf("got %q, want %q", got, "no newline\n")
	}
}

func TestGoogleEmitterCaller(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	e.Emit(0, Info, time.Date(2026, time.May, 4, 1, 2, 3, 4000, time.UTC), "hello %d", 42)
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(tw.lines), tw.lines)
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "I0504 01:02:03.000004 ") {
		t.Errorf("bad header: %q", line)
	}
	if !strings.Contains(line, "log_test.go:") {
		t.Errorf("caller missing from %q", line)
	}
	if !strings.HasSuffix(line, "] hello 42\n") {
		t.Errorf("bad message: %q", line)
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	e.Emit(0, Warning, time.Unix(0, 0).UTC(), "rolled over to %d", 7)
	if len(tw.lines) == 0 {
		t.Fatalf("no output")
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", tw.lines[0], err)
	}
	if got.Level != Warning {
		t.Errorf("level: got %v, want %v", got.Level, Warning)
	}
	if !strings.HasSuffix(got.Msg, "] rolled over to 7") || !strings.HasPrefix(got.Msg, "log_test.go:") {
		t.Errorf("msg: got %q", got.Msg)
	}
}

func TestBasicLoggerLevels(t *testing.T) {
	tw := &testWriter{}
	l := BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("dropped")
	l.Infof("kept %s", "info")
	l.Warningf("kept %s", "warning")
	if got, want := strings.Join(tw.lines, ""), "kept info\nkept warning\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false after SetLevel(Debug)")
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	l := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}, time.Hour)
	for i := 0; i < 10; i++ {
		l.Infof("message %d", i)
	}
	if got, want := strings.Join(tw.lines, ""), "message 0\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRateLimitedLoggerReportsSuppressed(t *testing.T) {
	tw := &testWriter{}
	l := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}, 50*time.Millisecond)
	for i := 0; i < 10; i++ {
		l.Infof("roll-over %d", i)
	}
	time.Sleep(100 * time.Millisecond)
	l.Infof("roll-over %d", 10)
	want := "roll-over 0\nroll-over 10 (9 similar messages suppressed)\n"
	if got := strings.Join(tw.lines, ""); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRateLimitedLoggerIgnoresFilteredLevels(t *testing.T) {
	tw := &testWriter{}
	l := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}, time.Hour)
	l.Debugf("filtered")
	l.Infof("kept")
	if got, want := strings.Join(tw.lines, ""), "kept\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &testWriter{}, &testWriter{}
	m := MultiEmitter{&Writer{Next: a}, &Writer{Next: b}}
	m.Emit(0, Info, time.Now(), "both")
	for _, w := range []*testWriter{a, b} {
		if got, want := strings.Join(w.lines, ""), "both\n"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestCopyStandardLogTo(t *testing.T) {
	saved := Log()
	flags := stdlog.Flags()
	t.Cleanup(func() {
		SetTarget(saved.Emitter)
		SetLevel(saved.Level)
		stdlog.SetOutput(os.Stderr)
		stdlog.SetFlags(flags)
	})

	tw := &testWriter{}
	SetTarget(&Writer{Next: tw})
	SetLevel(Info)
	stdlog.SetFlags(0)
	if err := CopyStandardLogTo(Info); err != nil {
		t.Fatalf("CopyStandardLogTo(Info): %v", err)
	}
	stdlog.Printf("from %s", "library")
	if got, want := strings.Join(tw.lines, ""), "from library\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if err := CopyStandardLogTo(Level(42)); err == nil {
		t.Errorf("CopyStandardLogTo(42) succeeded, want error")
	}
}
