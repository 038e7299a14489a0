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

package log

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: `"warning"`, want: Warning},
		{in: `"info"`, want: Info},
		{in: `"debug"`, want: Debug},
		{in: "0", want: Warning},
		{in: "1", want: Info},
		{in: "2", want: Debug},
		{in: `"trace"`, wantErr: true},
		{in: "3", wantErr: true},
	} {
		var lv Level
		err := lv.UnmarshalJSON([]byte(tc.in))
		if tc.wantErr {
			if err == nil {
				t.Errorf("UnmarshalJSON(%s) = %v, want error", tc.in, lv)
			}
			continue
		}
		if err != nil {
			t.Errorf("UnmarshalJSON(%s): %v", tc.in, err)
			continue
		}
		if lv != tc.want {
			t.Errorf("UnmarshalJSON(%s) = %v, want %v", tc.in, lv, tc.want)
		}
		out, err := lv.MarshalJSON()
		if err != nil {
			t.Errorf("MarshalJSON(%v): %v", lv, err)
			continue
		}
		var back Level
		if err := back.UnmarshalJSON(out); err != nil || back != lv {
			t.Errorf("MarshalJSON(%v) = %s, which decodes to %v (err %v)", lv, out, back, err)
		}
	}
	if _, err := Level(7).MarshalJSON(); err == nil {
		t.Errorf("MarshalJSON(7) succeeded, want error")
	}
}

func TestJSONEmitters(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		name    string
		emitter func(*Writer) Emitter
		msgKey  string
	}{
		{name: "json", emitter: func(w *Writer) Emitter { return JSONEmitter{w} }, msgKey: "msg"},
		{name: "json-k8s", emitter: func(w *Writer) Emitter { return K8sJSONEmitter{w} }, msgKey: "log"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tw := &testWriter{}
			tc.emitter(&Writer{Next: tw}).Emit(0, Warning, ts, "roll-over to generation %#x", 0x300)

			var got map[string]any
			if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
				t.Fatalf("output %q is not JSON: %v", tw.lines[0], err)
			}
			msg, _ := got[tc.msgKey].(string)
			if !strings.HasPrefix(msg, "json_test.go:") || !strings.HasSuffix(msg, "] roll-over to generation 0x300") {
				t.Errorf("%s = %q, want caller prefix and formatted message", tc.msgKey, msg)
			}
			if got["level"] != "warning" {
				t.Errorf("level = %v, want warning", got["level"])
			}
			if got["time"] != "2024-03-01T12:00:00Z" {
				t.Errorf("time = %v, want 2024-03-01T12:00:00Z", got["time"])
			}
		})
	}
}
