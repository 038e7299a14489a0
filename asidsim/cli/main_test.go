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

package cli

import (
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gvisor.dev/asidalloc/asidsim/cmd/util"
	"gvisor.dev/asidalloc/asidsim/config"
	"gvisor.dev/asidalloc/pkg/log"
)

// restoreLogging puts the global logging state back after a test changed it.
func restoreLogging(t *testing.T) {
	saved := log.Log()
	t.Cleanup(func() {
		log.SetTarget(saved.Emitter)
		log.SetLevel(saved.Level)
		stdlog.SetOutput(os.Stderr)
		util.ErrorLogger = nil
	})
}

func loadConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	conf, err := config.Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return conf
}

func TestConfigFileSetsLogging(t *testing.T) {
	restoreLogging(t)
	log.SetLevel(log.Info)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "asidsim.log")
	confPath := filepath.Join(dir, "asidsim.toml")
	content := fmt.Sprintf("debug = true\nlog = %q\nlog_format = \"json\"\n", logPath)
	if err := os.WriteFile(confPath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	conf := loadConfig(t, "--config="+confPath)
	if err := setupLogging(conf, "simulate"); err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	if !log.IsLogging(log.Debug) {
		t.Errorf("debug = true in the config file did not enable debug logging")
	}
	if util.ErrorLogger == nil {
		t.Errorf("log in the config file did not set the error logger")
	}

	log.Debugf("roll-over at generation %#x", 0x300)
	stdlog.Print("from the standard logger")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{
		`"level":"debug"`,
		"roll-over at generation 0x300",
		"from the standard logger",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file %q does not contain %q", data, want)
		}
	}
}

func TestFlagOverridesConfigFileLogging(t *testing.T) {
	restoreLogging(t)
	log.SetLevel(log.Info)

	confPath := filepath.Join(t.TempDir(), "asidsim.yaml")
	if err := os.WriteFile(confPath, []byte("debug: true\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	conf := loadConfig(t, "--config="+confPath, "--debug=false")
	if err := setupLogging(conf, "simulate"); err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	if log.IsLogging(log.Debug) {
		t.Errorf("--debug=false did not override debug: true in the config file")
	}
}

func TestNewEmitterRejectsUnknownFormat(t *testing.T) {
	if _, err := newEmitter("xml", os.Stderr); err == nil {
		t.Errorf("newEmitter(xml) succeeded, want error")
	}
}
