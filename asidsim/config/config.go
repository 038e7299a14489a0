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

// Package config provides basic infrastructure to set configuration settings
// for asidsim. Each setting is backed by a flag and may also be set from a
// TOML or YAML file.
package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"gvisor.dev/asidalloc/pkg/cpuset"
	"gvisor.dev/asidalloc/pkg/hostcpu"
	"gvisor.dev/asidalloc/pkg/log"
)

// Config holds configuration that is not part of a subcommand's own flags.
//
// Every field with a `flag` tag is populated from the flag of that name, and
// from the key in its `toml` or `yaml` tag when a configuration file is loaded.
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log" yaml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format" yaml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug" yaml:"debug"`

	// DebugLog is the path to log debug information to, if not empty. It may
	// contain %TIMESTAMP% and %COMMAND%.
	DebugLog string `flag:"debug-log" toml:"debug_log" yaml:"debug_log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug_log_format" yaml:"debug_log_format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr" yaml:"alsologtostderr"`

	// Layout is the name of the ASID layout to simulate.
	Layout string `flag:"layout" toml:"layout" yaml:"layout"`

	// CPUs is the set of simulated CPUs: "host" for the host's online CPUs,
	// a count, or a list such as "0-3,8".
	CPUs string `flag:"cpus" toml:"cpus" yaml:"cpus"`

	// Namespaces is a comma-separated list of hardware namespaces, each with
	// its own allocator.
	Namespaces string `flag:"namespaces" toml:"namespaces" yaml:"namespaces"`

	// AddressSpaces is the number of simulated address spaces.
	AddressSpaces int `flag:"address-spaces" toml:"address_spaces" yaml:"address_spaces"`

	// WorkingSet is the number of address spaces that most switches pick
	// from. Zero means all of them.
	WorkingSet int `flag:"working-set" toml:"working_set" yaml:"working_set"`

	// Switches is the number of context switches per CPU.
	Switches int `flag:"switches" toml:"switches" yaml:"switches"`

	// Seed seeds the random choice of address spaces.
	Seed int64 `flag:"seed" toml:"seed" yaml:"seed"`

	// Lock is the kind of lock guarding each allocator.
	Lock LockKind `flag:"lock" toml:"lock" yaml:"lock"`

	// CheckInterval is the number of switches per CPU between allocator
	// invariant checks. Zero disables periodic checks.
	CheckInterval int `flag:"check-interval" toml:"check_interval" yaml:"check_interval"`
}

var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (c *Config) validate() error {
	for _, f := range []struct{ name, value string }{{"log-format", c.LogFormat}, {"debug-log-format", c.DebugLogFormat}} {
		switch f.value {
		case "text", "json", "json-k8s":
		default:
			return fmt.Errorf("invalid %s %q, must be 'text', 'json', or 'json-k8s'", f.name, f.value)
		}
	}
	if c.Layout == "" {
		return fmt.Errorf("layout must be set")
	}
	if c.CPUs != "host" {
		if _, err := c.Online(); err != nil {
			return err
		}
	}
	names := c.NamespaceList()
	if len(names) == 0 {
		return fmt.Errorf("at least one namespace is required")
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if !validName.MatchString(n) {
			return fmt.Errorf("invalid namespace name %q", n)
		}
		if seen[n] {
			return fmt.Errorf("duplicate namespace %q", n)
		}
		seen[n] = true
	}
	if c.AddressSpaces <= 0 {
		return fmt.Errorf("address-spaces must be positive, got %d", c.AddressSpaces)
	}
	if c.WorkingSet < 0 || c.WorkingSet > c.AddressSpaces {
		return fmt.Errorf("working-set must be in [0, %d], got %d", c.AddressSpaces, c.WorkingSet)
	}
	if c.Switches <= 0 {
		return fmt.Errorf("switches must be positive, got %d", c.Switches)
	}
	if c.CheckInterval < 0 {
		return fmt.Errorf("check-interval must not be negative, got %d", c.CheckInterval)
	}
	return nil
}

// NamespaceList returns the namespace names.
func (c *Config) NamespaceList() []string {
	var names []string
	for _, n := range strings.Split(c.Namespaces, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Online returns the simulated CPUs.
func (c *Config) Online() (cpuset.Online, error) {
	if c.CPUs == "host" {
		return hostcpu.Online()
	}
	if n, err := strconv.Atoi(c.CPUs); err == nil {
		if n <= 0 {
			return nil, fmt.Errorf("CPU count must be positive, got %d", n)
		}
		return cpuset.Range(n), nil
	}
	return hostcpu.ParseList(c.CPUs)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("  %s: %v", name, obj.Field(i).Interface())
		}
	}
}

// LockKind selects the lock implementation guarding an allocator.
type LockKind int

const (
	// LockSpin uses a spinning lock, as a kernel would.
	LockSpin LockKind = iota

	// LockMutex uses a blocking mutex.
	LockMutex
)

func lockKindPtr(v LockKind) *LockKind {
	return &v
}

// Set implements flag.Value and flag.Getter.
func (l *LockKind) Set(v string) error {
	switch v {
	case "spin":
		*l = LockSpin
	case "mutex":
		*l = LockMutex
	default:
		return fmt.Errorf("invalid lock kind %q, must be 'spin' or 'mutex'", v)
	}
	return nil
}

// Get implements flag.Getter.
func (l *LockKind) Get() any {
	return *l
}

// String implements flag.Value.
func (l LockKind) String() string {
	switch l {
	case LockSpin:
		return "spin"
	case LockMutex:
		return "mutex"
	default:
		panic(fmt.Sprintf("Invalid lock kind %d", l))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *LockKind) UnmarshalText(text []byte) error {
	return l.Set(string(text))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *LockKind) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return l.Set(s)
}

// MarshalText implements encoding.TextMarshaler.
func (l LockKind) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}
