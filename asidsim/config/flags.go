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

package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/BurntSushi/toml"
	yaml "gopkg.in/yaml.v2"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("debug-log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")

	// Simulation flags.
	flagSet.String("layout", "arm64-asid8", "ASID layout to simulate, see 'asidsim layouts'.")
	flagSet.String("cpus", "4", `simulated CPUs: "host", a count, or a list such as "0-3,8".`)
	flagSet.String("namespaces", "asid", "comma-separated list of hardware namespaces, e.g. \"asid,vmid\".")
	flagSet.Int("address-spaces", 1024, "number of simulated address spaces.")
	flagSet.Int("working-set", 0, "number of address spaces most switches pick from. 0 means all.")
	flagSet.Int("switches", 100000, "number of context switches per CPU.")
	flagSet.Int64("seed", 1, "seed for the choice of address spaces.")
	flagSet.Var(lockKindPtr(LockSpin), "lock", "lock guarding each allocator: spin (default), mutex.")
	flagSet.Int("check-interval", 0, "switches per CPU between invariant checks. 0 disables periodic checks.")

	// Configuration file. It is not a Config field.
	flagSet.String("config", "", "path to a TOML or YAML (.yaml, .yml) configuration file whose keys are flag names with '-' replaced by '_'. Flags given on the command line take precedence.")
}

// Load creates a new Config from flagSet and, if --config names a file, from
// that file. Explicitly set flags take precedence over the file.
func Load(flagSet *flag.FlagSet) (*Config, error) {
	conf, err := NewFromFlags(flagSet)
	if err != nil {
		return nil, err
	}
	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		if err := conf.LoadFile(flagSet, fl.Value.String()); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

// NewFromFlags creates a new Config with values coming from command line flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		obj.Field(i).Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// LoadFile sets the fields present in the configuration file at path. Files
// ending in .yaml or .yml are read as YAML, anything else as TOML. Flags that
// were set explicitly on flagSet take precedence over the file.
func (c *Config) LoadFile(flagSet *flag.FlagSet, path string) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := c.decodeYAML(path); err != nil {
			return err
		}
	default:
		md, err := toml.DecodeFile(path, c)
		if err != nil {
			return fmt.Errorf("reading config file %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config file %q: unknown keys %v", path, undecoded)
		}
	}

	var setErr error
	flagSet.Visit(func(fl *flag.Flag) {
		if setErr == nil {
			setErr = c.setFromFlag(fl)
		}
	})
	if setErr != nil {
		return setErr
	}
	return c.validate()
}

func (c *Config) decodeYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.SetStrict(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	return nil
}

// setFromFlag sets the field tagged with fl's name, if any.
func (c *Config) setFromFlag(fl *flag.Flag) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok && name == fl.Name {
			getter, ok := fl.Value.(flag.Getter)
			if !ok {
				return fmt.Errorf("flag %q cannot be read back", fl.Name)
			}
			obj.Field(i).Set(reflect.ValueOf(getter.Get()))
			return nil
		}
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config, with
// defaults omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		val := fmt.Sprint(obj.Field(i).Interface())
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}
