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

// Package cli is the main entrypoint for asidsim.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/asidalloc/asidsim/cmd"
	"gvisor.dev/asidalloc/asidsim/cmd/util"
	"gvisor.dev/asidalloc/asidsim/config"
	"gvisor.dev/asidalloc/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags and the configuration file, before
	// logging is set up so that the file can configure logging too.
	conf, err := config.Load(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)
	if err := setupLogging(conf, subcommand); err != nil {
		util.Fatalf("%v", err)
	}

	const delimString = `**************** asidsim ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	if path := flag.CommandLine.Lookup("config").Value.String(); path != "" {
		log.Infof("Config file: %q", path)
	}
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %v", subcmdCode)
		os.Exit(0)
	}
	// Return an error that is unlikely to be used by the application.
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(128)
}

// forEachCmd invokes the passed callback for each command supported by
// asidsim.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Simulate), "")

	const analysisGroup = "analysis"
	cb(new(cmd.Layouts), analysisGroup)
	cb(new(cmd.Wrap), analysisGroup)
}

// setupLogging points the global logger and util.ErrorLogger at the targets
// named by conf, and sets the log level.
func setupLogging(conf *config.Config, subcommand string) error {
	var errorLogger io.Writer
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("error opening log file %q: %w", conf.LogFilename, err)
		}
		errorLogger = f
	}
	util.ErrorLogger = errorLogger

	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var emitters log.MultiEmitter
	if len(conf.DebugLog) > 0 {
		f, err := log.OpenFile(conf.DebugLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.PatternOpts{Command: subcommand, Start: time.Now()})
		if err != nil {
			return fmt.Errorf("error opening debug log file in %q: %w", conf.DebugLog, err)
		}
		e, err := newEmitter(conf.DebugLogFormat, f)
		if err != nil {
			return err
		}
		emitters = append(emitters, e)
	}
	if errorLogger != nil {
		e, err := newEmitter(conf.LogFormat, errorLogger)
		if err != nil {
			return err
		}
		emitters = append(emitters, e)
	}
	if conf.AlsoLogToStderr || len(emitters) == 0 {
		e, err := newEmitter(conf.LogFormat, os.Stderr)
		if err != nil {
			return err
		}
		emitters = append(emitters, e)
	}

	switch len(emitters) {
	case 1:
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	// Libraries that use the standard log package end up in the same place.
	return log.CopyStandardLogTo(log.Info)
}

func newEmitter(format string, logFile io.Writer) (log.Emitter, error) {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}, nil
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}, nil
	case "json-k8s":
		return log.K8sJSONEmitter{Writer: &log.Writer{Next: logFile}}, nil
	}
	return nil, fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
}
