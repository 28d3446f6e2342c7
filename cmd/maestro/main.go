// Copyright 2025 Kadir Pekel
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

// Command maestro is the CLI for the Maestro agent orchestrator.
//
// Usage:
//
//	maestro run "summarize the logs" --guidance ./guidance
//	maestro checkpoints list
//	maestro checkpoints show <session-id>
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/kadirpekel/maestro/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version     VersionCmd     `cmd:"" help:"Show version information."`
	Run         RunCmd         `cmd:"" help:"Spawn a session and stream its events."`
	Checkpoints CheckpointsCmd `cmd:"" help:"Inspect stored checkpoints."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(*kong.Context) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("maestro version %s\n", version)
	return nil
}

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("maestro"),
		kong.Description("Agent orchestrator: spawn, supervise, suspend, resume, and checkpoint agent sessions."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	kctx.FatalIfErrorf(kctx.Run(cfg))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
