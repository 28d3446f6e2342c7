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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/agent/memadapter"
	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/coordinator"
	"github.com/kadirpekel/maestro/pkg/guidance"
	"github.com/kadirpekel/maestro/pkg/observability"
	"github.com/kadirpekel/maestro/pkg/snapshot"
	"github.com/kadirpekel/maestro/pkg/tool"
	"github.com/kadirpekel/maestro/pkg/tool/shelltool"
)

// RunCmd spawns one session against the in-memory adapter and streams
// its events to stdout. Continue a finished session with --continue.
type RunCmd struct {
	Message     string `arg:"" optional:"" help:"Message for the session."`
	Guidance    string `help:"Guidance bundle path (overrides config)." type:"path"`
	Continue    string `name:"continue" help:"Continue the session with this id from its checkpoint."`
	Shell       bool   `help:"Register the shell tool (with approval)."`
	Watch       bool   `help:"Watch the guidance bundle for changes; spawns reload it from disk."`
	MetricsAddr string `name:"metrics-addr" help:"Serve Prometheus metrics on this address (e.g. :9090). Enables observability." placeholder:"ADDR"`
}

func (c *RunCmd) Run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	obsCfg := cfg.Observability
	if c.MetricsAddr != "" {
		obsCfg.Enabled = true
	}
	obs, err := observability.NewManager(&obsCfg)
	if err != nil {
		return err
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.Handler())
		srv := &http.Server{Addr: c.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		slog.Info("Serving metrics", "addr", c.MetricsAddr)
	}

	guidancePath := c.Guidance
	if guidancePath == "" {
		guidancePath = cfg.GuidancePath
	}

	// Spawn and continue load the bundle from disk each time, so a change
	// takes effect on the next session; the watcher surfaces it as it
	// happens.
	if c.Watch && guidancePath != "" {
		go func() {
			err := guidance.Watch(ctx, guidancePath, func() {
				slog.Info("Guidance bundle changed, next spawn reloads it", "path", guidancePath)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Guidance watcher stopped", "error", err)
			}
		}()
	}

	coord := coordinator.New(coordinator.Config{
		SnapshotStore:       snapshot.NewFileStore(cfg.SnapshotDir),
		DefaultGuidancePath: guidancePath,
		Timezone:            cfg.Timezone,
		SkillsPath:          cfg.SkillsPath,
		Observability:       obs,
	})
	if err := coord.Start(); err != nil {
		return err
	}
	defer func() {
		_ = coord.Shutdown(context.Background(), &coordinator.ShutdownOptions{
			Graceful: cfg.Shutdown.IsGraceful(),
			Timeout:  cfg.Shutdown.Timeout(),
		})
	}()

	var tools *tool.Registry
	if c.Shell {
		tools = tool.NewRegistry()
		if err := tools.Register(shelltool.New(shelltool.Config{RequireApproval: true})); err != nil {
			return err
		}
	}

	adapter := memadapter.New()
	input := agent.Input{Message: c.Message}

	var handle *agent.Handle
	if c.Continue != "" {
		handle, err = coord.Continue(ctx, c.Continue, input, adapter, &coordinator.ContinueConfig{Tools: tools})
	} else {
		handle, err = coord.Spawn(ctx, adapter, coordinator.SpawnConfig{Input: input, Tools: tools})
	}
	if err != nil {
		return err
	}

	fmt.Printf("session %s\n", handle.ID())
	for ev := range handle.Events() {
		printEvent(ev)
	}
	return nil
}

func printEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventStatus:
		fmt.Printf("[%s]\n", ev.Status)
	case agent.EventOutput:
		if ev.Text != "" {
			fmt.Print(ev.Text)
		}
		if ev.Final {
			fmt.Println()
		}
	case agent.EventThought:
		fmt.Printf("(thinking) %s\n", ev.Content)
	case agent.EventToolStart:
		fmt.Printf("tool %s(%s) started\n", ev.ToolName, ev.ToolCallID)
	case agent.EventToolEnd:
		if ev.Err != "" {
			fmt.Printf("tool %s failed: %s\n", ev.ToolName, ev.Err)
		} else {
			fmt.Printf("tool %s finished in %dms\n", ev.ToolName, ev.DurationMs)
		}
	case agent.EventSuspended:
		for _, req := range ev.Pending {
			fmt.Printf("suspended: %s awaits %s\n", req.ToolName, req.Kind)
		}
	case agent.EventError:
		fmt.Printf("error: %s\n", ev.Err)
	case agent.EventDone:
		if ev.Result != nil {
			fmt.Printf("done: %s (%d turns, %d tool calls)\n",
				ev.Result.Status, ev.Result.Metrics.Turns, ev.Result.Metrics.ToolCalls)
		}
	}
}
