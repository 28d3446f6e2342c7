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
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/snapshot"
)

// CheckpointsCmd inspects the snapshot store.
type CheckpointsCmd struct {
	List   CheckpointsListCmd   `cmd:"" default:"1" help:"List stored checkpoints."`
	Show   CheckpointsShowCmd   `cmd:"" help:"Print one checkpoint as JSON."`
	Delete CheckpointsDeleteCmd `cmd:"" help:"Delete a checkpoint."`
}

// CheckpointsListCmd lists stored session ids with summary columns.
type CheckpointsListCmd struct{}

func (c *CheckpointsListCmd) Run(cfg *config.Config) error {
	store := snapshot.NewFileStore(cfg.SnapshotDir)
	ctx := context.Background()

	ids, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no checkpoints")
		return nil
	}

	for _, id := range ids {
		cp, err := store.Load(ctx, id)
		if err != nil || cp == nil {
			fmt.Println(id)
			continue
		}
		fmt.Printf("%s  %s  turns=%d  messages=%d  %s\n",
			id, cp.AdapterName, cp.Session.Metrics.Turns, len(cp.Messages),
			cp.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// CheckpointsShowCmd prints one checkpoint.
type CheckpointsShowCmd struct {
	SessionID string `arg:"" help:"Session id."`
}

func (c *CheckpointsShowCmd) Run(cfg *config.Config) error {
	store := snapshot.NewFileStore(cfg.SnapshotDir)

	cp, err := store.Load(context.Background(), c.SessionID)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("no checkpoint for session %s", c.SessionID)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// CheckpointsDeleteCmd removes a checkpoint.
type CheckpointsDeleteCmd struct {
	SessionID string `arg:"" help:"Session id."`
}

func (c *CheckpointsDeleteCmd) Run(cfg *config.Config) error {
	store := snapshot.NewFileStore(cfg.SnapshotDir)

	deleted, err := store.Delete(context.Background(), c.SessionID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("no checkpoint for session %s", c.SessionID)
	}
	fmt.Printf("deleted checkpoint %s\n", c.SessionID)
	return nil
}
