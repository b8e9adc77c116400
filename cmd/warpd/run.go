// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/hooks"
	"github.com/teradata-labs/warp/pkg/orchestrator"
	"github.com/teradata-labs/warp/pkg/shuttle"
	"github.com/teradata-labs/warp/pkg/shuttle/builtin"
	"github.com/teradata-labs/warp/pkg/warperr"
)

var (
	runParentSessionID string
	runSessionID       string
	runSpawnTask       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single prompt as a detached spawn-handler process",
	Long: `Spawn-handler mode: executes one task in its own session against a shared
event store and exits. Invoked by the parent session when delegating work to a
detached (tmux) sub-agent, or directly for one-shot runs.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runSpawnHandler(cmd, args))
	},
}

func init() {
	runCmd.Flags().StringVar(&runParentSessionID, "parent-session-id", "", "session that spawned this run")
	runCmd.Flags().StringVar(&runSessionID, "session-id", "", "pre-generated session id for this run")
	runCmd.Flags().StringVar(&runSpawnTask, "spawn-task", "", "task prompt to execute")
	rootCmd.AddCommand(runCmd)
}

func runSpawnHandler(cmd *cobra.Command, args []string) int {
	logger := log.Logger()

	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %v\n", args)
		return exitUsage
	}
	if runSpawnTask == "" {
		fmt.Fprintln(os.Stderr, "--spawn-task is required")
		return exitUsage
	}
	maxTurns, _ := cmd.Flags().GetInt("max-turns")
	if maxTurns < 0 {
		fmt.Fprintln(os.Stderr, "--max-turns must be positive")
		return exitUsage
	}
	reasoning, _ := cmd.Flags().GetString("reasoning")
	switch reasoning {
	case "", "off", "low", "medium", "high":
	default:
		fmt.Fprintf(os.Stderr, "invalid --reasoning level: %s\n", reasoning)
		return exitUsage
	}

	wd, err := resolveWorkingDirectory(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	store, err := eventstore.Open(config.Database.Path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open event store: %v\n", err)
		return exitFatal
	}
	defer store.Close()

	prov, err := buildProvider()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}

	registry := shuttle.NewRegistry()
	if err := builtin.RegisterAll(registry, wd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	orch := orchestrator.New(store, prov, registry, orchestratorConfig(reasoning), logger)
	registry.Register(&TaskTool{orch: orch})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dirs := append(hooks.DiscoveryPaths(wd), config.Hooks.ExtraDirs...)
	if _, err := hooks.Discover(orch.Hooks(), dirs, logger); err != nil {
		logger.Warn("hook discovery failed", zap.Error(err))
	}

	sessionID := runSessionID
	if sessionID == "" {
		sess, err := store.CreateSession(ctx, wd, config.Provider.Model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create session: %v\n", err)
			return exitFatal
		}
		sessionID = sess.ID
	} else {
		if _, err := store.CreateSessionWithID(ctx, sessionID, wd, config.Provider.Model); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create session: %v\n", err)
			return exitFatal
		}
	}
	if runParentSessionID != "" {
		if err := store.UpdateSessionSpawnInfo(ctx, sessionID, runParentSessionID, eventstore.SpawnTypeTmux, runSpawnTask); err != nil {
			fmt.Fprintf(os.Stderr, "failed to record spawn info: %v\n", err)
			return exitFatal
		}
	}

	logger.Info("spawn handler starting",
		zap.String("session_id", sessionID),
		zap.String("parent_session_id", runParentSessionID))

	result, err := orch.Prompt(ctx, sessionID, orchestrator.PromptRequest{Prompt: runSpawnTask})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if shutdownErr := orch.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("shutdown incomplete", zap.Error(shutdownErr))
	}

	if err != nil {
		if warperr.CodeOf(err) == warperr.CodeInterrupted || ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "run cancelled")
			return exitCancelled
		}
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return exitFatal
	}

	fmt.Println(result.FinalText)
	return exitOK
}
