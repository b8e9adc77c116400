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
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/hooks"
	"github.com/teradata-labs/warp/pkg/orchestrator"
	"github.com/teradata-labs/warp/pkg/provider"
	"github.com/teradata-labs/warp/pkg/provider/anthropic"
	"github.com/teradata-labs/warp/pkg/shuttle"
	"github.com/teradata-labs/warp/pkg/shuttle/builtin"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warpd session server",
	Long:  `Starts the session core: opens the event store, registers tools, discovers hooks and serves until interrupted.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.Logger()

	wd, err := resolveWorkingDirectory(cmd)
	if err != nil {
		return err
	}

	store, err := eventstore.Open(config.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	prov, err := buildProvider()
	if err != nil {
		return err
	}

	reasoning, _ := cmd.Flags().GetString("reasoning")
	registry := shuttle.NewRegistry()
	if err := builtin.RegisterAll(registry, wd); err != nil {
		return err
	}
	orch := orchestrator.New(store, prov, registry, orchestratorConfig(reasoning), logger)
	registry.Register(&TaskTool{orch: orch})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dirs := append(hooks.DiscoveryPaths(wd), config.Hooks.ExtraDirs...)
	if n, err := hooks.Discover(orch.Hooks(), dirs, logger); err != nil {
		logger.Warn("hook discovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("hooks discovered", zap.Int("count", n))
	}
	if config.Hooks.WatchEnabled {
		watcher, err := hooks.NewWatcher(orch.Hooks(), logger)
		if err != nil {
			logger.Warn("hook watcher unavailable", zap.Error(err))
		} else {
			if err := watcher.Start(ctx, dirs); err != nil {
				logger.Warn("hook watcher failed to start", zap.Error(err))
			}
			defer watcher.Stop()
		}
	}

	logger.Info("warpd serving",
		zap.String("db_path", config.Database.Path),
		zap.String("working_directory", wd),
		zap.String("model", config.Provider.Model))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return orch.Shutdown(shutdownCtx)
}

// buildProvider constructs the configured LLM backend.
func buildProvider() (provider.Provider, error) {
	switch config.Provider.Name {
	case "", "anthropic":
		key := config.Provider.AnthropicAPIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("no Anthropic API key: set provider.anthropic_api_key or ANTHROPIC_API_KEY")
		}
		return anthropic.NewFromAPIKey(key)
	default:
		return nil, fmt.Errorf("unknown provider: %s", config.Provider.Name)
	}
}

// resolveWorkingDirectory returns the --working-directory flag value,
// made absolute, or the process working directory.
func resolveWorkingDirectory(cmd *cobra.Command) (string, error) {
	wd, _ := cmd.Flags().GetString("working-directory")
	if wd == "" {
		return os.Getwd()
	}
	abs, err := filepath.Abs(wd)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("working directory does not exist: %s", wd)
	}
	return abs, nil
}
