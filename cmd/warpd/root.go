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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/warp/internal/log"
	warpconfig "github.com/teradata-labs/warp/pkg/config"
	"github.com/teradata-labs/warp/pkg/orchestrator"
	"github.com/teradata-labs/warp/pkg/provider"
)

// Exit codes of the spawn-handler mode.
const (
	exitOK        = 0
	exitFatal     = 1
	exitUsage     = 2
	exitCancelled = 130
)

var version = "dev"

var (
	cfgFile string
	config  *warpconfig.Config
)

var rootCmd = &cobra.Command{
	Use:     "warpd",
	Short:   "Warp - multi-session coding-agent server core",
	Long:    `Warp (warpd) runs the coding-agent session core: an append-only branchable event store, the turn pipeline, hooks and sub-agent tracking.`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $WARP_DATA_DIR/warpd.yaml)")

	rootCmd.PersistentFlags().String("db-path", "", "SQLite event store path")
	rootCmd.PersistentFlags().String("model", "", "model id")
	rootCmd.PersistentFlags().String("working-directory", "", "session working directory")
	rootCmd.PersistentFlags().Int("max-turns", 0, "maximum provider round-trips per prompt")
	rootCmd.PersistentFlags().String("reasoning", "", "reasoning level (off, low, medium, high)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db-path"))
	_ = viper.BindPFlag("provider.model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("orchestrator.max_turns", rootCmd.PersistentFlags().Lookup("max-turns"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	var err error
	config, err = warpconfig.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(exitFatal)
	}
	if err := log.Init(config.Logging.Level, config.Logging.Format == "json"); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(exitFatal)
	}
}

// reasoningBudget maps the --reasoning level to a thinking-token
// budget. Empty and "off" disable extended thinking.
func reasoningBudget(level string) int64 {
	switch level {
	case "low":
		return 2048
	case "medium":
		return 8192
	case "high":
		return 32768
	default:
		return 0
	}
}

func orchestratorConfig(reasoning string) orchestrator.Config {
	budget := config.Provider.ReasoningBudget
	if reasoning != "" {
		budget = reasoningBudget(reasoning)
	}
	return orchestrator.Config{
		MaxConcurrentSessions: config.Orchestrator.MaxConcurrentSessions,
		IdleTTL:               time.Duration(config.Orchestrator.IdleTTLMinutes) * time.Minute,
		MaxTurns:              config.Orchestrator.MaxTurns,
		MaxResponseTokens:     config.Provider.MaxTokens,
		ReasoningBudget:       budget,
		SystemPrompt:          config.Orchestrator.SystemPrompt,
		Retry: provider.RetryConfig{
			Enabled:      config.Provider.RetryEnabled,
			MaxRetries:   config.Provider.RetryMaxRetries,
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     10 * time.Second,
		},
		DrainTimeout: time.Duration(config.Hooks.DrainTimeoutSeconds) * time.Second,
	}
}
