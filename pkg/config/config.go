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
// Package config loads warpd settings from a YAML file, environment
// variables (WARP_ prefix) and flags bound by the CLI, in that
// precedence order, via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the config file searched in the data
// directory and the working directory.
const DefaultConfigFileName = "warpd"

// Config is the full warpd configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Hooks        HooksConfig        `mapstructure:"hooks"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// DatabaseConfig locates the event store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ProviderConfig selects and credentials the LLM backend.
type ProviderConfig struct {
	Name            string `mapstructure:"name"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	Model           string `mapstructure:"model"`
	MaxTokens       int    `mapstructure:"max_tokens"`
	ReasoningBudget int64  `mapstructure:"reasoning_budget"`

	RetryEnabled    bool `mapstructure:"retry_enabled"`
	RetryMaxRetries int  `mapstructure:"retry_max_retries"`
}

// OrchestratorConfig tunes the session runtime.
type OrchestratorConfig struct {
	MaxConcurrentSessions int    `mapstructure:"max_concurrent_sessions"`
	IdleTTLMinutes        int    `mapstructure:"idle_ttl_minutes"`
	MaxTurns              int    `mapstructure:"max_turns"`
	SystemPrompt          string `mapstructure:"system_prompt"`
}

// HooksConfig controls filesystem hook discovery.
type HooksConfig struct {
	// ExtraDirs are searched in addition to <wd>/.agent/hooks and
	// ~/.config/warp/hooks.
	ExtraDirs []string `mapstructure:"extra_dirs"`

	DefaultTimeoutSeconds int  `mapstructure:"default_timeout_seconds"`
	DrainTimeoutSeconds   int  `mapstructure:"drain_timeout_seconds"`
	WatchEnabled          bool `mapstructure:"watch_enabled"`
}

// LoggingConfig controls the global zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from cfgFile (or the default search
// paths), environment and defaults. A missing config file is not an
// error; defaults apply.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(GetWarpDataDir())
		viper.AddConfigPath(".")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix("WARP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("database.path", DefaultDBPath())

	viper.SetDefault("provider.name", "anthropic")
	viper.SetDefault("provider.model", "claude-sonnet-4-5")
	viper.SetDefault("provider.max_tokens", 8192)
	viper.SetDefault("provider.reasoning_budget", 0)
	viper.SetDefault("provider.retry_enabled", true)
	viper.SetDefault("provider.retry_max_retries", 3)

	viper.SetDefault("orchestrator.max_concurrent_sessions", 32)
	viper.SetDefault("orchestrator.idle_ttl_minutes", 30)
	viper.SetDefault("orchestrator.max_turns", 50)

	viper.SetDefault("hooks.default_timeout_seconds", 30)
	viper.SetDefault("hooks.drain_timeout_seconds", 10)
	viper.SetDefault("hooks.watch_enabled", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
