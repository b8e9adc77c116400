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
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// kindsByFilename maps discovered hook filenames (without priority
// prefix and extension) to kinds.
var kindsByFilename = map[string]Kind{
	"pre-tool-use":       PreToolUse,
	"post-tool-use":      PostToolUse,
	"stop":               Stop,
	"subagent-stop":      SubagentStop,
	"session-start":      SessionStart,
	"session-end":        SessionEnd,
	"user-prompt-submit": UserPromptSubmit,
	"pre-compact":        PreCompact,
	"notification":       Notification,
}

// DiscoveryPaths returns the hook directories in precedence order:
// project-local first, then the user config directory.
func DiscoveryPaths(workingDirectory string) []string {
	paths := []string{filepath.Join(workingDirectory, ".agent", "hooks")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "warp", "hooks"))
	}
	return paths
}

// Discover scans the given directories for hook scripts and registers
// them with the engine. Unknown filenames are skipped with a warning.
func Discover(engine *Engine, dirs []string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registered := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return registered, fmt.Errorf("reading hook directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			def, ok := parseHookFile(filepath.Join(dir, entry.Name()))
			if !ok {
				logger.Warn("skipping unrecognized hook file",
					zap.String("file", entry.Name()),
					zap.String("dir", dir))
				continue
			}
			if err := engine.Register(def); err != nil {
				logger.Warn("failed to register discovered hook",
					zap.String("file", entry.Name()),
					zap.Error(err))
				continue
			}
			registered++
			logger.Debug("registered filesystem hook",
				zap.String("name", def.Name),
				zap.String("kind", string(def.Kind)),
				zap.Int("priority", def.Priority))
		}
	}
	return registered, nil
}

// parseHookFile maps a hook file path to a Definition. The filename
// (minus extension) must match the kind table, optionally prefixed
// with "N-" to set priority.
func parseHookFile(path string) (Definition, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".sh" {
		return Definition{}, false
	}
	name := strings.TrimSuffix(base, ext)

	priority := 0
	if idx := strings.Index(name, "-"); idx > 0 {
		if n, err := strconv.Atoi(name[:idx]); err == nil {
			priority = n
			name = name[idx+1:]
		}
	}

	kind, ok := kindsByFilename[name]
	if !ok {
		return Definition{}, false
	}

	return Definition{
		Name:     path,
		Kind:     kind,
		Priority: priority,
		Handler:  shellHandler(path),
	}, true
}

// shellHandler runs a hook script as a subprocess. The context is
// passed via environment variables; stdout is parsed as a JSON result,
// falling back to a continue result carrying raw stdout.
func shellHandler(scriptPath string) Handler {
	return func(ctx context.Context, hctx Context) (Result, error) {
		contextJSON, err := json.Marshal(map[string]interface{}{
			"sessionId":  hctx.SessionID,
			"toolName":   hctx.ToolName,
			"toolCallId": hctx.ToolCallID,
			"toolArgs":   hctx.ToolArgs,
			"prompt":     hctx.Prompt,
			"extra":      hctx.Extra,
		})
		if err != nil {
			return Result{}, err
		}

		cmd := exec.CommandContext(ctx, scriptPath)
		cmd.Env = append(os.Environ(),
			"HOOK_CONTEXT="+string(contextJSON),
			"HOOK_TYPE="+string(hctx.Kind),
			"HOOK_SESSION_ID="+hctx.SessionID,
		)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return Result{}, fmt.Errorf("hook script %s: %w (stderr: %s)",
				scriptPath, err, strings.TrimSpace(stderr.String()))
		}

		out := strings.TrimSpace(stdout.String())
		var result Result
		if err := json.Unmarshal([]byte(out), &result); err != nil || result.Action == "" {
			return Result{Action: ActionContinue, Message: out}, nil
		}
		return result, nil
	}
}
