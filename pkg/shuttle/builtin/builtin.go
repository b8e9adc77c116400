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
// Package builtin provides the workspace tools registered by warpd:
// shell execution and file read/write rooted at the session's working
// directory.
package builtin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/teradata-labs/warp/pkg/shuttle"
)

// defaultBashTimeout bounds a single command when the model does not
// pass an explicit timeout.
const defaultBashTimeout = 2 * time.Minute

// maxOutputBytes truncates runaway command output before it reaches
// the transcript.
const maxOutputBytes = 64 * 1024

// RegisterAll registers the builtin tools against the given registry.
func RegisterAll(registry *shuttle.Registry, workingDirectory string) error {
	tools := []shuttle.Tool{
		&BashTool{WorkingDirectory: workingDirectory},
		&ReadFileTool{WorkingDirectory: workingDirectory},
		&WriteFileTool{WorkingDirectory: workingDirectory},
	}
	for _, t := range tools {
		registry.Register(t)
	}
	return nil
}

// BashTool runs a shell command in the session working directory.
type BashTool struct {
	WorkingDirectory string
}

func (t *BashTool) Name() string { return "Bash" }

func (t *BashTool) Description() string {
	return "Execute a shell command in the session working directory and return its combined output."
}

func (t *BashTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("Shell command execution",
		map[string]*shuttle.JSONSchema{
			"command": shuttle.NewStringSchema("The command to execute"),
			"timeout": shuttle.NewNumberSchema("Timeout in seconds (default 120)"),
		},
		[]string{"command"})
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) (*shuttle.Result, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return &shuttle.Result{Content: "command is required", IsError: true}, nil
	}

	timeout := defaultBashTimeout
	if secs, ok := args["timeout"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.WorkingDirectory
	out, err := cmd.CombinedOutput()

	if ctx.Err() != nil {
		// Abort propagates as an error; timeout is a domain failure
		// the model can react to.
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		return &shuttle.Result{
			Content: fmt.Sprintf("command timed out after %s", timeout),
			IsError: true,
			Details: map[string]interface{}{"timedOut": true},
		}, nil
	}

	result := &shuttle.Result{Content: truncate(string(out))}
	if err != nil {
		result.IsError = true
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.Details = map[string]interface{}{"exitCode": exitErr.ExitCode()}
		} else {
			result.Content = err.Error()
		}
	}
	return result, nil
}

// ReadFileTool returns the contents of a file.
type ReadFileTool struct {
	WorkingDirectory string
}

func (t *ReadFileTool) Name() string { return "Read" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace. Relative paths resolve against the working directory."
}

func (t *ReadFileTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("File read",
		map[string]*shuttle.JSONSchema{
			"file_path": shuttle.NewStringSchema("Path of the file to read"),
		},
		[]string{"file_path"})
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*shuttle.Result, error) {
	path, _ := args["file_path"].(string)
	if path == "" {
		return &shuttle.Result{Content: "file_path is required", IsError: true}, nil
	}
	data, err := os.ReadFile(t.resolve(path))
	if err != nil {
		return &shuttle.Result{Content: err.Error(), IsError: true}, nil
	}
	return &shuttle.Result{
		Content: truncate(string(data)),
		Details: map[string]interface{}{"sizeBytes": len(data)},
	}, nil
}

func (t *ReadFileTool) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(t.WorkingDirectory, path)
}

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct {
	WorkingDirectory string
}

func (t *WriteFileTool) Name() string { return "Write" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating parent directories as needed."
}

func (t *WriteFileTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("File write",
		map[string]*shuttle.JSONSchema{
			"file_path": shuttle.NewStringSchema("Path of the file to write"),
			"content":   shuttle.NewStringSchema("Content to write"),
		},
		[]string{"file_path", "content"})
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*shuttle.Result, error) {
	path, _ := args["file_path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return &shuttle.Result{Content: "file_path is required", IsError: true}, nil
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(t.WorkingDirectory, full)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &shuttle.Result{Content: err.Error(), IsError: true}, nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return &shuttle.Result{Content: err.Error(), IsError: true}, nil
	}
	return &shuttle.Result{
		Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Details: map[string]interface{}{"sizeBytes": len(content)},
	}, nil
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... (output truncated)"
}
