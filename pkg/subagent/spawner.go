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
package subagent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TmuxSpawnRequest describes a detached out-of-process child.
type TmuxSpawnRequest struct {
	ParentSessionID  string
	Task             string
	DBPath           string
	WorkingDirectory string
	Model            string
	MaxTurns         int
}

// TmuxSpawner launches detached child processes in tmux sessions. The
// child runs the same binary in spawn-handler mode and writes into the
// shared event store.
type TmuxSpawner struct {
	// Binary is the executable to invoke. Defaults to the current
	// process's binary.
	Binary string

	logger *zap.Logger
}

// NewTmuxSpawner creates a spawner for the current binary.
func NewTmuxSpawner(logger *zap.Logger) *TmuxSpawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	binary, err := os.Executable()
	if err != nil {
		binary = "warpd"
	}
	return &TmuxSpawner{Binary: binary, logger: logger}
}

// Spawn starts a detached tmux session running the child and returns
// the child session id and the tmux session name.
func (s *TmuxSpawner) Spawn(ctx context.Context, req TmuxSpawnRequest) (childSessionID, tmuxName string, err error) {
	if req.Task == "" {
		return "", "", fmt.Errorf("spawn task is required")
	}

	childSessionID = uuid.New().String()
	tmuxName = "warp-agent-" + childSessionID[:8]

	args := []string{
		"new-session", "-d", "-s", tmuxName,
		s.Binary, "run",
		"--parent-session-id", req.ParentSessionID,
		"--session-id", childSessionID,
		"--spawn-task", req.Task,
		"--db-path", req.DBPath,
	}
	if req.WorkingDirectory != "" {
		args = append(args, "--working-directory", req.WorkingDirectory)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("tmux spawn failed: %w (%s)", err, string(out))
	}

	s.logger.Info("spawned tmux subagent",
		zap.String("child_session_id", childSessionID),
		zap.String("tmux_session", tmuxName),
		zap.String("parent_session_id", req.ParentSessionID),
	)
	return childSessionID, tmuxName, nil
}
