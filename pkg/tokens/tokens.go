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
// Package tokens normalizes provider-reported token counts into
// per-turn records and computes cost. Providers report cumulative
// context sizes; the per-turn delta is derived against the previous
// baseline and clamped at zero so compaction never produces negative
// usage.
package tokens

import (
	"sync"
	"time"
)

// Usage is the raw provider-reported token usage for one response.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64

	// Optional cache-tier splits reported by some providers.
	CacheCreation5mTokens int64
	CacheCreation1hTokens int64
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:           u.InputTokens + other.InputTokens,
		OutputTokens:          u.OutputTokens + other.OutputTokens,
		CacheReadTokens:       u.CacheReadTokens + other.CacheReadTokens,
		CacheCreationTokens:   u.CacheCreationTokens + other.CacheCreationTokens,
		CacheCreation5mTokens: u.CacheCreation5mTokens + other.CacheCreation5mTokens,
		CacheCreation1hTokens: u.CacheCreation1hTokens + other.CacheCreation1hTokens,
	}
}

// CalculationMethod tags how computed figures were derived.
type CalculationMethod string

const (
	// MethodProviderCumulative means the provider reports cumulative
	// context sizes and the delta was computed against the baseline.
	MethodProviderCumulative CalculationMethod = "provider_cumulative"

	// MethodEstimated means the provider omitted counts and the figures
	// were estimated from text.
	MethodEstimated CalculationMethod = "estimated"
)

// Record is the per-turn token record: the raw source figures plus the
// derived context-window and per-turn numbers.
type Record struct {
	Source struct {
		Usage     Usage
		Provider  string
		Timestamp time.Time
	}

	Computed struct {
		// ContextWindowTokens is the cumulative context size the
		// provider reported for this turn.
		ContextWindowTokens int64

		// NewInputTokens is the context growth since the previous
		// turn, clamped at zero.
		NewInputTokens int64

		Method CalculationMethod
	}

	Meta struct {
		Turn        int
		SessionID   string
		ExtractedAt time.Time
	}
}

// NewRecord derives a Record from raw usage. previousBaseline is the
// context-window size observed on the prior turn (zero for the first).
func NewRecord(sessionID string, turn int, provider string, usage Usage, previousBaseline int64, method CalculationMethod) Record {
	var r Record
	r.Source.Usage = usage
	r.Source.Provider = provider
	r.Source.Timestamp = time.Now().UTC()

	r.Computed.ContextWindowTokens = usage.InputTokens
	delta := usage.InputTokens - previousBaseline
	if delta < 0 {
		delta = 0
	}
	r.Computed.NewInputTokens = delta
	r.Computed.Method = method

	r.Meta.Turn = turn
	r.Meta.SessionID = sessionID
	r.Meta.ExtractedAt = time.Now().UTC()
	return r
}

// ToPayload renders the record into event payload form.
func (r Record) ToPayload() map[string]interface{} {
	return map[string]interface{}{
		"source": map[string]interface{}{
			"inputTokens":         r.Source.Usage.InputTokens,
			"outputTokens":        r.Source.Usage.OutputTokens,
			"cacheReadTokens":     r.Source.Usage.CacheReadTokens,
			"cacheCreationTokens": r.Source.Usage.CacheCreationTokens,
			"provider":            r.Source.Provider,
		},
		"computed": map[string]interface{}{
			"contextWindowTokens": r.Computed.ContextWindowTokens,
			"newInputTokens":      r.Computed.NewInputTokens,
			"method":              string(r.Computed.Method),
		},
		"turn": r.Meta.Turn,
	}
}

// ContextManager holds the latest context-window snapshot per session
// so transcript views and progress bars agree on one number.
type ContextManager struct {
	mu        sync.RWMutex
	snapshots map[string]int64
}

// NewContextManager creates an empty manager.
func NewContextManager() *ContextManager {
	return &ContextManager{snapshots: make(map[string]int64)}
}

// Update records the context-window size for a session.
func (m *ContextManager) Update(sessionID string, contextWindowTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[sessionID] = contextWindowTokens
}

// Snapshot returns the last recorded context-window size for a session.
func (m *ContextManager) Snapshot(sessionID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[sessionID]
}

// Clear drops a session's snapshot (session end, eviction).
func (m *ContextManager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, sessionID)
}
