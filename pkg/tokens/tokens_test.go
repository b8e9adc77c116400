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
package tokens

import (
	"testing"
)

func TestNewRecord_DeltaAgainstBaseline(t *testing.T) {
	usage := Usage{InputTokens: 5000, OutputTokens: 300}
	rec := NewRecord("s1", 2, "anthropic", usage, 4200, MethodProviderCumulative)

	if rec.Computed.ContextWindowTokens != 5000 {
		t.Errorf("contextWindowTokens = %d, want 5000", rec.Computed.ContextWindowTokens)
	}
	if rec.Computed.NewInputTokens != 800 {
		t.Errorf("newInputTokens = %d, want 800", rec.Computed.NewInputTokens)
	}
	if rec.Meta.Turn != 2 || rec.Meta.SessionID != "s1" {
		t.Errorf("unexpected meta: %+v", rec.Meta)
	}
}

func TestNewRecord_ClampedAfterCompaction(t *testing.T) {
	// After compaction the context shrinks below the old baseline.
	usage := Usage{InputTokens: 1000}
	rec := NewRecord("s1", 7, "anthropic", usage, 150000, MethodProviderCumulative)

	if rec.Computed.NewInputTokens != 0 {
		t.Errorf("newInputTokens = %d, want 0 (clamped)", rec.Computed.NewInputTokens)
	}
	if rec.Computed.ContextWindowTokens != 1000 {
		t.Errorf("contextWindowTokens = %d, want 1000", rec.Computed.ContextWindowTokens)
	}
}

func TestNewRecord_FirstTurnZeroBaseline(t *testing.T) {
	rec := NewRecord("s1", 1, "anthropic", Usage{InputTokens: 1234}, 0, MethodProviderCumulative)
	if rec.Computed.NewInputTokens != 1234 {
		t.Errorf("newInputTokens = %d, want 1234", rec.Computed.NewInputTokens)
	}
}

func TestRecordToPayload_Keys(t *testing.T) {
	rec := NewRecord("s1", 3, "anthropic", Usage{InputTokens: 10, OutputTokens: 20, CacheReadTokens: 5}, 0, MethodEstimated)
	payload := rec.ToPayload()

	computed, ok := payload["computed"].(map[string]interface{})
	if !ok {
		t.Fatal("missing computed section")
	}
	if computed["newInputTokens"] != int64(10) {
		t.Errorf("newInputTokens = %v", computed["newInputTokens"])
	}
	if computed["method"] != string(MethodEstimated) {
		t.Errorf("method = %v", computed["method"])
	}
	source := payload["source"].(map[string]interface{})
	if source["cacheReadTokens"] != int64(5) {
		t.Errorf("cacheReadTokens = %v", source["cacheReadTokens"])
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 1, OutputTokens: 2, CacheReadTokens: 3}
	b := Usage{InputTokens: 10, OutputTokens: 20, CacheCreationTokens: 5}
	sum := a.Add(b)
	if sum.InputTokens != 11 || sum.OutputTokens != 22 || sum.CacheReadTokens != 3 || sum.CacheCreationTokens != 5 {
		t.Errorf("unexpected sum: %+v", sum)
	}
}

func TestRatesFor_PrefixMatch(t *testing.T) {
	opus := RatesFor("claude-opus-4-20250514")
	if opus.Input != 15.0 {
		t.Errorf("opus input rate = %v, want 15.0", opus.Input)
	}
	// claude-3-opus is a longer prefix than claude-opus would ever
	// match for this name, and must win over any shorter candidate.
	legacy := RatesFor("claude-3-opus-20240229")
	if legacy.Input != 15.0 {
		t.Errorf("legacy opus input rate = %v", legacy.Input)
	}
	unknown := RatesFor("some-future-model")
	if unknown != defaultRates {
		t.Errorf("unknown model should use default rates, got %+v", unknown)
	}
}

func TestEstimateCost(t *testing.T) {
	usage := Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := EstimateCost("claude-sonnet-4-20250514", usage)
	if cost != 18.0 {
		t.Errorf("cost = %v, want 18.0", cost)
	}
}

func TestResolveCost_ProviderWinsOnlyWhenNonzero(t *testing.T) {
	if got := ResolveCost(0.42, 0.10); got != 0.42 {
		t.Errorf("provider cost should win: %v", got)
	}
	if got := ResolveCost(0, 0.10); got != 0.10 {
		t.Errorf("estimate should stand when provider reports zero: %v", got)
	}
}

func TestCounter_Fallback(t *testing.T) {
	c := &Counter{encoder: nil}
	if got := c.Count("abcdefgh"); got != 2 {
		t.Errorf("char fallback = %d, want 2", got)
	}
	if got := c.CountAll("abcd", "efgh"); got != 2 {
		t.Errorf("CountAll fallback = %d, want 2", got)
	}
}

func TestCounter_EstimateUsageOverhead(t *testing.T) {
	c := &Counter{encoder: nil}
	usage := c.EstimateUsage([]string{"abcd"}, []string{"efgh"})
	if usage.InputTokens != 11 {
		t.Errorf("input = %d, want 11 (overhead + 1)", usage.InputTokens)
	}
	if usage.OutputTokens != 11 {
		t.Errorf("output = %d, want 11", usage.OutputTokens)
	}
}

func TestContextManager(t *testing.T) {
	m := NewContextManager()
	if m.Snapshot("s1") != 0 {
		t.Error("empty manager should report zero")
	}
	m.Update("s1", 42000)
	m.Update("s2", 100)
	if m.Snapshot("s1") != 42000 {
		t.Errorf("snapshot = %d", m.Snapshot("s1"))
	}
	m.Clear("s1")
	if m.Snapshot("s1") != 0 {
		t.Error("cleared session should report zero")
	}
	if m.Snapshot("s2") != 100 {
		t.Error("clear must not affect other sessions")
	}
}
