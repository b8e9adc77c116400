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

import "strings"

// Rates are USD per million tokens for one model.
type Rates struct {
	Input         float64
	Output        float64
	CacheRead     float64
	CacheCreation float64
}

// modelRates maps model name prefixes to pricing. Longest matching
// prefix wins; unknown models fall back to defaultRates.
var modelRates = map[string]Rates{
	"claude-opus":    {Input: 15.0, Output: 75.0, CacheRead: 1.50, CacheCreation: 18.75},
	"claude-sonnet":  {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheCreation: 3.75},
	"claude-haiku":   {Input: 0.80, Output: 4.0, CacheRead: 0.08, CacheCreation: 1.0},
	"claude-3-opus":  {Input: 15.0, Output: 75.0, CacheRead: 1.50, CacheCreation: 18.75},
	"claude-3-haiku": {Input: 0.25, Output: 1.25, CacheRead: 0.03, CacheCreation: 0.30},
}

var defaultRates = Rates{Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheCreation: 3.75}

// RatesFor returns the pricing for a model name.
func RatesFor(model string) Rates {
	best := ""
	for prefix := range modelRates {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultRates
	}
	return modelRates[best]
}

// EstimateCost computes the USD cost of a usage under a model's rates.
func EstimateCost(model string, usage Usage) float64 {
	r := RatesFor(model)
	const million = 1_000_000.0
	return float64(usage.InputTokens)*r.Input/million +
		float64(usage.OutputTokens)*r.Output/million +
		float64(usage.CacheReadTokens)*r.CacheRead/million +
		float64(usage.CacheCreationTokens)*r.CacheCreation/million
}

// ResolveCost picks the authoritative cost for a turn. A nonzero
// provider-reported figure wins; otherwise the local estimate stands.
func ResolveCost(providerReported, estimated float64) float64 {
	if providerReported != 0 {
		return providerReported
	}
	return estimated
}
