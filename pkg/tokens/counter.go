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
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts for text when the provider omits
// usage figures. Uses tiktoken with cl100k_base encoding, a close
// approximation for the supported model families.
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalCounter *Counter
	counterOnce   sync.Once
)

// GetCounter returns the singleton counter instance.
func GetCounter() *Counter {
	counterOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Fall back to char-based estimation if the encoding
			// dictionary cannot be loaded.
			globalCounter = &Counter{encoder: nil}
			return
		}
		globalCounter = &Counter{encoder: tkm}
	})
	return globalCounter
}

// Count returns the token count for a text.
func (c *Counter) Count(text string) int {
	if c.encoder == nil {
		return len(text) / 4
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.encoder.Encode(text, nil, nil))
}

// CountAll counts tokens across multiple text segments.
func (c *Counter) CountAll(texts ...string) int {
	total := 0
	for _, text := range texts {
		total += c.Count(text)
	}
	return total
}

// EstimateUsage builds an estimated Usage for a prompt/completion pair
// with a small per-message formatting overhead.
func (c *Counter) EstimateUsage(promptTexts, completionTexts []string) Usage {
	const messageOverhead = 10

	var in, out int
	for _, t := range promptTexts {
		in += messageOverhead + c.Count(t)
	}
	for _, t := range completionTexts {
		out += messageOverhead + c.Count(t)
	}
	return Usage{InputTokens: int64(in), OutputTokens: int64(out)}
}
