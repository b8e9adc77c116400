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
package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls exponential backoff for opening provider
// streams. Only transient failures are retried.
type RetryConfig struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the standard backoff policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
}

// StreamWithRetry opens a provider stream with exponential backoff on
// transient failures. Terminal errors and cancellation return
// immediately.
func StreamWithRetry(ctx context.Context, p Provider, req Request, cfg RetryConfig) (Stream, error) {
	if !cfg.Enabled || cfg.MaxRetries == 0 {
		stream, err := p.Stream(ctx, req)
		if err != nil {
			return nil, Classify(err)
		}
		return stream, nil
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		stream, err := p.Stream(ctx, req)
		if err == nil {
			if attempt > 0 {
				zap.L().Info("provider retry succeeded",
					zap.Int("attempt", attempt+1),
					zap.String("provider", p.Name()),
				)
			}
			return stream, nil
		}

		lastErr = Classify(err)
		if !IsTransient(lastErr) {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, Classify(ctx.Err())
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		zap.L().Warn("provider call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, Classify(ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	zap.L().Error("provider retries exhausted",
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Error(lastErr),
	)
	return nil, lastErr
}
