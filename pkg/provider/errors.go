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
	"errors"
	"net"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/teradata-labs/warp/pkg/warperr"
)

// Classify maps a raw provider error onto the structured taxonomy.
// Rate limits, overloads, 5xx and network timeouts are transient;
// auth, permission and invalid-request failures are terminal.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var structured *warperr.Error
	if errors.As(err, &structured) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return warperr.Wrap(err, warperr.CodeInterrupted, warperr.CategoryCancelled, "provider call cancelled")
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429 || apierr.StatusCode == 529 || apierr.StatusCode >= 500:
			return warperr.Wrap(err, "PROVIDER_TRANSIENT", warperr.CategoryProviderTransient, "provider temporarily unavailable")
		default:
			return warperr.Wrap(err, "PROVIDER_TERMINAL", warperr.CategoryProviderTerminal, "provider rejected request")
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return warperr.Wrap(err, "PROVIDER_TRANSIENT", warperr.CategoryProviderTransient, "provider network timeout")
	}

	// Unknown failures are treated as transient so a retry gets a
	// chance before the turn errors out.
	return warperr.Wrap(err, "PROVIDER_TRANSIENT", warperr.CategoryProviderTransient, "provider call failed")
}

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	return warperr.CategoryOf(err) == warperr.CategoryProviderTransient
}
