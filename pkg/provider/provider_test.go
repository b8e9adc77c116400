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
	"io"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/teradata-labs/warp/pkg/tokens"
	"github.com/teradata-labs/warp/pkg/warperr"
)

func TestMock_ScriptsConsumedInOrder(t *testing.T) {
	m := NewMock(
		MockScript{Events: []Event{
			{Type: EventTextDelta, Text: "hello"},
			{Type: EventResponseComplete, Usage: tokens.Usage{InputTokens: 10}, StopReason: "end_turn"},
		}},
		MockScript{Events: []Event{
			{Type: EventResponseComplete, StopReason: "end_turn"},
		}},
	)

	s, err := m.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	ev, err := s.Recv()
	if err != nil || ev.Type != EventTextDelta || ev.Text != "hello" {
		t.Fatalf("first event = %+v, err = %v", ev, err)
	}
	ev, _ = s.Recv()
	if ev.Type != EventResponseComplete || ev.Usage.InputTokens != 10 {
		t.Errorf("unexpected completion: %+v", ev)
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("expected EOF after script, got %v", err)
	}

	s2, _ := m.Stream(context.Background(), Request{Model: "m"})
	ev, _ = s2.Recv()
	if ev.Type != EventResponseComplete {
		t.Errorf("second script not consumed: %+v", ev)
	}
	if m.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", m.Calls())
	}
}

func TestClassify_StatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   warperr.Category
	}{
		{429, warperr.CategoryProviderTransient},
		{529, warperr.CategoryProviderTransient},
		{500, warperr.CategoryProviderTransient},
		{503, warperr.CategoryProviderTransient},
		{401, warperr.CategoryProviderTerminal},
		{403, warperr.CategoryProviderTerminal},
		{400, warperr.CategoryProviderTerminal},
	}
	for _, tc := range cases {
		err := Classify(&anthropic.Error{StatusCode: tc.status})
		if warperr.CategoryOf(err) != tc.want {
			t.Errorf("status %d: category = %v, want %v", tc.status, warperr.CategoryOf(err), tc.want)
		}
	}
}

func TestClassify_Cancellation(t *testing.T) {
	err := Classify(context.Canceled)
	if warperr.CategoryOf(err) != warperr.CategoryCancelled {
		t.Errorf("category = %v, want cancelled", warperr.CategoryOf(err))
	}
	if warperr.CodeOf(err) != warperr.CodeInterrupted {
		t.Errorf("code = %v", warperr.CodeOf(err))
	}
}

func TestClassify_PreservesStructured(t *testing.T) {
	orig := warperr.New("X", warperr.CategoryProviderTerminal, "nope")
	if Classify(orig) != orig {
		t.Error("structured errors must pass through unchanged")
	}
}

func TestStreamWithRetry_TransientThenSuccess(t *testing.T) {
	m := NewMock(
		MockScript{Err: &anthropic.Error{StatusCode: 529}},
		MockScript{Events: []Event{{Type: EventResponseComplete, StopReason: "end_turn"}}},
	)
	cfg := RetryConfig{Enabled: true, MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}

	s, err := StreamWithRetry(context.Background(), m, Request{Model: "m"}, cfg)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	ev, _ := s.Recv()
	if ev.Type != EventResponseComplete {
		t.Errorf("unexpected event: %+v", ev)
	}
	if m.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", m.Calls())
	}
}

func TestStreamWithRetry_TerminalNotRetried(t *testing.T) {
	m := NewMock(
		MockScript{Err: &anthropic.Error{StatusCode: 401}},
		MockScript{Events: []Event{{Type: EventResponseComplete}}},
	)
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	_, err := StreamWithRetry(context.Background(), m, Request{Model: "m"}, cfg)
	if warperr.CategoryOf(err) != warperr.CategoryProviderTerminal {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if m.Calls() != 1 {
		t.Errorf("terminal error must not retry, calls = %d", m.Calls())
	}
}

func TestStreamWithRetry_Exhaustion(t *testing.T) {
	m := NewMock(
		MockScript{Err: &anthropic.Error{StatusCode: 500}},
		MockScript{Err: &anthropic.Error{StatusCode: 500}},
		MockScript{Err: &anthropic.Error{StatusCode: 500}},
	)
	cfg := RetryConfig{Enabled: true, MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}

	_, err := StreamWithRetry(context.Background(), m, Request{Model: "m"}, cfg)
	if !IsTransient(err) {
		t.Fatalf("expected transient error after exhaustion, got %v", err)
	}
	if m.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", m.Calls())
	}
}

func TestDrain_ConsumesRemainder(t *testing.T) {
	s := &mockStream{events: []Event{
		{Type: EventTextDelta, Text: "a"},
		{Type: EventResponseComplete},
	}}
	Drain(s)
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("expected drained stream, got %v", err)
	}
}
