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
	"sync"
)

// MockScript is one scripted model response: the events a single
// Stream call will yield, or an error to fail the call with.
type MockScript struct {
	Events []Event
	Err    error
}

// Mock is a scripted provider for tests. Each Stream call consumes the
// next script in order; calls past the end return io.EOF immediately.
type Mock struct {
	mu       sync.Mutex
	scripts  []MockScript
	index    int
	Requests []Request
}

// NewMock creates a scripted provider.
func NewMock(scripts ...MockScript) *Mock {
	return &Mock{scripts: scripts}
}

// Name implements Provider.
func (m *Mock) Name() string { return "mock" }

// Stream implements Provider.
func (m *Mock) Stream(_ context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.index >= len(m.scripts) {
		return &mockStream{}, nil
	}
	script := m.scripts[m.index]
	m.index++
	if script.Err != nil {
		return nil, script.Err
	}
	return &mockStream{events: script.Events}, nil
}

// Calls returns how many Stream calls were made.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

type mockStream struct {
	mu     sync.Mutex
	events []Event
	pos    int
	closed bool
}

func (s *mockStream) Recv() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
