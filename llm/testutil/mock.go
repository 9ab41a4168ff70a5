// Package testutil provides test utilities for the llm package.
// It includes mock implementations for testing LLM client interactions.
package testutil

import (
	"context"
	"sync"

	"github.com/als-computing/otter/llm"
)

// MockClient is a thread-safe mock LLM client for testing.
// It captures requests passed to Complete() and returns configured responses.
//
// Usage:
//
//	// Single response mock
//	mock := &MockClient{
//	    Responses: []*llm.Response{
//	        {Content: `{"result": "success"}`, Model: "test-model"},
//	    },
//	}
//
//	// Error response
//	mock := &MockClient{
//	    Err: errors.New("connection failed"),
//	}
type MockClient struct {
	mu              sync.Mutex
	capturedRequest llm.Request
	Responses       []*llm.Response // Responses to return in sequence
	Err             error           // Error to return (takes precedence over Responses)
	callCount       int
	responseIndex   int
}

// Complete implements llm.Completer.
// Returns the next response from Responses, or Err if set.
func (m *MockClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.capturedRequest = req
	m.callCount++

	if m.Err != nil {
		return nil, m.Err
	}

	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}

	// Default response if no responses configured
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// CapturedRequest returns the last request passed to Complete().
func (m *MockClient) CapturedRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturedRequest
}

// CallCount returns the number of times Complete() was called.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears captured state and replays responses from the start.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capturedRequest = llm.Request{}
	m.callCount = 0
	m.responseIndex = 0
}
