package llm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/als-computing/otter/llm"
	_ "github.com/als-computing/otter/llm/providers"
	"github.com/als-computing/otter/model"
)

const openAIBody = `{
	"model": "test-model",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func testRegistry(url string) *model.Registry {
	r := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityFast: {Preferred: []string{"primary"}},
		},
		map[string]*model.EndpointConfig{
			"primary": {Provider: "ollama", URL: url, Model: "test-model"},
		},
	)
	r.SetDefault("primary")
	return r
}

func fastRetry() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        time.Millisecond,
	}
}

func TestClientComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(openAIBody))
	}))
	defer srv.Close()

	client := llm.NewClient(testRegistry(srv.URL), llm.WithRetryConfig(fastRetry()))

	resp, err := client.Complete(context.Background(), llm.Request{
		Capability: "fast",
		Messages:   []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
}

func TestClientCallObserver(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(openAIBody))
	}))
	defer srv.Close()

	var provider, outcome string
	client := llm.NewClient(testRegistry(srv.URL),
		llm.WithRetryConfig(fastRetry()),
		llm.WithCallObserver(func(p, o string) { provider, outcome = p, o }),
	)

	_, err := client.Complete(context.Background(), llm.Request{
		Capability: "fast",
		Messages:   []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ollama", provider)
	assert.Equal(t, "success", outcome)
}

func TestClientCompleteValidation(t *testing.T) {
	t.Parallel()

	client := llm.NewClient(testRegistry("http://localhost:1"))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability is required")

	_, err = client.Complete(context.Background(), llm.Request{Capability: "fast"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one message")
}

func TestClientRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(openAIBody))
	}))
	defer srv.Close()

	client := llm.NewClient(testRegistry(srv.URL), llm.WithRetryConfig(fastRetry()))

	resp, err := client.Complete(context.Background(), llm.Request{
		Capability: "fast",
		Messages:   []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientFatalErrorStopsFallback(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := llm.NewClient(testRegistry(srv.URL), llm.WithRetryConfig(fastRetry()))

	_, err := client.Complete(context.Background(), llm.Request{
		Capability: "fast",
		Messages:   []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	// 401 must not be retried.
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientFallsBackAcrossEndpoints(t *testing.T) {
	t.Parallel()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(openAIBody))
	}))
	defer good.Close()

	registry := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityFast: {
				Preferred: []string{"broken"},
				Fallback:  []string{"backup"},
			},
		},
		map[string]*model.EndpointConfig{
			"broken": {Provider: "ollama", URL: bad.URL, Model: "test-model"},
			"backup": {Provider: "ollama", URL: good.URL, Model: "test-model"},
		},
	)

	client := llm.NewClient(registry, llm.WithRetryConfig(fastRetry()))

	resp, err := client.Complete(context.Background(), llm.Request{
		Capability: "fast",
		Messages:   []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)

	// The broken endpoint should have accumulated failures.
	health := registry.GetEndpointHealth("broken")
	require.NotNil(t, health)
	assert.Greater(t, health.FailureCount, 0)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	transient := llm.NewTransientError(assert.AnError)
	fatal := llm.NewFatalError(assert.AnError)

	assert.True(t, llm.IsTransient(transient))
	assert.False(t, llm.IsFatal(transient))
	assert.True(t, llm.IsFatal(fatal))
	assert.False(t, llm.IsTransient(fatal))

	// Unclassified errors are neither.
	assert.False(t, llm.IsTransient(assert.AnError))
	assert.False(t, llm.IsFatal(assert.AnError))
}

func TestRetryConfigBackoff(t *testing.T) {
	t.Parallel()

	rc := llm.RetryConfig{
		MaxAttempts:       4,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        3 * time.Second,
	}

	// Delays double per attempt then hit the cap; jitter stays within a
	// quarter of the nominal delay.
	wants := map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 3 * time.Second,
	}
	for attempt, want := range wants {
		got := rc.Backoff(attempt)
		assert.GreaterOrEqual(t, got, time.Duration(float64(want)*0.75), "attempt %d", attempt)
		assert.LessOrEqual(t, got, time.Duration(float64(want)*1.25), "attempt %d", attempt)
	}
}
