package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// CallsBucket is the NATS KV bucket holding LLM call records.
const CallsBucket = "OTTER_LLM_CALLS"

// callsTTL bounds how long call records are retained.
const callsTTL = 7 * 24 * time.Hour

// CallRecord captures a single LLM call for trajectory inspection.
type CallRecord struct {
	RequestID        string    `json:"request_id"`
	Capability       string    `json:"capability"`
	Model            string    `json:"model,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Response         string    `json:"response,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	TotalTokens      int       `json:"total_tokens,omitempty"`
	FinishReason     string    `json:"finish_reason,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	DurationMs       int64     `json:"duration_ms"`
	Error            string    `json:"error,omitempty"`
	Retries          int       `json:"retries,omitempty"`
	FallbacksUsed    []string  `json:"fallbacks_used,omitempty"`
}

// CallStore persists LLM call records in a NATS KV bucket.
type CallStore struct {
	bucket jetstream.KeyValue
}

// NewCallStore creates (or binds to) the call record bucket.
func NewCallStore(ctx context.Context, js jetstream.JetStream) (*CallStore, error) {
	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      CallsBucket,
		Description: "LLM call records for trajectory inspection",
		TTL:         callsTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	return &CallStore{bucket: bucket}, nil
}

// Store saves a call record keyed by request ID.
func (s *CallStore) Store(ctx context.Context, record *CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	if _, err := s.bucket.Put(ctx, record.RequestID, data); err != nil {
		return fmt.Errorf("put call record: %w", err)
	}

	return nil
}

// Get retrieves a call record by request ID.
func (s *CallStore) Get(ctx context.Context, requestID string) (*CallRecord, error) {
	entry, err := s.bucket.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get call record: %w", err)
	}

	var record CallRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return nil, fmt.Errorf("unmarshal call record: %w", err)
	}

	return &record, nil
}

// ListRecent returns up to limit call records, newest first.
func (s *CallStore) ListRecent(ctx context.Context, limit int) ([]*CallRecord, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		// Empty bucket returns ErrNoKeysFound - this is not an error
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*CallRecord{}, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	records := make([]*CallRecord, 0, len(keys))
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue // Deleted between Keys and Get
		}

		var record CallRecord
		if err := json.Unmarshal(entry.Value(), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
