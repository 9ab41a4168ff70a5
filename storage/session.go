// Package storage persists chat sessions and their gathered contexts in
// NATS KV, so a session survives restarts and can be resumed later.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/registry"
)

// Bucket names.
const (
	BucketSessions = "OTTER_SESSIONS"
	BucketContexts = "OTTER_CONTEXTS"
)

// contextTTL expires stored contexts that no session touched in a week.
const contextTTL = 7 * 24 * time.Hour

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// ChatMessage is one turn of a session's conversation.
type ChatMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is a persisted chat session.
type Session struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ContextEnvelope wraps one stored context with the type information
// needed to reconstruct it through the registry's context classes.
type ContextEnvelope struct {
	Type contexts.Type   `json:"type"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// EncodeContexts wraps every entry of a context store into envelopes.
func EncodeContexts(store *contexts.Store) ([]ContextEnvelope, error) {
	entries := store.All()
	envelopes := make([]ContextEnvelope, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e.Context)
		if err != nil {
			return nil, fmt.Errorf("encoding %s context %q: %w", e.Type, e.Key, err)
		}
		envelopes = append(envelopes, ContextEnvelope{Type: e.Type, Key: e.Key, Data: data})
	}
	return envelopes, nil
}

// DecodeContexts rebuilds a context store from envelopes using the
// registry's context class registrations. Envelopes with types the
// registry no longer knows are skipped rather than failing the load.
func DecodeContexts(envelopes []ContextEnvelope, reg *registry.Registry) (*contexts.Store, []error) {
	store := contexts.NewStore()
	var errs []error
	for _, env := range envelopes {
		c, err := reg.DecodeContext(env.Type, env.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("context %q: %w", env.Key, err))
			continue
		}
		store.Put(env.Key, c)
	}
	return store, errs
}

// Store persists sessions and contexts in NATS KV.
type Store struct {
	sessions jetstream.KeyValue
	contexts jetstream.KeyValue
	registry *registry.Registry
}

// NewStore creates the store, creating the KV buckets if needed.
func NewStore(ctx context.Context, js jetstream.JetStream, reg *registry.Registry) (*Store, error) {
	sessions, err := getOrCreateBucket(ctx, js, BucketSessions, "Otter chat sessions", 0)
	if err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	// Gathered contexts are a resume cache, not a record; let them age out.
	ctxs, err := getOrCreateBucket(ctx, js, BucketContexts, "Otter session contexts", contextTTL)
	if err != nil {
		return nil, fmt.Errorf("create contexts bucket: %w", err)
	}
	return &Store{sessions: sessions, contexts: ctxs, registry: reg}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name, description string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		History:     5,
		TTL:         ttl,
	})
}

// CreateSession creates and persists a new empty session.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.putSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	entry, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(entry.Value(), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// AppendMessages appends conversation turns to a session.
func (s *Store) AppendMessages(ctx context.Context, id string, messages ...ChatMessage) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	session.Messages = append(session.Messages, messages...)
	return s.putSession(ctx, session)
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	keys, err := s.sessions.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(keys))
	for _, key := range keys {
		session, err := s.GetSession(ctx, key)
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// DeleteSession removes a session and its saved contexts.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.sessions.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := s.contexts.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete session contexts: %w", err)
	}
	return nil
}

// SaveContexts persists a session's gathered contexts.
func (s *Store) SaveContexts(ctx context.Context, sessionID string, store *contexts.Store) error {
	envelopes, err := EncodeContexts(store)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelopes)
	if err != nil {
		return fmt.Errorf("encoding contexts: %w", err)
	}
	if _, err := s.contexts.Put(ctx, sessionID, data); err != nil {
		return fmt.Errorf("store contexts: %w", err)
	}
	return nil
}

// LoadContexts rebuilds a session's context store. A session with no
// saved contexts yields an empty store.
func (s *Store) LoadContexts(ctx context.Context, sessionID string) (*contexts.Store, error) {
	entry, err := s.contexts.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return contexts.NewStore(), nil
		}
		return nil, fmt.Errorf("load contexts: %w", err)
	}

	var envelopes []ContextEnvelope
	if err := json.Unmarshal(entry.Value(), &envelopes); err != nil {
		return nil, fmt.Errorf("decoding contexts: %w", err)
	}
	store, errs := DecodeContexts(envelopes, s.registry)
	if len(errs) > 0 {
		return store, fmt.Errorf("loaded with %d undecodable contexts (first: %v)", len(errs), errs[0])
	}
	return store, nil
}

func (s *Store) putSession(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.sessions.Put(ctx, session.ID, data); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}
