package contexts

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Store holds contexts for a chat session, keyed by (type, key).
// Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items map[Type]map[string]Context
}

// NewStore creates an empty context store.
func NewStore() *Store {
	return &Store{
		items: make(map[Type]map[string]Context),
	}
}

// Put stores a context under the given key. An existing entry with the
// same type and key is replaced.
func (s *Store) Put(key string, ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := ctx.ContextType()
	if s.items[t] == nil {
		s.items[t] = make(map[string]Context)
	}
	s.items[t][key] = ctx
}

// Get retrieves a context by type and key.
func (s *Store) Get(t Type, key string) (Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ctx, ok := s.items[t][key]; ok {
		return ctx, nil
	}
	return nil, fmt.Errorf("no %s context with key %q", t, key)
}

// Has reports whether a context exists for the given type and key.
func (s *Store) Has(t Type, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[t][key]
	return ok
}

// HasType reports whether any context of the given type exists.
func (s *Store) HasType(t Type) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items[t]) > 0
}

// Keys returns the keys stored for a type, sorted for stable output.
func (s *Store) Keys(t Type) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items[t]))
	for k := range s.items[t] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Types returns all context types present in the store, sorted.
func (s *Store) Types() []Type {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]Type, 0, len(s.items))
	for t := range s.items {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Len returns the total number of stored contexts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.items {
		n += len(m)
	}
	return n
}

// UniqueKey returns base if it is free for the type, otherwise base_2,
// base_3, ... Execution plans occasionally reuse context keys; the suffix
// keeps earlier results addressable.
func (s *Store) UniqueKey(t Type, base string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.items[t][base]; !ok {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if _, ok := s.items[t][candidate]; !ok {
			return candidate
		}
	}
}

// All returns a snapshot of every stored context as (type, key, context)
// entries, ordered by type then key.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []Entry
	for t, m := range s.items {
		for k, c := range m {
			entries = append(entries, Entry{Type: t, Key: k, Context: c})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Entry is a single stored context with its addressing.
type Entry struct {
	Type    Type
	Key     string
	Context Context
}
