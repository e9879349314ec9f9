// Package user holds per-user application state keyed by the platform user id,
// with optional pluggable load and persist strategies.
package user

import (
	"context"
	"fmt"
	"sync"
)

// Retriever loads user data when no cached copy exists.
type Retriever[T any] func(ctx context.Context, userID string) (T, error)

// Persister is invoked after every dispatch mutation with the new value.
type Persister[T any] func(ctx context.Context, userID string, data T) error

// Update describes one dispatch mutation: either a replacement value or a
// pure function of the previous value.
type Update[T any] struct {
	value   T
	applyFn func(T) T
}

// Value builds an update that replaces the stored record.
func Value[T any](v T) Update[T] {
	return Update[T]{value: v}
}

// Apply builds an update computed from the previously committed record.
func Apply[T any](fn func(prev T) T) Update[T] {
	return Update[T]{applyFn: fn}
}

// Store caches one record per user id. Records are created lazily on first
// access and are never deleted.
type Store[T any] struct {
	mu       sync.Mutex
	data     map[string]T
	retrieve Retriever[T]
	persist  Persister[T]
}

// NewStore builds an empty store with no strategies registered.
func NewStore[T any]() *Store[T] {
	return &Store[T]{data: make(map[string]T)}
}

// SetRetriever registers the load strategy used on cache misses.
func (s *Store[T]) SetRetriever(r Retriever[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrieve = r
}

// SetPersister registers the save strategy invoked after every dispatch.
func (s *Store[T]) SetPersister(p Persister[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = p
}

// Get returns the cached record for userID. On a miss it invokes the
// retriever if one is registered, otherwise it caches an empty record.
func (s *Store[T]) Get(ctx context.Context, userID string) (T, error) {
	s.mu.Lock()
	if cached, ok := s.data[userID]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	retrieve := s.retrieve
	s.mu.Unlock()

	var value T
	if retrieve != nil {
		loaded, err := retrieve(ctx, userID)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("retrieve user %s: %w", userID, err)
		}
		value = loaded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another goroutine may have committed while the retriever ran; the
	// committed value wins.
	if cached, ok := s.data[userID]; ok {
		return cached, nil
	}
	s.data[userID] = value
	return value, nil
}

// Dispatch commits an update for userID and returns the new value. Function
// updates always receive the most recently committed value. The persister, if
// registered, runs after the commit with the new value.
func (s *Store[T]) Dispatch(ctx context.Context, userID string, update Update[T]) (T, error) {
	s.mu.Lock()
	next := update.value
	if update.applyFn != nil {
		next = update.applyFn(s.data[userID])
	}
	s.data[userID] = next
	persist := s.persist
	s.mu.Unlock()

	if persist != nil {
		if err := persist(ctx, userID, next); err != nil {
			return next, fmt.Errorf("persist user %s: %w", userID, err)
		}
	}
	return next, nil
}

// Peek returns the cached record without triggering retrieval.
func (s *Store[T]) Peek(userID string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[userID]
	return value, ok
}
