// Package memory is a non-durable backend: the committed snapshot lives in
// process memory and disappears with it. Useful for tests and ephemeral caches.
package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/feedcache/backend"
	"github.com/unkn0wn-root/feedcache/feed"
)

type Store struct {
	mu     sync.Mutex
	slot   backend.Slot
	closed bool
}

var _ backend.Session = (*Store)(nil)

func New() *Store { return &Store{} }

// Opener ignores the location; every call opens an independent empty store.
func Opener() backend.OpenFunc {
	return func(context.Context, string) (backend.Session, error) {
		return New(), nil
	}
}

func (s *Store) FindCurrent(context.Context) (backend.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.Record{}, false, backend.ErrClosed
	}
	rec, ok := s.slot.Current()
	return rec, ok, nil
}

func (s *Store) Delete(_ context.Context, rec backend.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	return s.slot.Delete(rec)
}

func (s *Store) Create(_ context.Context, snap feed.Snapshot) (backend.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.Record{}, backend.ErrClosed
	}
	return s.slot.Create(snap)
}

func (s *Store) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	s.slot.Promote()
	return nil
}

func (s *Store) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot.Discard()
	return nil
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot.Discard()
	s.closed = true
	return nil
}
