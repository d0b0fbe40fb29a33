// Package redis keeps the snapshot slot in a single Redis key holding a framed,
// codec-encoded record. Staged changes live in memory; Commit replaces the key
// with one SET, which Redis applies atomically. Deletion stores an "empty"
// frame so record ids stay monotonic.
//
// Known limitation: a Commit that fails on the network may still have been
// applied. The caller then sees a write error while the key holds the new
// frame. Nothing is cached across calls: once staged changes are discarded,
// FindCurrent reads the key again and reports what Redis actually holds.
//
// Redis must be configured for durability (AOF/RDB) for the slot to survive a
// server restart. Concurrent writers to the same key from other processes are
// not coordinated.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/feedcache/backend"
	"github.com/unkn0wn-root/feedcache/codec"
	"github.com/unkn0wn-root/feedcache/feed"
	"github.com/unkn0wn-root/feedcache/internal/util"
	"github.com/unkn0wn-root/feedcache/internal/wire"
)

var ErrNilClient = errors.New("redis backend: nil client")

const keyPrefix = "feedcache"

type Config struct {
	Client      goredis.UniversalClient
	Codec       codec.Codec[feed.Snapshot] // nil => CBOR
	CloseClient bool                       // set true only if this store exclusively owns the client
}

type Store struct {
	rdb         goredis.UniversalClient
	codec       codec.Codec[feed.Snapshot]
	key         string
	closeClient bool

	mu     sync.Mutex
	slot   backend.Slot
	closed bool
}

var _ backend.Session = (*Store)(nil)

// Opener returns a backend.OpenFunc treating location as the key namespace.
func Opener(cfg Config) backend.OpenFunc {
	return func(ctx context.Context, location string) (backend.Session, error) {
		return Open(ctx, location, cfg)
	}
}

// Open pings the server and loads the committed record of namespace.
func Open(ctx context.Context, namespace string, cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	c := cfg.Codec
	if c == nil {
		c = codec.MustCBOR[feed.Snapshot](codec.CBOROptions{})
	}
	s := &Store{
		rdb:         cfg.Client,
		codec:       c,
		key:         util.SnapshotKey(keyPrefix, namespace),
		closeClient: cfg.CloseClient,
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis backend: ping: %w", err)
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Key returns the redis key holding the slot.
func (s *Store) Key() string { return s.key }

// refresh reloads the committed record from redis. Must not be called while
// changes are staged.
func (s *Store) refresh(ctx context.Context) error {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == goredis.Nil {
		s.slot.Load(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis backend: get: %w", err)
	}

	fr, err := wire.Decode(raw)
	if errors.Is(err, wire.ErrVersion) {
		return fmt.Errorf("%w: %s: %v", backend.ErrSchemaUnavailable, s.key, err)
	}
	if err != nil {
		return fmt.Errorf("redis backend: decode %s: %w", s.key, err)
	}
	if fr.Kind == wire.KindEmpty {
		s.slot.Load(nil)
		s.slot.Reserve(int64(fr.Gen))
		return nil
	}
	snap, err := s.codec.Decode(fr.Payload)
	if err != nil {
		return fmt.Errorf("redis backend: decode snapshot %s: %w", s.key, err)
	}
	s.slot.Load(&backend.Record{ID: int64(fr.Gen), Snapshot: snap})
	return nil
}

func (s *Store) FindCurrent(ctx context.Context) (backend.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.Record{}, false, backend.ErrClosed
	}
	if _, dirty := s.slot.Pending(); !dirty {
		if err := s.refresh(ctx); err != nil {
			return backend.Record{}, false, err
		}
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

func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	rec, dirty := s.slot.Pending()
	if !dirty {
		return nil
	}

	var frame []byte
	if rec == nil {
		frame = wire.EncodeEmpty(uint64(s.slot.LastID()))
	} else {
		payload, err := s.codec.Encode(rec.Snapshot)
		if err != nil {
			return fmt.Errorf("redis backend: encode snapshot: %w", err)
		}
		frame = wire.EncodeSnapshot(uint64(rec.ID), payload)
	}

	if err := s.rdb.Set(ctx, s.key, frame, 0).Err(); err != nil {
		return fmt.Errorf("redis backend: commit: %w", err)
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

// Close releases the client only when this store owns it. Safe to call
// multiple times.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.slot.Discard()
	s.closed = true
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
