// Package file persists the snapshot slot in a single framed file.
//
// Staged changes live in memory. Commit encodes the staged state, writes it to
// a temporary file in the same directory, fsyncs it and renames it over the
// target, so readers of the path only ever see a complete old or new frame.
// A deleted snapshot is stored as an "empty" frame which also carries the last
// record id, keeping ids monotonic across restarts.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/unkn0wn-root/feedcache/backend"
	"github.com/unkn0wn-root/feedcache/codec"
	"github.com/unkn0wn-root/feedcache/feed"
	"github.com/unkn0wn-root/feedcache/internal/wire"
)

type config struct {
	codec    codec.Codec[feed.Snapshot]
	mkdirAll bool
	perm     os.FileMode
}

func defaults() config {
	return config{
		codec: codec.MustCBOR[feed.Snapshot](codec.CBOROptions{}),
		perm:  0o600,
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithCodec sets the payload codec. Default: CBOR. A file must be read with
// the codec that wrote it.
func WithCodec(c codec.Codec[feed.Snapshot]) Option { return func(o *config) { o.codec = c } }

// WithMkdirAll creates parent directories of the path before opening.
func WithMkdirAll() Option { return func(o *config) { o.mkdirAll = true } }

// WithPerm sets the permission bits of the snapshot file. Default: 0600.
func WithPerm(p os.FileMode) Option { return func(o *config) { o.perm = p } }

type Store struct {
	path string
	cfg  config

	mu     sync.Mutex
	slot   backend.Slot
	closed bool
}

var _ backend.Session = (*Store)(nil)

// Opener returns a backend.OpenFunc treating location as the file path.
func Opener(opts ...Option) backend.OpenFunc {
	return func(ctx context.Context, location string) (backend.Session, error) {
		return Open(ctx, location, opts...)
	}
}

// Open loads the committed snapshot from path. A missing file is an empty
// slot. A frame of another format version wraps backend.ErrSchemaUnavailable.
func Open(_ context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file backend: path is required")
	}
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.codec == nil {
		return nil, fmt.Errorf("file backend: codec is required")
	}

	s := &Store{path: filepath.Clean(path), cfg: cfg}
	if cfg.mkdirAll {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return nil, fmt.Errorf("file backend: mkdir: %w", err)
		}
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file backend: read %s: %w", s.path, err)
	}

	fr, err := wire.Decode(raw)
	if errors.Is(err, wire.ErrVersion) {
		return fmt.Errorf("%w: %s: %v", backend.ErrSchemaUnavailable, s.path, err)
	}
	if err != nil {
		return fmt.Errorf("file backend: decode %s: %w", s.path, err)
	}

	switch fr.Kind {
	case wire.KindEmpty:
		s.slot.Load(nil)
		s.slot.Reserve(int64(fr.Gen))
	case wire.KindSnapshot:
		snap, err := s.cfg.codec.Decode(fr.Payload)
		if err != nil {
			return fmt.Errorf("file backend: decode snapshot %s: %w", s.path, err)
		}
		s.slot.Load(&backend.Record{ID: int64(fr.Gen), Snapshot: snap})
	}
	return nil
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

// Commit writes the staged state. On failure the file on disk is untouched and
// the staged changes remain until Rollback.
func (s *Store) Commit(context.Context) error {
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
		payload, err := s.cfg.codec.Encode(rec.Snapshot)
		if err != nil {
			return fmt.Errorf("file backend: encode snapshot: %w", err)
		}
		frame = wire.EncodeSnapshot(uint64(rec.ID), payload)
	}

	if err := writeAtomic(s.path, frame, s.cfg.perm); err != nil {
		return err
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

// Path returns the cleaned snapshot file path.
func (s *Store) Path() string { return s.path }

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("file backend: create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file backend: write temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file backend: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file backend: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file backend: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("file backend: rename: %w", err)
	}
	committed = true

	// Persist the rename itself. Not every platform supports fsync on a
	// directory; the data is already in place either way.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
