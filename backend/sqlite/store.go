// Package sqlite stores the snapshot slot in SQLite (modernc.org/sqlite, pure Go).
//
// Layout: one row in feed_cache per snapshot and its images in feed_images,
// ordered by position and owned through cache_id. Staged changes live in an
// open *sql.Tx begun by the first mutation; Commit and Rollback end it.
// The pool is limited to one connection so reads made while a transaction is
// open go through that transaction and observe the staged state.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/feedcache/backend"
	"github.com/unkn0wn-root/feedcache/backend/sqlite/migrations"
	"github.com/unkn0wn-root/feedcache/feed"
)

const memoryPath = ":memory:"

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
}

func defaults() config {
	return config{busyTimeout: 5_000, synchronous: "NORMAL"}
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
	tx *sql.Tx
}

var _ backend.Session = (*Store)(nil)

// Opener returns a backend.OpenFunc treating location as the database path.
func Opener(opts ...Option) backend.OpenFunc {
	return func(ctx context.Context, location string) (backend.Session, error) {
		return Open(ctx, location, opts...)
	}
}

// Open opens and migrates the database at path (":memory:" for a private
// in-memory database). Migration or schema verification failures wrap
// backend.ErrSchemaUnavailable.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite backend: path is required")
	}
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if path != memoryPath {
		path = filepath.Clean(path)
		if cfg.mkdirAll {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("sqlite backend: mkdir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite backend: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db, path, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite backend: ping: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", backend.ErrSchemaUnavailable, err)
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", backend.ErrSchemaUnavailable, err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, path string, cfg config) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	if path != memoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite backend: %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) q() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// begin starts the staging transaction on first use. The transaction outlives
// the call's ctx; only Commit/Rollback end it.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	if s.db == nil {
		return nil, backend.ErrClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite backend: begin: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func (s *Store) FindCurrent(ctx context.Context) (backend.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return backend.Record{}, false, backend.ErrClosed
	}
	q := s.q()

	var (
		rec     backend.Record
		seconds int64
		nanos   int64
		offset  int
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, timestamp_unix, timestamp_nanos, timestamp_offset FROM feed_cache ORDER BY id DESC LIMIT 1`,
	).Scan(&rec.ID, &seconds, &nanos, &offset)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Record{}, false, nil
	}
	if err != nil {
		return backend.Record{}, false, fmt.Errorf("sqlite backend: find cache: %w", err)
	}
	rec.Snapshot.Timestamp = restoreTime(seconds, nanos, offset)

	images, err := loadImages(ctx, q, rec.ID)
	if err != nil {
		return backend.Record{}, false, err
	}
	rec.Snapshot.Images = images
	return rec, true, nil
}

// The zone name is not stored; a timestamp comes back in a fixed zone with the
// offset it was inserted with, as the RFC 3339 codecs do.
func zoneOffset(t time.Time) int {
	_, off := t.Zone()
	return off
}

func restoreTime(seconds, nanos int64, offset int) time.Time {
	t := time.Unix(seconds, nanos)
	if offset == 0 {
		return t.UTC()
	}
	return t.In(time.FixedZone("", offset))
}

func loadImages(ctx context.Context, q queryer, cacheID int64) ([]feed.Image, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT image_id, description, location, url
		 FROM feed_images
		 WHERE cache_id = ?
		 ORDER BY position`,
		cacheID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite backend: find images: %w", err)
	}
	defer rows.Close()

	images := []feed.Image{}
	for rows.Next() {
		var (
			rawID       []byte
			description sql.NullString
			location    sql.NullString
			img         feed.Image
		)
		if err := rows.Scan(&rawID, &description, &location, &img.URL); err != nil {
			return nil, fmt.Errorf("sqlite backend: scan image: %w", err)
		}
		id, err := uuid.FromBytes(rawID)
		if err != nil {
			return nil, fmt.Errorf("sqlite backend: image id: %w", err)
		}
		img.ID = id
		if description.Valid {
			img.Description = feed.String(description.String)
		}
		if location.Valid {
			img.Location = feed.String(location.String)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite backend: iterate images: %w", err)
	}
	return images, nil
}

func (s *Store) Delete(ctx context.Context, rec backend.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_images WHERE cache_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("sqlite backend: delete images: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM feed_cache WHERE id = ?`, rec.ID)
	if err != nil {
		return fmt.Errorf("sqlite backend: delete cache: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", backend.ErrRecordNotFound, rec.ID)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, snap feed.Snapshot) (backend.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.begin(ctx)
	if err != nil {
		return backend.Record{}, err
	}

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM feed_cache LIMIT 1`).Scan(&existing)
	switch {
	case err == nil:
		return backend.Record{}, fmt.Errorf("%w: id %d", backend.ErrSlotOccupied, existing)
	case !errors.Is(err, sql.ErrNoRows):
		return backend.Record{}, fmt.Errorf("sqlite backend: check slot: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO feed_cache (timestamp_unix, timestamp_nanos, timestamp_offset) VALUES (?, ?, ?)`,
		snap.Timestamp.Unix(), int64(snap.Timestamp.Nanosecond()), zoneOffset(snap.Timestamp),
	)
	if err != nil {
		return backend.Record{}, fmt.Errorf("sqlite backend: insert cache: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return backend.Record{}, fmt.Errorf("sqlite backend: cache id: %w", err)
	}

	if len(snap.Images) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO feed_images (cache_id, position, image_id, description, location, url)
			 VALUES (?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return backend.Record{}, fmt.Errorf("sqlite backend: prepare image insert: %w", err)
		}
		defer stmt.Close()

		for i, img := range snap.Images {
			if _, err := stmt.ExecContext(ctx,
				id, i, img.ID[:], nullString(img.Description), nullString(img.Location), img.URL,
			); err != nil {
				return backend.Record{}, fmt.Errorf("sqlite backend: insert image %d: %w", i, err)
			}
		}
	}
	return backend.Record{ID: id, Snapshot: snap.Clone()}, nil
}

func (s *Store) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return backend.ErrClosed
	}
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite backend: commit: %w", err)
	}
	return nil
}

func (s *Store) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackLocked()
}

func (s *Store) rollbackLocked() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sqlite backend: rollback: %w", err)
	}
	return nil
}

// Close discards staged changes and releases the connection.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	rbErr := s.rollbackLocked()
	err := s.db.Close()
	s.db = nil
	return errors.Join(rbErr, err)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
