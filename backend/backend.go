// Package backend defines the durable storage contract consumed by the feedcache
// engine.
//
// A Session is a unit of work over a single snapshot slot. Mutations (Create,
// Delete) are staged and become durable only on Commit; Rollback discards them.
// FindCurrent always reflects staged changes.
//
// The engine calls a Session from exactly one goroutine, so implementations do
// not need internal locking for engine use. Implementations MUST keep the slot
// invariant themselves: Create fails with ErrSlotOccupied while a record is
// visible, so a commit can never persist two snapshots.
package backend

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/feedcache/feed"
)

var (
	// ErrSchemaUnavailable is wrapped by OpenFunc when the record schema (tables,
	// record format version) cannot be loaded.
	ErrSchemaUnavailable = errors.New("backend: record schema unavailable")
	// ErrRecordNotFound is returned by Delete when the record is no longer visible.
	ErrRecordNotFound = errors.New("backend: record not found")
	// ErrSlotOccupied is returned by Create while another record is visible.
	ErrSlotOccupied = errors.New("backend: snapshot slot occupied")
	// ErrClosed is returned by any call after Close.
	ErrClosed = errors.New("backend: session closed")
)

// Record is a persisted snapshot plus the backend's handle for it.
// ID is opaque to the engine; it is only passed back to Delete.
type Record struct {
	ID       int64
	Snapshot feed.Snapshot
}

// Session is the narrow store handle the engine depends on.
type Session interface {
	// FindCurrent returns the visible record, if any. (Record{}, false, nil) on empty.
	FindCurrent(ctx context.Context) (Record, bool, error)

	// Delete stages removal of rec and every image it owns.
	Delete(ctx context.Context, rec Record) error

	// Create stages a new record holding a copy of s.
	Create(ctx context.Context, s feed.Snapshot) (Record, error)

	// Commit durably persists all staged changes as one unit. On error the
	// previously committed state is intact.
	Commit(ctx context.Context) error

	// Rollback discards staged changes since the last Commit. No-op when
	// nothing is staged.
	Rollback(ctx context.Context) error

	// Close releases resources; staged changes are discarded.
	Close(ctx context.Context) error
}

// OpenFunc opens a Session against a backend-specific location (file path,
// DSN, key namespace).
type OpenFunc func(ctx context.Context, location string) (Session, error)
