package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/feedcache/backend"
	"github.com/unkn0wn-root/feedcache/feed"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(context.Background()); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
	return s, path
}

func sample(ts int64) feed.Snapshot {
	return feed.Snapshot{
		Timestamp: time.Unix(ts, 250),
		Images: []feed.Image{
			{ID: uuid.New(), Description: feed.String("first"), Location: feed.String(""), URL: "https://a/1.png"},
			{ID: uuid.New(), URL: "https://a/2.png"},
			{ID: uuid.New(), Location: feed.String("Porto"), URL: "https://a/3.png"},
		},
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenRunsMigrationsOnce(t *testing.T) {
	_, path := openTemp(t)

	// Re-open the same file: migrations must be recorded and skipped.
	again, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close(context.Background())

	var n int
	if err := again.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 2 {
		t.Fatalf("schema_migrations rows = %d, want 2", n)
	}
}

func TestForeignTableIsSchemaUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE feed_cache (foo TEXT)`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	if _, err := Open(context.Background(), path); !errors.Is(err, backend.ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func TestRoundTripKeepsOrderAndOptionalFields(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	want := sample(1000)
	if _, err := s.Create(ctx, want); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = s.Close(ctx)

	re, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer re.Close(ctx)

	rec, ok, err := re.FindCurrent(ctx)
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if !rec.Snapshot.Equal(want) {
		t.Fatalf("snapshot mismatch\n got=%+v\nwant=%+v", rec.Snapshot, want)
	}
	if rec.Snapshot.Images[1].Description != nil {
		t.Fatalf("NULL description must stay absent")
	}
	if l := rec.Snapshot.Images[0].Location; l == nil || *l != "" {
		t.Fatalf("empty location must stay present, got %v", l)
	}
}

func TestStagedChangesVisibleOnlyUntilRollback(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	old := sample(1)
	rec, _ := s.Create(ctx, old)
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, rec); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.FindCurrent(ctx); ok {
		t.Fatalf("staged delete must hide the record")
	}
	if _, err := s.Create(ctx, sample(2)); err != nil {
		t.Fatalf("create replacement: %v", err)
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	cur, ok, err := s.FindCurrent(ctx)
	if err != nil || !ok || !cur.Snapshot.Equal(old) {
		t.Fatalf("rollback must restore the committed record, ok=%v err=%v", ok, err)
	}

	var images int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM feed_images`).Scan(&images); err != nil {
		t.Fatal(err)
	}
	if images != len(old.Images) {
		t.Fatalf("feed_images rows = %d, want %d", images, len(old.Images))
	}
}

// A constraint failure half-way through Create leaves a partially staged
// snapshot; Rollback must remove all of it.
func TestPartialCreateIsRolledBack(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	bad := sample(1)
	bad.Images[2].URL = "" // violates CHECK (url <> '')
	if _, err := s.Create(ctx, bad); err == nil {
		t.Fatalf("expected create failure")
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	var rows int
	if err := s.db.QueryRow(`SELECT (SELECT COUNT(*) FROM feed_cache) + (SELECT COUNT(*) FROM feed_images)`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 0 {
		t.Fatalf("expected no rows after rollback, got %d", rows)
	}
}

func TestSlotInvariant(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	rec, _ := s.Create(ctx, sample(1))
	if _, err := s.Create(ctx, sample(2)); !errors.Is(err, backend.ErrSlotOccupied) {
		t.Fatalf("expected ErrSlotOccupied, got %v", err)
	}
	_ = s.Commit(ctx)

	if err := s.Delete(ctx, backend.Record{ID: rec.ID + 1}); !errors.Is(err, backend.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	_ = s.Rollback(ctx)
}

func TestEmptySnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	want := feed.Snapshot{Timestamp: time.Unix(5, 0)}
	if _, err := s.Create(ctx, want); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := s.FindCurrent(ctx)
	if err != nil || !ok || !rec.Snapshot.Equal(want) {
		t.Fatalf("empty feed round trip: ok=%v err=%v rec=%+v", ok, err, rec)
	}
}

func TestMemoryDatabase(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer s.Close(ctx)

	if _, err := s.Create(ctx, sample(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.FindCurrent(ctx); err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close(ctx)
	if _, _, err := s.FindCurrent(ctx); !errors.Is(err, backend.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Create(ctx, sample(1)); !errors.Is(err, backend.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestTimestampKeepsZoneOffset(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	cet := time.FixedZone("X", 3600)
	want := feed.Snapshot{Timestamp: time.Date(2024, 5, 1, 10, 30, 0, 42, cet)}
	if _, err := s.Create(ctx, want); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	rec, ok, err := s.FindCurrent(ctx)
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	got := rec.Snapshot.Timestamp
	if !got.Equal(want.Timestamp) {
		t.Fatalf("instant changed: got %v want %v", got, want.Timestamp)
	}
	if _, off := got.Zone(); off != 3600 {
		t.Fatalf("zone offset = %d, want 3600 (%v)", off, got)
	}
	if got.Hour() != 10 || got.Minute() != 30 {
		t.Fatalf("wall clock changed: %v", got)
	}
}

func TestTimestampUTCStaysUTC(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	want := feed.Snapshot{Timestamp: time.Unix(1000, 0).UTC()}
	if _, err := s.Create(ctx, want); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	rec, _, err := s.FindCurrent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Snapshot.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", rec.Snapshot.Timestamp.Location())
	}
}
