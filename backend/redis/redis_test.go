package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/feedcache/backend"
	"github.com/unkn0wn-root/feedcache/codec"
	"github.com/unkn0wn-root/feedcache/feed"
	"github.com/unkn0wn-root/feedcache/internal/wire"
)

func TestOpenRequiresClient(t *testing.T) {
	if _, err := Open(context.Background(), "feed", Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestOpenFailsWhenServerUnreachable(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	if _, err := Open(context.Background(), "feed", Config{Client: rdb}); err == nil {
		t.Fatalf("expected ping error")
	}
}

// The tests below need a server: FEEDCACHE_TEST_REDIS_ADDR=127.0.0.1:6379.
func testClient(t *testing.T) goredis.UniversalClient {
	t.Helper()
	addr := os.Getenv("FEEDCACHE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FEEDCACHE_TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testNamespace(t *testing.T, rdb goredis.UniversalClient) string {
	ns := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), "feedcache:"+ns+":snapshot").Err()
	})
	return ns
}

func TestCommitRollbackAndReopen(t *testing.T) {
	ctx := context.Background()
	rdb := testClient(t)
	ns := testNamespace(t, rdb)

	s, err := Open(ctx, ns, Config{Client: rdb})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	want := feed.Snapshot{
		Timestamp: time.Unix(1000, 0),
		Images:    []feed.Image{{ID: uuid.New(), URL: "https://a/1.png"}},
	}
	if _, err := s.Create(ctx, want); err != nil {
		t.Fatal(err)
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := rdb.Exists(ctx, s.Key()).Result(); n != 0 {
		t.Fatalf("rollback must not write")
	}

	rec, _ := s.Create(ctx, want)
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	re, err := Open(ctx, ns, Config{Client: rdb})
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := re.FindCurrent(ctx)
	if err != nil || !ok || !got.Snapshot.Equal(want) {
		t.Fatalf("reopen: ok=%v err=%v", ok, err)
	}

	if err := re.Delete(ctx, got); err != nil {
		t.Fatal(err)
	}
	if err := re.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	raw, err := rdb.Get(ctx, s.Key()).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	fr, err := wire.Decode(raw)
	if err != nil || fr.Kind != wire.KindEmpty || int64(fr.Gen) != rec.ID {
		t.Fatalf("expected empty frame carrying id %d, got %+v err=%v", rec.ID, fr, err)
	}
}

func TestVersionMismatchIsSchemaUnavailable(t *testing.T) {
	ctx := context.Background()
	rdb := testClient(t)
	ns := testNamespace(t, rdb)

	raw := wire.EncodeEmpty(1)
	raw[4] = wire.Version + 1
	if err := rdb.Set(ctx, "feedcache:"+ns+":snapshot", raw, 0).Err(); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(ctx, ns, Config{Client: rdb}); !errors.Is(err, backend.ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func TestFailedCommitKeepsStagedStateUntilRollback(t *testing.T) {
	ctx := context.Background()
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	// built directly: Open would fail its ping
	s := &Store{rdb: rdb, codec: codec.JSON[feed.Snapshot]{}, key: "feedcache:offline:snapshot"}
	if _, err := s.Create(ctx, feed.Snapshot{Timestamp: time.Unix(1, 0)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx); err == nil {
		t.Fatalf("expected commit error")
	}
	if _, dirty := s.slot.Pending(); !dirty {
		t.Fatalf("failed commit must leave the change staged for Rollback")
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if _, dirty := s.slot.Pending(); dirty {
		t.Fatalf("rollback must discard the staged change")
	}
}

func TestFindCurrentReportsWriteAppliedDespiteError(t *testing.T) {
	ctx := context.Background()
	rdb := testClient(t)
	ns := testNamespace(t, rdb)

	s, err := Open(ctx, ns, Config{Client: rdb})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	// the frame a SET would have written before its reply was lost
	want := feed.Snapshot{
		Timestamp: time.Unix(2000, 0).UTC(),
		Images:    []feed.Image{{ID: uuid.New(), URL: "https://a/late.png"}},
	}
	payload, err := codec.MustCBOR[feed.Snapshot](codec.CBOROptions{}).Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	if err := rdb.Set(ctx, s.Key(), wire.EncodeSnapshot(7, payload), 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	rec, ok, err := s.FindCurrent(ctx)
	if err != nil || !ok || rec.ID != 7 || !rec.Snapshot.Equal(want) {
		t.Fatalf("expected the applied frame, got ok=%v err=%v rec=%+v", ok, err, rec)
	}
}
