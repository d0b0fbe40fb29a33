package feedcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/feedcache/backend"
	c "github.com/unkn0wn-root/feedcache/codec"
	"github.com/unkn0wn-root/feedcache/feed"
	pr "github.com/unkn0wn-root/feedcache/provider"
)

type (
	Image    = feed.Image
	Snapshot = feed.Snapshot
)

// Retrieval is the result of Retrieve. Found is false when the store is empty.
// Snapshot.Timestamp is the inserted instant with its zone offset; durable
// backends do not keep the zone name, so compare timestamps with Equal.
type Retrieval struct {
	Snapshot Snapshot
	Found    bool
}

// Store is the asynchronous single-slot feed cache.
// Calls never block on storage. Completions run on a delivery goroutine owned
// by the store, exactly once, in submission order. A nil completion is allowed.
type Store interface {
	Retrieve(completion func(Retrieval, error))
	Insert(images []Image, timestamp time.Time, completion func(error))
	DeleteCachedFeed(completion func(error))

	// Close waits for queued operations to finish their storage work, then
	// releases the backend and mirror. Their completions may still be in
	// flight when Close returns. Operations submitted afterwards complete with
	// ErrClosed. If ctx ends first, Close returns ctx.Err() and the release
	// still happens once the queue drains.
	Close(ctx context.Context) error
}

type MirrorCostFunc func(key string, raw []byte) int64

// Options configure a Store. Only Open is required.
type Options struct {
	// Required
	Open     backend.OpenFunc // e.g. sqlite.Opener(), file.Opener()
	Location string           // passed to Open (path, DSN, key namespace)

	Namespace         string                 // mirror key namespace; "" => "default"
	Logger            Logger                 // if nil, NopLogger is used
	Hooks             Hooks                  // if nil, NopHooks is used
	Mirror            pr.Provider            // nil => every Retrieve reads the backend
	MirrorCodec       c.Codec[feed.Snapshot] // nil => CBOR
	MirrorTTL         time.Duration          // 0 => 10m
	ComputeMirrorCost MirrorCostFunc         // default 1
}

// New opens the backend session and starts the store's execution context.
// Errors are *InitError matching ErrSchemaUnavailable or ErrInitialization.
func New(ctx context.Context, opts Options) (Store, error) {
	s, err := newStore(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
