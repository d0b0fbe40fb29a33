// Package feedcache implements a durable, single-slot cache for a feed
// snapshot (timestamp + ordered images) with three asynchronous operations:
// Retrieve, Insert and DeleteCachedFeed.
//
// Every operation issued against one Store runs on a private serialized
// execution context: one at a time, in submission order, and its completion
// is invoked exactly once with a result or a typed error. Insert replaces any
// existing snapshot inside a single backend commit; a failed write is rolled
// back before the error is reported, so the store is left in its pre-call state.
//
// Components:
//   - backend.Session: durable storage with staged changes and commit/rollback
//     (memory, file, sqlite, redis implementations).
//   - provider.Provider: optional in-process read mirror (ristretto, bigcache).
//   - codec.Codec: snapshot (de)serialization for file/redis records and the mirror.
//
// Errors:
//
//	ErrInitialization / ErrSchemaUnavailable  - New failed (*InitError)
//	ErrStoreAccess                           - Retrieve failed (*AccessError)
//	ErrStoreWrite                            - Insert/Delete failed, rolled back (*WriteError)
//	ErrInvalidFeed                           - Insert rejected before touching storage
//	ErrClosed                                - operation submitted after Close
//
// Usage:
//
//	st, err := feedcache.New(ctx, feedcache.Options{
//	    Location: "feed.db",
//	    Open:     sqlite.Opener(),
//	})
//	st.Insert(images, time.Now(), func(err error) { ... })
//	st.Retrieve(func(r feedcache.Retrieval, err error) { ... })
package feedcache
