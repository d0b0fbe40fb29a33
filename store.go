package feedcache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/unkn0wn-root/feedcache/backend"
	c "github.com/unkn0wn-root/feedcache/codec"
	"github.com/unkn0wn-root/feedcache/feed"
	"github.com/unkn0wn-root/feedcache/internal/serial"
	"github.com/unkn0wn-root/feedcache/internal/util"
	"github.com/unkn0wn-root/feedcache/internal/wire"
	pr "github.com/unkn0wn-root/feedcache/provider"
)

const (
	opRetrieve = "retrieve"
	opInsert   = "insert"
	opDelete   = "delete"

	stageValidate = "validate"
	stageFind     = "find"
	stageDelete   = "delete"
	stageCreate   = "create"
	stageCommit   = "commit"
	stageRollback = "rollback"

	mirrorKeyPrefix  = "feedcache"
	defaultMirrorTTL = 10 * time.Minute
)

type store struct {
	q        *serial.Queue // storage work, one operation at a time
	out      *serial.Queue // completions, in the order their operations ran
	sess     backend.Session
	location string
	log      Logger
	hooks    Hooks

	mirror      pr.Provider
	mirrorKey   string
	mirrorCodec c.Codec[feed.Snapshot]
	mirrorTTL   time.Duration
	mirrorCost  MirrorCostFunc

	// gen identifies the committed state the mirror entry must carry.
	// Only the queue worker touches it after construction.
	gen uint64

	mu     sync.Mutex // orders submissions against Close
	closed bool

	closeOnce sync.Once
	released  chan struct{}
	closeErr  error // written on the worker before released is closed
}

func newStore(ctx context.Context, opts Options) (*store, error) {
	if opts.Open == nil {
		return nil, &InitError{Location: opts.Location, Err: errors.New("backend opener is required")}
	}
	sess, err := opts.Open(ctx, opts.Location)
	if err != nil {
		return nil, &InitError{Location: opts.Location, Err: err}
	}
	if sess == nil {
		return nil, &InitError{Location: opts.Location, Err: errors.New("backend returned nil session")}
	}

	s := &store{
		sess:      sess,
		location:  opts.Location,
		mirror:    opts.Mirror,
		mirrorKey: util.SnapshotKey(mirrorKeyPrefix, opts.Namespace),
	}

	// defaults
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.mirrorTTL = coalesce[time.Duration](opts.MirrorTTL, defaultMirrorTTL)

	if opts.MirrorCodec != nil {
		s.mirrorCodec = opts.MirrorCodec
	} else {
		s.mirrorCodec = c.MustCBOR[feed.Snapshot](c.CBOROptions{})
	}
	if opts.ComputeMirrorCost != nil {
		s.mirrorCost = opts.ComputeMirrorCost
	} else {
		s.mirrorCost = func(string, []byte) int64 { return 1 }
	}

	// Random per instance so entries left in a shared mirror by another
	// Store are never mistaken for the current state.
	s.gen = rand.Uint64()

	s.q = serial.New()
	s.out = serial.New()
	s.released = make(chan struct{})
	s.log.Debug("store opened", Fields{"location": s.location, "mirror": s.mirror != nil})
	return s, nil
}

// ==============================
// Public operations
// ==============================

func (s *store) Retrieve(completion func(Retrieval, error)) {
	s.submit(opRetrieve, func(ctx context.Context) func() {
		r, err := s.retrieve(ctx)
		return func() {
			if completion != nil {
				completion(r, err)
			}
		}
	}, func() {
		if completion != nil {
			completion(Retrieval{}, ErrClosed)
		}
	})
}

func (s *store) Insert(images []Image, timestamp time.Time, completion func(error)) {
	// copy now: the caller may reuse images after Insert returns
	snap := feed.Snapshot{Timestamp: timestamp, Images: images}.Clone()
	s.submit(opInsert, func(ctx context.Context) func() {
		err := s.insert(ctx, snap)
		return func() {
			if completion != nil {
				completion(err)
			}
		}
	}, func() {
		if completion != nil {
			completion(ErrClosed)
		}
	})
}

func (s *store) DeleteCachedFeed(completion func(error)) {
	s.submit(opDelete, func(ctx context.Context) func() {
		err := s.deleteCached(ctx)
		return func() {
			if completion != nil {
				completion(err)
			}
		}
	}, func() {
		if completion != nil {
			completion(ErrClosed)
		}
	})
}

// Close queues the release behind every operation submitted before it and
// waits for it or ctx. Completions never run on the storage worker, so a
// completion may call Close without stalling the queue.
func (s *store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		s.q.Submit(func() {
			s.closeErr = s.release(context.Background())
			close(s.released)
		})
	})
	select {
	case <-s.released:
		return s.closeErr
	default:
	}
	select {
	case <-s.released:
		return s.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *store) release(ctx context.Context) error {
	var errs []error
	if err := s.sess.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	if s.mirror != nil {
		if err := s.mirror.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close mirror: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.log.Warn("store close failed", Fields{"location": s.location, "err": err})
	} else {
		s.log.Debug("store closed", Fields{"location": s.location})
	}
	return err
}

// submit enqueues run on the storage worker and hands the completion it
// returns to the delivery queue. After Close, reject takes the same path so
// ErrClosed results keep submission order behind earlier completions.
func (s *store) submit(op string, run func(ctx context.Context) func(), reject func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Debug("operation rejected (store closed)", Fields{"op": op})
		s.q.Submit(func() { s.out.Submit(reject) })
		return
	}
	s.q.Submit(func() { s.out.Submit(run(context.Background())) })
}

// ==============================
// Operations (run on the queue worker)
// ==============================

func (s *store) retrieve(ctx context.Context) (Retrieval, error) {
	if snap, found, hit := s.mirrorGet(ctx); hit {
		s.log.Debug("retrieve served from mirror", Fields{"found": found, "images": len(snap.Images)})
		return Retrieval{Snapshot: snap, Found: found}, nil
	}

	rec, found, err := s.findCurrent(ctx)
	if err != nil {
		s.failed(opRetrieve, stageFind, err)
		return Retrieval{}, &AccessError{Stage: stageFind, Err: err}
	}

	if found {
		s.mirrorPut(ctx, &rec.Snapshot)
	} else {
		s.mirrorPut(ctx, nil)
	}
	s.log.Debug("retrieve done", Fields{"found": found, "images": len(rec.Snapshot.Images)})
	return Retrieval{Snapshot: rec.Snapshot, Found: found}, nil
}

// insert replaces the slot within one commit: find, delete existing, create,
// commit. Deleting before creating keeps a single record visible at all times.
func (s *store) insert(ctx context.Context, snap feed.Snapshot) error {
	if err := feed.Validate(snap.Images); err != nil {
		s.failed(opInsert, stageValidate, err)
		return &WriteError{Op: opInsert, Stage: stageValidate, Err: err}
	}

	rec, found, err := s.findCurrent(ctx)
	if err != nil {
		return s.abort(ctx, opInsert, stageFind, err)
	}
	if found {
		if err := guard(stageDelete, func() error { return s.sess.Delete(ctx, rec) }); err != nil {
			return s.abort(ctx, opInsert, stageDelete, err)
		}
	}
	if err := guard(stageCreate, func() error {
		_, err := s.sess.Create(ctx, snap)
		return err
	}); err != nil {
		return s.abort(ctx, opInsert, stageCreate, err)
	}
	if err := guard(stageCommit, func() error { return s.sess.Commit(ctx) }); err != nil {
		return s.abort(ctx, opInsert, stageCommit, err)
	}

	s.committed(ctx, &snap)
	s.log.Debug("insert committed", Fields{"replaced": found, "images": len(snap.Images)})
	return nil
}

func (s *store) deleteCached(ctx context.Context) error {
	rec, found, err := s.findCurrent(ctx)
	if err != nil {
		return s.abort(ctx, opDelete, stageFind, err)
	}
	if !found {
		s.log.Debug("delete: store already empty", nil)
		return nil
	}
	if err := guard(stageDelete, func() error { return s.sess.Delete(ctx, rec) }); err != nil {
		return s.abort(ctx, opDelete, stageDelete, err)
	}
	if err := guard(stageCommit, func() error { return s.sess.Commit(ctx) }); err != nil {
		return s.abort(ctx, opDelete, stageCommit, err)
	}

	s.committed(ctx, nil)
	s.log.Debug("delete committed", nil)
	return nil
}

func (s *store) findCurrent(ctx context.Context) (rec backend.Record, found bool, err error) {
	err = guard(stageFind, func() error {
		var e error
		rec, found, e = s.sess.FindCurrent(ctx)
		return e
	})
	return rec, found, err
}

// abort rolls back staged changes and builds the error reported for a failed
// write.
func (s *store) abort(ctx context.Context, op, stage string, err error) error {
	werr := &WriteError{Op: op, Stage: stage, Err: err}
	rbErr := guard(stageRollback, func() error { return s.sess.Rollback(ctx) })
	if rbErr != nil {
		werr.RollbackErr = rbErr
		s.hooks.RollbackFailed(op, rbErr)
		s.log.Error("rollback failed", Fields{"op": op, "stage": stage, "err": err, "rollbackErr": rbErr})
	}
	// A failed commit may still have been applied by a remote backend, and a
	// failed rollback leaves staged state unknown. Either way the mirror can no
	// longer vouch for the backend.
	if rbErr != nil || stage == stageCommit {
		s.gen++
		s.mirrorDel(ctx)
	}
	s.failed(op, stage, err)
	return werr
}

func (s *store) failed(op, stage string, err error) {
	s.hooks.OperationFailed(op, stage, err)
	s.log.Warn("operation failed", Fields{"op": op, "stage": stage, "err": err})
}

// committed advances the generation and publishes the new state to the mirror.
// snap == nil means the slot is now empty.
func (s *store) committed(ctx context.Context, snap *feed.Snapshot) {
	s.gen++
	s.mirrorPut(ctx, snap)
}

// guard converts a panic in backend code into an error so the operation still
// completes and rolls back.
func guard(stage string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feedcache: panic during %s: %v", stage, r)
		}
	}()
	return f()
}

// ==============================
// Read mirror
// ==============================

// mirrorGet returns hit=false when the backend must be consulted.
func (s *store) mirrorGet(ctx context.Context) (snap feed.Snapshot, found bool, hit bool) {
	if s.mirror == nil {
		return feed.Snapshot{}, false, false
	}
	raw, ok, err := s.mirror.Get(ctx, s.mirrorKey)
	if err != nil {
		s.log.Debug("mirror get failed", Fields{"key": s.mirrorKey, "err": err})
		return feed.Snapshot{}, false, false
	}
	if !ok {
		return feed.Snapshot{}, false, false
	}

	fr, err := wire.Decode(raw)
	if err != nil {
		s.selfHeal(ctx, "corrupt")
		return feed.Snapshot{}, false, false
	}
	if fr.Gen != s.gen {
		s.selfHeal(ctx, "gen_mismatch")
		return feed.Snapshot{}, false, false
	}
	if fr.Kind == wire.KindEmpty {
		return feed.Snapshot{}, false, true
	}
	snap, err = s.mirrorCodec.Decode(fr.Payload)
	if err != nil {
		s.selfHeal(ctx, "value_decode")
		return feed.Snapshot{}, false, false
	}
	return snap, true, true
}

func (s *store) mirrorPut(ctx context.Context, snap *feed.Snapshot) {
	if s.mirror == nil {
		return
	}
	var frame []byte
	if snap == nil {
		frame = wire.EncodeEmpty(s.gen)
	} else {
		payload, err := s.mirrorCodec.Encode(*snap)
		if err != nil {
			s.log.Warn("mirror encode failed", Fields{"key": s.mirrorKey, "err": err})
			s.mirrorDel(ctx)
			return
		}
		frame = wire.EncodeSnapshot(s.gen, payload)
	}

	ok, err := s.mirror.Set(ctx, s.mirrorKey, frame, s.mirrorCost(s.mirrorKey, frame), s.mirrorTTL)
	if err != nil {
		s.log.Debug("mirror set failed", Fields{"key": s.mirrorKey, "err": err})
		return
	}
	if !ok {
		s.hooks.MirrorSetRejected(s.mirrorKey)
		s.log.Debug("mirror set rejected (pressure)", Fields{"key": s.mirrorKey})
	}
}

func (s *store) selfHeal(ctx context.Context, reason string) {
	s.hooks.MirrorSelfHeal(s.mirrorKey, reason)
	s.mirrorDel(ctx)
}

func (s *store) mirrorDel(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Del(ctx, s.mirrorKey); err != nil {
		s.log.Debug("mirror delete failed", Fields{"key": s.mirrorKey, "err": err})
	}
}
