// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:        10, // sample logs: ~every 10th self-heal
//	    OperationFailedEvery: 1,  // log every failed operation
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	st, _ := feedcache.New(ctx, feedcache.Options{
//	    Location: "feed.db",
//	    Open:     sqlite.Opener(),
//	    Hooks:    hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/feedcache"
)

// Hooks forwards events to inner on background workers. Events are dropped,
// never blocked on, when the queue is full or after Close.
type Hooks struct {
	inner   feedcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ feedcache.Hooks = (*Hooks)(nil)

func New(inner feedcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) OperationFailed(op, stage string, err error) {
	h.try(func() { h.inner.OperationFailed(op, stage, err) })
}
func (h *Hooks) RollbackFailed(op string, err error) {
	h.try(func() { h.inner.RollbackFailed(op, err) })
}
func (h *Hooks) MirrorSelfHeal(k, r string) { h.try(func() { h.inner.MirrorSelfHeal(k, r) }) }
func (h *Hooks) MirrorSetRejected(k string) { h.try(func() { h.inner.MirrorSetRejected(k) }) }
