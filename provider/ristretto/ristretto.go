// Package ristretto backs the feedcache read mirror with an in-process
// ristretto cache. Entries are wire frames keyed by snapshot key.
package ristretto

import (
	"context"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"
)

// Provider holds mirror frames. Safe for concurrent use.
type Provider struct {
	cache *rc.Cache
}

// Config sizes the mirror cache.
type Config struct {
	NumCounters int64 // admission counters; about 10x the expected entry count
	MaxCost     int64 // budget in the units feedcache passes as cost
	BufferItems int64 // Get buffer size per shard
	Metrics     bool  // collect hit/miss counters, see Stats
}

// DefaultConfig sizes the cache for a handful of snapshot entries.
func DefaultConfig() Config {
	return Config{NumCounters: 1_000, MaxCost: 64 << 20, BufferItems: 64}
}

func (c Config) validate() error {
	switch {
	case c.NumCounters <= 0:
		return fmt.Errorf("ristretto mirror: NumCounters must be > 0, got %d", c.NumCounters)
	case c.MaxCost <= 0:
		return fmt.Errorf("ristretto mirror: MaxCost must be > 0, got %d", c.MaxCost)
	case c.BufferItems <= 0:
		return fmt.Errorf("ristretto mirror: BufferItems must be > 0, got %d", c.BufferItems)
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cache, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto mirror: %w", err)
	}
	return &Provider{cache: cache}, nil
}

// Get reports a miss for anything that is not a frame, and evicts it.
func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, found := p.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	frame, ok := v.([]byte)
	if !ok || frame == nil {
		p.cache.Del(key)
		return nil, false, nil
	}
	return frame, true, nil
}

// Set waits for ristretto's write buffer so the entry is visible to the next
// Get. Mirror writes happen once per commit, so the wait is cheap. A false
// result means the admission policy dropped the frame.
func (p *Provider) Set(_ context.Context, key string, frame []byte, cost int64, ttl time.Duration) (bool, error) {
	admitted := p.cache.SetWithTTL(key, frame, cost, ttl)
	p.cache.Wait()
	return admitted, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.cache.Del(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.cache.Wait()
	p.cache.Close()
	return nil
}

// Stats returns mirror hits and misses. Both are zero unless Config.Metrics
// was set.
func (p *Provider) Stats() (hits, misses uint64) {
	m := p.cache.Metrics
	if m == nil {
		return 0, 0
	}
	return m.Hits(), m.Misses()
}
