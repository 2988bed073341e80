package render

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/umlpipe/pkg/cache"
	"github.com/matzehuels/umlpipe/pkg/engine"
	"github.com/matzehuels/umlpipe/pkg/observability"
)

const cacheKeyType = "render"

// CacheStats counts cache outcomes of a CachedEngine.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Coalesced int64
}

// CachedEngine serves repeated sources from a cache and collapses
// concurrent identical requests into a single engine call.
//
// Incomplete sources go straight to the inner engine. Errors are never
// cached.
type CachedEngine struct {
	inner  Engine
	cache  cache.Cache
	keyer  cache.Keyer
	ttl    time.Duration
	logger *log.Logger

	group singleflight.Group

	hits, misses, coalesced atomic.Int64
}

// CachedOptions configures a CachedEngine.
type CachedOptions struct {
	Cache cache.Cache
	// Keyer derives keys. Nil uses cache.NewDefaultKeyer.
	Keyer  cache.Keyer
	TTL    time.Duration
	Logger *log.Logger
}

// NewCachedEngine wraps inner. A nil Cache disables caching but keeps
// request coalescing.
func NewCachedEngine(inner Engine, opts CachedOptions) *CachedEngine {
	if opts.Cache == nil {
		opts.Cache = cache.NewNullCache()
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &CachedEngine{
		inner:  inner,
		cache:  opts.Cache,
		keyer:  opts.Keyer,
		ttl:    opts.TTL,
		logger: opts.Logger.WithPrefix("cache"),
	}
}

// EnsureStarted starts the inner engine.
func (e *CachedEngine) EnsureStarted(ctx context.Context) error {
	return e.inner.EnsureStarted(ctx)
}

// Stop stops the inner engine. The cache stays open so a later
// EnsureStarted serves from it again.
func (e *CachedEngine) Stop() error {
	return e.inner.Stop()
}

// Close stops the inner engine and releases the cache. The CachedEngine
// must not be used afterwards.
func (e *CachedEngine) Close() error {
	err := e.inner.Stop()
	if cerr := e.cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Submit returns the cached SVG for source or renders it.
func (e *CachedEngine) Submit(ctx context.Context, source string) ([]byte, error) {
	if !engine.IsComplete(source) {
		return e.inner.Submit(ctx, source)
	}

	key := e.keyer.RenderKey(source, cache.RenderKeyOpts{})
	if data, ok := e.lookup(ctx, key); ok {
		return data, nil
	}

	// The shared call outlives the caller that started it.
	ch := e.group.DoChan(key, func() (interface{}, error) {
		svg, err := e.inner.Submit(context.WithoutCancel(ctx), source)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Set(context.WithoutCancel(ctx), key, svg, e.ttl); err != nil {
			e.logger.Warn("cache write failed", "key", key, "err", err)
		} else {
			observability.Cache().OnCacheSet(ctx, cacheKeyType, len(svg))
		}
		return svg, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			e.coalesced.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *CachedEngine) lookup(ctx context.Context, key string) ([]byte, bool) {
	data, hit, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache read failed", "key", key, "err", err)
	}
	if err != nil || !hit {
		e.misses.Add(1)
		observability.Cache().OnCacheMiss(ctx, cacheKeyType)
		return nil, false
	}
	e.hits.Add(1)
	observability.Cache().OnCacheHit(ctx, cacheKeyType)
	e.logger.Debug("hit", "key", key, "bytes", len(data))
	return data, true
}

// Stats forwards the inner engine's counters when it has any.
func (e *CachedEngine) Stats() engine.Stats {
	if sp, ok := e.inner.(StatsProvider); ok {
		return sp.Stats()
	}
	return engine.Stats{}
}

// CacheStats returns the cache counters.
func (e *CachedEngine) CacheStats() CacheStats {
	return CacheStats{
		Hits:      e.hits.Load(),
		Misses:    e.misses.Load(),
		Coalesced: e.coalesced.Load(),
	}
}

var (
	_ Engine        = (*CachedEngine)(nil)
	_ StatsProvider = (*CachedEngine)(nil)
)
