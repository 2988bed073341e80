// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about the rendering engine, the local bridge, and the
// render cache.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetEngineHooks(&myEngineHooks{})
//	    observability.SetCacheHooks(&myCacheHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Engine().OnSubmit(ctx, queueDepth)
//	// ... wait for frame ...
//	observability.Engine().OnFrame(ctx, len(frame), duration)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Engine Hooks
// =============================================================================

// EngineHooks receives events from the rendering engine supervisor.
type EngineHooks interface {
	// Lifecycle events
	OnStart(ctx context.Context, pid int, err error)
	OnStop(ctx context.Context, rejected int)
	OnExit(ctx context.Context, rejected int, err error)

	// Request events
	OnSubmit(ctx context.Context, queueDepth int)
	OnFrame(ctx context.Context, size int, duration time.Duration)
	OnTimeout(ctx context.Context, queueDepth int)
}

// =============================================================================
// Bridge Hooks
// =============================================================================

// BridgeHooks receives events from the local HTTP bridge.
type BridgeHooks interface {
	// OnListen records a successful or failed bind.
	OnListen(ctx context.Context, port int, err error)

	// OnRequest records a served HTTP request.
	OnRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopEngineHooks is a no-op implementation of EngineHooks.
type NoopEngineHooks struct{}

func (NoopEngineHooks) OnStart(context.Context, int, error)         {}
func (NoopEngineHooks) OnStop(context.Context, int)                 {}
func (NoopEngineHooks) OnExit(context.Context, int, error)          {}
func (NoopEngineHooks) OnSubmit(context.Context, int)               {}
func (NoopEngineHooks) OnFrame(context.Context, int, time.Duration) {}
func (NoopEngineHooks) OnTimeout(context.Context, int)              {}

// NoopBridgeHooks is a no-op implementation of BridgeHooks.
type NoopBridgeHooks struct{}

func (NoopBridgeHooks) OnListen(context.Context, int, error)                          {}
func (NoopBridgeHooks) OnRequest(context.Context, string, string, int, time.Duration) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	engineHooks EngineHooks = NoopEngineHooks{}
	bridgeHooks BridgeHooks = NoopBridgeHooks{}
	cacheHooks  CacheHooks  = NoopCacheHooks{}
	hooksMu     sync.RWMutex
)

// SetEngineHooks registers custom engine hooks.
// This should be called once at application startup before the engine starts.
func SetEngineHooks(h EngineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		engineHooks = h
	}
}

// SetBridgeHooks registers custom bridge hooks.
func SetBridgeHooks(h BridgeHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		bridgeHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// Engine returns the registered engine hooks.
func Engine() EngineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return engineHooks
}

// Bridge returns the registered bridge hooks.
func Bridge() BridgeHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return bridgeHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	engineHooks = NoopEngineHooks{}
	bridgeHooks = NoopBridgeHooks{}
	cacheHooks = NoopCacheHooks{}
}
