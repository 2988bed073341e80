// Package cache stores rendered diagrams keyed by their source.
//
// Backends:
//   - FileCache: one JSON file per entry under the user cache directory
//   - RedisCache: shared cache in Redis with native key expiry
//   - MongoCache: shared cache in a MongoDB collection
//   - NullCache: disables caching
//
// Keys come from a Keyer so that callers never build them by hand:
//
//	k := cache.NewScopedKeyer(nil, "plantuml:")
//	key := k.RenderKey(source, cache.RenderKeyOpts{Format: "svg"})
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Cache is a byte store with per-entry expiry.
//
// Get reports a miss as (nil, false, nil). Errors are reserved for backend
// failures; callers treat them as misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Keyer derives cache keys.
type Keyer interface {
	// RenderKey returns the key of a rendered diagram.
	RenderKey(source string, opts RenderKeyOpts) string
}

// RenderKeyOpts are the render parameters that change the output bytes.
type RenderKeyOpts struct {
	Format string `json:"format,omitempty"`
}

// DefaultKeyer produces keys of the form "render:<sha256>".
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// RenderKey hashes the source together with opts.
func (DefaultKeyer) RenderKey(source string, opts RenderKeyOpts) string {
	if opts == (RenderKeyOpts{}) {
		return "render:" + Hash([]byte(source))
	}
	return hashKey("render", source, opts)
}

// Clearer is implemented by backends that can drop all of their entries.
type Clearer interface {
	Clear(ctx context.Context) (int, error)
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashKey returns prefix:sha256(json(parts)).
func hashKey(prefix string, parts ...any) string {
	data, _ := json.Marshal(parts)
	return prefix + ":" + Hash(data)
}
