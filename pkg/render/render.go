package render

import (
	"context"

	"github.com/matzehuels/umlpipe/pkg/engine"
)

// Engine renders diagram source to SVG.
type Engine interface {
	// EnsureStarted prepares the engine. It is a no-op when already running.
	EnsureStarted(ctx context.Context) error
	// Submit renders one source. Incomplete sources yield a placeholder.
	Submit(ctx context.Context, source string) ([]byte, error)
	// Stop releases the engine. Pending requests fail.
	Stop() error
}

// StatsProvider is implemented by engines that expose counters.
type StatsProvider interface {
	Stats() engine.Stats
}

var (
	_ Engine        = (*engine.Supervisor)(nil)
	_ StatsProvider = (*engine.Supervisor)(nil)
)
