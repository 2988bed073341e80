package render

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/umlpipe/pkg/cache"
	"github.com/matzehuels/umlpipe/pkg/config"
	"github.com/matzehuels/umlpipe/pkg/engine"
)

// NewEngine returns the bare engine selected by cfg.Engine.Kind.
func NewEngine(cfg *config.Config, logger *log.Logger) (Engine, error) {
	switch cfg.Engine.Kind {
	case config.EngineGraphviz:
		return NewDotEngine(logger), nil
	case config.EnginePlantUML, "":
		return engine.NewSupervisor(engine.Options{
			Launcher: engine.NewPlantUMLLauncher(cfg.Engine.Java, cfg.Engine.Jar, cfg.Engine.Args),
			Timeout:  cfg.Engine.Timeout,
			Marker:   cfg.Engine.Marker,
			Logger:   logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
}

// Open returns the configured engine behind the configured render cache.
// Cache keys are scoped by engine kind. An unreachable remote cache is
// logged and replaced by no caching.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*CachedEngine, error) {
	if logger == nil {
		logger = log.Default()
	}
	inner, err := NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(ctx, cfg)
	if err != nil {
		logger.Warn("render cache disabled", "backend", cfg.Cache.Backend, "err", err)
		c = cache.NewNullCache()
	}

	return NewCachedEngine(inner, CachedOptions{
		Cache:  c,
		Keyer:  cache.NewScopedKeyer(nil, cfg.Engine.Kind+":"),
		TTL:    cfg.Cache.TTL,
		Logger: logger,
	}), nil
}
