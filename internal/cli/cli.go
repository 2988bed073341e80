// Package cli implements the umlpipe command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/umlpipe/pkg/buildinfo"
	"github.com/matzehuels/umlpipe/pkg/config"
	"github.com/matzehuels/umlpipe/pkg/render"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for display and completion.
	appName = "umlpipe"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "umlpipe renders PlantUML diagrams through a persistent engine",
		Long: `umlpipe keeps one PlantUML engine process running and renders diagram
source through it. It can render files directly or serve SVGs to local
clients over HTTP.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/umlpipe/config.toml)")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.encodeCommand())
	root.AddCommand(c.decodeCommand())
	root.AddCommand(c.engineCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Config
// =============================================================================

// loadConfig reads the --config file or the default location.
func (c *CLI) loadConfig() (*config.Config, error) {
	path, err := c.resolveConfigPath()
	if err != nil {
		c.Logger.Debug("no config location, using defaults", "err", err)
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("config loaded", "path", path, "engine", cfg.Engine.Kind, "cache", cfg.Cache.Backend)
	return cfg, nil
}

func (c *CLI) resolveConfigPath() (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}
	return config.Path()
}

// =============================================================================
// Engine Flags
// =============================================================================

// engineFlags override the [engine] and [cache] config sections.
type engineFlags struct {
	kind    string
	jar     string
	java    string
	timeout string
	noCache bool
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "engine", "", "engine kind: plantuml, graphviz")
	cmd.Flags().StringVar(&f.jar, "jar", "", "path to plantuml.jar")
	cmd.Flags().StringVar(&f.java, "java", "", "java executable")
	cmd.Flags().StringVar(&f.timeout, "timeout", "", "per-render timeout (e.g. 10s)")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable the render cache")
}

// apply writes the set flags into cfg and revalidates it.
func (f *engineFlags) apply(cfg *config.Config) error {
	if f.kind != "" {
		cfg.Engine.Kind = f.kind
	}
	if f.jar != "" {
		cfg.Engine.Jar = f.jar
	}
	if f.java != "" {
		cfg.Engine.Java = f.java
	}
	if f.timeout != "" {
		d, err := time.ParseDuration(f.timeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Engine.Timeout = d
	}
	if f.noCache {
		cfg.Cache.Backend = config.CacheNone
	}
	return cfg.Validate()
}

// =============================================================================
// Engine Factory
// =============================================================================

// openEngine loads the config, applies flags and opens the cached engine.
func (c *CLI) openEngine(ctx context.Context, flags *engineFlags) (*config.Config, *render.CachedEngine, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := flags.apply(cfg); err != nil {
		return nil, nil, err
	}
	eng, err := render.Open(ctx, cfg, c.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, eng, nil
}
