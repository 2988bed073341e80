package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/umlpipe/pkg/config"
	"github.com/matzehuels/umlpipe/pkg/render"
)

// Probe sources rendered by "engine check".
const (
	probePlantUML = "@startuml\nA -> B : check\n@enduml"
	probeDot      = "@startdot\ndigraph G { A -> B }\n@enddot"
)

// engineCommand creates the engine command.
func (c *CLI) engineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Inspect the rendering engine",
	}
	cmd.AddCommand(c.engineCheckCommand())
	return cmd
}

// engineCheckCommand starts the engine, renders a probe diagram and stops it.
func (c *CLI) engineCheckCommand() *cobra.Command {
	var flags engineFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Start the engine and render a probe diagram",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cfg); err != nil {
				return err
			}
			eng, err := render.NewEngine(cfg, c.Logger)
			if err != nil {
				return err
			}
			defer eng.Stop()

			spinner := newSpinnerWithContext(ctx, cmd.ErrOrStderr(), fmt.Sprintf("Starting %s engine...", cfg.Engine.Kind))
			spinner.Start()

			start := time.Now()
			if err := eng.EnsureStarted(ctx); err != nil {
				spinner.StopWithError("Engine failed to start")
				return err
			}
			startup := time.Since(start)

			spinner.SetMessage("Rendering probe diagram...")
			start = time.Now()
			svg, err := eng.Submit(ctx, probeSource(cfg))
			if err != nil {
				spinner.StopWithError("Probe render failed")
				return err
			}
			spinner.StopWithSuccess("Engine is working")

			printKeyValue("Engine", cfg.Engine.Kind)
			if cfg.Engine.Kind == config.EnginePlantUML {
				printKeyValue("Jar", cfg.Engine.Jar)
			}
			if sp, ok := eng.(render.StatsProvider); ok {
				if pid := sp.Stats().PID; pid > 0 {
					printKeyValue("PID", strconv.Itoa(pid))
				}
			}
			printKeyValue("Startup", startup.Round(time.Millisecond).String())
			printRenderStats(len(svg), time.Since(start))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func probeSource(cfg *config.Config) string {
	if cfg.Engine.Kind == config.EngineGraphviz {
		return probeDot
	}
	return probePlantUML
}
