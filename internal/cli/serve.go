package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/umlpipe/pkg/bridge"
)

// serveOpts holds the command-line flags for the serve command.
type serveOpts struct {
	engine    engineFlags
	port      int  // pinned port, 0 for automatic
	portStart int  // automatic range start
	portEnd   int  // automatic range end
	dashboard bool // show the live dashboard
	control   bool // read JSON commands from stdin
}

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve rendered SVGs on a loopback HTTP port",
		Long: `Serve starts the rendering engine and an HTTP bridge on 127.0.0.1.

Clients request GET /svg/~h<HEX>, where HEX is the hex-encoded diagram source
(see "umlpipe encode"). Without --port the first free port in the configured
range (default 8080-8090) is used.

With --control the bridge is not started immediately. Instead JSON commands
are read from stdin, one per line, and answered on stdout:

  {"command":"start","port":0}
  {"command":"status"}
  {"command":"stop"}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dashboard && opts.control {
				return fmt.Errorf("--dashboard and --control cannot be combined")
			}
			return c.runServe(cmd, &opts)
		},
	}

	opts.engine.register(cmd)
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen on this port only (default: first free port in range)")
	cmd.Flags().IntVar(&opts.portStart, "port-start", 0, "first port of the automatic range")
	cmd.Flags().IntVar(&opts.portEnd, "port-end", 0, "last port of the automatic range")
	cmd.Flags().BoolVar(&opts.dashboard, "dashboard", false, "show a live dashboard")
	cmd.Flags().BoolVar(&opts.control, "control", false, "accept JSON control commands on stdin")

	return cmd
}

func (c *CLI) runServe(cmd *cobra.Command, opts *serveOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	cfg, eng, err := c.openEngine(ctx, &opts.engine)
	if err != nil {
		return err
	}
	defer eng.Close()
	if opts.portStart != 0 {
		cfg.Bridge.PortStart = opts.portStart
	}
	if opts.portEnd != 0 {
		cfg.Bridge.PortEnd = opts.portEnd
	}
	port := cfg.Bridge.Port
	if opts.port != 0 {
		port = opts.port
	}

	b := bridge.New(bridge.Options{
		Engine:    eng,
		PortStart: cfg.Bridge.PortStart,
		PortEnd:   cfg.Bridge.PortEnd,
		Logger:    logger,
		OnStatus: func(st bridge.Status) {
			logger.Debug("bridge status", "success", st.Success, "port", st.Port, "error", st.Error)
		},
	})
	defer b.Stop()

	if opts.control {
		return runControl(ctx, b, cmd)
	}

	st := b.Start(ctx, port)
	if !st.Success {
		return fmt.Errorf("start bridge: %s", st.Error)
	}

	if opts.dashboard {
		return runDashboard(ctx, b, eng)
	}

	base := fmt.Sprintf("http://127.0.0.1:%d", st.Port)
	printSuccess("Serving on %s", StyleLink.Render(base))
	printDetail("Engine: %s", cfg.Engine.Kind)
	printNewline()
	printNextStep("Try", fmt.Sprintf("curl %s/svg/$(%s encode diagram.puml)", base, appName))

	select {
	case <-ctx.Done():
	case <-b.Done():
	}
	logger.Info("shutting down")
	return nil
}

// runControl serves control commands until stdin closes or ctx is done.
func runControl(ctx context.Context, b *bridge.Bridge, cmd *cobra.Command) error {
	ctrl := bridge.NewController(b, cmd.OutOrStdout())
	errc := make(chan error, 1)
	go func() { errc <- ctrl.Run(ctx, cmd.InOrStdin()) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}
