package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/umlpipe/pkg/engine"
	"github.com/matzehuels/umlpipe/pkg/render"
)

const stdinArg = "-"

// renderOpts holds the command-line flags for the render command.
type renderOpts struct {
	engine   engineFlags
	output   string   // output directory, or file when rendering one input
	formats  []string // svg, png, pdf
	scale    float64  // PNG scale factor
	parallel int      // concurrent renders
}

// renderJob is one input file and the outputs it produces.
type renderJob struct {
	input  string
	source string
}

// renderCommand creates the render command.
func (c *CLI) renderCommand() *cobra.Command {
	var formatsStr string
	opts := renderOpts{scale: 2, parallel: 4}

	cmd := &cobra.Command{
		Use:   "render [file...]",
		Short: "Render diagram files to SVG, PNG or PDF",
		Long: `Render diagram source files through the engine.

Each input produces one output per format next to it (or in --output).
With no arguments, or "-", source is read from stdin and SVG is written to
stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.formats = parseFormats(formatsStr)
			if err := validateFormats(opts.formats); err != nil {
				return err
			}
			if opts.parallel < 1 {
				opts.parallel = 1
			}
			return c.runRender(cmd, args, &opts)
		},
	}

	opts.engine.register(cmd)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output directory (or file for a single input and format)")
	cmd.Flags().StringVarP(&formatsStr, "format", "f", "", "output format(s): svg (default), png, pdf (comma-separated)")
	cmd.Flags().Float64Var(&opts.scale, "scale", opts.scale, "PNG scale factor")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "j", opts.parallel, "number of files rendered concurrently")

	return cmd
}

// parseFormats parses the --format flag into a slice of output formats.
// If empty, defaults to ["svg"].
func parseFormats(s string) []string {
	if s == "" {
		return []string{render.FormatSVG}
	}
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(strings.ToLower(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// validFormats is the set of supported output formats.
var validFormats = map[string]bool{render.FormatSVG: true, render.FormatPNG: true, render.FormatPDF: true}

// validateFormats checks that all requested formats are valid.
func validateFormats(formats []string) error {
	if len(formats) == 0 {
		return fmt.Errorf("no output format given")
	}
	for _, f := range formats {
		if !validFormats[f] {
			return fmt.Errorf("invalid format: %s (must be 'svg', 'png', or 'pdf')", f)
		}
	}
	return nil
}

func (c *CLI) runRender(cmd *cobra.Command, args []string, opts *renderOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	_, eng, err := c.openEngine(ctx, &opts.engine)
	if err != nil {
		return err
	}
	defer eng.Close()

	if len(args) == 0 || (len(args) == 1 && args[0] == stdinArg) {
		return renderStdin(ctx, eng, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
	}

	jobs, err := readJobs(args)
	if err != nil {
		return err
	}
	single := len(jobs)*len(opts.formats) == 1
	if opts.output != "" {
		dir := opts.output
		if single && filepath.Ext(dir) != "" {
			dir = filepath.Dir(dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	prog := newProgress(logger)
	results := make([][]string, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallel)
	for i, job := range jobs {
		g.Go(func() error {
			start := time.Now()
			paths, err := renderOne(gctx, eng, job, opts, single)
			if err != nil {
				return fmt.Errorf("%s: %w", job.input, err)
			}
			logger.Debug("rendered", "input", job.input, "duration", time.Since(start).Round(time.Millisecond))
			results[i] = paths
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, job := range jobs {
		printSuccess("%s", job.input)
		for _, p := range results[i] {
			printFile(p)
		}
	}
	prog.done(fmt.Sprintf("Rendered %d diagram(s)", len(jobs)))
	return nil
}

// readJobs loads every input up front so that missing files fail early.
func readJobs(paths []string) ([]renderJob, error) {
	jobs := make([]renderJob, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		jobs = append(jobs, renderJob{input: p, source: string(data)})
	}
	return jobs, nil
}

// renderOne renders one input and writes one file per format.
func renderOne(ctx context.Context, eng render.Engine, job renderJob, opts *renderOpts, single bool) ([]string, error) {
	if !engine.IsComplete(job.source) {
		return nil, fmt.Errorf("no @end marker found")
	}
	svg, err := eng.Submit(ctx, job.source)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, format := range opts.formats {
		data, err := render.Convert(ctx, svg, format, opts.scale)
		if err != nil {
			return paths, err
		}
		path := outputPath(job.input, opts.output, format, single)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return paths, fmt.Errorf("write output: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// outputPath places the output next to input, in dir, or at dir itself when
// single is true and dir names a file.
func outputPath(input, dir, format string, single bool) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + "." + format
	switch {
	case dir == "":
		return filepath.Join(filepath.Dir(input), base)
	case single && filepath.Ext(dir) != "":
		return dir
	}
	return filepath.Join(dir, base)
}

// renderStdin renders one source from r and writes the first format to w.
func renderStdin(ctx context.Context, eng render.Engine, r io.Reader, w io.Writer, opts *renderOpts) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	source := string(data)
	if !engine.IsComplete(source) {
		return fmt.Errorf("no @end marker found in input")
	}
	svg, err := eng.Submit(ctx, source)
	if err != nil {
		return err
	}
	out, err := render.Convert(ctx, svg, opts.formats[0], opts.scale)
	if err != nil {
		return err
	}
	if opts.output != "" {
		return os.WriteFile(opts.output, out, 0644)
	}
	_, err = w.Write(out)
	return err
}
