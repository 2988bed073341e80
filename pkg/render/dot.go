package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/umlpipe/pkg/engine"
	"github.com/matzehuels/umlpipe/pkg/errors"
)

// DotEngine renders @startdot ... @enddot blocks in-process with Graphviz.
// It needs no external engine and serves as the engine for kind "graphviz".
type DotEngine struct {
	logger *log.Logger

	mu    sync.Mutex // serializes use of gv
	gv    *graphviz.Graphviz
	stats engine.Stats
}

// NewDotEngine creates a stopped DotEngine.
func NewDotEngine(logger *log.Logger) *DotEngine {
	if logger == nil {
		logger = log.Default()
	}
	return &DotEngine{logger: logger.WithPrefix("graphviz")}
}

// EnsureStarted initializes the Graphviz runtime once.
func (e *DotEngine) EnsureStarted(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked(ctx)
}

func (e *DotEngine) startLocked(ctx context.Context) error {
	if e.gv != nil {
		return nil
	}
	gv, err := graphviz.New(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeEngineBinaryMissing, err, "init graphviz")
	}
	e.gv = gv
	e.stats.Starts++
	e.logger.Debug("started")
	return nil
}

// Stop releases the Graphviz runtime.
func (e *DotEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gv == nil {
		return nil
	}
	err := e.gv.Close()
	e.gv = nil
	return err
}

// Submit renders the DOT graph inside source. A graph Graphviz cannot parse
// yields an SVG showing the diagnostic, the way PlantUML reports syntax
// errors as rendered images.
func (e *DotEngine) Submit(ctx context.Context, source string) ([]byte, error) {
	if !engine.IsComplete(source) {
		return engine.Placeholder(), nil
	}
	if err := errors.ValidateSource(source); err != nil {
		return nil, err
	}
	dot := ExtractDOT(source)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.startLocked(ctx); err != nil {
		return nil, err
	}

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil || g == nil {
		msg := "no graph found"
		if err != nil {
			msg = err.Error()
		}
		e.logger.Debug("syntax error", "err", msg)
		e.stats.Renders++
		return errorSVG("DOT syntax error", msg), nil
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := e.gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "render DOT")
	}
	e.stats.Renders++
	return normalizeViewBox(buf.Bytes()), nil
}

// Stats reports the engine as running once initialized.
func (e *DotEngine) Stats() engine.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	if e.gv != nil {
		st.State = engine.StateRunning
	}
	return st
}

var blockLineRe = regexp.MustCompile(`(?i)^\s*@(start|end)dot\b`)

// ExtractDOT returns the lines between @startdot and @enddot.
// Without a @startdot line everything before @enddot is used.
func ExtractDOT(source string) string {
	lines := strings.Split(source, "\n")
	start, end := 0, len(lines)
	for i, l := range lines {
		m := blockLineRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		if strings.EqualFold(m[1], "start") {
			start = i + 1
		} else {
			end = i
			break
		}
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

const (
	errorLineHeight = 18
	errorMaxLines   = 20
)

// errorSVG renders title and the lines of detail as a plain SVG image.
func errorSVG(title, detail string) []byte {
	lines := append([]string{title}, strings.Split(strings.TrimSpace(detail), "\n")...)
	if len(lines) > errorMaxLines {
		lines = append(lines[:errorMaxLines], "…")
	}
	width := 0
	for _, l := range lines {
		width = max(width, len(l))
	}
	w, h := width*8+20, len(lines)*errorLineHeight+20

	var b bytes.Buffer
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, w, h, w, h)
	b.WriteString(`<text font-family="monospace" font-size="13" fill="#c0392b">`)
	for i, l := range lines {
		fmt.Fprintf(&b, `<tspan x="10" y="%d">%s</tspan>`, 24+i*errorLineHeight, html.EscapeString(l))
	}
	b.WriteString(`</text></svg>`)
	return b.Bytes()
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox rewrites Graphviz's root element to a zero-origin
// viewBox with pixel dimensions.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	root := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(root))
}

var (
	_ Engine        = (*DotEngine)(nil)
	_ StatsProvider = (*DotEngine)(nil)
)
