package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/umlpipe/pkg/bridge"
	"github.com/matzehuels/umlpipe/pkg/engine"
	"github.com/matzehuels/umlpipe/pkg/render"
)

const dashboardRefresh = 500 * time.Millisecond

// dashboardSource is what the dashboard polls.
type dashboardSource interface {
	Stats() engine.Stats
	CacheStats() render.CacheStats
}

// snapshot is one poll of the bridge and engine.
type snapshot struct {
	port   int
	engine engine.Stats
	cache  render.CacheStats
	at     time.Time
}

type tickMsg time.Time

// DashboardModel is the bubbletea model for `serve --dashboard`.
type DashboardModel struct {
	poll    func() snapshot
	current snapshot
	started time.Time
}

// NewDashboardModel creates a dashboard reading from poll.
func NewDashboardModel(poll func() snapshot) DashboardModel {
	return DashboardModel{poll: poll, current: poll(), started: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m DashboardModel) Init() tea.Cmd {
	return tick()
}

func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.current = m.poll()
		return m, tick()
	}
	return m, nil
}

func (m DashboardModel) View() string {
	var b strings.Builder
	s := m.current

	b.WriteString(StyleTitle.Render("umlpipe"))
	b.WriteString(StyleDim.Render(fmt.Sprintf("  up %s", s.at.Sub(m.started).Round(time.Second))))
	b.WriteString("\n\n")

	addr := "stopped"
	if s.port != 0 {
		addr = fmt.Sprintf("http://127.0.0.1:%d", s.port)
	}
	pid := "-"
	if s.engine.PID != 0 {
		pid = fmt.Sprint(s.engine.PID)
	}

	rows := [][]string{
		{"Bridge", addr},
		{"Engine", s.engine.State.String()},
		{"PID", pid},
		{"Queue", fmt.Sprint(s.engine.QueueDepth)},
		{"Renders", fmt.Sprint(s.engine.Renders)},
		{"Timeouts", fmt.Sprint(s.engine.Timeouts)},
		{"Crashes", fmt.Sprint(s.engine.Crashes)},
		{"Starts", fmt.Sprint(s.engine.Starts)},
		{"Stray", fmt.Sprint(s.engine.Stray)},
		{"Cache", fmt.Sprintf("%d hits · %d misses · %d coalesced", s.cache.Hits, s.cache.Misses, s.cache.Coalesced)},
	}

	labelStyle := lipgloss.NewStyle().Foreground(colorGray).PaddingRight(2)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 || row < 0 || row >= len(rows) {
				return labelStyle
			}
			return valueStyle(rows[row][0], s)
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(StyleDim.Render("q quit"))
	return b.String()
}

// valueStyle colors a value by its health.
func valueStyle(label string, s snapshot) lipgloss.Style {
	base := lipgloss.NewStyle().Foreground(colorWhite)
	switch label {
	case "Engine":
		switch s.engine.State {
		case engine.StateRunning:
			return base.Foreground(colorGreen)
		case engine.StateStopped:
			return base.Foreground(colorDim)
		}
		return base.Foreground(colorYellow)
	case "Timeouts", "Crashes", "Stray":
		if rowValue(label, s) > 0 {
			return base.Foreground(colorRed)
		}
		return base.Foreground(colorDim)
	case "Bridge":
		return base.Foreground(colorBlue)
	}
	return base
}

func rowValue(label string, s snapshot) int {
	switch label {
	case "Timeouts":
		return s.engine.Timeouts
	case "Crashes":
		return s.engine.Crashes
	case "Stray":
		return s.engine.Stray
	}
	return 0
}

// runDashboard shows the dashboard until the user quits or ctx is done.
func runDashboard(ctx context.Context, b *bridge.Bridge, src dashboardSource) error {
	poll := func() snapshot {
		return snapshot{port: b.Port(), engine: src.Stats(), cache: src.CacheStats(), at: time.Now()}
	}
	p := tea.NewProgram(NewDashboardModel(poll), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
