package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-monitor/pkg/monitor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 2).
			MarginLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type keyMap struct {
	Refresh key.Binding
	Quit    key.Binding
	Up      key.Binding
	Down    key.Binding
}

var keys = keyMap{
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("up/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("down/j", "down"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, {k.Refresh, k.Quit}}
}

type tickMsg time.Time

type snapshotMsg struct {
	snap snapshot
	err  error
}

type model struct {
	client   *statusClient
	interval time.Duration
	table    table.Model
	help     help.Model
	keys     keyMap
	last     snapshot
	err      error
}

func initialModel(client *statusClient, interval time.Duration) model {
	columns := []table.Column{
		{Title: "Service", Width: 16},
		{Title: "Instance", Width: 38},
		{Title: "Online", Width: 7},
		{Title: "Timeouts", Width: 8},
		{Title: "Last status", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)

	return model{
		client:   client,
		interval: interval,
		table:    t,
		help:     help.New(),
		keys:     keys,
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval)
		defer cancel()
		snap, err := m.client.fetch(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		m.table.SetHeight(max(msg.Height-12, 5))

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.last = msg.snap
			m.table.SetRows(buildRows(msg.snap.services))
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("cluso monitor"))
	b.WriteString("\n")

	node := m.last.node
	online, offline := countOnline(m.last.services)
	stats := fmt.Sprintf("node %s  uptime %s  msgs in %d  subscriptions %d  pending %d\ninstances online %d  offline %d  updated %s",
		node.UUID,
		time.Duration(node.UptimeSeconds)*time.Second,
		node.TotalMsgIn,
		node.Subscriptions,
		node.PendingCalls,
		online, offline,
		m.last.fetched.Format(time.TimeOnly),
	)
	b.WriteString(statsBoxStyle.Render(stats))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(m.table.View())
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

// buildRows flattens the status map into table rows sorted by service.
// A requested service without records shows as a single placeholder row.
func buildRows(services map[string][]monitor.InstanceHealth) []table.Row {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	slices.Sort(names)

	var rows []table.Row
	for _, name := range names {
		instances := services[name]
		if instances == nil {
			rows = append(rows, table.Row{name, "(no records)", "-", "-", ""})
			continue
		}
		for _, inst := range instances {
			status := ""
			if len(inst.Status) > 0 {
				status = string(inst.Status)
			}
			rows = append(rows, table.Row{
				name,
				inst.UUID,
				inst.Online,
				fmt.Sprintf("%d", inst.TimeoutCount),
				status,
			})
		}
	}
	return rows
}

func countOnline(services map[string][]monitor.InstanceHealth) (online, offline int) {
	for _, instances := range services {
		for _, inst := range instances {
			if inst.Online == "true" {
				online++
			} else {
				offline++
			}
		}
	}
	return online, offline
}
