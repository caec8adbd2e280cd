package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	keyQuit = key.NewBinding(key.WithKeys("ctrl+c", "q"))
	keyDown = key.NewBinding(key.WithKeys("down", "j"))
	keyUp   = key.NewBinding(key.WithKeys("up", "k"))
)

var (
	colorSuccess = lipgloss.Color("10")
	colorMuted   = lipgloss.Color("8")
	colorSubtle  = lipgloss.Color("12")
	selected     = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

const pollInterval = 2 * time.Second

type hostsMsg struct {
	hosts []hostRow
	err   error
}

func pollOnce(client *pollClient) tea.Cmd {
	return func() tea.Msg {
		hosts, err := client.fetchHosts()
		return hostsMsg{hosts: hosts, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

type tickMsg struct{}

type model struct {
	client *pollClient
	hosts  []hostRow
	cursor int
	err    error
}

func newModel(client *pollClient) model {
	return model{client: client}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(pollOnce(m.client), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keyDown):
			if m.cursor < len(m.hosts)-1 {
				m.cursor++
			}
		case key.Matches(msg, keyUp):
			if m.cursor > 0 {
				m.cursor--
			}
		}
	case tickMsg:
		return m, tea.Batch(pollOnce(m.client), tick())
	case hostsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.hosts = msg.hosts
			if m.cursor >= len(m.hosts) {
				m.cursor = max(0, len(m.hosts)-1)
			}
		}
	}
	return m, nil
}

func (m model) View() string {
	header := lipgloss.NewStyle().Foreground(colorSubtle).Bold(true).
		Render(fmt.Sprintf("  %-24s %-10s %s", "CLIENT ID", "STATUS", "LAST SEEN"))

	if m.err != nil {
		return header + "\n\n  error: " + m.err.Error() + "\n\n  (q to quit)"
	}
	if len(m.hosts) == 0 {
		return header + "\n\n  no hosts known yet\n\n  (q to quit)"
	}

	out := header + "\n"
	for i, h := range m.hosts {
		cursor := "  "
		style := lipgloss.NewStyle()
		if i == m.cursor {
			cursor = selected.Render("> ")
			style = style.Bold(true)
		}
		statusStyle := lipgloss.NewStyle().Foreground(colorMuted)
		status := "offline"
		if h.Connected {
			statusStyle = lipgloss.NewStyle().Foreground(colorSuccess)
			status = "online"
		}
		row := fmt.Sprintf("%-24s %-10s %s",
			style.Render(h.ClientID),
			statusStyle.Render(status),
			style.Render(formatAge(h.LastSeen)),
		)
		out += cursor + row + "\n"
	}
	return out + "\n  (q to quit, j/k to move)"
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm ago", int(d.Hours()), int(d.Minutes())%60)
	}
}
