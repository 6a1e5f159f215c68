// Package status implements the supervise console: an Agent Online/Offline
// header with worker health and a scrolling feed of everything the
// supervisor forwards plus the process log.
package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/pubsub"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/ui/styles"
)

const (
	maxLines       = 500
	headerHeight   = 4
	healthInterval = time.Second
)

// Agent is the part of the supervisor the console drives.
type Agent interface {
	Health() supervisor.Health
	Restart(ctx context.Context) error
}

type healthTickMsg struct{}

type restartDoneMsg struct{ err error }

// Model is the console state.
type Model struct {
	ctx    context.Context
	agent  Agent
	events *pubsub.Listener[protocol.Envelope]
	logs   *log.LogListener

	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
	ready    bool

	online     bool
	restarting bool
	health     supervisor.Health
	lines      []string
	follow     bool
}

// New creates the console. events is usually Supervisor.Subscribe(ctx);
// logs may be nil when logging is off.
func New(ctx context.Context, agent Agent, events <-chan pubsub.Event[protocol.Envelope], logs *log.LogListener) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.SpinnerColor)

	m := Model{
		ctx:     ctx,
		agent:   agent,
		events:  pubsub.Listen(ctx, events),
		logs:    logs,
		spinner: s,
		follow:  true,
	}
	if agent != nil {
		m.health = agent.Health()
		m.online = m.health.Running
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenEvents(), m.listenLogs(), healthTick())
}

func (m Model) listenLogs() tea.Cmd {
	return m.logs.Next()
}

func (m Model) listenEvents() tea.Cmd {
	return m.events.Next()
}

func healthTick() tea.Cmd {
	return tea.Tick(healthInterval, func(time.Time) tea.Msg { return healthTickMsg{} })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case pubsub.Event[protocol.Envelope]:
		m.handleAgentMessage(msg.Payload, msg.Timestamp)
		return m, m.listenEvents()

	case log.LogEvent:
		m.appendLine(styles.LevelStyle(msg.Payload).Render(strings.TrimSuffix(msg.Payload, "\n")))
		return m, m.listenLogs()

	case healthTickMsg:
		if m.agent != nil {
			m.health = m.agent.Health()
		}
		return m, healthTick()

	case restartDoneMsg:
		m.restarting = false
		if msg.err != nil {
			m.appendLine(styles.ErrorStyle.Render("restart failed: " + msg.err.Error()))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		if m.agent == nil || m.restarting {
			return m, nil
		}
		m.restarting = true
		agent, ctx := m.agent, m.ctx
		return m, func() tea.Msg { return restartDoneMsg{err: agent.Restart(ctx)} }
	case "c":
		m.lines = nil
		m.refresh()
		return m, nil
	case "g":
		m.follow = false
		m.viewport.GotoTop()
		return m, nil
	case "G":
		m.follow = true
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	m.follow = m.viewport.AtBottom()
	return m, cmd
}

// handleAgentMessage updates the header for lifecycle events and adds a
// feed line for every message.
func (m *Model) handleAgentMessage(env protocol.Envelope, at time.Time) {
	fields, _ := env.Fields()
	stamp := at.Format("15:04:05")

	var line string
	switch env.Type {
	case protocol.TypeAgentSpawned:
		m.online = true
		m.health.Running = true
		if pid, ok := fields["pid"].(float64); ok {
			m.health.PID = int(pid)
		}
		line = styles.OnlineStyle.Render(fmt.Sprintf("%s agent spawned pid=%d", stamp, m.health.PID))
	case protocol.TypeAgentExit:
		m.online = false
		m.health.Running = false
		m.health.PID = 0
		line = styles.OfflineStyle.Render(fmt.Sprintf("%s agent exited %s", stamp, describeExit(fields)))
	case protocol.TypeAgentError:
		msg, _ := fields["error"].(string)
		line = styles.ErrorStyle.Render(fmt.Sprintf("%s agent error: %s", stamp, msg))
	case protocol.TypeToolResult:
		if env.OK {
			line = fmt.Sprintf("%s result %s ok", stamp, env.RequestID)
		} else {
			line = styles.WarnStyle.Render(fmt.Sprintf("%s result %s failed: %s", stamp, env.RequestID, env.Error))
		}
	case protocol.TypeEvent:
		line = styles.InfoStyle.Render(fmt.Sprintf("%s %s", stamp, describeEvent(env.EventName(), fields)))
	default:
		line = styles.MutedStyle.Render(fmt.Sprintf("%s %s", stamp, string(env.Raw)))
	}
	m.appendLine(line)
}

func describeExit(fields map[string]any) string {
	var parts []string
	if code, ok := fields["code"].(float64); ok {
		parts = append(parts, fmt.Sprintf("code=%d", int(code)))
	}
	if sig, ok := fields["signal"].(string); ok {
		parts = append(parts, "signal="+sig)
	}
	if crashed, _ := fields["crashed"].(bool); crashed {
		parts = append(parts, "crashed")
		if delay, ok := fields["restartInMs"].(float64); ok {
			parts = append(parts, fmt.Sprintf("restart in %dms", int(delay)))
		}
	}
	return strings.Join(parts, " ")
}

func describeEvent(name string, fields map[string]any) string {
	if name == "" {
		name = "event"
	}
	switch name {
	case protocol.EventReady:
		if tools, ok := fields["tools"].([]any); ok {
			return fmt.Sprintf("%s (%d tools)", name, len(tools))
		}
	case protocol.EventWarn:
		if msg, ok := fields["message"].(string); ok {
			return name + ": " + msg
		}
	}
	return name
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.refresh()
}

func (m *Model) resize() {
	h := max(m.height-headerHeight-2, 1)
	w := max(m.width-2, 10)
	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = h
	}
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// Online reports whether the last lifecycle event was a spawn.
func (m Model) Online() bool {
	return m.online
}

// Lines returns the feed, oldest first.
func (m Model) Lines() []string {
	return m.lines
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return m.spinner.View() + " starting console..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(styles.PanelStyle.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(styles.MutedStyle.Render("[r] Restart  [c] Clear  [g/G] Top/Bottom  [q] Quit"))
	return b.String()
}

func (m Model) headerView() string {
	var status string
	switch {
	case m.online:
		status = styles.OnlineStyle.Render("● Agent Online")
	case m.restarting || m.health.NextRestartDelay > 0:
		status = m.spinner.View() + styles.DegradedStyle.Render(" Agent Restarting")
	default:
		status = styles.OfflineStyle.Render("○ Agent Offline")
	}

	title := styles.TitleStyle.Render("RinaWarp Agent")
	first := lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", status)

	h := m.health
	details := fmt.Sprintf("state=%s pid=%d restarts=%d pending=%d crashes=%d",
		h.State, h.PID, h.RestartCount, h.Pending, h.CrashesInWindow)
	if h.NextRestartDelay > 0 {
		details += fmt.Sprintf(" next restart in %s", h.NextRestartDelay)
	}
	second := styles.MutedStyle.Render(details)
	if h.Degraded {
		second += "  " + styles.DegradedStyle.Render("degraded")
	}
	return first + "\n" + second
}
