// agentdeck is a terminal chat client for the AI-agent platform. It
// streams turns over the platform's websocket endpoint, renders the
// agent's step trace, and collects generated artifacts.
//
// Usage:
//
//	export AGENTDECK_SERVER="http://localhost:8000"
//	agentdeck
//
// Commands:
//
//	/new            - Start a fresh conversation
//	/cancel         - Ask the agent to stop the current turn
//	/artifacts      - List artifacts from this session
//	/open <n>       - Show artifact n in the detail panel
//	/close          - Close the detail panel
//	/export <n>     - Write artifact n to the export directory
//	/tools          - List the agent's tools
//	/exit           - Quit
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"agentdeck/pkg/api"
	"agentdeck/pkg/artifacts"
	"agentdeck/pkg/domain"
	"agentdeck/pkg/history"
	histsqlite "agentdeck/pkg/history/sqlite"
	"agentdeck/pkg/protocol"
	"agentdeck/pkg/session"
	"agentdeck/pkg/transport"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	stepStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	artifactStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

const pingInterval = 30 * time.Second

// Messages delivered into the bubbletea loop from transport callbacks.
type streamEventMsg struct{ ev *protocol.Event }
type transportDownMsg struct{ err error }
type errMsg struct{ err error }
type noticeMsg string
type pingTickMsg struct{}

type model struct {
	ctx      context.Context
	store    *session.Store
	client   *transport.Client
	rest     *api.Client
	hist     history.Store
	exporter *artifacts.Exporter

	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer

	width  int
	height int
	notice string
	err    error
}

func initialModel(ctx context.Context, store *session.Store, client *transport.Client,
	rest *api.Client, hist history.Store, exporter *artifacts.Exporter) model {

	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 10000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Connected? Not yet. Say hello to find out.")

	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(78),
	)

	return model{
		ctx:      ctx,
		store:    store,
		client:   client,
		rest:     rest,
		hist:     hist,
		exporter: exporter,
		viewport: vp,
		textarea: ta,
		renderer: r,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, pingTick())
}

func pingTick() tea.Cmd {
	return tea.Tick(pingInterval, func(time.Time) tea.Msg { return pingTickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var tiCmd, vpCmd tea.Cmd

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, tiCmd, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 3
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(m.width-4),
		)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.client.Disconnect()
			return m, tea.Quit
		case tea.KeyEnter:
			m.err = nil
			m.notice = ""
			return m.submit()
		}

	case streamEventMsg:
		// State is already reconciled by the transport callback; this
		// message only tells the UI to repaint.
		if msg.ev.Type == protocol.EventCancelled {
			m.notice = "cancelled"
		}
		m.refresh()

	case transportDownMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("connection lost: %w", msg.err)
		}
		m.refresh()

	case pingTickMsg:
		m.client.Ping()
		cmds = append(cmds, pingTick())

	case noticeMsg:
		m.notice = string(msg)
		m.refresh()

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

// submit handles the Enter key: either a slash command or a chat
// message to send.
func (m model) submit() (model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}
	m.textarea.Reset()

	if strings.HasPrefix(v, "/") {
		return m.command(v)
	}

	m.store.AddMessage(domain.Message{
		Role:      domain.RoleUser,
		Content:   v,
		Timestamp: time.Now(),
	})
	m.refresh()

	if err := m.client.Send(v); err != nil {
		m.err = err
	}
	return m, nil
}

func (m model) command(v string) (model, tea.Cmd) {
	fields := strings.Fields(v)
	switch fields[0] {
	case "/exit":
		m.client.Disconnect()
		return m, tea.Quit

	case "/new":
		newID := m.store.ClearChat()
		if err := m.client.Connect(newID, clientHandlers(m.store, m.hist)); err != nil {
			m.err = err
		}
		m.notice = "new conversation " + shortID(newID)
		m.refresh()
		return m, nil

	case "/cancel":
		m.client.Cancel()
		return m, nil

	case "/artifacts":
		arts := m.store.Artifacts()
		if len(arts) == 0 {
			m.notice = "no artifacts yet"
			return m, nil
		}
		var sb strings.Builder
		for i, a := range arts {
			fmt.Fprintf(&sb, "%d. [%s] %s (%s)\n", i+1, a.Type, a.Title, shortID(a.ID))
		}
		m.notice = strings.TrimRight(sb.String(), "\n")
		return m, nil

	case "/open":
		a, ok := m.artifactArg(fields)
		if !ok {
			return m, nil
		}
		m.store.SetSelectedArtifact(a.ID)
		m.refresh()
		return m, nil

	case "/close":
		m.store.ClearSelectedArtifact()
		m.refresh()
		return m, nil

	case "/export":
		a, ok := m.artifactArg(fields)
		if !ok {
			return m, nil
		}
		path, err := m.exporter.Export(a)
		if err != nil {
			m.err = err
			return m, nil
		}
		m.notice = "exported " + path
		return m, nil

	case "/tools":
		return m, m.listToolsCmd()

	default:
		m.err = fmt.Errorf("unknown command %s", fields[0])
		return m, nil
	}
}

// artifactArg resolves a 1-based index argument against the session's
// artifact collection.
func (m *model) artifactArg(fields []string) (domain.Artifact, bool) {
	if len(fields) < 2 {
		m.err = fmt.Errorf("usage: %s <n>", fields[0])
		return domain.Artifact{}, false
	}
	arts := m.store.Artifacts()
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 1 || n > len(arts) {
		m.err = fmt.Errorf("no artifact %q (have %d)", fields[1], len(arts))
		return domain.Artifact{}, false
	}
	return arts[n-1], true
}

func (m model) listToolsCmd() tea.Cmd {
	rest := m.rest
	ctx := m.ctx
	return func() tea.Msg {
		tools, err := rest.ListTools(ctx)
		if err != nil {
			return errMsg{err}
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "agent: %s", tools.AgentName)
		for _, tk := range tools.Tools {
			fmt.Fprintf(&sb, "\n- %s", tk.Name)
			for _, fn := range tk.Functions {
				fmt.Fprintf(&sb, "\n    %s: %s", fn.Name, fn.Description)
			}
		}
		return noticeMsg(sb.String())
	}
}

// refresh repaints the viewport from the store.
func (m *model) refresh() {
	if a, ok := m.store.SelectedArtifact(); ok {
		m.viewport.SetContent(m.renderArtifact(a))
		m.viewport.GotoTop()
		return
	}

	var sb strings.Builder
	for _, msg := range m.store.Messages() {
		switch msg.Role {
		case domain.RoleUser:
			sb.WriteString(userStyle.Render("You:"))
		case domain.RoleAssistant:
			sb.WriteString(agentStyle.Render("Agent:"))
		default:
			sb.WriteString(stepStyle.Render(string(msg.Role) + ":"))
		}
		sb.WriteString("\n")

		for _, step := range msg.Steps {
			if !step.Kind.Visible() {
				continue
			}
			line := "  · " + string(step.Kind)
			if step.ToolName != "" {
				line += " [" + step.ToolName + "]"
			}
			if step.Content != "" {
				line += ": " + firstLine(step.Content)
			}
			sb.WriteString(stepStyle.Render(line))
			sb.WriteString("\n")
		}

		content := msg.Content
		if msg.InProgress && content == "" {
			content = "…"
		}
		if msg.IsError {
			sb.WriteString(errorStyle.Render(content))
		} else if msg.Role == domain.RoleAssistant && m.renderer != nil {
			if rendered, err := m.renderer.Render(content); err == nil {
				content = rendered
			}
			sb.WriteString(content)
		} else {
			sb.WriteString("  " + content)
		}
		sb.WriteString("\n")

		for _, a := range msg.Artifacts {
			sb.WriteString(artifactStyle.Render(fmt.Sprintf("  ▣ %s (%s)", a.Title, a.Type)))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if m.store.Loading() {
		sb.WriteString(statusStyle.Render("▌ agent is working..."))
		sb.WriteString("\n")
	}

	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m *model) renderArtifact(a domain.Artifact) string {
	header := artifactStyle.Render(fmt.Sprintf("▣ %s [%s] — /close to return", a.Title, a.Type))
	body := a.Content
	switch a.Type {
	case domain.ArtifactDocument:
		if m.renderer != nil {
			if rendered, err := m.renderer.Render(a.Content); err == nil {
				body = rendered
			}
		}
	case domain.ArtifactCode:
		fence := "```" + a.Language + "\n" + a.Content + "\n```"
		if m.renderer != nil {
			if rendered, err := m.renderer.Render(fence); err == nil {
				body = rendered
			}
		}
	}
	return header + "\n\n" + body
}

func (m model) View() string {
	title := "agentdeck"
	if name := m.store.AgentName(); name != "" {
		title += " · " + name
	}
	title += " · " + m.client.State().String()

	var extras []string
	if m.notice != "" {
		extras = append(extras, statusStyle.Render(m.notice))
	}
	if m.err != nil {
		extras = append(extras, errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	parts := []string{titleStyle.Render(title), m.viewport.View()}
	parts = append(parts, extras...)
	parts = append(parts, m.textarea.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// clientHandlers wires transport events into the store via the
// reconciler, and archives finished turns locally.
func clientHandlers(store *session.Store, hist history.Store) transport.Handlers {
	rec := session.NewReconciler(store)
	return transport.Handlers{
		OnEvent: func(ev *protocol.Event) {
			rec.Apply(ev)
			if hist != nil && (ev.Type == protocol.EventComplete || ev.Type == protocol.EventError) {
				archiveTurn(store, hist)
			}
			if program != nil {
				program.Send(streamEventMsg{ev: ev})
			}
		},
		OnDisconnect: func(err error) {
			if program != nil {
				program.Send(transportDownMsg{err: err})
			}
		},
	}
}

// archiveTurn records the just-finished exchange: the last user message
// and the finalized assistant message that follows it.
func archiveTurn(store *session.Store, hist history.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID := store.SessionID()
	if err := hist.SaveSession(ctx, sessionID, store.AgentName()); err != nil {
		slog.Error("Failed to save session record", "error", err)
		return
	}

	msgs := store.Messages()
	if len(msgs) == 0 || msgs[len(msgs)-1].InProgress {
		return
	}
	start := len(msgs) - 1
	for start > 0 && msgs[start-1].Role != domain.RoleAssistant {
		start--
	}
	for _, msg := range msgs[start:] {
		if err := hist.AppendMessage(ctx, sessionID, msg); err != nil {
			slog.Error("Failed to archive message", "error", err)
			return
		}
	}
}

// program is set before Run so transport callbacks can push messages
// into the bubbletea loop.
var program *tea.Program

func main() {
	server := os.Getenv("AGENTDECK_SERVER")
	if server == "" {
		server = "http://localhost:8000"
	}

	dataDir := os.Getenv("AGENTDECK_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".agentdeck")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// Logs go to a file: stdout belongs to the TUI.
	f, err := os.OpenFile(filepath.Join(dataDir, "agentdeck.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer f.Close()

	logLevel := slog.LevelInfo
	switch strings.ToUpper(os.Getenv("AGENTDECK_LOG_LEVEL")) {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hist, err := histsqlite.New(filepath.Join(dataDir, "history.db"))
	if err != nil {
		slog.Error("Failed to open history store", "error", err)
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer hist.Close()

	store := session.NewStore()
	client := transport.New(transport.Config{BaseURL: server})
	rest := api.NewClient(server)
	exporter := artifacts.NewExporter(filepath.Join(dataDir, "artifacts"))

	m := initialModel(ctx, store, client, rest, hist, exporter)
	program = tea.NewProgram(m, tea.WithAltScreen())

	if err := client.Connect(store.SessionID(), clientHandlers(store, hist)); err != nil {
		slog.Error("Failed to start connection", "error", err)
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if _, err := program.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v\n", err)
		os.Exit(1)
	}
}
