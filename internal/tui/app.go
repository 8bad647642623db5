// Package tui provides the interactive terminal UI for Jarvis.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zphelps/jarvis/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	daemonOnlineStyle = lipgloss.NewStyle().
				Foreground(successColor).
				Bold(true)

	daemonOfflineStyle = lipgloss.NewStyle().
				Foreground(errorColor)
)

// App is the main TUI application model.
type App struct {
	client        *Client
	tasks         []models.Task
	selectedIdx   int
	input         textinput.Model
	width         int
	height        int
	mode          string // "list", "detail", "inbox"
	currentTask   *models.Task
	subtasks      []models.Task
	events        []models.Event
	notifications []models.Notification
	notifIdx      int
	message       string
	filter        string
	filterIdx     int
	loading       bool
	daemonOnline  bool
	suggestions   *Suggestions
}

var filters = []string{"", "pending", "queued", "running", "needs_input", "completed", "failed", "cancelled"}
var filterNames = []string{"ALL", "PENDING", "QUEUED", "RUNNING", "NEEDS INPUT", "DONE", "FAILED", "CANCELLED"}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: dispatch <request> | respond <answer> | cancel | retry | /help"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		mode:        "list",
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchTasks(),
		a.fetchNotifications(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode == "detail" || a.mode == "inbox" {
				a.mode = "list"
				a.currentTask = nil
				return a, a.fetchTasks()
			}

		case "up", "k":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.mode == "list" && a.selectedIdx > 0 {
				a.selectedIdx--
			} else if a.mode == "inbox" && a.notifIdx > 0 {
				a.notifIdx--
			}

		case "down", "j":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.mode == "list" && a.selectedIdx < len(a.tasks)-1 {
				a.selectedIdx++
			} else if a.mode == "inbox" && a.notifIdx < len(a.notifications)-1 {
				a.notifIdx++
			}

		case "tab":
			// If suggestions visible, accept selection
			if a.suggestions.IsVisible() {
				if selected := a.suggestions.Selected(); selected != nil {
					a.input.SetValue(selected.Text + " ")
					a.suggestions.Update("")
				}
				return a, nil
			}
			// Cycle through status filters
			if a.mode == "list" {
				a.filterIdx = (a.filterIdx + 1) % len(filters)
				a.filter = filters[a.filterIdx]
				return a, a.fetchTasks()
			}

		case "enter":
			if a.suggestions.IsVisible() {
				if selected := a.suggestions.Selected(); selected != nil {
					a.input.SetValue(selected.Text + " ")
					a.suggestions.Update("")
				}
				return a, nil
			}
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				return a, a.executeCommand(cmd)
			} else if a.mode == "list" && len(a.tasks) > 0 {
				task := a.tasks[a.selectedIdx]
				a.mode = "detail"
				return a, a.fetchTaskDetail(task.ID)
			} else if a.mode == "inbox" && len(a.notifications) > 0 {
				n := a.notifications[a.notifIdx]
				a.mode = "detail"
				return a, a.fetchTaskDetail(n.TaskID)
			}

		case "r":
			if a.mode == "list" {
				return a, a.fetchTasks()
			} else if a.mode == "detail" && a.currentTask != nil {
				return a, a.fetchTaskDetail(a.currentTask.ID)
			} else if a.mode == "inbox" {
				return a, a.fetchNotifications()
			}

		case "i":
			a.mode = "inbox"
			return a, a.fetchNotifications()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4

	case tasksLoadedMsg:
		a.loading = false
		a.tasks = msg.tasks
		if a.selectedIdx >= len(a.tasks) {
			a.selectedIdx = max(0, len(a.tasks)-1)
		}

	case taskDetailLoadedMsg:
		a.currentTask = msg.task
		a.subtasks = msg.subtasks
		a.events = msg.events

	case notificationsLoadedMsg:
		a.notifications = msg.notifications
		if a.notifIdx >= len(a.notifications) {
			a.notifIdx = max(0, len(a.notifications)-1)
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		// Background refresh keeps the list live while tasks run.
		cmds = append(cmds, a.tickCmd(), a.checkDaemon(), a.fetchNotifications())
		if a.mode == "list" {
			cmds = append(cmds, a.fetchTasks())
		} else if a.mode == "detail" && a.currentTask != nil {
			cmds = append(cmds, a.fetchTaskDetail(a.currentTask.ID))
		}

	case commandResultMsg:
		a.message = msg.message
		return a, tea.Batch(a.fetchTasks(), a.fetchNotifications())

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	// Update suggestions based on input
	a.suggestions.Update(a.input.Value())

	// Populate dynamic task references for @
	if strings.HasPrefix(a.input.Value(), "@") {
		items := make([]SuggestionItem, len(a.tasks))
		for i, t := range a.tasks {
			items[i] = SuggestionItem{
				Text:        t.ID,
				Description: truncate(t.Description, 40),
				Type:        "task",
			}
		}
		a.suggestions.SetTasks(items)
	}

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	// Header with daemon status
	daemonStatus := daemonOnlineStyle.Render("DAEMON UP")
	if !a.daemonOnline {
		daemonStatus = daemonOfflineStyle.Render("DAEMON DOWN")
	}

	pending := 0
	for _, n := range a.notifications {
		if !n.Resolved {
			pending++
		}
	}
	inboxBadge := lipgloss.NewStyle().Foreground(mutedColor).Render("inbox: 0")
	if pending > 0 {
		inboxBadge = lipgloss.NewStyle().Foreground(warningColor).Bold(true).Render(fmt.Sprintf("inbox: %d", pending))
	}

	header := titleStyle.Render("JARVIS")
	header += "  " + daemonStatus
	header += "  " + inboxBadge

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("-", max(a.width, 10)) + "\n")

	// Main content area
	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case "list":
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderTaskList(contentHeight - 1))
	case "detail":
		b.WriteString(a.renderTaskDetail(contentHeight))
	case "inbox":
		b.WriteString(a.renderInbox(contentHeight))
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	// Input box
	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	// Suggestions dropdown renders below the input
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	// Status bar
	var status string
	switch a.mode {
	case "list":
		status = fmt.Sprintf(" Tasks: %d | up/down:nav | Tab:filter | i:inbox | r:refresh | Ctrl+C:quit", len(a.tasks))
	case "inbox":
		status = fmt.Sprintf(" Notifications: %d | up/down:nav | Enter:open task | Esc:back", len(a.notifications))
	default:
		status = " Esc:back | r:refresh | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderTaskList(height int) string {
	if a.loading {
		return "\n  Loading tasks...\n"
	}
	if len(a.tasks) == 0 {
		return "\n  No tasks found. Type: dispatch <request> to start one.\n"
	}

	var lines []string
	for i, task := range a.tasks {
		attention := ""
		if task.RequiresAttention {
			attention = lipgloss.NewStyle().Foreground(warningColor).Render(" !")
		}

		if i == a.selectedIdx {
			line := selectedStyle.Render(fmt.Sprintf("> %-12s %s", task.Status, truncate(task.Description, 60)))
			lines = append(lines, line+attention)
		} else {
			line := taskItemStyle.Render(fmt.Sprintf("  %s %s", a.formatStatus(task.Status), truncate(task.Description, 60)))
			lines = append(lines, line+attention)
		}
	}

	// Limit visible lines
	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

func (a *App) renderTaskDetail(height int) string {
	if a.currentTask == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	t := a.currentTask

	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(t.Description)))
	b.WriteString(fmt.Sprintf("  ID: %s\n", shortID(t.ID)))
	b.WriteString(fmt.Sprintf("  Status: %s   Priority: %s\n", a.formatStatus(t.Status), t.Priority))
	b.WriteString(fmt.Sprintf("  Spent: $%.4f   Tokens: %d\n", t.SpentUSD, t.TokensUsed))
	if t.RequiresAttention {
		b.WriteString("  " + lipgloss.NewStyle().Foreground(warningColor).Render("Attention: "+t.AttentionReason) + "\n")
	}
	if t.Result != nil {
		b.WriteString(fmt.Sprintf("  Result: %s\n", truncate(t.Result.Summary, 100)))
	}
	if t.Error != nil {
		b.WriteString("  " + lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("Error: [%s] %s", t.Error.Code, t.Error.Message)) + "\n")
	}

	if len(a.subtasks) > 0 {
		b.WriteString("\n  Subtasks:\n")
		for _, st := range a.subtasks {
			b.WriteString(fmt.Sprintf("    %s %s\n", a.formatStatus(st.Status), truncate(st.Description, 60)))
		}
	}

	if len(a.events) > 0 {
		b.WriteString("\n  Timeline:\n")
		start := 0
		if len(a.events) > 10 {
			start = len(a.events) - 10
			b.WriteString(helpStyle.Render(fmt.Sprintf("    ... %d earlier events\n", start)))
		}
		for _, ev := range a.events[start:] {
			ts := ev.Timestamp.Local().Format("15:04:05")
			b.WriteString(fmt.Sprintf("    %s  %-20s %s\n", helpStyle.Render(ts), ev.Type, truncate(describePayload(ev), 50)))
		}
	}

	return b.String()
}

func (a *App) renderInbox(height int) string {
	var b strings.Builder

	b.WriteString("\n  Pending Notifications\n")
	b.WriteString("  " + strings.Repeat("-", 40) + "\n\n")

	if len(a.notifications) == 0 {
		b.WriteString("  Inbox empty. Nothing needs your attention.\n")
		return b.String()
	}

	for i, n := range a.notifications {
		priority := string(n.Decision.Priority)
		switch n.Decision.Priority {
		case models.SurfaceInterrupt:
			priority = lipgloss.NewStyle().Foreground(errorColor).Bold(true).Render(priority)
		case models.SurfaceNextTurn:
			priority = lipgloss.NewStyle().Foreground(warningColor).Render(priority)
		}

		line := fmt.Sprintf("%s  %s", priority, truncate(n.Decision.Reason, 60))
		if i == a.notifIdx {
			b.WriteString(selectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString("    " + line + "\n")
		}
	}

	b.WriteString("\n  " + helpStyle.Render("Enter: open task | /resolve: mark handled") + "\n")

	return b.String()
}

func (a *App) formatStatus(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusPending:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("PENDING    ")
	case models.TaskStatusQueued:
		return lipgloss.NewStyle().Foreground(secondaryColor).Render("QUEUED     ")
	case models.TaskStatusRunning:
		return lipgloss.NewStyle().Foreground(cyanColor).Render("RUNNING    ")
	case models.TaskStatusNeedsInput:
		return lipgloss.NewStyle().Foreground(warningColor).Render("NEEDS INPUT")
	case models.TaskStatusCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("DONE       ")
	case models.TaskStatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("FAILED     ")
	case models.TaskStatusCancelled:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("CANCELLED  ")
	default:
		return string(status)
	}
}

// describePayload renders a short line for an event in the timeline.
func describePayload(ev models.Event) string {
	switch p := ev.Payload.(type) {
	case models.CreatedPayload:
		return p.Description
	case models.DecomposedPayload:
		return fmt.Sprintf("%d subtasks planned", p.SubtaskCount)
	case models.StartedPayload:
		return string(p.ExecutorType)
	case models.ProgressPayload:
		return p.Message
	case models.NeedsInputPayload:
		return p.Question
	case models.InputReceivedPayload:
		return p.Response
	case models.CompletedPayload:
		return p.Summary
	case models.FailedPayload:
		return p.Error
	case models.CancelledPayload:
		return p.Reason
	default:
		return ""
	}
}

func (a *App) fetchTasks() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		tasks, err := a.client.ListTasks(a.filter)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) fetchTaskDetail(taskID string) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.GetTask(taskID)
		if err != nil {
			return errMsg{err}
		}
		subtasks, _ := a.client.GetSubtasks(taskID)
		events, _ := a.client.GetEvents(taskID)
		return taskDetailLoadedMsg{task, subtasks, events}
	}
}

func (a *App) fetchNotifications() tea.Cmd {
	return func() tea.Msg {
		notifications, err := a.client.GetNotifications()
		if err != nil {
			return errMsg{err}
		}
		return notificationsLoadedMsg{notifications}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) selectedTaskID() string {
	if a.mode == "detail" && a.currentTask != nil {
		return a.currentTask.ID
	}
	if len(a.tasks) > 0 && a.selectedIdx < len(a.tasks) {
		return a.tasks[a.selectedIdx].ID
	}
	return ""
}

func (a *App) executeCommand(input string) tea.Cmd {
	input = strings.TrimPrefix(input, "/")
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	// Commands that change local mode only
	switch cmd {
	case "inbox":
		a.mode = "inbox"
		return a.fetchNotifications()
	case "refresh":
		return a.fetchTasks()
	case "q", "quit", "exit":
		return tea.Quit
	}

	return func() tea.Msg {
		switch cmd {
		case "dispatch":
			if len(args) < 1 {
				return commandResultMsg{"Usage: dispatch <request>"}
			}
			task, err := a.client.Dispatch(strings.Join(args, " "), "")
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("Dispatched task %s", shortID(task.ID))}

		case "respond":
			taskID := a.selectedTaskID()
			if len(args) > 0 && strings.HasPrefix(args[0], "@") {
				taskID = strings.TrimPrefix(args[0], "@")
				args = args[1:]
			}
			if taskID == "" {
				return commandResultMsg{"No task selected"}
			}
			if len(args) < 1 {
				return commandResultMsg{"Usage: respond [@task-id] <answer>"}
			}
			if err := a.client.Respond(taskID, strings.Join(args, " ")); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"Response delivered, task resumed"}

		case "cancel":
			taskID := a.selectedTaskID()
			if len(args) > 0 && strings.HasPrefix(args[0], "@") {
				taskID = strings.TrimPrefix(args[0], "@")
				args = args[1:]
			}
			if taskID == "" {
				return commandResultMsg{"No task selected"}
			}
			if err := a.client.CancelTask(taskID, strings.Join(args, " ")); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"Task cancelled"}

		case "retry":
			taskID := a.selectedTaskID()
			if len(args) > 0 && strings.HasPrefix(args[0], "@") {
				taskID = strings.TrimPrefix(args[0], "@")
			}
			if taskID == "" {
				return commandResultMsg{"No task selected"}
			}
			if err := a.client.RetryTask(taskID); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"Task requeued"}

		case "resolve":
			if a.mode != "inbox" || len(a.notifications) == 0 {
				return commandResultMsg{"No notification selected. Press i for the inbox."}
			}
			n := a.notifications[a.notifIdx]
			if err := a.client.ResolveNotification(n.ID); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"Notification resolved"}

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: dispatch, respond, cancel, retry, resolve)", cmd)}
		}
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type tasksLoadedMsg struct {
	tasks []models.Task
}

type taskDetailLoadedMsg struct {
	task     *models.Task
	subtasks []models.Task
	events   []models.Event
}

type notificationsLoadedMsg struct {
	notifications []models.Notification
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time
