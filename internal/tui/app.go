package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/storage"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewCode
)

// Store is what the browser reads from.
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	GetAttemptsForRun(ctx context.Context, runID string) ([]*models.AttemptRecord, error)
	DeleteRun(ctx context.Context, id string) error
}

type App struct {
	store Store
	// onDelete removes a run's on-disk artifacts; may be nil.
	onDelete func(id string) error

	view           View
	runs           []*models.Run
	selectedIdx    int
	selectedRun    *models.Run
	attempts       []*models.AttemptRecord
	selectedAttIdx int
	code           viewport.Model

	width  int
	height int
	err    error
}

func NewApp(store Store, onDelete func(id string) error) *App {
	return &App{
		store:    store,
		onDelete: onDelete,
		view:     ViewRunList,
		code:     viewport.New(80, 20),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadRuns, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningRuns() bool {
	for _, run := range a.runs {
		if run.Status == models.RunStatusRunning {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.code.Width = msg.Width
		a.code.Height = max(msg.Height-6, 5)
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case tickMsg:
		// Refresh while conversions are in flight
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		return a, a.tickCmd()

	case runDetailMsg:
		a.selectedRun = msg.run
		a.attempts = msg.attempts
		a.err = msg.err
		if a.err == nil {
			a.view = ViewRunDetail
			a.selectedAttIdx = 0
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns
	}

	if a.view == ViewCode {
		var cmd tea.Cmd
		a.code, cmd = a.code.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewCode:
		return a.handleCodeKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].ID)
		}

	case "r":
		return a, a.loadRuns

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].ID)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.attempts = nil
		a.selectedAttIdx = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedAttIdx > 0 {
			a.selectedAttIdx--
		}

	case "down", "j":
		if a.selectedAttIdx < len(a.attempts)-1 {
			a.selectedAttIdx++
		}

	case "enter":
		if len(a.attempts) > 0 && a.selectedAttIdx < len(a.attempts) {
			a.code.SetContent(a.renderAttempt(a.attempts[a.selectedAttIdx]))
			a.code.GotoTop()
			a.view = ViewCode
		}

	case "s":
		if a.selectedRun != nil {
			a.code.SetContent(renderCode(a.selectedRun.SourceCode, a.selectedRun.SourceLanguage, a.code.Width))
			a.code.GotoTop()
			a.view = ViewCode
		}
	}

	return a, nil
}

func (a *App) handleCodeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.code, cmd = a.code.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewCode:
		return a.viewCode()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusAborted   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusExhausted = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("Transmute") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No conversions yet. Run `transmute convert <file>` to start one.\n"
	} else {
		s += "Recent Conversions\n"
		s += "──────────────────\n"

		for i, run := range a.runs {
			line := formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if run.Status != models.RunStatusRunning {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [d] delete  [r] refresh  [q] quit")

	return s
}

func formatRunLine(run *models.Run) string {
	pair := run.SourceLanguage + " → " + run.TargetLanguage
	return fmt.Sprintf("%-8s %-16s %s  %-8s  %d/%d",
		shortID(run.ID), pair, formatStatus(run.Status), storage.FormatTimeAgo(run.CreatedAt),
		run.AttemptsUsed, run.MaxRetries)
}

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running  ")
	case models.RunStatusSucceeded:
		return statusSucceeded.Render("✓ succeeded")
	case models.RunStatusExhausted:
		return statusExhausted.Render("⚠ exhausted")
	case models.RunStatusAborted:
		return statusAborted.Render("✗ aborted  ")
	default:
		return string(status)
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}
	run := a.selectedRun

	header := fmt.Sprintf("Run %s: %s → %s", shortID(run.ID), run.SourceLanguage, run.TargetLanguage)
	s := titleStyle.Render(header) + "  " + formatStatus(run.Status) + "\n\n"

	s += labelStyle.Render("State: ") + string(run.CurrentState) + "\n"
	s += labelStyle.Render("Attempts: ") + fmt.Sprintf("%d of %d", run.AttemptsUsed, run.MaxRetries) + "\n"
	if run.AbortReason != "" {
		s += labelStyle.Render("Abort: ") + statusAborted.Render(string(run.AbortReason)) + "\n"
	}
	if run.Detail != "" {
		s += labelStyle.Render("Detail: ") + dimStyle.Render(truncate(run.Detail, 100)) + "\n"
	}
	s += "\n"

	s += "Attempts\n"
	s += "────────\n"

	if len(a.attempts) == 0 {
		s += "(no attempts yet)\n"
	} else {
		for i, att := range a.attempts {
			status := "○"
			defects := ""
			if att.Verdict != nil {
				if att.Verdict.Passed() {
					status = statusSucceeded.Render("✓")
				} else {
					status = statusAborted.Render("✗")
					defects = dimStyle.Render(truncate(att.Verdict.Summary(), 60))
				}
			}

			line := fmt.Sprintf("%d. %s  %s", att.Number, status, defects)
			if i == a.selectedAttIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] code  [s] source  [esc] back")

	return s
}

func (a *App) viewCode() string {
	s := titleStyle.Render("Code") + "\n\n"
	s += a.code.View() + "\n"
	s += "\n" + helpStyle.Render(fmt.Sprintf("%3.f%%  [↑/↓] scroll  [esc] back", a.code.ScrollPercent()*100))
	return s
}

func (a *App) renderAttempt(att *models.AttemptRecord) string {
	lang := ""
	if a.selectedRun != nil {
		lang = a.selectedRun.TargetLanguage
	}
	var b strings.Builder
	b.WriteString(renderCode(att.Code, lang, a.code.Width))
	if att.Verdict != nil && !att.Verdict.Passed() {
		b.WriteString("\n\n")
		b.WriteString(labelStyle.Render("Defects"))
		b.WriteString("\n")
		for _, d := range att.Verdict.Defects {
			b.WriteString("  • ")
			b.WriteString(d.String())
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderCode highlights code as a fenced markdown block, falling back to
// the plain text if rendering fails.
func renderCode(code, lang string, width int) string {
	if strings.TrimSpace(code) == "" {
		return "(empty)"
	}
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return code
	}
	out, err := renderer.Render("```" + lang + "\n" + strings.TrimRight(code, "\n") + "\n```\n")
	if err != nil {
		return code
	}
	return out
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run      *models.Run
	attempts []*models.AttemptRecord
	err      error
}

type runDeletedMsg struct {
	runID string
	err   error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.store.ListRuns(context.Background(), 50)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(id string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		run, err := a.store.GetRun(ctx, id)
		if err != nil {
			return runDetailMsg{err: err}
		}

		attempts, err := a.store.GetAttemptsForRun(ctx, id)
		return runDetailMsg{run: run, attempts: attempts, err: err}
	}
}

func (a *App) deleteRun(id string) tea.Cmd {
	return func() tea.Msg {
		if err := a.store.DeleteRun(context.Background(), id); err != nil {
			return runDeletedMsg{err: err}
		}
		if a.onDelete != nil {
			if err := a.onDelete(id); err != nil {
				return runDeletedMsg{runID: id, err: err}
			}
		}
		return runDeletedMsg{runID: id}
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
