package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/grimoire/internal/form"
)

const refreshInterval = 100 * time.Millisecond

// Theme holds the color scheme for the upload form.
type Theme struct {
	Title    lipgloss.Color
	Selected lipgloss.Color
	Success  lipgloss.Color
	Error    lipgloss.Color
	Hint     lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Title:    lipgloss.Color("#5FAFD7"), // light blue
	Selected: lipgloss.Color("#FFAF00"), // amber
	Success:  lipgloss.Color("#00D787"), // green
	Error:    lipgloss.Color("#FF005F"), // red
	Hint:     lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Title).Bold(true)
}

func (t Theme) selectedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Selected)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg refreshes the view while a submission is running.
type tickMsg time.Time

// submitDoneMsg carries the outcome of a finished submission.
type submitDoneMsg struct {
	report form.Report
}

// statFunc reports the size of a regular file.
type statFunc func(path string) (int64, error)

func statRegularFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}
	return info.Size(), nil
}

// formModel is the bubbletea model for the upload form.
type formModel struct {
	form     *form.Form
	uploader form.Uploader
	stat     statFunc

	input    textinput.Model
	progress progress.Model
	theme    Theme

	cursor     int
	status     string
	statusErr  bool
	submitting bool
	cancel     context.CancelFunc
	reports    []form.Report
	quitting   bool
}

// newFormModel creates the form UI over f.
func newFormModel(f *form.Form, up form.Uploader, stat statFunc) formModel {
	input := textinput.New()
	input.Placeholder = "path/to/file or https://..."
	input.Prompt = "+ "
	input.Focus()

	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(30),
	)

	if stat == nil {
		stat = statRegularFile
	}

	return formModel{
		form:     f,
		uploader: up,
		stat:     stat,
		input:    input,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command.
func (m formModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if m.submitting {
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case "enter":
			m.addInput()
			return m, nil
		case "up":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down":
			if m.cursor < m.itemCount()-1 {
				m.cursor++
			}
			return m, nil
		case "ctrl+d":
			m.removeSelected()
			return m, nil
		case "ctrl+s":
			return m.startSubmit()
		}

	case tickMsg:
		if m.submitting {
			return m, tickCmd()
		}
		return m, nil

	case submitDoneMsg:
		m.submitting = false
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.reports = append(m.reports, msg.report)
		m.cursor = 0
		m.setStatus(summarize(msg.report), msg.report.Failed() > 0)
		return m, nil

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *formModel) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// addInput stages the input line as a URL or a file path.
func (m *formModel) addInput() {
	if m.submitting {
		return
	}
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return
	}

	if looksLikeURL(value) {
		m.form.AddURL(value)
		m.input.Reset()
		m.setStatus("", false)
		return
	}

	size, err := m.stat(value)
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.form.AddFiles([]form.Selection{{Path: value, Size: size}})
	m.input.Reset()
	m.setStatus("", false)
}

// removeSelected unstages the item under the cursor.
func (m *formModel) removeSelected() {
	if m.submitting {
		return
	}
	state := m.form.Snapshot()
	switch {
	case m.cursor < len(state.Files):
		m.form.RemoveFile(state.Files[m.cursor].ID)
	case m.cursor < len(state.Files)+len(state.URLs):
		m.form.RemoveURL(state.URLs[m.cursor-len(state.Files)])
	default:
		return
	}
	if n := m.itemCount(); m.cursor >= n && n > 0 {
		m.cursor = n - 1
	}
}

func (m formModel) startSubmit() (tea.Model, tea.Cmd) {
	if m.submitting || !m.form.CanSubmit() {
		return m, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.submitting = true
	m.cancel = cancel
	m.setStatus("", false)

	f, up := m.form, m.uploader
	submit := func() tea.Msg {
		return submitDoneMsg{report: f.Submit(ctx, up)}
	}
	return m, tea.Batch(submit, tickCmd())
}

func (m formModel) itemCount() int {
	state := m.form.Snapshot()
	return len(state.Files) + len(state.URLs)
}

// View renders the upload form.
func (m formModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m formModel) renderContent() string {
	if m.quitting {
		return m.finalView()
	}

	var b strings.Builder
	b.WriteString(m.theme.titleStyle().Render("Grimoire upload") + "\n\n")

	state := m.form.Snapshot()
	if len(state.Files) == 0 && len(state.URLs) == 0 {
		b.WriteString(m.theme.hintStyle().Render("Nothing staged yet.") + "\n")
	}

	row := 0
	for _, it := range state.Files {
		mark := " "
		if it.Uploaded {
			mark = m.theme.completedStyle().Render("✓")
		}
		line := fmt.Sprintf("%s %-28s %s %3d%%", mark, truncateName(it.Name, 28),
			m.progress.ViewAs(float64(it.Progress)/100), it.Progress)
		b.WriteString(m.renderRow(row, line) + "\n")
		row++
	}
	for _, u := range state.URLs {
		b.WriteString(m.renderRow(row, "  "+u) + "\n")
		row++
	}

	b.WriteString("\n" + m.input.View() + "\n")

	if m.status != "" {
		style := m.theme.completedStyle()
		if m.statusErr {
			style = m.theme.errorStyle()
		}
		b.WriteString(style.Render(m.status) + "\n")
	}

	if state.Submitting || m.submitting {
		b.WriteString(m.theme.hintStyle().Render("Uploading... ctrl+c to abort") + "\n")
	} else {
		hint := "enter add · ↑/↓ select · ctrl+d remove · esc quit"
		if m.form.CanSubmit() {
			hint = "ctrl+s upload · " + hint
		}
		b.WriteString(m.theme.hintStyle().Render(hint) + "\n")
	}
	return b.String()
}

func (m formModel) renderRow(row int, line string) string {
	if row == m.cursor {
		return m.theme.selectedStyle().Render(">" + line)
	}
	return " " + line
}

// finalView renders the message shown after leaving the form.
func (m formModel) finalView() string {
	if len(m.reports) == 0 {
		return m.theme.hintStyle().Render("Nothing uploaded.\n")
	}
	var b strings.Builder
	for _, r := range m.reports {
		b.WriteString(renderReport(m.theme, r))
	}
	return b.String()
}

// summarize returns a one-line outcome of a submission.
func summarize(r form.Report) string {
	if r.Failed() == 0 {
		return fmt.Sprintf("✓ Uploaded %d item(s) in %s", r.Succeeded(), r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("✗ %d of %d item(s) failed", r.Failed(), len(r.Items))
}

// renderReport lists every item of a submission with its outcome.
func renderReport(t Theme, r form.Report) string {
	var b strings.Builder
	for _, it := range r.Items {
		kind := "file"
		if it.IsURL {
			kind = "url "
		}
		if it.Err != nil {
			b.WriteString(t.errorStyle().Render("✗") + fmt.Sprintf(" %s %s: %v\n", kind, it.Name, it.Err))
			continue
		}
		ids := make([]string, 0, len(it.Sources))
		for _, s := range it.Sources {
			ids = append(ids, s.ID)
		}
		b.WriteString(t.completedStyle().Render("✓") + fmt.Sprintf(" %s %s (%s)\n", kind, it.Name, strings.Join(ids, ", ")))
	}
	style := t.completedStyle()
	if r.Failed() > 0 {
		style = t.errorStyle()
	}
	b.WriteString(style.Render(summarize(r)) + "\n")
	return b.String()
}

func looksLikeURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func truncateName(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// tickCmd returns a command that sends a tick after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunUploadForm runs the interactive upload form until the user quits.
// It returns the reports of every submission made.
func RunUploadForm(f *form.Form, up form.Uploader) ([]form.Report, error) {
	model := newFormModel(f, up, nil)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("upload form error: %w", err)
	}

	if m, ok := finalModel.(formModel); ok {
		return m.reports, nil
	}
	return nil, nil
}
