// Package ui provides the terminal reader for a playback session: the
// current segment's text, a position bar, and transport key bindings.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dgnsrekt/bookvoice/speech"
)

const noticeTimeout = 3 * time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	textStyle  = lipgloss.NewStyle().Padding(1, 2)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// NewProgram returns a Bubble Tea program reading the book aloud.
func NewProgram(session *speech.Session, bookTitle string, chapters []speech.Chapter, startChapter int) *tea.Program {
	m := newModel(session, bookTitle, chapters, startChapter)
	return tea.NewProgram(m, tea.WithAltScreen())
}

type keyMap struct {
	Toggle      key.Binding
	Next        key.Binding
	Prev        key.Binding
	NextChapter key.Binding
	PrevChapter key.Binding
	Faster      key.Binding
	Slower      key.Binding
	Help        key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Toggle:      key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		Next:        key.NewBinding(key.WithKeys("n", "right"), key.WithHelp("n", "next segment")),
		Prev:        key.NewBinding(key.WithKeys("p", "left"), key.WithHelp("p", "previous segment")),
		NextChapter: key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "next chapter")),
		PrevChapter: key.NewBinding(key.WithKeys("["), key.WithHelp("[", "previous chapter")),
		Faster:      key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "faster")),
		Slower:      key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "slower")),
		Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Next, k.Prev, k.Faster, k.Slower, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Next, k.Prev},
		{k.NextChapter, k.PrevChapter},
		{k.Faster, k.Slower, k.Help, k.Quit},
	}
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	session    *speech.Session
	bookTitle  string
	chapters   []speech.Chapter
	chapterIdx int

	state     speech.StateType
	segIndex  int
	segTotal  int
	segText   string
	buffering bool
	speed     float64
	notice    string
	noticeAt  time.Time
	err       error

	width  int
	height int

	bar     progress.Model
	spin    spinner.Model
	help    help.Model
	keys    keyMap
	loading bool
}

func newModel(session *speech.Session, bookTitle string, chapters []speech.Chapter, startChapter int) model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	return model{
		session:    session,
		bookTitle:  bookTitle,
		chapters:   chapters,
		chapterIdx: startChapter,
		speed:      session.Speed(),
		bar:        progress.New(progress.WithDefaultGradient()),
		spin:       sp,
		help:       help.New(),
		keys:       defaultKeyMap(),
		loading:    true,
	}
}

// Init loads the starting chapter and begins event consumption.
func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.loadAndPlay(m.chapters[m.chapterIdx].ID),
		m.listen(),
		m.spin.Tick,
		tick(),
	)
}

// Update handles key presses, session events, and ticks.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 8
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if m.notice != "" && time.Since(m.noticeAt) > noticeTimeout {
			m.notice = ""
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case speech.StateChangedMsg:
		m.state = msg.State
		m.loading = msg.State == speech.StateLoading
		return m, m.listen()

	case speech.SegmentChangedMsg:
		m.segIndex = msg.Index
		m.segText = msg.Text
		m.loading = false
		if total := m.session.Snapshot().Total; total > 0 {
			m.segTotal = total
		}
		return m, m.listen()

	case speech.BufferingMsg:
		m.buffering = msg.Buffering
		return m, m.listen()

	case speech.SegmentUpgradedMsg:
		m.setNotice(fmt.Sprintf("segment %d upgraded to tier %d", msg.Index, msg.Tier))
		return m, m.listen()

	case speech.SpeedChangedMsg:
		m.speed = msg.Speed
		m.setNotice(fmt.Sprintf("speed %.2fx", msg.Speed))
		return m, m.listen()

	case speech.EndedMsg:
		return m.nextChapter()

	case speech.PlaybackErrorMsg:
		m.err = msg.Err
		return m, m.listen()
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.session.Stop()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Toggle):
		m.session.Toggle()

	case key.Matches(msg, m.keys.Next):
		m.session.SkipNext()

	case key.Matches(msg, m.keys.Prev):
		m.session.SkipPrevious()

	case key.Matches(msg, m.keys.NextChapter):
		return m.nextChapter()

	case key.Matches(msg, m.keys.PrevChapter):
		return m.gotoChapter(m.chapterIdx - 1)

	case key.Matches(msg, m.keys.Faster):
		m.session.SpeedUp()

	case key.Matches(msg, m.keys.Slower):
		m.session.SpeedDown()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m model) nextChapter() (tea.Model, tea.Cmd) {
	if m.chapterIdx+1 >= len(m.chapters) {
		m.session.Stop()
		return m, tea.Quit
	}
	return m.gotoChapter(m.chapterIdx + 1)
}

func (m model) gotoChapter(idx int) (tea.Model, tea.Cmd) {
	if idx < 0 || idx >= len(m.chapters) {
		return m, nil
	}
	m.chapterIdx = idx
	m.segIndex = 0
	m.segTotal = 0
	m.segText = ""
	m.err = nil
	m.loading = true
	return m, m.loadAndPlay(m.chapters[idx].ID)
}

// loadAndPlay loads a chapter off the update loop. LoadChapter blocks on
// the chapter fetch, and Play kicks the playback loop once loaded.
func (m model) loadAndPlay(chapterID string) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		if err := session.LoadChapter(context.Background(), chapterID); err != nil {
			return speech.PlaybackErrorMsg{Err: err, ChapterID: chapterID, Index: -1}
		}
		session.Play()
		return nil
	}
}

func (m model) listen() tea.Cmd {
	return speech.WaitForEvent(m.session.Events())
}

func (m *model) setNotice(text string) {
	m.notice = text
	m.noticeAt = time.Now()
}

// View renders the reader.
func (m model) View() string {
	var b strings.Builder

	chapter := ""
	if m.chapterIdx < len(m.chapters) {
		chapter = m.chapters[m.chapterIdx].Title
	}
	b.WriteString(titleStyle.Render(m.bookTitle))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s (%d/%d)", chapter, m.chapterIdx+1, len(m.chapters))))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(textStyle.Render(errStyle.Render("playback error: " + m.err.Error())))
	case m.loading:
		b.WriteString(textStyle.Render(m.spin.View() + " loading chapter..."))
	case m.segText != "":
		b.WriteString(textStyle.Width(m.width).Render(m.segText))
	default:
		b.WriteString(textStyle.Render(m.spin.View() + " waiting for audio..."))
	}
	b.WriteString("\n")

	snap := m.session.Snapshot()
	if snap.Duration > 0 {
		b.WriteString("  ")
		b.WriteString(m.bar.ViewAs(float64(snap.Position) / float64(snap.Duration)))
		b.WriteString("\n")
	}

	status := fmt.Sprintf("  %s · segment %d/%d · %.2fx", m.state, m.segIndex+1, snap.Total, m.speed)
	if m.buffering {
		status += " · " + m.spin.View() + " buffering"
	}
	if m.notice != "" {
		status += " · " + m.notice
	}
	b.WriteString(dimStyle.Render(status))
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))

	return b.String()
}
