// Package tui renders the shared snapshot and the activity journal in the
// terminal. It only reads; nothing here feeds back into the loops except the
// quit key.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/wolfeidau/seedkeeper/journal"
	"github.com/wolfeidau/seedkeeper/snapshot"
)

const (
	// RefreshInterval is how often the view re-reads its sources.
	RefreshInterval = time.Second

	// DefaultHistory is the number of journal entries shown on the Log tab.
	DefaultHistory = 25
)

// Tab identifies one page of the display.
type Tab int

const (
	TabStatus Tab = iota
	TabBT
	TabLog

	tabCount
)

var tabNames = [tabCount]string{"Status", "BT", "Log"}

func (t Tab) String() string {
	if t < 0 || t >= tabCount {
		return "?"
	}
	return tabNames[t]
}

// Next returns the following tab, wrapping after the last.
func (t Tab) Next() Tab {
	return (t + 1) % tabCount
}

// Prev returns the preceding tab, wrapping before the first.
func (t Tab) Prev() Tab {
	return (t + tabCount - 1) % tabCount
}

// Snapshotter provides the latest shared snapshot.
type Snapshotter interface {
	Read() snapshot.Snapshot
}

// History provides recent journal entries.
type History interface {
	Recent(ctx context.Context, n int) ([]journal.Entry, error)
}

type tickMsg time.Time

type historyMsg struct {
	entries []journal.Entry
	err     error
}

type shutdownMsg struct{}

// Model is the bubbletea model for the display.
type Model struct {
	snap        Snapshotter
	history     History
	historySize int
	quit        func()
	done        <-chan struct{}
	now         func() time.Time

	tab        Tab
	current    snapshot.Snapshot
	entries    []journal.Entry
	historyErr error
	width      int
	height     int
}

// Option configures a Model.
type Option func(*Model)

// WithHistory shows the latest n journal entries on the Log tab.
func WithHistory(h History, n int) Option {
	return func(m *Model) {
		m.history = h
		if n > 0 {
			m.historySize = n
		}
	}
}

// WithQuit sets the function called when the user asks to quit.
func WithQuit(quit func()) Option {
	return func(m *Model) {
		m.quit = quit
	}
}

// WithDone exits the program once done is closed.
func WithDone(done <-chan struct{}) Option {
	return func(m *Model) {
		m.done = done
	}
}

// WithNow sets the clock used for relative times.
func WithNow(now func() time.Time) Option {
	return func(m *Model) {
		m.now = now
	}
}

// New creates a Model reading from snap.
func New(snap Snapshotter, opts ...Option) Model {
	m := Model{
		snap:        snap,
		historySize: DefaultHistory,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.current = m.snap.Read()
	return m
}

// Tab returns the selected tab.
func (m Model) Tab() Tab {
	return m.tab
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick(), m.loadHistory()}
	if m.done != nil {
		cmds = append(cmds, waitForDone(m.done))
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return shutdownMsg{}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.current = m.snap.Read()
		return m, tea.Batch(tick(), m.loadHistory())

	case historyMsg:
		m.historyErr = msg.err
		if msg.err == nil {
			m.entries = msg.entries
		}
		return m, nil

	case shutdownMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "tab", "right", "l":
			m.tab = m.tab.Next()
		case "shift+tab", "left", "h":
			m.tab = m.tab.Prev()
		case "q", "ctrl+c":
			if m.quit != nil {
				m.quit()
			}
			return m, tea.Quit
		}
	}
	return m, nil
}

// loadHistory reads the journal off the update loop. It returns nil when
// there is no journal.
func (m Model) loadHistory() tea.Cmd {
	if m.history == nil {
		return nil
	}
	history, n := m.history, m.historySize
	return func() tea.Msg {
		entries, err := history.Recent(context.Background(), n)
		return historyMsg{entries: entries, err: err}
	}
}
