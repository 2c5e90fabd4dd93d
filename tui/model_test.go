package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/seedkeeper"
	"github.com/wolfeidau/seedkeeper/journal"
	"github.com/wolfeidau/seedkeeper/snapshot"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeHistory struct {
	entries []journal.Entry
	err     error
	asked   int
}

func (f *fakeHistory) Recent(_ context.Context, n int) ([]journal.Entry, error) {
	f.asked = n
	return f.entries, f.err
}

func newCell() *snapshot.Cell {
	return snapshot.New(snapshot.WithNow(func() time.Time { return testTime }))
}

func newModel(cell *snapshot.Cell, opts ...Option) Model {
	opts = append(opts, WithNow(func() time.Time { return testTime.Add(time.Minute) }))
	return New(cell, opts...)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	next, ok := updated.(Model)
	require.True(t, ok)
	return next, cmd
}

// readHistory runs the model's journal read and delivers its result.
func readHistory(t *testing.T, m Model) Model {
	t.Helper()
	cmd := m.loadHistory()
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	return m
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestTabWraps(t *testing.T) {
	assert.Equal(t, TabBT, TabStatus.Next())
	assert.Equal(t, TabLog, TabBT.Next())
	assert.Equal(t, TabStatus, TabLog.Next())

	assert.Equal(t, TabLog, TabStatus.Prev())
	assert.Equal(t, TabStatus, TabBT.Prev())
	assert.Equal(t, TabBT, TabLog.Prev())

	assert.Equal(t, "BT", TabBT.String())
	assert.Equal(t, "?", Tab(7).String())
}

func TestKeysSwitchTabs(t *testing.T) {
	m := newModel(newCell())
	require.Equal(t, TabStatus, m.Tab())

	tests := []struct {
		name string
		key  tea.KeyMsg
		want Tab
	}{
		{"tab", tea.KeyMsg{Type: tea.KeyTab}, TabBT},
		{"right", tea.KeyMsg{Type: tea.KeyRight}, TabLog},
		{"l wraps", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'l'}}, TabStatus},
		{"shift+tab wraps", tea.KeyMsg{Type: tea.KeyShiftTab}, TabLog},
		{"left", tea.KeyMsg{Type: tea.KeyLeft}, TabBT},
		{"h", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'h'}}, TabStatus},
		{"other key ignored", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}}, TabStatus},
	}
	for _, tt := range tests {
		var cmd tea.Cmd
		m, cmd = update(t, m, tt.key)
		assert.Equal(t, tt.want, m.Tab(), tt.name)
		assert.Nil(t, cmd, tt.name)
	}
}

func TestQuitCallsShutdown(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		calls := 0
		m := newModel(newCell(), WithQuit(func() { calls++ }))

		_, cmd := update(t, m, key)
		assert.True(t, isQuit(cmd), key.String())
		assert.Equal(t, 1, calls, key.String())
	}
}

func TestShutdownMsgQuits(t *testing.T) {
	m := newModel(newCell())
	_, cmd := update(t, m, shutdownMsg{})
	require.True(t, isQuit(cmd))
}

func TestWaitForDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	msg := waitForDone(done)()
	require.IsType(t, shutdownMsg{}, msg)
}

func TestStatusLoading(t *testing.T) {
	m := newModel(newCell())

	require.Contains(t, m.View(), "loading")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Contains(t, m.View(), "loading")
}

func TestStatusUpdatedAndOutdated(t *testing.T) {
	local := &seedkeeper.SessionStats{ActiveCount: 3, PausedCount: 1, TotalCount: 4, UploadRate: 2048,
		Cumulative: seedkeeper.TransferStats{Uploaded: 5 << 30, SecondsActive: 90}}
	remote := &seedkeeper.AccountStatus{Username: "seeder", ShareRatio: "3.142", Coin: "1,024.5"}

	cell := newCell()
	cell.Write(local, remote, snapshot.AllFresh)
	m := newModel(cell)

	view := m.View()
	assert.Contains(t, view, "Updated")
	assert.Contains(t, view, "seeder")
	assert.Contains(t, view, "3.142")
	assert.Contains(t, view, "1 minute ago")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	view = m.View()
	assert.Contains(t, view, "Updated")
	assert.Contains(t, view, "3 active, 1 paused, 4 total")
	assert.Contains(t, view, "2.0 KiB/s")
	assert.Contains(t, view, "5.0 GiB")
	assert.Contains(t, view, "1m30s")

	// remote fails: previous value stays, bit cleared
	cell.Write(local, remote, snapshot.LocalFresh)
	m, cmd := update(t, m, tickMsg(testTime))
	require.NotNil(t, cmd)

	view = m.View()
	assert.Contains(t, view, "Updated")
	assert.NotContains(t, view, "Outdated")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	view = m.View()
	assert.Contains(t, view, "Outdated")
	assert.Contains(t, view, "seeder")
}

func TestLogTab(t *testing.T) {
	history := &fakeHistory{entries: []journal.Entry{
		{At: testTime, Kind: journal.KindAdmitted, Hash: "0123456789abcdef0123456789abcdef01234567", Name: "Some.Show.S01", Size: 1 << 30},
		{At: testTime, Kind: journal.KindEvictFailed, Hash: "fedcba9876543210fedcba9876543210fedcba98", Detail: "connection refused"},
	}}
	m := newModel(newCell(), WithHistory(history, 10))
	m = readHistory(t, m)
	require.Equal(t, 10, history.asked)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	require.Equal(t, TabLog, m.Tab())

	view := m.View()
	assert.Contains(t, view, "admitted")
	assert.Contains(t, view, "Some.Show.S01")
	assert.Contains(t, view, "1.0 GiB")
	assert.Contains(t, view, "evict_failed")
	assert.Contains(t, view, "connection refused")
}

func TestLogTabStates(t *testing.T) {
	m := newModel(newCell())
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Contains(t, m.View(), "journal disabled")

	history := &fakeHistory{}
	m = newModel(newCell(), WithHistory(history, 0))
	m = readHistory(t, m)
	assert.Equal(t, DefaultHistory, history.asked)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Contains(t, m.View(), "no activity yet")

	history.err = errors.New("journal: closed")
	m = readHistory(t, m)
	assert.Contains(t, m.View(), "journal unavailable")
}

func TestHistoryReadOutsideUpdate(t *testing.T) {
	history := &fakeHistory{entries: []journal.Entry{{At: testTime, Kind: journal.KindAdmitted, Hash: "aa", Name: "first"}}}
	m := newModel(newCell(), WithHistory(history, 5))
	assert.Zero(t, history.asked)

	m, cmd := update(t, m, tickMsg(testTime))
	require.NotNil(t, cmd)
	assert.Zero(t, history.asked, "tick must not touch the journal")
	assert.Empty(t, m.entries)

	m, _ = update(t, m, historyMsg{entries: history.entries})
	require.Len(t, m.entries, 1)

	// a failed read keeps the last good entries
	m, _ = update(t, m, historyMsg{err: errors.New("journal: closed")})
	require.Len(t, m.entries, 1)
	require.Error(t, m.historyErr)

	assert.Nil(t, newModel(newCell()).loadHistory())
}

func TestWindowSize(t *testing.T) {
	m := newModel(newCell())
	m, cmd := update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Nil(t, cmd)
	assert.Equal(t, 100, m.width)
	assert.Equal(t, 40, m.height)
}

func TestStatusHardware(t *testing.T) {
	cell := newCell()
	m := newModel(cell)
	view := m.View()
	assert.Contains(t, view, "Hardware")
	assert.Contains(t, view, "loading")

	cell.WriteHost(seedkeeper.HostStatus{
		Hostname:     "seedbox",
		Platform:     "debian",
		PlatformVer:  "12",
		CPUModel:     "Example CPU",
		CPUCores:     4,
		Uptime:       2 * time.Hour,
		MemoryUsed:   1 << 30,
		MemoryTotal:  8 << 30,
		Disks:        []seedkeeper.DiskUsage{{Mountpoint: "/srv", Fstype: "xfs", Free: 1 << 40, Total: 2 << 40}},
		Networks:     []seedkeeper.NetworkUsage{{Name: "eth0", Received: 2048, Sent: 1024}},
		Temperatures: []seedkeeper.Temperature{{Label: "coretemp", Current: 48.5, High: 90}},
	})
	m, _ = update(t, m, tickMsg(testTime))

	view = m.View()
	assert.Contains(t, view, "seedbox")
	assert.Contains(t, view, "debian 12")
	assert.Contains(t, view, "Example CPU (4 cores)")
	assert.Contains(t, view, "1.0 GiB / 8.0 GiB")
	assert.Contains(t, view, "1.0 TiB free of 2.0 TiB (xfs)")
	assert.Contains(t, view, "rx 2.0 KiB  tx 1.0 KiB")
	assert.Contains(t, view, "48.5°C (max 90.0°C)")
}
