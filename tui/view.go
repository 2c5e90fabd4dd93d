package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/wolfeidau/seedkeeper"
	"github.com/wolfeidau/seedkeeper/snapshot"
)

var (
	activeTabStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6")).Padding(0, 1)
	inactiveTabStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Padding(0, 1)
	labelStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle      = lipgloss.NewStyle().Bold(true)
	updatedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	outdatedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	loadingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	switch m.tab {
	case TabStatus:
		b.WriteString(m.renderStatus())
	case TabBT:
		b.WriteString(m.renderBT())
	case TabLog:
		b.WriteString(m.renderLog())
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("tab/l next  shift+tab/h previous  q quit"))
	return b.String()
}

func (m Model) renderTabs() string {
	tabs := make([]string, 0, tabCount)
	for t := Tab(0); t < tabCount; t++ {
		if t == m.tab {
			tabs = append(tabs, activeTabStyle.Render(t.String()))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(t.String()))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// freshnessLine renders the state of one source of the snapshot.
func (m Model) freshnessLine(present bool, bit snapshot.Freshness, at time.Time) string {
	switch {
	case !present:
		return loadingStyle.Render("loading")
	case m.current.Mask.Has(bit):
		return updatedStyle.Render("Updated") + " " + labelStyle.Render(humanize.RelTime(at, m.now(), "ago", "from now"))
	default:
		return outdatedStyle.Render("Outdated") + " " + labelStyle.Render("last good "+humanize.RelTime(at, m.now(), "ago", "from now"))
	}
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-20s", label)) + value + "\n"
}

func (m Model) renderStatus() string {
	var b strings.Builder
	b.WriteString(m.renderAccount())
	b.WriteString("\n")
	b.WriteString(m.renderHardware())
	return b.String()
}

func (m Model) renderAccount() string {
	var b strings.Builder
	remote := m.current.Remote
	b.WriteString(m.freshnessLine(remote != nil, snapshot.RemoteFresh, m.current.RemoteAt))
	b.WriteString("\n\n")
	if remote == nil {
		return b.String()
	}

	b.WriteString(row("User", remote.Username))
	b.WriteString(row("Coin", remote.Coin))
	b.WriteString(row("Share ratio", remote.ShareRatio))
	b.WriteString(row("Uploaded", remote.Uploaded))
	b.WriteString(row("Downloaded", remote.Downloaded))
	b.WriteString(row("Actual uploaded", remote.ActualUploaded))
	b.WriteString(row("Actual downloaded", remote.ActualDownloaded))
	b.WriteString(row("Seed time", remote.SeedTime))
	b.WriteString(row("Leech time", remote.LeechTime))
	b.WriteString(row("Time ratio", remote.TimeRatio))
	return b.String()
}

func (m Model) renderHardware() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Hardware"))
	b.WriteString("\n")
	h := m.current.Host
	if h == nil {
		b.WriteString(loadingStyle.Render("loading") + "\n")
		return b.String()
	}

	b.WriteString(row("Host", h.Hostname))
	b.WriteString(row("System", strings.TrimSpace(h.Platform+" "+h.PlatformVer)))
	b.WriteString(row("Kernel", h.KernelVersion))
	b.WriteString(row("CPU", fmt.Sprintf("%s (%d cores)", h.CPUModel, h.CPUCores)))
	b.WriteString(row("Uptime", h.Uptime.String()))
	b.WriteString(row("Memory", humanize.IBytes(h.MemoryUsed)+" / "+humanize.IBytes(h.MemoryTotal)))
	b.WriteString(row("Swap", humanize.IBytes(h.SwapUsed)+" / "+humanize.IBytes(h.SwapTotal)))

	for _, d := range h.Disks {
		b.WriteString(row("Disk "+d.Mountpoint, fmt.Sprintf("%s free of %s (%s)", humanize.IBytes(d.Free), humanize.IBytes(d.Total), d.Fstype)))
	}
	for _, n := range h.Networks {
		b.WriteString(row("Net "+n.Name, fmt.Sprintf("rx %s  tx %s", humanize.IBytes(n.Received), humanize.IBytes(n.Sent))))
	}
	for _, t := range h.Temperatures {
		v := fmt.Sprintf("%.1f°C", t.Current)
		if t.High > 0 {
			v += fmt.Sprintf(" (max %.1f°C)", t.High)
		}
		b.WriteString(row(t.Label, v))
	}
	return b.String()
}

func (m Model) renderBT() string {
	var b strings.Builder
	local := m.current.Local
	b.WriteString(m.freshnessLine(local != nil, snapshot.LocalFresh, m.current.LocalAt))
	b.WriteString("\n\n")
	if local == nil {
		return b.String()
	}

	b.WriteString(row("Torrents", fmt.Sprintf("%d active, %d paused, %d total", local.ActiveCount, local.PausedCount, local.TotalCount)))
	b.WriteString(row("Upload", rate(local.UploadRate)))
	b.WriteString(row("Download", rate(local.DownloadRate)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-20s%-16s%-16s", "", "Current", "Cumulative")))
	b.WriteString("\n")
	cur, cum := local.Current, local.Cumulative
	b.WriteString(tableRow("Uploaded", fmtBytes(cur.Uploaded), fmtBytes(cum.Uploaded)))
	b.WriteString(tableRow("Downloaded", fmtBytes(cur.Downloaded), fmtBytes(cum.Downloaded)))
	b.WriteString(tableRow("Files added", humanize.Comma(int64(cur.FilesAdded)), humanize.Comma(int64(cum.FilesAdded))))
	b.WriteString(tableRow("Sessions", humanize.Comma(int64(cur.SessionCount)), humanize.Comma(int64(cum.SessionCount))))
	b.WriteString(tableRow("Active", seconds(cur.SecondsActive), seconds(cum.SecondsActive)))
	return b.String()
}

func tableRow(label, current, cumulative string) string {
	return labelStyle.Render(fmt.Sprintf("%-20s", label)) + fmt.Sprintf("%-16s%-16s", current, cumulative) + "\n"
}

func (m Model) renderLog() string {
	if m.history == nil {
		return labelStyle.Render("journal disabled") + "\n"
	}
	var b strings.Builder
	if m.historyErr != nil {
		b.WriteString(outdatedStyle.Render("journal unavailable: "+m.historyErr.Error()) + "\n")
	}
	if len(m.entries) == 0 {
		b.WriteString(labelStyle.Render("no activity yet") + "\n")
		return b.String()
	}
	for _, e := range m.entries {
		kind := updatedStyle.Render(fmt.Sprintf("%-14s", e.Kind))
		if e.Failed() {
			kind = outdatedStyle.Render(fmt.Sprintf("%-14s", e.Kind))
		}
		line := labelStyle.Render(e.At.Local().Format("01-02 15:04:05")) + "  " + kind + " " + seedkeeper.ShortHash(e.Hash)
		if e.Size > 0 {
			line += " " + fmtBytes(e.Size)
		}
		if e.Name != "" {
			line += " " + e.Name
		}
		if e.Detail != "" {
			line += " " + labelStyle.Render("("+e.Detail+")")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func fmtBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func rate(n int64) string {
	return fmtBytes(n) + "/s"
}

func seconds(s int64) string {
	return (time.Duration(s) * time.Second).String()
}
