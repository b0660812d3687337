// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/wire"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// latestValue is the last numeric message seen from one source
type latestValue struct {
	source    endpoint.Endpoint
	typ       endpoint.Type
	values    [endpoint.SampleSlots]float64
	count     int
	messages  uint64
	timestamp time.Time
}

// TUI model
type monitorModel struct {
	connInfo      string
	linkUp        bool
	statsInterval int
	showAll       bool
	stats         *wire.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	synchronized  bool
	invalidFrames int
	latest        map[endpoint.Endpoint]*latestValue
	values        table.Model
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type syncMsg struct {
	invalidBytes int
}

var valueColumns = []table.Column{
	{Title: "Source", Width: 14},
	{Title: "Type", Width: 8},
	{Title: "Values", Width: 36},
	{Title: "Count", Width: 8},
	{Title: "Age", Width: 8},
}

func initialMonitorModel(connInfo string, statsInterval int, showAll bool) monitorModel {
	t := table.New(
		table.WithColumns(valueColumns),
		table.WithHeight(8),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("12"))
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	return monitorModel{
		connInfo:      connInfo,
		linkUp:        true,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         wire.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		latest:        make(map[endpoint.Endpoint]*latestValue),
		values:        t,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		m.refreshValues()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidFrames = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid frames", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case linkEvent:
		m.linkUp = msg.up
		m.connInfo = msg.connInfo
		if msg.up {
			m.addLogEntry("Connected: "+msg.connInfo, false)
		} else {
			m.synchronized = false
			m.addLogEntry("Connection lost, reconnecting", true)
		}

	case monitorEvent:
		recordEvent(m.stats, msg)
		m.applyEvent(msg)
	}

	return m, nil
}

func (m *monitorModel) applyEvent(ev monitorEvent) {
	switch {
	case ev.decodeErr != nil:
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.decodeErr), true)

	case ev.transferErr != nil:
		m.addLogEntry(fmt.Sprintf("BULK ERROR: %v", ev.transferErr), true)

	case ev.transfer != nil:
		m.addLogEntry(fmt.Sprintf("Bulk transfer from %s: %d bytes",
			endpoint.FormatEndpoint(ev.transfer.Endpoint), len(ev.transfer.Data)), false)

	case ev.frame != nil && ev.frame.Kind == bulk.KindRecord:
		msg, err := ev.frame.Message()
		if err != nil {
			return
		}
		m.trackValue(msg, ev.frame.Timestamp())
		if len(ev.anomalies) > 0 {
			for _, a := range ev.anomalies {
				m.addLogEntry(fmt.Sprintf("%s: %s", endpoint.FormatType(msg.Type), a.Message), true)
			}
		} else if m.showAll {
			m.addLogEntry(fmt.Sprintf("%s %s -> %s", endpoint.FormatType(msg.Type),
				endpoint.FormatEndpoint(msg.Source), endpoint.FormatEndpoint(msg.Destination)), false)
		}
	}
}

// trackValue keeps the newest numeric payload of each source
func (m *monitorModel) trackValue(msg endpoint.Message, ts time.Time) {
	values, n, err := msg.Samples()
	if err != nil {
		return
	}
	v, ok := m.latest[msg.Source]
	if !ok {
		v = &latestValue{source: msg.Source}
		m.latest[msg.Source] = v
	}
	v.typ = msg.Type
	v.values = values
	v.count = n
	v.messages++
	v.timestamp = ts
	m.refreshValues()
}

func (m *monitorModel) refreshValues() {
	sources := make([]endpoint.Endpoint, 0, len(m.latest))
	for ep := range m.latest {
		sources = append(sources, ep)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	rows := make([]table.Row, 0, len(sources))
	for _, ep := range sources {
		v := m.latest[ep]
		parts := make([]string, v.count)
		for i := 0; i < v.count; i++ {
			parts[i] = fmt.Sprintf("%g", v.values[i])
		}
		rows = append(rows, table.Row{
			endpoint.FormatEndpoint(ep),
			strings.ToLower(endpoint.FormatType(v.typ)),
			strings.Join(parts, " "),
			fmt.Sprintf("%d", v.messages),
			time.Since(v.timestamp).Truncate(time.Second).String(),
		})
	}
	m.values.SetRows(rows)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	mode := "Errors only"
	if m.showAll {
		mode = "All messages"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("TAGBUS - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' resets statistics | 'q' quits", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case !m.linkUp:
		s.WriteString(errorStyle.Render("✗ Link down, reconnecting..."))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidFrames > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid frames)", m.invalidFrames)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	totalErrors := st.CRCErrors + st.DecodeErrors + st.TransferErrors
	var validPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
	}

	var stats strings.Builder
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", totalErrors)),
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Messages:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Records)),
		statsLabelStyle.Render("Bulk Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.BulkFrames)),
		statsLabelStyle.Render("Transfers:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Transfers)),
	))
	if st.Anomalies > 0 || st.ErrorReplies > 0 {
		stats.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Anomalies:"), warningStyle.Render(fmt.Sprintf("%d", st.Anomalies)),
			statsLabelStyle.Render("Error Replies:"), warningStyle.Render(fmt.Sprintf("%d", st.ErrorReplies)),
		))
	}
	errorRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	stats.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), errorRate,
	))

	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	// Latest values
	s.WriteString(statsLabelStyle.Render("Latest Values:"))
	s.WriteString("\n")
	if len(m.latest) == 0 {
		s.WriteString(boxStyle.Render(headerStyle.Render("(no samples yet)")))
	} else {
		s.WriteString(boxStyle.Render(m.values.View()))
	}
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 26
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var events strings.Builder
	if len(m.eventLog) == 0 {
		events.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				events.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				events.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(events.String()))

	return s.String()
}
