// SI Driver: host-side driver for SportIdent timing stations
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"sidriver/internal/discovery"
	"sidriver/internal/driver/station"
)

var (
	device   = flag.String("device", "", "serial port (empty = auto-discover)")
	lowspeed = flag.Bool("lowspeed", false, "connect at 4800 baud")
	interval = flag.Duration("interval", time.Second, "punch poll interval")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	punchStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// monitor serialises access to the session; bubbletea commands run in
// their own goroutines and the protocol is strictly request/response.
type monitor struct {
	mu      sync.Mutex
	session *station.Session
	poller  *station.Poller
}

func (m *monitor) poll() ([]station.ControlPunch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poller.Poll(0)
}

func (m *monitor) beep() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Beep(1)
}

type model struct {
	mon      *monitor
	viewport viewport.Model
	ready    bool
	width    int

	lines      []string
	punchCount int
	lastErr    string
	notice     string
	noticeAt   time.Time

	stationCode uint16
	port        string
	cpuPercent  float64
	memPercent  float64
}

type punchesMsg struct {
	punches []station.ControlPunch
	err     error
}

type statsMsg struct {
	cpu float64
	mem float64
}

type beepMsg struct{ err error }

func pollCmd(mon *monitor, every time.Duration) tea.Cmd {
	return tea.Tick(every, func(time.Time) tea.Msg {
		punches, err := mon.poll()
		return punchesMsg{punches: punches, err: err}
	})
}

func statsCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		var msg statsMsg
		if pct, err := psutil.Percent(0, false); err == nil && len(pct) > 0 {
			msg.cpu = pct[0]
		}
		if vm, err := psmem.VirtualMemory(); err == nil {
			msg.mem = vm.UsedPercent
		}
		return msg
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(pollCmd(m.mon, *interval), statsCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "b":
			return m, func() tea.Msg { return beepMsg{err: m.mon.beep()} }
		case "c":
			if len(m.lines) > 0 {
				if err := clipboard.WriteAll(m.lines[len(m.lines)-1]); err == nil {
					m.notice = "✓ Copied last punch"
					m.noticeAt = time.Now()
				}
			}
			return m, nil
		case "y":
			if len(m.lines) > 0 {
				if err := clipboard.WriteAll(strings.Join(m.lines, "\n")); err == nil {
					m.notice = "✓ Copied all punches"
					m.noticeAt = time.Now()
				}
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		headerHeight := 2
		footerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))

	case punchesMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		} else {
			m.lastErr = ""
			for _, p := range msg.punches {
				m.punchCount++
				when := "--:--:--"
				if p.Time != nil {
					when = p.Time.Format("15:04:05")
				}
				line := fmt.Sprintf("%4d  %s  card %d", m.punchCount, when, p.CardNumber)
				m.lines = append(m.lines, line)
			}
			if len(msg.punches) > 0 && m.ready {
				m.viewport.SetContent(strings.Join(m.lines, "\n"))
				m.viewport.GotoBottom()
			}
		}
		return m, pollCmd(m.mon, *interval)

	case statsMsg:
		m.cpuPercent = msg.cpu
		m.memPercent = msg.mem
		return m, statsCmd()

	case beepMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "connecting..."
	}

	title := titleStyle.Render(fmt.Sprintf("SI punch monitor — station %d on %s", m.stationCode, m.port))
	header := ansi.Truncate(title, m.width, "…") + "\n" +
		statusStyle.Render(strings.Repeat("─", m.width)) + "\n"

	status := fmt.Sprintf("%d punches  cpu %.0f%%  mem %.0f%%", m.punchCount, m.cpuPercent, m.memPercent)
	if m.lastErr != "" {
		status = errorStyle.Render(ansi.Truncate("error: "+m.lastErr, m.width, "…"))
	} else if m.notice != "" && time.Since(m.noticeAt) < 3*time.Second {
		status = noticeStyle.Render(m.notice) + "  " + statusStyle.Render(status)
	} else {
		status = statusStyle.Render(status)
	}

	help := helpStyle.Render("q quit · b beep · c copy last · y copy all · ↑/↓ scroll")
	footer := "\n" + status + "\n" + help

	return header + punchStyle.Render(m.viewport.View()) + footer
}

func main() {
	flag.Parse()

	opts := station.Options{LowSpeed: *lowspeed}
	var sess *station.Session
	var err error
	if *device != "" {
		sess, err = station.Open(*device, opts)
	} else {
		var ports []string
		ports, err = discovery.CandidatePorts(discovery.Config{})
		if err == nil {
			sess, err = station.OpenAny(ports, opts)
		}
	}
	if err != nil {
		log.Fatalf("Failed to connect to a station: %v", err)
	}
	defer sess.Disconnect()

	cfg := sess.Config()
	if !cfg.Extended || !cfg.AutoSend {
		log.Fatalf("Station must be in extended protocol autosend mode (current: extended=%v autosend=%v)",
			cfg.Extended, cfg.AutoSend)
	}

	mon := &monitor{session: sess, poller: station.NewPoller(sess)}
	m := model{
		mon:         mon,
		stationCode: sess.StationCode(),
		port:        sess.Port(),
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor error: %v\n", err)
		os.Exit(1)
	}
}
