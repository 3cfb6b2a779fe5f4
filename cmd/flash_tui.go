// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/asebaboot/internal/host"
	"github.com/Thermoquad/asebaboot/internal/transport"
)

// Messages
type flashProgressMsg host.Progress
type flashDoneMsg struct {
	err error
}

// flash TUI model
type flashModel struct {
	connInfo  string
	imageName string
	imageSize int
	node      uint8
	cancel    context.CancelFunc

	bar      progress.Model
	last     host.Progress
	started  time.Time
	done     bool
	err      error
	quitting bool
}

func initialFlashModel(connInfo string, imageSize int, cancel context.CancelFunc) flashModel {
	return flashModel{
		connInfo:  connInfo,
		imageName: writeImage,
		imageSize: imageSize,
		node:      nodeID,
		cancel:    cancel,
		bar:       progress.New(progress.WithDefaultGradient()),
		last:      host.Progress{Phase: host.PhaseDescribing},
		started:   time.Now(),
	}
}

func (m flashModel) Init() tea.Cmd {
	return nil
}

func (m flashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(msg.Width-4, 10)
		if m.bar.Width > 80 {
			m.bar.Width = 80
		}

	case flashProgressMsg:
		m.last = host.Progress(msg)
		return m, m.bar.SetPercent(m.last.Percentage / 100)

	case flashDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m flashModel) View() string {
	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("ASEBABOOT - WRITE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Node %d | Press 'q' to abort", m.connInfo, m.node)))
	s.WriteString("\n\n")

	var body strings.Builder
	body.WriteString(fmt.Sprintf("%s %s\n",
		labelStyle.Render("Image:"), valueStyle.Render(fmt.Sprintf("%s (%d bytes)", m.imageName, m.imageSize))))
	body.WriteString(fmt.Sprintf("%s %s\n",
		labelStyle.Render("Phase:"), valueStyle.Render(strings.ToUpper(m.last.Phase))))
	body.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Pages:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.last.CurrentPage, m.last.TotalPages)),
		labelStyle.Render("Written:"), valueStyle.Render(fmt.Sprintf("%d bytes", m.last.BytesWritten)),
		labelStyle.Render("Elapsed:"), valueStyle.Render(time.Since(m.started).Round(time.Second).String()),
	))
	body.WriteString("\n")
	body.WriteString(m.bar.View())
	s.WriteString(boxStyle.Render(body.String()))
	s.WriteString("\n\n")

	switch {
	case m.quitting:
		s.WriteString(errorStyle.Render("Aborted"))
	case m.done && m.err != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("FAILED: %v", m.err)))
	case m.done:
		s.WriteString(valueStyle.Render("✓ Flashing complete"))
	}
	s.WriteString("\n")
	return s.String()
}

// runFlashTUI flashes image while rendering progress in the terminal
func runFlashTUI(ctx context.Context, bus transport.WaitBus, connInfo string, image []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialFlashModel(connInfo, len(image), cancel)
	p := tea.NewProgram(m)

	c := newFlashClient(bus, func(pr host.Progress) {
		p.Send(flashProgressMsg(pr))
	})
	go func() {
		p.Send(flashDoneMsg{err: flashImage(ctx, c, image, io.Discard)})
	}()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	fm := final.(flashModel)
	if fm.quitting {
		return context.Canceled
	}
	return fm.err
}
