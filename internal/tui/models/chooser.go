package models

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/internal/tui/components"
)

// Chooser is a serial.PortChooser that shows a table of candidates.
// It runs its own program and must not be used while another one owns the terminal.
type Chooser struct {
	Title   string
	Options []tea.ProgramOption
}

var _ serial.PortChooser = Chooser{}

func (c Chooser) Choose(ctx context.Context, candidates []serial.PortInfo) (serial.PortInfo, error) {
	title := c.Title
	if title == "" {
		title = "Select serial port"
	}
	picker := components.NewPicker(title, candidates)

	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, c.Options...)
	if _, err := tea.NewProgram(picker, opts...).Run(); err != nil {
		if ctx.Err() != nil {
			return serial.PortInfo{}, ctx.Err()
		}
		return serial.PortInfo{}, fmt.Errorf("port picker failed: %w", err)
	}
	return picker.Result()
}

// Remembered answers every prompt with the port at Path, so a choice made once
// survives reconnects. It declines when that port is no longer a candidate.
type Remembered struct {
	Path string
}

var _ serial.PortChooser = Remembered{}

func (r Remembered) Choose(_ context.Context, candidates []serial.PortInfo) (serial.PortInfo, error) {
	for _, c := range candidates {
		if c.Path == r.Path {
			return c, nil
		}
	}
	return serial.PortInfo{}, serial.ErrUserCancelled
}
