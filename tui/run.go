package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run drives the program until ctx is cancelled. When the user quits, shutdown
// is called and Run waits for the cancellation it causes, so the caller sees
// a clean stop rather than an early return.
func Run(ctx context.Context, m Model, shutdown func(), opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(m, opts...)

	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("running display: %w", err)
	}

	shutdown()
	<-ctx.Done()
	return nil
}
