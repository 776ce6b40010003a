package ui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Runner is a Session that is driven by Run.
type Runner interface {
	Session
	Run(ctx context.Context) error
}

// RunChat runs the session and the chat screen together. It returns when
// the user quits or the session stops.
func RunChat(ctx context.Context, s Runner, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx)
	}()

	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	program := tea.NewProgram(NewChatModel(s), opts...)
	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	_, uiErr := program.Run()
	cancel()
	err := <-runErr

	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("chat screen: %w", uiErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
