package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
)

// latest keeps only the newest status. The engine loop never blocks on the
// terminal.
type latest struct {
	ch chan engine.Status
}

func newLatest() *latest {
	return &latest{ch: make(chan engine.Status, 1)}
}

func (l *latest) offer(st engine.Status) {
	for {
		select {
		case l.ch <- st:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

// Run shows the terminal view until the user quits or ctx ends
func Run(ctx context.Context, e *engine.Engine, scene *render.Scene, controller *render.Controller, logger *zap.Logger) error {
	initial, err := e.Status(ctx)
	if err != nil {
		return err
	}

	updates := newLatest()
	unsubscribe := e.Subscribe(updates.offer)
	defer unsubscribe()

	m := New(e, scene, controller, updates.ch, logger)
	m.status = initial

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
