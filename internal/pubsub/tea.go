package pubsub

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Listener feeds one subscription into a Bubble Tea update loop. Each
// command yields a single Event[T]; the model issues Next again after
// handling it. A nil *Listener yields nil commands, so optional feeds
// need no guards at the call site.
type Listener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// Listen wraps an existing subscription channel. ch may be nil.
func Listen[T any](ctx context.Context, ch <-chan Event[T]) *Listener[T] {
	if ch == nil {
		return nil
	}
	return &Listener[T]{ctx: ctx, ch: ch}
}

// ListenTo subscribes to s for the lifetime of ctx.
func ListenTo[T any](ctx context.Context, s Subscriber[T]) *Listener[T] {
	return Listen(ctx, s.Subscribe(ctx))
}

// Next returns a command that waits for the next event. The command
// yields nil once ctx is done or the subscription is closed, which ends
// the listening chain.
func (l *Listener[T]) Next() tea.Cmd {
	if l == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case <-l.ctx.Done():
			return nil
		case event, ok := <-l.ch:
			if !ok {
				return nil
			}
			return event
		}
	}
}
