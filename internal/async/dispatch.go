package async

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher runs handlers off the request path. Handlers get a background context so a
// finished request does not cancel them; failures and panics are logged, never returned.
type Dispatcher struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{logger: logger}
}

func (d *Dispatcher) Dispatch(_ context.Context, handler func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic in async handler", "panic", r)
			}
		}()

		if err := handler(context.Background()); err != nil {
			d.logger.Error("async handler failed", "error", err)
		}
	}()
}

// Wait blocks until every dispatched handler has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }
