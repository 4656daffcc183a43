package async

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher(t *testing.T) {
	t.Run("runs handler with live context", func(t *testing.T) {
		d := NewDispatcher(nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var ran atomic.Bool
		d.Dispatch(ctx, func(ctx context.Context) error {
			ran.Store(ctx.Err() == nil)
			return nil
		})
		d.Wait()
		assert.True(t, ran.Load())
	})

	t.Run("logs errors and panics", func(t *testing.T) {
		var buf bytes.Buffer
		d := NewDispatcher(slog.New(slog.NewTextHandler(&buf, nil)))
		d.Dispatch(context.Background(), func(context.Context) error { return errors.New("disk full") })
		d.Dispatch(context.Background(), func(context.Context) error { panic("bad") })
		d.Wait()
		assert.Contains(t, buf.String(), "async handler failed")
		assert.Contains(t, buf.String(), "disk full")
		assert.Contains(t, buf.String(), "panic in async handler")
	})
}
