package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrettyHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("level message and attributes", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewPrettyHandler(&buf, PrettyHandlerOptions{})
		r := slog.NewRecord(time.Now(), slog.LevelWarn, "index slow", 0)
		r.AddAttrs(slog.Int("chunks", 42), slog.Any("error", errors.New("boom")))

		require.NoError(t, h.Handle(ctx, r))
		out := buf.String()
		assert.Contains(t, out, "WARN:")
		assert.Contains(t, out, "index slow")
		assert.Contains(t, out, `"chunks":42`)
		assert.Contains(t, out, `"error":"boom"`)
		assert.Regexp(t, `\[\d{2}:\d{2}:\d{2}\.\d{3}\]`, out)
	})

	t.Run("no attributes prints empty object", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewPrettyHandler(&buf, PrettyHandlerOptions{})
		require.NoError(t, h.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "ready", 0)))
		assert.Contains(t, buf.String(), "{}")
	})

	t.Run("logger attributes carry over", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewPrettyHandler(&buf, PrettyHandlerOptions{})).With("component", "corpus")
		logger.Info("built")
		assert.Contains(t, buf.String(), `"component":"corpus"`)
	})

	t.Run("level filter", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewPrettyHandler(&buf, PrettyHandlerOptions{SlogOpts: slog.HandlerOptions{Level: slog.LevelWarn}}))
		logger.Info("hidden")
		assert.Empty(t, buf.String())
	})
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "json").Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
