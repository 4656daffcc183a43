package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstruct(spans []Span) string {
	var sb strings.Builder
	end := 0
	for _, sp := range spans {
		runes := []rune(sp.Text)
		sb.WriteString(string(runes[end-sp.Start:]))
		end = sp.End
	}
	return sb.String()
}

func sentences(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString("The common myna forages on lawns near Margalla road")
		sb.WriteString(strings.Repeat("s", i%7))
		sb.WriteString(". ")
	}
	return sb.String()
}

func TestNewRecursiveChunker(t *testing.T) {
	t.Run("defaults for invalid values", func(t *testing.T) {
		c := NewRecursiveChunker(0, -5)
		assert.Equal(t, DefaultMaxSize, c.MaxSize())
		assert.Equal(t, 0, c.Overlap())
	})

	t.Run("overlap clamped below max size", func(t *testing.T) {
		c := NewRecursiveChunker(100, 150)
		assert.Less(t, c.Overlap(), c.MaxSize(), "overlap should be reduced when it exceeds max size")
	})
}

func TestRecursiveChunker_Split(t *testing.T) {
	c := NewRecursiveChunker(DefaultMaxSize, DefaultOverlap)

	t.Run("empty and whitespace yield no chunks", func(t *testing.T) {
		assert.Empty(t, c.Split(""))
		assert.Empty(t, c.Split("  \n\n\t "))
	})

	t.Run("short text is a single chunk", func(t *testing.T) {
		text := "Pycnonotus leucotis is a bulbul found in gardens."
		assert.Equal(t, []string{text}, c.Split(text))
	})

	t.Run("text exactly max size is a single chunk", func(t *testing.T) {
		text := strings.Repeat("a", DefaultMaxSize)
		assert.Len(t, c.Split(text), 1)
	})
}

func TestRecursiveChunker_Spans(t *testing.T) {
	t.Run("chunks respect max size and reconstruct the input", func(t *testing.T) {
		c := NewRecursiveChunker(200, 60)
		text := sentences(40)
		spans := c.Spans(text)
		require.Greater(t, len(spans), 1)
		for i, sp := range spans {
			assert.LessOrEqual(t, utf8.RuneCountInString(sp.Text), 200, "chunk %d too long", i)
			if i > 0 {
				prev := spans[i-1]
				assert.LessOrEqual(t, sp.Start, prev.End, "gap before chunk %d", i)
				assert.Greater(t, sp.End, prev.End, "chunk %d does not advance", i)
				assert.LessOrEqual(t, prev.End-sp.Start, 60, "overlap too large at chunk %d", i)
			}
		}
		assert.Equal(t, text, reconstruct(spans))
	})

	t.Run("neighbouring sentence chunks share context", func(t *testing.T) {
		c := NewRecursiveChunker(200, 60)
		spans := c.Spans(sentences(20))
		require.Greater(t, len(spans), 1)
		shared := 0
		for i := 1; i < len(spans); i++ {
			shared += spans[i-1].End - spans[i].Start
		}
		assert.Greater(t, shared, 0)
	})

	t.Run("prefers paragraph boundaries", func(t *testing.T) {
		para := strings.Repeat("x", 290) + "."
		text := strings.Join([]string{para, para, para, para, para}, "\n\n")
		c := NewRecursiveChunker(1000, 200)
		chunks := c.Split(text)
		require.Greater(t, len(chunks), 1)
		assert.True(t, strings.HasSuffix(chunks[0], "\n\n"), "first chunk should end at a paragraph break")
	})

	t.Run("falls back to hard character cuts", func(t *testing.T) {
		c := NewRecursiveChunker(1000, 200)
		text := strings.Repeat("z", 2500)
		spans := c.Spans(text)
		require.Len(t, spans, 3)
		assert.Equal(t, 1000, utf8.RuneCountInString(spans[0].Text))
		assert.Equal(t, 500, utf8.RuneCountInString(spans[2].Text))
		assert.Equal(t, text, reconstruct(spans))
	})

	t.Run("multibyte text is measured in characters", func(t *testing.T) {
		c := NewRecursiveChunker(50, 10)
		text := strings.Repeat("بلبل اسلام آباد ", 20)
		spans := c.Spans(text)
		for _, sp := range spans {
			assert.True(t, utf8.ValidString(sp.Text))
			assert.LessOrEqual(t, utf8.RuneCountInString(sp.Text), 50)
		}
		assert.Equal(t, text, reconstruct(spans))
	})

	t.Run("deterministic", func(t *testing.T) {
		c := NewRecursiveChunker(120, 30)
		text := sentences(15)
		assert.Equal(t, c.Split(text), c.Split(text))
	})
}
