package chunker

import "strings"

const (
	DefaultMaxSize = 1000
	DefaultOverlap = 200
)

// DefaultSeparators are tried in order: paragraphs, lines, sentences, words.
// When none applies the text is cut at raw character boundaries.
var DefaultSeparators = []string{"\n\n", "\n", ".", " "}

// Span is a chunk expressed as rune offsets into the original text.
type Span struct {
	Start int
	End   int
	Text  string
}

// RecursiveChunker splits text into chunks of at most maxSize characters, preferring the
// largest separator unit that fits, with up to overlap characters shared by neighbours.
// Chunks are exact substrings of the input, so separators and whitespace are preserved.
type RecursiveChunker struct {
	maxSize    int
	overlap    int
	separators [][]rune
}

func NewRecursiveChunker(maxSize, overlap int) *RecursiveChunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize / 4
	}
	seps := make([][]rune, len(DefaultSeparators))
	for i, s := range DefaultSeparators {
		seps[i] = []rune(s)
	}
	return &RecursiveChunker{maxSize: maxSize, overlap: overlap, separators: seps}
}

// MaxSize returns the configured upper bound on chunk length in characters.
func (c *RecursiveChunker) MaxSize() int { return c.maxSize }

// Overlap returns the configured maximum overlap in characters.
func (c *RecursiveChunker) Overlap() int { return c.overlap }

// Split returns the chunk texts. Empty or whitespace-only text yields no chunks.
func (c *RecursiveChunker) Split(text string) []string {
	spans := c.Spans(text)
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.Text
	}
	return out
}

// Spans returns the chunks with their offsets. Consecutive spans never leave a gap:
// spans[i].Start <= spans[i-1].End < spans[i].End.
func (c *RecursiveChunker) Spans(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.maxSize {
		return []Span{{Start: 0, End: len(runes), Text: text}}
	}
	pieces := c.pieces(runes, 0, len(runes), c.separators)
	return c.merge(runes, pieces)
}

// piece is an atomic [start, end) segment no longer than maxSize.
type piece struct{ start, end int }

func (c *RecursiveChunker) pieces(runes []rune, start, end int, seps [][]rune) []piece {
	if end-start <= c.maxSize {
		return []piece{{start, end}}
	}
	for i, sep := range seps {
		cuts := cutAfter(runes, start, end, sep)
		if len(cuts) == 0 {
			continue
		}
		var out []piece
		prev := start
		for _, cut := range append(cuts, end) {
			if cut <= prev {
				continue
			}
			out = append(out, c.pieces(runes, prev, cut, seps[i+1:])...)
			prev = cut
		}
		return out
	}
	// hard character cuts
	var out []piece
	for s := start; s < end; s += c.maxSize {
		e := s + c.maxSize
		if e > end {
			e = end
		}
		out = append(out, piece{s, e})
	}
	return out
}

// cutAfter returns the offsets just past every occurrence of sep inside [start, end),
// excluding a cut at end itself.
func cutAfter(runes []rune, start, end int, sep []rune) []int {
	var cuts []int
	n := len(sep)
	for i := start; i+n <= end; {
		if runesEqual(runes[i:i+n], sep) {
			if i+n < end {
				cuts = append(cuts, i+n)
			}
			i += n
			continue
		}
		i++
	}
	return cuts
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// merge greedily packs consecutive pieces into chunks and starts each following chunk at
// the earliest piece boundary that keeps the shared tail within overlap and the chunk
// within maxSize.
func (c *RecursiveChunker) merge(runes []rune, pieces []piece) []Span {
	var spans []Span
	first := 0
	for first < len(pieces) {
		last := first
		for last+1 < len(pieces) && pieces[last+1].end-pieces[first].start <= c.maxSize {
			last++
		}
		start, end := pieces[first].start, pieces[last].end
		spans = append(spans, Span{Start: start, End: end, Text: string(runes[start:end])})
		if last == len(pieces)-1 {
			break
		}
		next := last + 1
		for j := first + 1; j <= last; j++ {
			shared := end - pieces[j].start
			if shared <= c.overlap && pieces[last+1].end-pieces[j].start <= c.maxSize {
				next = j
				break
			}
		}
		first = next
	}
	return spans
}
