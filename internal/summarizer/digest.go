package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var digestSentence = regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n])`)

var digestStopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Digest summarises a body of texts in at most maxSentences sentences, picking those whose
// words are most frequent across all texts and keeping them in reading order.
func Digest(texts []string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	var sentences []string
	for _, t := range texts {
		found := digestSentence.FindAllString(t+"\n", -1)
		for _, s := range found {
			if s = strings.TrimSpace(s); s != "" {
				sentences = append(sentences, s)
			}
		}
	}
	if len(sentences) == 0 {
		return ""
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range digestTokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := digestTokens(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok] / maxF
		}
		// longer sentences would otherwise always win
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

func digestTokens(text string) []string {
	var out []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := digestStopwords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
