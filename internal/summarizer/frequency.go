package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"transcriptrag/internal/tokenize"
)

// DefaultMaxSentences bounds a summary when the caller passes 0.
const DefaultMaxSentences = 2

// queryBoost is added to a sentence score for each query term it contains.
const queryBoost = 2.0

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered).
// It previews retrieved chunks in search output.
type FrequencySummarizer struct{}

// NewFrequencySummarizer creates a frequency-based sentence ranker.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{}
}

// Summarize returns the best maxSentences sentences of text in their
// original order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) string {
	return s.Preview(text, "", maxSentences)
}

// Preview is Summarize with extra weight on sentences sharing terms with query.
func (s *FrequencySummarizer) Preview(text, query string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := splitSentences(text)
	if len(sentences) <= maxSentences {
		return strings.Join(sentences, " ")
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range tokenize.Terms(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = max(maxF, v)
	}
	for k, v := range freq {
		freq[k] = v / maxF
	}
	wanted := map[string]struct{}{}
	for _, tok := range tokenize.Terms(query) {
		wanted[tok] = struct{}{}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		terms := tokenize.Terms(sent)
		score := 0.0
		for _, tok := range terms {
			score += freq[tok]
			if _, ok := wanted[tok]; ok {
				score += queryBoost
			}
		}
		// Normalize by sentence length to avoid bias
		if n := len(terms); n > 0 {
			score /= math.Sqrt(float64(n))
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	// Keep original order among selected
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

// splitSentences keeps a trailing fragment without terminator, which chunk
// windows often end with.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	last := 0
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		if sent := strings.TrimSpace(text[loc[0]:loc[1]]); sent != "" {
			out = append(out, sent)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
