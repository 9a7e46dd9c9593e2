package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered).
type FrequencySummarizer struct {
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

// Summarize returns a short summary by ranking sentences using token frequency.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	return s.Focus(text, "", maxSentences)
}

// Focus is Summarize biased towards query: sentences sharing terms with the
// query rank above those that share none. An empty query ranks by frequency
// alone. Selected sentences keep their original order.
func (s *FrequencySummarizer) Focus(text, query string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}
	freq := s.frequencies(sentences)
	terms := map[string]struct{}{}
	for _, tok := range s.tokens(query) {
		if _, stop := s.stopwords[tok]; !stop {
			terms[tok] = struct{}{}
		}
	}

	type pair struct {
		idx   int
		hits  int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		sscore := 0.0
		seen := map[string]struct{}{}
		for _, tok := range toks {
			if v, ok := freq[tok]; ok {
				sscore += v
			}
			if _, ok := terms[tok]; ok {
				seen[tok] = struct{}{}
			}
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			sscore /= math.Sqrt(l)
		}
		scores[i] = pair{idx: i, hits: len(seen), score: sscore}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].hits != scores[j].hits {
			return scores[i].hits > scores[j].hits
		}
		return scores[i].score > scores[j].score
	})
	if len(terms) > 0 && scores[0].hits > 0 {
		// Drop sentences unrelated to the query.
		n := 0
		for n < len(scores) && scores[n].hits > 0 {
			n++
		}
		scores = scores[:n]
	}
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}
	selected := make([]int, maxSentences)
	for i := 0; i < maxSentences; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}

func (s *FrequencySummarizer) frequencies(sentences []string) map[string]float64 {
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			if _, ok := s.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	return freq
}

func (s *FrequencySummarizer) tokens(text string) []string {
	lower := strings.ToLower(text)
	return s.tokenPattern.FindAllString(lower, -1)
}

// SplitSentences breaks text at sentence punctuation followed by a space and
// at line ends, so list items such as "Copay: $25 per visit" stand alone.
// Punctuation inside amounts like "$1,000.50" does not split.
func SplitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		start := 0
		for i, r := range runes {
			if r != '.' && r != '!' && r != '?' {
				continue
			}
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
			if sent := strings.TrimSpace(string(runes[start : i+1])); hasWord(sent) {
				out = append(out, sent)
			}
			start = i + 1
		}
		if sent := strings.TrimSpace(string(runes[start:])); hasWord(sent) {
			out = append(out, sent)
		}
	}
	return out
}

func hasWord(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "my", "i", "do", "does", "how", "me", "much", "per",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
