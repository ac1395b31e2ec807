// Package sentence provides deterministic sentence segmentation for the
// speech pipeline. Identical input text always yields identical segments.
package sentence

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Splitter segments plain chapter text into speakable sentence-like units.
type Splitter struct {
	minLength      int
	wordsPerMinute int

	numberRegex *regexp.Regexp
	punctRegex  *regexp.Regexp

	// Common abbreviations that don't end sentences
	abbreviations map[string]bool
}

// NewSplitter creates a splitter with the default minimum length filter.
func NewSplitter() *Splitter {
	return &Splitter{
		minLength:      3,
		wordsPerMinute: 165,
		numberRegex:    regexp.MustCompile(`\d+`),
		punctRegex:     regexp.MustCompile(`[,;:\-()]`),
		abbreviations:  makeAbbreviationMap(),
	}
}

// SetWordsPerMinute adjusts the speaking-rate heuristic used by
// EstimateDuration.
func (s *Splitter) SetWordsPerMinute(wpm int) {
	if wpm > 0 {
		s.wordsPerMinute = wpm
	}
}

// Split returns the chapter's sentences in order. Fragments shorter than
// the minimum length are dropped; indices of the returned slice are the
// segment indices, contiguous from zero.
func (s *Splitter) Split(text string) []string {
	boundaries := s.findBoundaries(text)

	out := make([]string, 0, len(boundaries))
	for _, b := range boundaries {
		t := strings.TrimSpace(text[b.start:b.end])
		t = collapseWhitespace(t)
		if len(t) < s.minLength {
			continue
		}
		out = append(out, t)
	}
	return out
}

// WordCount returns the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// EstimateDuration estimates the speaking duration for text from its word
// count, slowed down for numbers, punctuation, and long words.
func (s *Splitter) EstimateDuration(text string) time.Duration {
	words := WordCount(text)
	if words == 0 {
		words = 1
	}

	complexity := s.calculateComplexity(text)
	adjustedRate := float64(s.wordsPerMinute) * (1.0 - complexity*0.2)

	seconds := float64(words) * 60.0 / adjustedRate
	return time.Duration(seconds * float64(time.Second))
}

// boundary is one sentence span in byte offsets.
type boundary struct {
	start int
	end   int
}

// findBoundaries scans for sentence-ending punctuation, skipping
// abbreviations, decimals, and ellipses.
func (s *Splitter) findBoundaries(text string) []boundary {
	var boundaries []boundary

	runes := []rune(text)
	lastStart := 0

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}

		punctEnd := i + 1
		for punctEnd < len(runes) && (runes[punctEnd] == '!' || runes[punctEnd] == '?' || runes[punctEnd] == '.') {
			punctEnd++
		}

		// Trailing quotes or brackets belong to the sentence.
		if punctEnd < len(runes) && (runes[punctEnd] == '"' || runes[punctEnd] == '\'' || runes[punctEnd] == ')' || runes[punctEnd] == ']') {
			punctEnd++
		}

		if !s.isRealSentenceEnd(runes, i) {
			continue
		}

		boundaries = append(boundaries, boundary{start: lastStart, end: punctEnd})

		for punctEnd < len(runes) && unicode.IsSpace(runes[punctEnd]) {
			punctEnd++
		}
		lastStart = punctEnd
		i = punctEnd - 1
	}

	if lastStart < len(runes) {
		if remaining := strings.TrimSpace(string(runes[lastStart:])); len(remaining) > 0 {
			boundaries = append(boundaries, boundary{start: lastStart, end: len(runes)})
		}
	}

	if len(boundaries) == 0 && len(strings.TrimSpace(text)) > 0 {
		boundaries = append(boundaries, boundary{start: 0, end: len(text)})
		return boundaries
	}

	// Convert rune positions to byte positions.
	for i := range boundaries {
		boundaries[i].start = len(string(runes[:boundaries[i].start]))
		boundaries[i].end = len(string(runes[:boundaries[i].end]))
	}

	return boundaries
}

// isRealSentenceEnd checks whether the punctuation at pos actually ends a
// sentence.
func (s *Splitter) isRealSentenceEnd(runes []rune, pos int) bool {
	if pos < 0 || pos >= len(runes) {
		return false
	}

	punct := runes[pos]

	wordBefore := ""
	start := pos - 1
	for start >= 0 && !unicode.IsSpace(runes[start]) {
		start--
	}
	if start < pos {
		wordBefore = strings.ToLower(string(runes[start+1 : pos+1]))
	}

	if punct == '.' && len(wordBefore) > 0 {
		wordNoPeriod := strings.TrimSuffix(wordBefore, ".")
		if s.abbreviations[wordNoPeriod] || s.abbreviations[wordBefore] {
			return false
		}
		// Multi-part abbreviations like "ph.d." or "u.s."
		if strings.Count(wordBefore, ".") > 1 {
			return false
		}
	}

	// Decimal numbers: "3.14" never splits.
	if punct == '.' && pos > 0 && pos < len(runes)-1 {
		if unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}
	}

	// Ellipsis.
	if punct == '.' && pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
		return false
	}

	if pos+1 >= len(runes) {
		return true
	}

	nextPos := pos + 1
	for nextPos < len(runes) && (runes[nextPos] == '"' || runes[nextPos] == '\'' || runes[nextPos] == ')' || runes[nextPos] == ']') {
		nextPos++
	}
	if nextPos >= len(runes) {
		return true
	}

	if !unicode.IsSpace(runes[nextPos]) {
		return false
	}
	for nextPos < len(runes) && unicode.IsSpace(runes[nextPos]) {
		nextPos++
	}

	if nextPos < len(runes) && unicode.IsUpper(runes[nextPos]) {
		return true
	}

	// Exclamation and question marks are more decisive than periods.
	if punct == '!' || punct == '?' {
		return true
	}

	return false
}

// calculateComplexity estimates text complexity for duration adjustment.
func (s *Splitter) calculateComplexity(text string) float64 {
	complexity := 0.0

	numbers := s.numberRegex.FindAllString(text, -1)
	complexity += float64(len(numbers)) * 0.02

	punctuation := s.punctRegex.FindAllString(text, -1)
	complexity += float64(len(punctuation)) * 0.01

	words := strings.Fields(text)
	longWords := 0
	for _, word := range words {
		if len(word) > 10 {
			longWords++
		}
	}
	complexity += float64(longWords) / float64(len(words)+1) * 0.1

	if complexity > 0.5 {
		complexity = 0.5
	}
	return complexity
}

func collapseWhitespace(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteRune(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// makeAbbreviationMap creates a map of common abbreviations.
func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"ph.d", "m.d", "b.a", "m.a", "b.s",
		"llc", "inc", "ltd", "co", "corp",
		"i.e", "e.g", "etc", "vs", "cf", "al",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"st", "rd", "ave", "blvd", "ln", "ct",
		"u.s", "u.k", "u.n", "e.u", "n.y", "l.a",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}

	m := make(map[string]bool)
	for _, abbrev := range abbrevs {
		m[abbrev] = true
		if !strings.Contains(abbrev, ".") {
			m[abbrev+"."] = true
		}
	}
	return m
}
