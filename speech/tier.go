package speech

import (
	"fmt"

	"golang.org/x/text/language"
)

// TierConfig describes the generator configuration for one quality tier:
// which engine, which voice, and how it should execute.
type TierConfig struct {
	Engine    string // Engine identity (e.g. "piper", "kokoro")
	Voice     string // Voice identifier for the active language
	Precision string // Quantization/precision hint (e.g. "q8", "fp16", "fp32")
	Device    string // Execution device hint (e.g. "cpu", "gpu")
}

// TierLadder is an ordered list of generator configurations for one
// language, indexed by tier number. Tier 0 is the fastest/cheapest entry;
// higher indices trade speed for fidelity. Entries may be nil when no voice
// exists at that tier for the language.
type TierLadder struct {
	lang    language.Tag
	entries []*TierConfig
}

// NewTierLadder creates a ladder for the given language.
func NewTierLadder(lang language.Tag, entries []*TierConfig) *TierLadder {
	return &TierLadder{lang: lang, entries: entries}
}

// Language returns the ladder's language tag.
func (l *TierLadder) Language() language.Tag {
	return l.lang
}

// MaxAvailable returns the highest tier index with a usable entry, or -1
// when the ladder is empty.
func (l *TierLadder) MaxAvailable() int {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i] != nil {
			return i
		}
	}
	return -1
}

// ResolveDown returns the configuration for the requested tier, walking
// down to the nearest available entry when the exact tier is absent. The
// returned index is the tier actually resolved.
func (l *TierLadder) ResolveDown(tier int) (int, *TierConfig, error) {
	if tier >= len(l.entries) {
		tier = len(l.entries) - 1
	}
	for i := tier; i >= 0; i-- {
		if l.entries[i] != nil {
			return i, l.entries[i], nil
		}
	}
	return -1, nil, fmt.Errorf("tier %d for %s: %w", tier, l.lang, ErrVoiceUnavailable)
}

// ResolveUp returns the nearest available configuration at or above the
// requested tier. ok is false when nothing at or above the tier exists.
func (l *TierLadder) ResolveUp(tier int) (int, *TierConfig, bool) {
	if tier < 0 {
		tier = 0
	}
	for i := tier; i < len(l.entries); i++ {
		if l.entries[i] != nil {
			return i, l.entries[i], true
		}
	}
	return -1, nil, false
}

// Ladders holds the tier ladders for every configured language and matches
// requested languages to the closest configured one.
type Ladders struct {
	tags    []language.Tag
	matcher language.Matcher
	byTag   map[language.Tag]*TierLadder
}

// NewLadders builds a ladder set. The first ladder's language is the
// fallback when matching fails entirely.
func NewLadders(ladders ...*TierLadder) *Ladders {
	s := &Ladders{byTag: make(map[language.Tag]*TierLadder, len(ladders))}
	for _, l := range ladders {
		s.tags = append(s.tags, l.lang)
		s.byTag[l.lang] = l
	}
	s.matcher = language.NewMatcher(s.tags)
	return s
}

// ForLanguage returns the ladder for the closest configured language.
func (s *Ladders) ForLanguage(lang string) (*TierLadder, error) {
	if len(s.tags) == 0 {
		return nil, fmt.Errorf("language %q: %w", lang, ErrVoiceUnavailable)
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("parse language %q: %w", lang, err)
	}
	_, idx, _ := s.matcher.Match(tag)
	return s.byTag[s.tags[idx]], nil
}
