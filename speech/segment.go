package speech

import (
	"sort"
	"sync"
	"time"
)

// Segment is one unit of speakable text within a chapter. Index and Text
// are fixed at creation; AudioKey, Duration, and StartOffset are filled in
// once generation completes. Tier only ever increases.
type Segment struct {
	Index       int           // Zero-based, contiguous within the chapter
	Text        string        // Plain text, immutable after creation
	Words       int           // Word count, for duration estimation
	AudioKey    string        // Storage/cache key for the generated audio
	Duration    time.Duration // Actual duration once generated
	StartOffset time.Duration // Offset from chapter start once known
	Tier        int           // Quality tier, -1 until first generation
}

// ChapterProgress is the per-chapter-in-session generation record. It is
// mutated by the coordinator (first generation, set-if-absent) and the
// scheduler (upgrades, strictly-improving replace), and read by playback.
type ChapterProgress struct {
	mu sync.RWMutex

	chapterID string
	total     int
	texts     map[int]string
	generated map[int]Segment
	tiers     map[int]int

	generating      bool
	processingIndex int
}

// NewChapterProgress creates a progress record for a freshly split chapter.
func NewChapterProgress(chapterID string, segments []Segment) *ChapterProgress {
	p := &ChapterProgress{
		chapterID:       chapterID,
		total:           len(segments),
		texts:           make(map[int]string, len(segments)),
		generated:       make(map[int]Segment, len(segments)),
		tiers:           make(map[int]int, len(segments)),
		processingIndex: -1,
	}
	for _, s := range segments {
		p.texts[s.Index] = s.Text
	}
	return p
}

// ChapterID returns the chapter this record belongs to.
func (p *ChapterProgress) ChapterID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chapterID
}

// Total returns the number of segments in the chapter.
func (p *ChapterProgress) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

// Text returns the source text for a segment index.
func (p *ChapterProgress) Text(index int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.texts[index]
	return t, ok
}

// SetIfAbsent records a first generation result. It returns false without
// mutating anything when a result for the index already exists, so the fast
// pass and prefetch can race without clobbering each other.
func (p *ChapterProgress) SetIfAbsent(seg Segment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.generated[seg.Index]; ok {
		return false
	}
	p.generated[seg.Index] = seg
	p.tiers[seg.Index] = seg.Tier
	return true
}

// Upgrade replaces a segment's result with a higher-tier one. The replace
// is rejected unless the tier strictly improves, which keeps the observed
// tier sequence non-decreasing no matter how upgrades land.
func (p *ChapterProgress) Upgrade(seg Segment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.tiers[seg.Index]
	if !ok || seg.Tier <= current {
		return false
	}
	p.generated[seg.Index] = seg
	p.tiers[seg.Index] = seg.Tier
	return true
}

// Get returns the generated segment at index, if any.
func (p *ChapterProgress) Get(index int) (Segment, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.generated[index]
	return s, ok
}

// TierOf returns the current quality tier of a segment, or -1 when it has
// not been generated yet.
func (p *ChapterProgress) TierOf(index int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.tiers[index]; ok {
		return t
	}
	return -1
}

// GeneratedIndices returns the generated segment indices in ascending order.
func (p *ChapterProgress) GeneratedIndices() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int, 0, len(p.generated))
	for i := range p.generated {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// GeneratedCount returns how many segments have audio.
func (p *ChapterProgress) GeneratedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.generated)
}

// SetGenerating flips the chapter-wide generating flag.
func (p *ChapterProgress) SetGenerating(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generating = v
	if !v {
		p.processingIndex = -1
	}
}

// Generating reports whether a fast pass is underway for the chapter.
func (p *ChapterProgress) Generating() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generating
}

// SetProcessingIndex records the coordinator's current dispatch target.
// Pass -1 when nothing is being processed.
func (p *ChapterProgress) SetProcessingIndex(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processingIndex = index
}

// ProcessingIndex returns the current dispatch target, or -1.
func (p *ChapterProgress) ProcessingIndex() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processingIndex
}

// EstimateDuration returns the chapter duration estimate: real durations
// where audio exists, a words-per-minute heuristic elsewhere. Usable before
// any generation has finished.
func (p *ChapterProgress) EstimateDuration(words map[int]int, wpm int) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	var total time.Duration
	for i := 0; i < p.total; i++ {
		if s, ok := p.generated[i]; ok && s.Duration > 0 {
			total += s.Duration
			continue
		}
		w := words[i]
		if w == 0 {
			w = 1
		}
		total += time.Duration(float64(w) / float64(wpm) * float64(time.Minute))
	}
	return total
}

// DefaultWordsPerMinute is the speaking-rate heuristic used before real
// audio durations exist.
const DefaultWordsPerMinute = 165
