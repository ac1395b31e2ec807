package speech

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// BufferConfig holds the lookahead window tunables.
type BufferConfig struct {
	// Lookahead is how many segments ahead of the cursor to keep generated.
	Lookahead int

	// EvictTrail is how far behind the cursor a segment may fall before its
	// audio handle is released.
	EvictTrail int

	// SampleRate of the engine's PCM output, for duration accounting.
	SampleRate int
}

// DefaultBufferConfig returns the stock window sizes.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{Lookahead: 5, EvictTrail: 5, SampleRate: 22050}
}

// BufferManager keeps a window of generated segments around the playback
// cursor. Prefetch runs on a single worker so the engine sees one background
// request at a time; the underrun path goes straight through the coordinator
// and shares any in-flight dispatch.
type BufferManager struct {
	coord    *Coordinator
	progress *ChapterProgress
	handles  *HandleTable
	ladder   *TierLadder
	cfg      BufferConfig
	logger   *log.Logger

	startTier int

	mu      sync.Mutex
	cursor  int
	pending []int
	queued  map[int]bool
	closed  bool

	kick chan struct{}
	stop chan struct{}
}

// NewBufferManager creates a buffer manager for one loaded chapter and
// starts its prefetch worker.
func NewBufferManager(coord *Coordinator, progress *ChapterProgress, ladder *TierLadder, startTier int, cfg BufferConfig, logger *log.Logger) *BufferManager {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultBufferConfig().Lookahead
	}
	if cfg.EvictTrail <= 0 {
		cfg.EvictTrail = DefaultBufferConfig().EvictTrail
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultBufferConfig().SampleRate
	}

	b := &BufferManager{
		coord:     coord,
		progress:  progress,
		handles:   NewHandleTable(),
		ladder:    ladder,
		cfg:       cfg,
		logger:    logger,
		startTier: startTier,
		queued:    make(map[int]bool),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	go b.worker()
	return b
}

// Progress returns the chapter progress record the manager merges into.
func (b *BufferManager) Progress() *ChapterProgress {
	return b.progress
}

// Handles returns the audio handle table.
func (b *BufferManager) Handles() *HandleTable {
	return b.handles
}

// Advance moves the window to a new cursor position: queues prefetch for
// missing indices ahead and evicts handles that fell behind the trail.
func (b *BufferManager) Advance(cursor int) {
	b.mu.Lock()
	b.cursor = cursor

	for i := cursor; i <= cursor+b.cfg.Lookahead && i < b.progress.Total(); i++ {
		if b.queued[i] {
			continue
		}
		if _, ok := b.handles.Get(i); ok {
			continue
		}
		b.pending = append(b.pending, i)
		b.queued[i] = true
	}
	b.mu.Unlock()

	for _, i := range b.handles.Indices() {
		if i < cursor-b.cfg.EvictTrail {
			b.handles.Release(i)
			b.logger.Debug("evicted segment audio", "index", i, "cursor", cursor)
		}
	}

	b.notify()
}

// SegmentAt returns the segment and a live audio handle for the index,
// generating on the spot when the prefetch has not caught up. The dispatch
// shares any in-flight request for the same index.
func (b *BufferManager) SegmentAt(ctx context.Context, index int) (Segment, *Handle, error) {
	if index < 0 || index >= b.progress.Total() {
		return Segment{}, nil, ErrInvalidSegmentIndex
	}

	if seg, ok := b.progress.Get(index); ok {
		if h, ok := b.handles.Get(index); ok {
			return seg, h, nil
		}
	}

	seg, err := b.generate(ctx, index)
	if err != nil {
		return Segment{}, nil, err
	}
	h, ok := b.handles.Get(index)
	if !ok {
		return Segment{}, nil, ErrGenerationFailed
	}
	return seg, h, nil
}

// Ready reports whether the index has a live audio handle.
func (b *BufferManager) Ready(index int) bool {
	_, ok := b.handles.Get(index)
	return ok
}

// Accept merges a generation result produced outside the prefetch path
// (the fast pass). The handle is only retained when the index sits inside
// the current window; far-ahead results stay reachable through the cache.
func (b *BufferManager) Accept(seg Segment, audio []byte) {
	first := b.progress.SetIfAbsent(seg)

	b.mu.Lock()
	cursor := b.cursor
	b.mu.Unlock()

	inWindow := seg.Index >= cursor-b.cfg.EvictTrail && seg.Index <= cursor+b.cfg.Lookahead
	if first && inWindow {
		b.handles.Set(seg.Index, NewHandle(seg.AudioKey, audio, nil))
	}
}

// Swap applies an upgraded result. The progress record rejects it unless
// the tier strictly improves; on success a buffered handle is replaced in
// place so the next entry of that segment sounds the new audio.
func (b *BufferManager) Swap(seg Segment, audio []byte) bool {
	if !b.progress.Upgrade(seg) {
		return false
	}
	if _, ok := b.handles.Get(seg.Index); ok {
		b.handles.Set(seg.Index, NewHandle(seg.AudioKey, audio, nil))
	}
	return true
}

// ClearPending drops every queued-but-not-dispatched prefetch request.
// In-flight work is left to finish and merge normally.
func (b *BufferManager) ClearPending() {
	b.mu.Lock()
	for _, i := range b.pending {
		delete(b.queued, i)
	}
	b.pending = nil
	b.mu.Unlock()
}

// Close stops the prefetch worker and releases every outstanding handle.
func (b *BufferManager) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.pending = nil
	b.mu.Unlock()

	close(b.stop)
	b.handles.ReleaseAll()
}

func (b *BufferManager) notify() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// worker drains the prefetch queue one segment at a time.
func (b *BufferManager) worker() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.kick:
		}

		for {
			b.mu.Lock()
			if b.closed || len(b.pending) == 0 {
				b.mu.Unlock()
				break
			}
			index := b.pending[0]
			b.pending = b.pending[1:]
			delete(b.queued, index)
			b.mu.Unlock()

			if _, ok := b.handles.Get(index); ok {
				continue
			}
			if _, err := b.generate(context.Background(), index); err != nil {
				if Classify(err) != KindCanceled {
					b.logger.Warn("prefetch failed", "index", index, "error", err)
				}
			}
		}
	}
}

// generate dispatches one segment at the fast-pass tier and merges the
// result into progress and the handle table.
func (b *BufferManager) generate(ctx context.Context, index int) (Segment, error) {
	text, ok := b.progress.Text(index)
	if !ok {
		return Segment{}, ErrInvalidSegmentIndex
	}

	tier, tierCfg, err := b.ladder.ResolveDown(b.startTier)
	if err != nil {
		return Segment{}, err
	}

	seg := Segment{Index: index, Text: text}
	audio, err := b.coord.Generate(ctx, b.progress.ChapterID(), seg, tier, *tierCfg)
	if err != nil {
		return Segment{}, err
	}

	seg.Tier = tier
	seg.Words = countWords(text)
	seg.AudioKey = CacheKey(text, tierCfg.Voice, tier)
	seg.Duration = PCMDuration(len(audio), b.cfg.SampleRate)

	if !b.progress.SetIfAbsent(seg) {
		// Someone else merged first; keep their record.
		seg, _ = b.progress.Get(index)
	}
	b.handles.Set(index, NewHandle(seg.AudioKey, audio, nil))
	return seg, nil
}

// PCMDuration returns the play time of a PCM16 mono byte buffer.
func PCMDuration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			inWord = false
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}
