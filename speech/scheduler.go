package speech

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// SchedulerConfig holds the two-pass strategy tunables.
type SchedulerConfig struct {
	// UpgradeTick is the interval between upgrade attempts.
	UpgradeTick time.Duration

	// UpgradeHorizon is how many segments ahead of the cursor the upgrade
	// candidate search looks.
	UpgradeHorizon int

	// UpgradeStartDelay is how long after the fast pass begins before the
	// upgrade loop starts competing for the engine.
	UpgradeStartDelay time.Duration
}

// DefaultSchedulerConfig returns the stock strategy tunables.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		UpgradeTick:       5 * time.Second,
		UpgradeHorizon:    10,
		UpgradeStartDelay: 10 * time.Second,
	}
}

// PlaybackView is the scheduler's read-only window into playback: where
// the cursor is and what has recently been heard.
type PlaybackView interface {
	// Cursor returns the current segment index.
	Cursor() int

	// RecentlyPlayed returns played segment indices, most recent first.
	RecentlyPlayed() []int
}

// Scheduler runs the two-pass strategy: a fast pass generating every
// segment at the cheapest tier, then a per-chapter upgrade loop that
// quietly regenerates segments at higher tiers when resources allow.
type Scheduler struct {
	coord   *Coordinator
	monitor *Monitor
	store   SegmentStore
	cfg     SchedulerConfig
	logger  *log.Logger

	bookID string

	// Shared across chapter loops so concurrent chapters cannot multiply
	// background engine load.
	limiter *rate.Limiter

	// OnSegmentReady fires after the fast pass merges a segment.
	// OnUpgrade fires after an upgrade lands. Both may be nil.
	OnSegmentReady func(chapterID string, seg Segment)
	OnUpgrade      func(chapterID string, seg Segment)

	mu    sync.Mutex
	loops map[string]chan struct{}
}

// NewScheduler creates a scheduler. store may be nil to skip persistence.
func NewScheduler(coord *Coordinator, monitor *Monitor, store SegmentStore, bookID string, cfg SchedulerConfig, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.UpgradeTick <= 0 {
		cfg.UpgradeTick = DefaultSchedulerConfig().UpgradeTick
	}
	if cfg.UpgradeHorizon <= 0 {
		cfg.UpgradeHorizon = DefaultSchedulerConfig().UpgradeHorizon
	}
	if cfg.UpgradeStartDelay <= 0 {
		cfg.UpgradeStartDelay = DefaultSchedulerConfig().UpgradeStartDelay
	}
	return &Scheduler{
		coord:   coord,
		monitor: monitor,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		bookID:  bookID,
		limiter: rate.NewLimiter(rate.Every(cfg.UpgradeTick), 1),
		loops:   make(map[string]chan struct{}),
	}
}

// FastPass generates every ungenerated segment of the chapter in order at
// the starting tier, handing each to the buffer manager as it lands.
// Per-segment failures are logged and skipped; one bad segment does not
// abort the chapter.
func (s *Scheduler) FastPass(ctx context.Context, buf *BufferManager, ladder *TierLadder) {
	progress := buf.Progress()
	chapterID := progress.ChapterID()

	tier, tierCfg, err := ladder.ResolveDown(s.monitor.StartingTier())
	if err != nil {
		s.logger.Error("no usable tier for fast pass", "chapter", chapterID, "error", err)
		return
	}

	progress.SetGenerating(true)
	defer progress.SetGenerating(false)

	s.logger.Info("fast pass started", "chapter", chapterID, "segments", progress.Total(), "tier", tier)

	for i := 0; i < progress.Total(); i++ {
		if ctx.Err() != nil {
			s.logger.Debug("fast pass canceled", "chapter", chapterID, "at", i)
			return
		}
		if _, ok := progress.Get(i); ok {
			continue
		}
		text, ok := progress.Text(i)
		if !ok {
			continue
		}

		progress.SetProcessingIndex(i)
		audio, err := s.coord.Generate(ctx, chapterID, Segment{Index: i, Text: text}, tier, *tierCfg)
		if err != nil {
			if Classify(err) == KindCanceled {
				return
			}
			s.logger.Warn("fast pass segment failed", "chapter", chapterID, "index", i, "error", err)
			continue
		}

		seg := Segment{
			Index:    i,
			Text:     text,
			Words:    countWords(text),
			Tier:     tier,
			AudioKey: CacheKey(text, tierCfg.Voice, tier),
			Duration: PCMDuration(len(audio), buf.cfg.SampleRate),
		}
		buf.Accept(seg, audio)
		s.persist(ctx, chapterID, seg, audio)

		if s.OnSegmentReady != nil {
			s.OnSegmentReady(chapterID, seg)
		}
	}

	s.logger.Info("fast pass finished", "chapter", chapterID, "generated", progress.GeneratedCount())
}

// StartUpgrade begins the background upgrade loop for a chapter. A loop
// already running for the chapter is canceled first; at most one runs per
// chapter.
func (s *Scheduler) StartUpgrade(buf *BufferManager, ladder *TierLadder, view PlaybackView) {
	chapterID := buf.Progress().ChapterID()
	s.CancelUpgrade(chapterID)

	stop := make(chan struct{})
	s.mu.Lock()
	s.loops[chapterID] = stop
	s.mu.Unlock()

	go s.upgradeLoop(stop, buf, ladder, view)
}

// CancelUpgrade stops the chapter's upgrade loop. Safe to call repeatedly
// and when no loop is running.
func (s *Scheduler) CancelUpgrade(chapterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.loops[chapterID]; ok {
		delete(s.loops, chapterID)
		close(stop)
	}
}

// CancelAll stops every running upgrade loop.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stop := range s.loops {
		delete(s.loops, id)
		close(stop)
	}
}

func (s *Scheduler) upgradeLoop(stop <-chan struct{}, buf *BufferManager, ladder *TierLadder, view PlaybackView) {
	progress := buf.Progress()
	chapterID := progress.ChapterID()

	delay := time.NewTimer(s.cfg.UpgradeStartDelay)
	defer delay.Stop()
	select {
	case <-stop:
		return
	case <-delay.C:
	}

	s.logger.Debug("upgrade loop started", "chapter", chapterID)

	ticker := time.NewTicker(s.cfg.UpgradeTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !s.limiter.Allow() {
			continue
		}
		if !s.monitor.CanRunUpgradeNow() {
			continue
		}

		target := s.monitor.TargetTier(ladder)
		index, next, tierCfg, found := s.pickCandidate(progress, ladder, view, target)
		if !found {
			if s.upgradesExhausted(progress, target) {
				s.logger.Info("upgrades complete", "chapter", chapterID)
				s.CancelUpgrade(chapterID)
				return
			}
			continue
		}

		s.upgradeOne(buf, chapterID, index, next, tierCfg)
	}
}

// upgradesExhausted reports whether the loop has nothing left to do: the
// chapter is fully generated, or the fast pass is over and every segment
// that did generate already reached the target tier. Segments that failed
// the fast pass permanently must not keep an idle ticker alive.
func (s *Scheduler) upgradesExhausted(progress *ChapterProgress, target int) bool {
	if progress.GeneratedCount() >= progress.Total() {
		return true
	}
	if progress.Generating() {
		return false
	}
	for i := 0; i < progress.Total(); i++ {
		if tier := progress.TierOf(i); tier >= 0 && tier < target {
			return false
		}
	}
	return true
}

// pickCandidate selects the single best upgrade target: segments ahead of
// the cursor within the horizon in ascending order, then played segments
// most recent first. Segments at or above the target tier, ungenerated
// segments, and the coordinator's current dispatch target are skipped.
// Returns the index plus the resolved next tier.
func (s *Scheduler) pickCandidate(progress *ChapterProgress, ladder *TierLadder, view PlaybackView, target int) (int, int, *TierConfig, bool) {
	cursor := view.Cursor()
	busy := progress.ProcessingIndex()

	try := func(i int) (int, *TierConfig, bool) {
		if i == busy {
			return 0, nil, false
		}
		cur := progress.TierOf(i)
		if cur < 0 || cur >= target {
			return 0, nil, false
		}
		next, cfg, ok := ladder.ResolveUp(cur + 1)
		if !ok || next > target {
			return 0, nil, false
		}
		return next, cfg, true
	}

	for i := cursor + 1; i <= cursor+s.cfg.UpgradeHorizon && i < progress.Total(); i++ {
		if next, cfg, ok := try(i); ok {
			return i, next, cfg, true
		}
	}
	for _, i := range view.RecentlyPlayed() {
		if next, cfg, ok := try(i); ok {
			return i, next, cfg, true
		}
	}
	return 0, 0, nil, false
}

// upgradeOne regenerates a segment one tier up and applies the result.
// Failures are logged only; upgrades never interrupt playback.
func (s *Scheduler) upgradeOne(buf *BufferManager, chapterID string, index, next int, tierCfg *TierConfig) {
	progress := buf.Progress()
	text, ok := progress.Text(index)
	if !ok {
		return
	}

	audio, err := s.coord.Generate(context.Background(), chapterID, Segment{Index: index, Text: text}, next, *tierCfg)
	if err != nil {
		s.logger.Warn("upgrade failed", "chapter", chapterID, "index", index, "tier", next, "error", err)
		return
	}

	seg := Segment{
		Index:    index,
		Text:     text,
		Words:    countWords(text),
		Tier:     next,
		AudioKey: CacheKey(text, tierCfg.Voice, next),
		Duration: PCMDuration(len(audio), buf.cfg.SampleRate),
	}
	if !buf.Swap(seg, audio) {
		s.logger.Debug("upgrade superseded", "chapter", chapterID, "index", index, "tier", next)
		return
	}
	s.persist(context.Background(), chapterID, seg, audio)

	s.logger.Info("segment upgraded", "chapter", chapterID, "index", index, "tier", next)
	if s.OnUpgrade != nil {
		s.OnUpgrade(chapterID, seg)
	}
}

func (s *Scheduler) persist(ctx context.Context, chapterID string, seg Segment, audio []byte) {
	if s.store == nil {
		return
	}
	if err := s.store.PutSegment(ctx, s.bookID, chapterID, seg, audio); err != nil {
		s.logger.Warn("segment persist failed", "chapter", chapterID, "index", seg.Index, "error", err)
	}
}
