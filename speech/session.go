package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// recentCap bounds the most-recently-played history used by the upgrade
// candidate search.
const recentCap = 32

// Splitter turns chapter text into ordered speakable units. Must be
// deterministic: identical text yields identical segmentation.
type Splitter interface {
	Split(text string) []string
}

// SessionConfig bundles the per-session tunables.
type SessionConfig struct {
	Language  string
	Buffer    BufferConfig
	Scheduler SchedulerConfig
}

// Session is the externally visible playback orchestrator: it owns the
// cursor, answers the transport verbs, and reacts to generation completion
// and errors. One session plays one chapter at a time.
type Session struct {
	id       string
	provider ChapterProvider
	splitter Splitter
	coord    *Coordinator
	sched    *Scheduler
	monitor  *Monitor
	ladders  *Ladders
	player   AudioPlayer
	speed    *SpeedControl
	cfg      SessionConfig
	logger   *log.Logger

	events chan tea.Msg

	mu       sync.Mutex
	sm       *StateMachine
	buf      *BufferManager
	chapter  Chapter
	cursor   int
	segDur   time.Duration
	recent   []int
	fastStop context.CancelFunc
	loopStop chan struct{}
	pauseCh  chan struct{}
	resumeCh chan struct{}
	seekCh   chan int
	loopDone chan struct{}
}

// NewSession wires a playback session from its collaborators.
func NewSession(provider ChapterProvider, splitter Splitter, coord *Coordinator, sched *Scheduler, monitor *Monitor, ladders *Ladders, player AudioPlayer, cfg SessionConfig, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	id := uuid.NewString()
	s := &Session{
		id:       id,
		provider: provider,
		splitter: splitter,
		coord:    coord,
		sched:    sched,
		monitor:  monitor,
		ladders:  ladders,
		player:   player,
		speed:    NewSpeedControl(),
		cfg:      cfg,
		logger:   logger.With("session", id[:8]),
		events:   make(chan tea.Msg, 64),
		sm:       NewStateMachine(),
	}

	sched.OnSegmentReady = s.onSegmentReady
	sched.OnUpgrade = s.onUpgrade
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Chapter returns the currently loaded chapter.
func (s *Session) Chapter() Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chapter
}

// Events returns the session's event stream, usable directly with
// WaitForEvent in a Bubble Tea program.
func (s *Session) Events() <-chan tea.Msg {
	return s.events
}

// State returns the current playback state.
func (s *Session) State() StateType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.Current()
}

// Cursor returns the current segment index. Implements PlaybackView.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// RecentlyPlayed returns played segment indices, most recent first.
// Implements PlaybackView.
func (s *Session) RecentlyPlayed() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.recent))
	copy(out, s.recent)
	return out
}

// Snapshot returns a read-only view of what is audible now.
func (s *Session) Snapshot() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	if s.buf != nil {
		total = s.buf.Progress().Total()
	}
	state := s.sm.Current()
	return Cursor{
		SegmentIndex: s.cursor,
		Total:        total,
		Position:     s.player.Position(),
		Duration:     s.segDur,
		Playing:      state == StatePlaying,
		Buffering:    state == StateBuffering,
	}
}

// LoadChapter fetches and splits a chapter, starts its fast pass and
// upgrade loop, and leaves the session paused at segment zero.
func (s *Session) LoadChapter(ctx context.Context, chapterID string) error {
	s.Stop()

	s.mu.Lock()
	if !s.sm.Transition(StateLoading) {
		s.mu.Unlock()
		return fmt.Errorf("load chapter %s: %w", chapterID, ErrInvalidState)
	}
	s.mu.Unlock()

	chapter, err := s.provider.Chapter(ctx, chapterID)
	if err != nil {
		s.fail(chapterID, -1, fmt.Errorf("fetch chapter: %w", err))
		return err
	}

	texts := s.splitter.Split(chapter.Text)
	if len(texts) == 0 {
		s.fail(chapterID, -1, ErrInvalidText)
		return ErrInvalidText
	}

	ladder, err := s.ladders.ForLanguage(s.cfg.Language)
	if err != nil {
		s.fail(chapterID, -1, err)
		return err
	}

	segments := make([]Segment, len(texts))
	for i, t := range texts {
		segments[i] = Segment{Index: i, Text: t, Words: countWords(t), Tier: -1}
	}
	progress := NewChapterProgress(chapterID, segments)
	buf := NewBufferManager(s.coord, progress, ladder, s.monitor.StartingTier(), s.cfg.Buffer, s.logger)

	fastCtx, fastStop := context.WithCancel(context.Background())

	s.mu.Lock()
	s.chapter = chapter
	s.buf = buf
	s.cursor = 0
	s.segDur = 0
	s.recent = nil
	s.fastStop = fastStop
	s.sm.Transition(StatePaused)
	s.mu.Unlock()

	go s.sched.FastPass(fastCtx, buf, ladder)
	s.sched.StartUpgrade(buf, ladder, s)

	s.logger.Info("chapter loaded", "chapter", chapterID, "title", chapter.Title, "segments", len(texts))
	return nil
}

// Play starts or resumes playback. A paused segment resumes in place; a
// fresh position starts the playback loop, buffering first when the
// segment is not ready.
func (s *Session) Play() error {
	s.mu.Lock()
	if s.buf == nil {
		s.mu.Unlock()
		return ErrNoChapter
	}

	switch s.sm.Current() {
	case StatePlaying, StateBuffering:
		s.mu.Unlock()
		return nil
	case StatePaused:
		if s.loopStop != nil {
			// Loop alive and parked; resume in place.
			resume := s.resumeCh
			s.mu.Unlock()
			select {
			case resume <- struct{}{}:
			default:
			}
			return nil
		}
	case StateEnded:
		s.cursor = 0
	case StateError, StateStopped, StateLoading:
		s.mu.Unlock()
		return fmt.Errorf("play in %s: %w", s.sm.Current(), ErrInvalidState)
	}

	s.loopStop = make(chan struct{})
	s.pauseCh = make(chan struct{}, 1)
	s.resumeCh = make(chan struct{}, 1)
	s.seekCh = make(chan int, 1)
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.playLoop()
	return nil
}

// Pause suspends playback. In-flight prefetch finishes and merges; only
// the queued-but-undispatched prefetch work is dropped.
func (s *Session) Pause() error {
	s.mu.Lock()
	state := s.sm.Current()
	if state != StatePlaying && state != StateBuffering {
		s.mu.Unlock()
		return nil
	}
	pause := s.pauseCh
	buf := s.buf
	s.mu.Unlock()

	if buf != nil {
		buf.ClearPending()
	}
	if pause != nil {
		select {
		case pause <- struct{}{}:
		default:
		}
	}
	return nil
}

// Toggle flips between playing and paused.
func (s *Session) Toggle() error {
	switch s.State() {
	case StatePlaying, StateBuffering:
		return s.Pause()
	default:
		return s.Play()
	}
}

// SkipNext moves to the next segment.
func (s *Session) SkipNext() error {
	return s.SeekToSegment(s.Cursor() + 1)
}

// SkipPrevious moves to the previous segment.
func (s *Session) SkipPrevious() error {
	return s.SeekToSegment(s.Cursor() - 1)
}

// SeekToSegment jumps the cursor. When playing, playback re-enters at the
// new index; when paused, the session stays paused at the new position.
func (s *Session) SeekToSegment(index int) error {
	s.mu.Lock()
	if s.buf == nil {
		s.mu.Unlock()
		return ErrNoChapter
	}
	total := s.buf.Progress().Total()
	if index < 0 || index >= total {
		s.mu.Unlock()
		return fmt.Errorf("seek to %d of %d: %w", index, total, ErrInvalidSegmentIndex)
	}

	if s.loopStop != nil {
		seek := s.seekCh
		s.mu.Unlock()
		select {
		case seek <- index:
		default:
			// A pending seek is superseded; drain and replace.
			select {
			case <-seek:
			default:
			}
			seek <- index
		}
		return nil
	}

	s.cursor = index
	s.segDur = 0
	buf := s.buf
	s.mu.Unlock()

	buf.Advance(index)
	return nil
}

// SetSpeed sets the playback rate multiplier.
func (s *Session) SetSpeed(speed float64) error {
	if err := s.speed.Set(speed); err != nil {
		return err
	}
	if err := s.player.SetSpeed(speed); err != nil {
		return err
	}
	s.emit(SpeedChangedMsg{Speed: speed})
	return nil
}

// Speed returns the current playback rate multiplier.
func (s *Session) Speed() float64 {
	return s.speed.Speed()
}

// SpeedUp steps to the next faster preset.
func (s *Session) SpeedUp() error {
	return s.SetSpeed(s.speed.Increase())
}

// SpeedDown steps to the next slower preset.
func (s *Session) SpeedDown() error {
	return s.SetSpeed(s.speed.Decrease())
}

// Stop halts playback and tears down the chapter: the upgrade loop is
// canceled, pending generation fails observably, and every outstanding
// audio handle is released.
func (s *Session) Stop() {
	s.mu.Lock()
	stop := s.loopStop
	done := s.loopDone
	buf := s.buf
	chapterID := ""
	if buf != nil {
		chapterID = buf.Progress().ChapterID()
	}
	fastStop := s.fastStop
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	if fastStop != nil {
		fastStop()
	}
	if chapterID != "" {
		s.sched.CancelUpgrade(chapterID)
	}
	s.coord.CancelAll()
	if buf != nil {
		buf.Close()
	}
	s.player.Stop()

	s.mu.Lock()
	s.loopStop = nil
	s.loopDone = nil
	s.fastStop = nil
	s.buf = nil
	prev := s.sm.Current()
	if prev != StateStopped {
		s.sm.Transition(StateStopped)
		s.mu.Unlock()
		s.emit(StateChangedMsg{State: StateStopped, PrevState: prev, ChapterID: chapterID, Timestamp: time.Now()})
		return
	}
	s.mu.Unlock()
}

// playLoop plays segments in cursor order until stopped, the chapter ends,
// or generation fails unrecoverably.
func (s *Session) playLoop() {
	defer close(s.loopDone)

	for {
		s.mu.Lock()
		buf := s.buf
		index := s.cursor
		stop := s.loopStop
		s.mu.Unlock()

		if buf == nil {
			return
		}

		total := buf.Progress().Total()
		if index >= total {
			s.transitionAndEmit(StateEnded)
			s.emit(EndedMsg{ChapterID: buf.Progress().ChapterID()})
			s.mu.Lock()
			s.loopStop = nil
			s.mu.Unlock()
			return
		}

		seg, handle, err := s.fetch(buf, index, stop)
		if err != nil {
			if err == errLoopStopped {
				return
			}
			s.fail(buf.Progress().ChapterID(), index, err)
			s.mu.Lock()
			s.loopStop = nil
			s.mu.Unlock()
			return
		}

		audio := &Audio{
			Data:       handle.Data,
			SampleRate: s.cfg.Buffer.SampleRate,
			Channels:   1,
			Duration:   seg.Duration,
		}
		if err := s.player.Play(audio); err != nil {
			s.fail(buf.Progress().ChapterID(), index, fmt.Errorf("play segment %d: %w", index, err))
			s.mu.Lock()
			s.loopStop = nil
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		s.segDur = seg.Duration
		s.sm.Transition(StatePlaying)
		s.mu.Unlock()

		s.emit(SegmentChangedMsg{
			Index:    index,
			Text:     seg.Text,
			Duration: seg.Duration,
			Progress: float64(index) / float64(total),
		})

		buf.Advance(index)

		next, ok := s.waitSegment(stop)
		if !ok {
			return
		}

		s.mu.Lock()
		s.markPlayed(index)
		s.cursor = next
		s.mu.Unlock()
	}
}

var errLoopStopped = fmt.Errorf("playback loop stopped")

// fetch returns the segment at index, entering the buffering sub-state
// while awaiting a segment whose generation has not finished. The await
// shares the coordinator's in-flight dispatch.
func (s *Session) fetch(buf *BufferManager, index int, stop <-chan struct{}) (Segment, *Handle, error) {
	if seg, h, err := s.tryReady(buf, index); err == nil {
		return seg, h, nil
	}

	s.transitionAndEmit(StateBuffering)
	s.emit(BufferingMsg{Index: index, Buffering: true})
	defer s.emit(BufferingMsg{Index: index, Buffering: false})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	seg, h, err := buf.SegmentAt(ctx, index)
	if err != nil {
		select {
		case <-stop:
			return Segment{}, nil, errLoopStopped
		default:
		}
		return Segment{}, nil, err
	}
	return seg, h, nil
}

func (s *Session) tryReady(buf *BufferManager, index int) (Segment, *Handle, error) {
	seg, ok := buf.Progress().Get(index)
	if !ok {
		return Segment{}, nil, ErrGenerationFailed
	}
	h, ok := buf.Handles().Get(index)
	if !ok {
		return Segment{}, nil, ErrGenerationFailed
	}
	return seg, h, nil
}

// waitSegment parks until the current segment finishes or a transport verb
// intervenes. It returns the next cursor index, or ok=false when the loop
// must exit.
func (s *Session) waitSegment(stop <-chan struct{}) (int, bool) {
	done := s.player.Done()
	for {
		select {
		case <-stop:
			return 0, false

		case <-done:
			s.mu.Lock()
			next := s.cursor + 1
			s.mu.Unlock()
			return next, true

		case index := <-s.seekCh:
			s.player.Stop()
			return index, true

		case <-s.pauseCh:
			s.player.Pause()
			s.transitionAndEmit(StatePaused)

			select {
			case <-stop:
				return 0, false
			case index := <-s.seekCh:
				s.player.Stop()
				return index, true
			case <-s.resumeCh:
				s.player.Resume()
				s.transitionAndEmit(StatePlaying)
			}
		}
	}
}

// markPlayed records the index in the most-recent-first history.
func (s *Session) markPlayed(index int) {
	filtered := s.recent[:0]
	for _, i := range s.recent {
		if i != index {
			filtered = append(filtered, i)
		}
	}
	s.recent = append([]int{index}, filtered...)
	if len(s.recent) > recentCap {
		s.recent = s.recent[:recentCap]
	}
}

func (s *Session) onSegmentReady(chapterID string, seg Segment) {
	s.logger.Debug("segment ready", "chapter", chapterID, "index", seg.Index, "tier", seg.Tier)
}

// onUpgrade reacts to an upgraded segment. The buffer manager has already
// swapped the handle, so a buffered segment sounds the new audio on its
// next entry; a currently sounding segment is never interrupted.
func (s *Session) onUpgrade(chapterID string, seg Segment) {
	s.emit(SegmentUpgradedMsg{ChapterID: chapterID, Index: seg.Index, Tier: seg.Tier})
}

func (s *Session) transitionAndEmit(to StateType) {
	s.mu.Lock()
	prev := s.sm.Current()
	if prev == to || !s.sm.Transition(to) {
		s.mu.Unlock()
		return
	}
	chapterID := ""
	if s.buf != nil {
		chapterID = s.buf.Progress().ChapterID()
	}
	index := s.cursor
	s.mu.Unlock()

	s.emit(StateChangedMsg{
		State:     to,
		PrevState: prev,
		ChapterID: chapterID,
		Segment:   index,
		Timestamp: time.Now(),
	})
}

func (s *Session) fail(chapterID string, index int, err error) {
	s.logger.Error("playback failed", "chapter", chapterID, "index", index, "error", err)
	s.mu.Lock()
	s.sm.Transition(StateError)
	s.mu.Unlock()
	s.emit(PlaybackErrorMsg{Err: err, ChapterID: chapterID, Index: index})
}

// emit delivers an event without ever blocking playback. A full channel
// drops the oldest event first.
func (s *Session) emit(msg tea.Msg) {
	select {
	case s.events <- msg:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- msg:
		default:
		}
	}
}
