package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePlayer is an in-package AudioPlayer. A positive clipLen auto-finishes
// every clip after that long; zero means clips only end on transport verbs.
type fakePlayer struct {
	mu      sync.Mutex
	done    chan struct{}
	clipLen time.Duration
	playing bool
	speed   float64
	plays   int
	pauses  int
	resumes int
	stops   int
}

func newFakePlayer(clipLen time.Duration) *fakePlayer {
	return &fakePlayer{done: make(chan struct{}), clipLen: clipLen, speed: 1.0}
}

func (p *fakePlayer) Play(audio *Audio) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.playing = true
	ch := make(chan struct{})
	p.done = ch
	if p.clipLen > 0 {
		time.AfterFunc(p.clipLen, func() { close(ch) })
	}
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	p.playing = false
	return nil
}

func (p *fakePlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	p.playing = true
	return nil
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.playing = false
	return nil
}

func (p *fakePlayer) SetSpeed(speed float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = speed
	return nil
}

func (p *fakePlayer) Position() time.Duration { return 0 }

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *fakePlayer) counts() (plays, pauses, resumes, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.pauses, p.resumes, p.stops
}

// mapProvider serves chapters from memory.
type mapProvider map[string]Chapter

func (m mapProvider) Chapter(_ context.Context, id string) (Chapter, error) {
	c, ok := m[id]
	if !ok {
		return Chapter{}, ErrNoChapter
	}
	return c, nil
}

// pipeSplitter splits on "|" so tests control segmentation exactly.
type pipeSplitter struct{}

func (pipeSplitter) Split(text string) []string {
	var out []string
	for _, part := range strings.Split(text, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newTestSession(t *testing.T, text string, player AudioPlayer) *Session {
	t.Helper()

	factory := &scriptFactory{}
	coord := NewCoordinator(factory, nil, testCoordinatorConfig(), nil)
	t.Cleanup(func() { coord.Close() }) //nolint:errcheck

	monitor := NewMonitor(healthyProbe(), nil)
	sched := NewScheduler(coord, monitor, nil, "book-1", SchedulerConfig{
		UpgradeTick:       time.Second,
		UpgradeHorizon:    10,
		UpgradeStartDelay: time.Minute,
	}, nil)
	t.Cleanup(sched.CancelAll)

	provider := mapProvider{"ch-1": {ID: "ch-1", Title: "One", Text: text}}
	cfg := SessionConfig{
		Language:  "en-US",
		Buffer:    DefaultBufferConfig(),
		Scheduler: DefaultSchedulerConfig(),
	}
	s := NewSession(provider, pipeSplitter{}, coord, sched, monitor, NewLadders(testLadder()), player, cfg, nil)
	t.Cleanup(s.Stop)
	return s
}

// awaitMsg drains the event stream until a message of type M arrives.
func awaitMsg[M any](t *testing.T, s *Session, d time.Duration) M {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case msg := <-s.Events():
			if m, ok := msg.(M); ok {
				return m
			}
		case <-deadline:
			var zero M
			t.Fatalf("no %T before deadline", zero)
			return zero
		}
	}
}

func TestSessionPlaysChapterToEnd(t *testing.T) {
	s := newTestSession(t, "one.|two.|three.", newFakePlayer(5*time.Millisecond))

	if err := s.LoadChapter(context.Background(), "ch-1"); err != nil {
		t.Fatalf("LoadChapter() error = %v", err)
	}
	if got := s.State(); got != StatePaused {
		t.Fatalf("State() after load = %v, want paused", got)
	}
	if err := s.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	ended := awaitMsg[EndedMsg](t, s, 5*time.Second)
	if ended.ChapterID != "ch-1" {
		t.Errorf("EndedMsg.ChapterID = %q, want ch-1", ended.ChapterID)
	}
	if got := s.State(); got != StateEnded {
		t.Errorf("State() = %v, want ended", got)
	}

	recent := s.RecentlyPlayed()
	if len(recent) != 3 || recent[0] != 2 || recent[1] != 1 || recent[2] != 0 {
		t.Errorf("RecentlyPlayed() = %v, want most recent first", recent)
	}
}

func TestSessionPlayWithoutChapter(t *testing.T) {
	s := newTestSession(t, "unused", newFakePlayer(0))
	if err := s.Play(); !errors.Is(err, ErrNoChapter) {
		t.Errorf("Play() error = %v, want ErrNoChapter", err)
	}
}

func TestSessionLoadUnknownChapter(t *testing.T) {
	s := newTestSession(t, "unused", newFakePlayer(0))
	err := s.LoadChapter(context.Background(), "no-such")
	if !errors.Is(err, ErrNoChapter) {
		t.Fatalf("LoadChapter() error = %v, want ErrNoChapter", err)
	}
	if got := s.State(); got != StateError {
		t.Errorf("State() = %v, want error", got)
	}
}

func TestSessionPauseAndResume(t *testing.T) {
	player := newFakePlayer(0)
	s := newTestSession(t, "one.|two.", player)

	if err := s.LoadChapter(context.Background(), "ch-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.State() == StatePlaying })

	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.State() == StatePaused })

	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.State() == StatePlaying })

	_, pauses, resumes, _ := player.counts()
	if pauses != 1 || resumes != 1 {
		t.Errorf("pauses, resumes = %d, %d, want 1, 1", pauses, resumes)
	}
}

func TestSessionToggle(t *testing.T) {
	s := newTestSession(t, "one.|two.", newFakePlayer(0))

	if err := s.LoadChapter(context.Background(), "ch-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Toggle(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.State() == StatePlaying })

	if err := s.Toggle(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.State() == StatePaused })
}

func TestSessionSeekWhilePaused(t *testing.T) {
	s := newTestSession(t, "one.|two.|three.", newFakePlayer(0))

	if err := s.LoadChapter(context.Background(), "ch-1"); err != nil {
		t.Fatal(err)
	}

	if err := s.SeekToSegment(2); err != nil {
		t.Fatalf("SeekToSegment() error = %v", err)
	}
	if got := s.Cursor(); got != 2 {
		t.Errorf("Cursor() = %d, want 2", got)
	}
	if got := s.State(); got != StatePaused {
		t.Errorf("State() = %v, seek while paused should stay paused", got)
	}

	for _, index := range []int{-1, 3} {
		if err := s.SeekToSegment(index); !errors.Is(err, ErrInvalidSegmentIndex) {
			t.Errorf("SeekToSegment(%d) error = %v, want ErrInvalidSegmentIndex", index, err)
		}
	}
}

func TestSessionSeekWhilePlaying(t *testing.T) {
	player := newFakePlayer(0)
	s := newTestSession(t, "one.|two.|three.", player)

	if err := s.LoadChapter(context.Background(), "ch-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.State() == StatePlaying })

	if err := s.SeekToSegment(2); err != nil {
		t.Fatalf("SeekToSegment() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.Cursor() == 2 })

	if got := s.State(); got != StatePlaying {
		t.Errorf("State() = %v, seek while playing should keep playing", got)
	}
}

func TestSessionSkipNextAndPrevious(t *testing.T) {
	s := newTestSession(t, "one.|two.|three.", newFakePlayer(0))

	if err := s.LoadChapter(context.Background(), "ch-1"); err != nil {
		t.Fatal(err)
	}

	if err := s.SkipNext(); err != nil {
		t.Fatal(err)
	}
	if got := s.Cursor(); got != 1 {
		t.Errorf("Cursor() = %d, want 1", got)
	}
	if err := s.SkipPrevious(); err != nil {
		t.Fatal(err)
	}
	if got := s.Cursor(); got != 0 {
		t.Errorf("Cursor() = %d, want 0", got)
	}
	if err := s.SkipPrevious(); !errors.Is(err, ErrInvalidSegmentIndex) {
		t.Errorf("SkipPrevious() at start error = %v, want ErrInvalidSegmentIndex", err)
	}
}

func TestSessionSetSpeed(t *testing.T) {
	player := newFakePlayer(0)
	s := newTestSession(t, "one.", player)

	if err := s.SetSpeed(3.0); !errors.Is(err, ErrSpeedOutOfRange) {
		t.Errorf("SetSpeed(3.0) error = %v, want ErrSpeedOutOfRange", err)
	}
	if err := s.SetSpeed(1.5); err != nil {
		t.Fatalf("SetSpeed(1.5) error = %v", err)
	}
	if got := s.Speed(); got != 1.5 {
		t.Errorf("Speed() = %v, want 1.5", got)
	}
	player.mu.Lock()
	speed := player.speed
	player.mu.Unlock()
	if speed != 1.5 {
		t.Errorf("player speed = %v, want 1.5", speed)
	}

	msg := awaitMsg[SpeedChangedMsg](t, s, time.Second)
	if msg.Speed != 1.5 {
		t.Errorf("SpeedChangedMsg.Speed = %v, want 1.5", msg.Speed)
	}
}

func TestSessionStop(t *testing.T) {
	player := newFakePlayer(0)
	s := newTestSession(t, "one.|two.", player)

	if err := s.LoadChapter(context.Background(), "ch-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.State() == StatePlaying })

	s.Stop()
	if got := s.State(); got != StateStopped {
		t.Fatalf("State() = %v, want stopped", got)
	}

	// Stopped sessions reject transport verbs until the next load.
	if err := s.Play(); !errors.Is(err, ErrNoChapter) {
		t.Errorf("Play() after Stop error = %v, want ErrNoChapter", err)
	}

	s.Stop() // idempotent
}
