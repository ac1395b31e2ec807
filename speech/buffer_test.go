package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/text/language"
)

func testLadder() *TierLadder {
	return NewTierLadder(language.AmericanEnglish, []*TierConfig{
		{Engine: "mock", Voice: "draft"},
		{Engine: "mock", Voice: "standard"},
		{Engine: "mock", Voice: "studio"},
	})
}

func testProgress(chapterID string, n int) *ChapterProgress {
	segs := make([]Segment, n)
	for i := range segs {
		segs[i] = Segment{Index: i, Text: "some words to speak", Tier: -1}
	}
	return NewChapterProgress(chapterID, segs)
}

func newTestBuffer(t *testing.T, n int, cfg BufferConfig) (*BufferManager, *scriptFactory) {
	t.Helper()
	factory := &scriptFactory{}
	coord := NewCoordinator(factory, nil, testCoordinatorConfig(), nil)
	t.Cleanup(func() { coord.Close() }) //nolint:errcheck

	buf := NewBufferManager(coord, testProgress("ch-1", n), testLadder(), 0, cfg, nil)
	t.Cleanup(buf.Close)
	return buf, factory
}

func TestBufferManagerAdvanceFillsWindow(t *testing.T) {
	buf, _ := newTestBuffer(t, 12, BufferConfig{Lookahead: 5, EvictTrail: 5, SampleRate: 22050})

	buf.Advance(0)

	waitFor(t, 2*time.Second, func() bool {
		for i := 0; i <= 5; i++ {
			if !buf.Ready(i) {
				return false
			}
		}
		return true
	})
	if buf.Ready(6) {
		t.Error("segment 6 is outside the lookahead window and should not be buffered")
	}
}

func TestBufferManagerAdvanceEvictsTrail(t *testing.T) {
	buf, _ := newTestBuffer(t, 20, BufferConfig{Lookahead: 3, EvictTrail: 2, SampleRate: 22050})

	buf.Advance(0)
	waitFor(t, 2*time.Second, func() bool {
		return buf.Ready(0) && buf.Ready(1) && buf.Ready(2) && buf.Ready(3)
	})

	buf.Advance(8)
	waitFor(t, 2*time.Second, func() bool { return buf.Ready(8) })

	// Everything below 8-2=6 must be gone.
	for _, i := range buf.Handles().Indices() {
		if i < 6 {
			t.Errorf("index %d still buffered behind the trail", i)
		}
	}
}

func TestBufferManagerSegmentAtUnderrun(t *testing.T) {
	buf, _ := newTestBuffer(t, 5, BufferConfig{Lookahead: 2, EvictTrail: 2, SampleRate: 22050})

	// Nothing prefetched: SegmentAt must generate on the spot.
	seg, handle, err := buf.SegmentAt(context.Background(), 3)
	if err != nil {
		t.Fatalf("SegmentAt() error = %v", err)
	}
	if seg.Index != 3 || seg.Tier != 0 {
		t.Errorf("segment = %+v, want index 3 at tier 0", seg)
	}
	if len(handle.Data) == 0 {
		t.Error("handle has no audio")
	}
	if seg.Duration <= 0 {
		t.Error("duration was not derived from the audio")
	}
}

func TestBufferManagerSegmentAtBounds(t *testing.T) {
	buf, _ := newTestBuffer(t, 3, BufferConfig{Lookahead: 2, EvictTrail: 2, SampleRate: 22050})

	for _, index := range []int{-1, 3} {
		if _, _, err := buf.SegmentAt(context.Background(), index); !errors.Is(err, ErrInvalidSegmentIndex) {
			t.Errorf("SegmentAt(%d) error = %v, want ErrInvalidSegmentIndex", index, err)
		}
	}
}

func TestBufferManagerAcceptWindowing(t *testing.T) {
	buf, _ := newTestBuffer(t, 30, BufferConfig{Lookahead: 5, EvictTrail: 5, SampleRate: 22050})

	near := Segment{Index: 2, Text: "some words to speak", Tier: 0, AudioKey: "near"}
	far := Segment{Index: 25, Text: "some words to speak", Tier: 0, AudioKey: "far"}

	buf.Accept(near, []byte{1, 2})
	buf.Accept(far, []byte{3, 4})

	if !buf.Ready(2) {
		t.Error("in-window accept should retain the handle")
	}
	if buf.Ready(25) {
		t.Error("far-ahead accept should not retain the handle")
	}

	// Both results are recorded regardless of handle retention.
	if _, ok := buf.Progress().Get(25); !ok {
		t.Error("far-ahead result should still be recorded in progress")
	}
}

func TestBufferManagerSwap(t *testing.T) {
	buf, _ := newTestBuffer(t, 5, BufferConfig{Lookahead: 3, EvictTrail: 3, SampleRate: 22050})

	base := Segment{Index: 1, Text: "some words to speak", Tier: 0, AudioKey: "t0"}
	buf.Accept(base, []byte{1})

	sameTier := Segment{Index: 1, Text: "some words to speak", Tier: 0, AudioKey: "dup"}
	if buf.Swap(sameTier, []byte{9}) {
		t.Error("swap at the same tier should be rejected")
	}

	upgraded := Segment{Index: 1, Text: "some words to speak", Tier: 2, AudioKey: "t2"}
	if !buf.Swap(upgraded, []byte{7, 7}) {
		t.Fatal("strictly improving swap should be accepted")
	}

	h, ok := buf.Handles().Get(1)
	if !ok || h.Key != "t2" {
		t.Errorf("handle after swap = (%v, %v), want the upgraded audio", h, ok)
	}
	if got := buf.Progress().TierOf(1); got != 2 {
		t.Errorf("TierOf(1) = %d, want 2", got)
	}
}

func TestBufferManagerSwapWithoutHandle(t *testing.T) {
	buf, _ := newTestBuffer(t, 30, BufferConfig{Lookahead: 5, EvictTrail: 5, SampleRate: 22050})

	// Recorded but unbuffered (outside window): swap updates progress only.
	buf.Accept(Segment{Index: 20, Text: "some words to speak", Tier: 0, AudioKey: "t0"}, []byte{1})
	if !buf.Swap(Segment{Index: 20, Text: "some words to speak", Tier: 1, AudioKey: "t1"}, []byte{2}) {
		t.Fatal("swap should be accepted")
	}
	if buf.Ready(20) {
		t.Error("swap must not create a handle outside the window")
	}
}

func TestBufferManagerClearPending(t *testing.T) {
	factory := &scriptFactory{configure: func(e *scriptEngine) {
		e.delay = 30 * time.Millisecond
	}}
	coord := NewCoordinator(factory, nil, testCoordinatorConfig(), nil)
	t.Cleanup(func() { coord.Close() }) //nolint:errcheck

	buf := NewBufferManager(coord, testProgress("ch-1", 50), testLadder(), 0, BufferConfig{Lookahead: 20, EvictTrail: 5, SampleRate: 22050}, nil)
	t.Cleanup(buf.Close)

	buf.Advance(0)
	waitFor(t, 2*time.Second, func() bool { return buf.Ready(0) })
	buf.ClearPending()

	// The worker is at most one dispatch deep; far indices never ran.
	time.Sleep(100 * time.Millisecond)
	ready := 0
	for i := 0; i <= 20; i++ {
		if buf.Ready(i) {
			ready++
		}
	}
	if ready > 3 {
		t.Errorf("%d segments generated after ClearPending, want the queue dropped", ready)
	}
}

func TestBufferManagerCloseReleasesHandles(t *testing.T) {
	factory := &scriptFactory{}
	coord := NewCoordinator(factory, nil, testCoordinatorConfig(), nil)
	t.Cleanup(func() { coord.Close() }) //nolint:errcheck

	buf := NewBufferManager(coord, testProgress("ch-1", 4), testLadder(), 0, BufferConfig{Lookahead: 3, EvictTrail: 3, SampleRate: 22050}, nil)

	buf.Advance(0)
	waitFor(t, 2*time.Second, func() bool { return buf.Ready(0) && buf.Ready(3) })

	buf.Close()
	buf.Close() // idempotent

	if got := len(buf.Handles().Indices()); got != 0 {
		t.Errorf("%d live handles after Close, want 0", got)
	}
}
