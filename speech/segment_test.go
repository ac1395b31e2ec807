package speech

import (
	"testing"
	"time"
)

func testSegments(n int) []Segment {
	segs := make([]Segment, n)
	for i := range segs {
		segs[i] = Segment{Index: i, Text: "segment text", Tier: -1}
	}
	return segs
}

func TestChapterProgressSetIfAbsent(t *testing.T) {
	p := NewChapterProgress("ch-1", testSegments(3))

	first := Segment{Index: 1, Text: "segment text", Tier: 0, AudioKey: "a"}
	if !p.SetIfAbsent(first) {
		t.Fatal("first SetIfAbsent should succeed")
	}
	if p.SetIfAbsent(Segment{Index: 1, Tier: 2, AudioKey: "b"}) {
		t.Error("second SetIfAbsent for the same index should be rejected")
	}

	got, ok := p.Get(1)
	if !ok || got.AudioKey != "a" {
		t.Errorf("Get(1) = (%+v, %v), want the first result kept", got, ok)
	}
	if p.GeneratedCount() != 1 {
		t.Errorf("GeneratedCount() = %d, want 1", p.GeneratedCount())
	}
}

func TestChapterProgressUpgradeMonotonic(t *testing.T) {
	p := NewChapterProgress("ch-1", testSegments(2))
	p.SetIfAbsent(Segment{Index: 0, Tier: 1, AudioKey: "t1"})

	tests := []struct {
		name     string
		seg      Segment
		accepted bool
	}{
		{"same tier rejected", Segment{Index: 0, Tier: 1, AudioKey: "dup"}, false},
		{"lower tier rejected", Segment{Index: 0, Tier: 0, AudioKey: "down"}, false},
		{"higher tier accepted", Segment{Index: 0, Tier: 2, AudioKey: "t2"}, true},
		{"stale tier after upgrade rejected", Segment{Index: 0, Tier: 1, AudioKey: "late"}, false},
		{"ungenerated index rejected", Segment{Index: 1, Tier: 2, AudioKey: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Upgrade(tt.seg); got != tt.accepted {
				t.Errorf("Upgrade() = %v, want %v", got, tt.accepted)
			}
		})
	}

	if got := p.TierOf(0); got != 2 {
		t.Errorf("TierOf(0) = %d, want 2", got)
	}
	if got := p.TierOf(1); got != -1 {
		t.Errorf("TierOf(1) = %d, want -1 for ungenerated", got)
	}
}

func TestChapterProgressGeneratedIndices(t *testing.T) {
	p := NewChapterProgress("ch-1", testSegments(5))
	for _, i := range []int{3, 0, 4} {
		p.SetIfAbsent(Segment{Index: i, Tier: 0})
	}

	got := p.GeneratedIndices()
	want := []int{0, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("GeneratedIndices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("GeneratedIndices()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestChapterProgressProcessingIndex(t *testing.T) {
	p := NewChapterProgress("ch-1", testSegments(3))
	if got := p.ProcessingIndex(); got != -1 {
		t.Errorf("initial ProcessingIndex() = %d, want -1", got)
	}

	p.SetGenerating(true)
	p.SetProcessingIndex(2)
	if got := p.ProcessingIndex(); got != 2 {
		t.Errorf("ProcessingIndex() = %d, want 2", got)
	}
	if !p.Generating() {
		t.Error("Generating() = false, want true")
	}

	p.SetGenerating(false)
	if got := p.ProcessingIndex(); got != -1 {
		t.Errorf("ProcessingIndex() after fast pass = %d, want -1", got)
	}
}

func TestChapterProgressEstimateDuration(t *testing.T) {
	p := NewChapterProgress("ch-1", testSegments(3))
	p.SetIfAbsent(Segment{Index: 0, Tier: 0, Duration: 10 * time.Second})

	words := map[int]int{0: 100, 1: 165, 2: 330}
	got := p.EstimateDuration(words, 165)

	// Real duration for 0, one minute for 1, two minutes for 2.
	want := 10*time.Second + time.Minute + 2*time.Minute
	if got != want {
		t.Errorf("EstimateDuration() = %v, want %v", got, want)
	}

	// Zero wpm falls back to the default rate.
	if p.EstimateDuration(words, 0) == 0 {
		t.Error("EstimateDuration with zero wpm should use the default rate")
	}
}

func TestPCMDuration(t *testing.T) {
	tests := []struct {
		name       string
		byteLen    int
		sampleRate int
		expected   time.Duration
	}{
		{"one second", 44100, 22050, time.Second},
		{"half second", 22050, 22050, 500 * time.Millisecond},
		{"zero rate", 44100, 0, 0},
		{"empty", 0, 22050, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PCMDuration(tt.byteLen, tt.sampleRate); got != tt.expected {
				t.Errorf("PCMDuration() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		text     string
		expected int
	}{
		{"", 0},
		{"one", 1},
		{"two words", 2},
		{"  padded   with\tspaces\nand lines ", 5},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := countWords(tt.text); got != tt.expected {
				t.Errorf("countWords(%q) = %d, want %d", tt.text, got, tt.expected)
			}
		})
	}
}
