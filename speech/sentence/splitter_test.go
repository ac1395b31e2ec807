package sentence

import (
	"reflect"
	"testing"
	"time"
)

func TestSplitterSplit(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			"simple sentences",
			"The door opened. Nobody came in. It closed again.",
			[]string{"The door opened.", "Nobody came in.", "It closed again."},
		},
		{
			"question and exclamation",
			"Who goes there? Stop! Answer me.",
			[]string{"Who goes there?", "Stop!", "Answer me."},
		},
		{
			"abbreviation does not split",
			"Dr. Watson arrived late. He apologized.",
			[]string{"Dr. Watson arrived late.", "He apologized."},
		},
		{
			"multi-part abbreviation",
			"She lives in the U.S. now. It suits her.",
			[]string{"She lives in the U.S. now.", "It suits her."},
		},
		{
			"decimal number does not split",
			"The pi approximation 3.14 sufficed. Nobody complained.",
			[]string{"The pi approximation 3.14 sufficed.", "Nobody complained."},
		},
		{
			"ellipsis stays in one sentence",
			"He hesitated... then spoke. The room listened.",
			[]string{"He hesitated... then spoke.", "The room listened."},
		},
		{
			"trailing quote belongs to the sentence",
			`"Leave now." She pointed at the door.`,
			[]string{`"Leave now."`, "She pointed at the door."},
		},
		{
			"lowercase continuation does not split",
			"A full sentence here. and a trailing fragment",
			[]string{"A full sentence here. and a trailing fragment"},
		},
		{
			"no terminal punctuation at all",
			"a bare line of text with no period",
			[]string{"a bare line of text with no period"},
		},
		{
			"whitespace collapsed",
			"Spaces   and\n\nnewlines  collapse. Tabs\ttoo.",
			[]string{"Spaces and newlines collapse.", "Tabs too."},
		},
		{
			"short fragments dropped",
			"A. A real sentence follows the grunt.",
			[]string{"A real sentence follows the grunt."},
		},
		{
			"empty input",
			"",
			[]string{},
		},
		{
			"whitespace only",
			"   \n\t  ",
			[]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSplitter()
			got := s.Split(tt.text)
			if len(got) == 0 && len(tt.expected) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Split() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSplitterDeterministic(t *testing.T) {
	text := "First one. Second one! A third? And then some trailing words"
	s := NewSplitter()
	first := s.Split(text)
	for i := 0; i < 10; i++ {
		if got := s.Split(text); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: Split() = %q, want %q", i, got, first)
		}
	}
}

func TestWordCount(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"plain words", "one two three", 3},
		{"extra whitespace", "  one \t two\n three  ", 3},
		{"empty", "", 0},
		{"single word", "word", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WordCount(tt.text); got != tt.expected {
				t.Errorf("WordCount() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestEstimateDuration(t *testing.T) {
	s := NewSplitter()

	// 165 plain words at 165 wpm is one minute.
	words := make([]byte, 0, 165*2)
	for i := 0; i < 165; i++ {
		words = append(words, "go "...)
	}
	got := s.EstimateDuration(string(words))
	if got < 55*time.Second || got > 65*time.Second {
		t.Errorf("EstimateDuration(165 words) = %v, want about a minute", got)
	}

	// Empty text still returns a nonzero estimate.
	if got := s.EstimateDuration(""); got <= 0 {
		t.Errorf("EstimateDuration(\"\") = %v, want > 0", got)
	}
}

func TestEstimateDurationComplexitySlowsDown(t *testing.T) {
	s := NewSplitter()
	plain := "the cat sat on the mat and looked around quietly"
	dense := "the 12 cats, 34 dogs, 56 birds: 78 of 90"

	if s.EstimateDuration(dense) <= s.EstimateDuration(plain) {
		t.Error("numbers and punctuation should slow the estimate down")
	}
}

func TestSetWordsPerMinute(t *testing.T) {
	text := "ten short words make up this one test sentence here"

	slow := NewSplitter()
	slow.SetWordsPerMinute(80)
	fast := NewSplitter()
	fast.SetWordsPerMinute(300)

	if slow.EstimateDuration(text) <= fast.EstimateDuration(text) {
		t.Error("lower wpm should yield a longer estimate")
	}

	// Nonpositive rates are ignored.
	def := NewSplitter()
	def.SetWordsPerMinute(0)
	if def.EstimateDuration(text) != NewSplitter().EstimateDuration(text) {
		t.Error("SetWordsPerMinute(0) should leave the rate unchanged")
	}
}
