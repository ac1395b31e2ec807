package book

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/bookvoice/speech"
)

func TestParseMarkdownHeadings(t *testing.T) {
	src := `# The Beginning
It started on a Tuesday.

## A Turn
Things changed quickly.

# The End
It was over by Friday.`

	b, err := Parse("novel", strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	chapters := b.Chapters()
	if len(chapters) != 3 {
		t.Fatalf("len(Chapters()) = %d, want 3", len(chapters))
	}

	tests := []struct {
		id    string
		title string
		text  string
	}{
		{"ch-001", "The Beginning", "It started on a Tuesday."},
		{"ch-002", "A Turn", "Things changed quickly."},
		{"ch-003", "The End", "It was over by Friday."},
	}
	for i, tt := range tests {
		ch := chapters[i]
		if ch.ID != tt.id || ch.Title != tt.title || ch.Text != tt.text {
			t.Errorf("chapter %d = %+v, want %+v", i, ch, tt)
		}
	}
}

func TestParseChapterLines(t *testing.T) {
	src := `Chapter 1
First chapter text.

CHAPTER XII
Roman numerals work too.`

	b, err := Parse("classic", strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	chapters := b.Chapters()
	if len(chapters) != 2 {
		t.Fatalf("len(Chapters()) = %d, want 2", len(chapters))
	}
	if chapters[0].Title != "Chapter 1" {
		t.Errorf("title = %q, want Chapter 1", chapters[0].Title)
	}
	if chapters[1].Text != "Roman numerals work too." {
		t.Errorf("text = %q", chapters[1].Text)
	}
}

func TestParseNoHeadings(t *testing.T) {
	b, err := Parse("plain", strings.NewReader("Just a body of text.\nNo structure at all."))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	chapters := b.Chapters()
	if len(chapters) != 1 {
		t.Fatalf("len(Chapters()) = %d, want 1", len(chapters))
	}
	if chapters[0].Title != "Chapter 1" {
		t.Errorf("title = %q, want the default", chapters[0].Title)
	}
	if !strings.Contains(chapters[0].Text, "No structure at all.") {
		t.Errorf("text = %q, want the full body", chapters[0].Text)
	}
}

func TestParsePreHeadingContent(t *testing.T) {
	src := `A short preamble before any heading.

# Chapter Proper
The actual chapter.`

	b, err := Parse("pre", strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	chapters := b.Chapters()
	if len(chapters) != 2 {
		t.Fatalf("len(Chapters()) = %d, want preamble plus chapter", len(chapters))
	}
	if chapters[0].Title != "Chapter 1" {
		t.Errorf("preamble title = %q, want the default", chapters[0].Title)
	}
	if chapters[1].Title != "Chapter Proper" {
		t.Errorf("title = %q", chapters[1].Title)
	}
}

func TestParseCRLF(t *testing.T) {
	src := "# One\r\nWindows line endings.\r\n"
	b, err := Parse("crlf", strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := b.Chapters()[0].Text; got != "Windows line endings." {
		t.Errorf("text = %q", got)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, src := range []string{"", "   \n\t\n"} {
		if _, err := Parse("empty", strings.NewReader(src)); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", src)
		}
	}
}

func TestParseStableID(t *testing.T) {
	src := "# One\nSame content."
	a, err := Parse("a", strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse("b", strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() != b.ID() {
		t.Errorf("IDs differ for identical content: %q vs %q", a.ID(), b.ID())
	}
	if len(a.ID()) != 16 {
		t.Errorf("ID length = %d, want 16 hex chars", len(a.ID()))
	}
}

func TestChapterLookup(t *testing.T) {
	b, err := Parse("novel", strings.NewReader("# One\nFirst.\n# Two\nSecond."))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := b.Chapter(context.Background(), "ch-002")
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}
	if ch.Title != "Two" || ch.Text != "Second." {
		t.Errorf("Chapter() = %+v", ch)
	}

	if _, err := b.Chapter(context.Background(), "ch-999"); !errors.Is(err, speech.ErrNoChapter) {
		t.Errorf("Chapter(missing) error = %v, want ErrNoChapter", err)
	}
}
