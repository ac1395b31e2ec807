// Package book loads plain-text or markdown books and serves their
// chapters to a playback session.
package book

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/dgnsrekt/bookvoice/speech"
)

// chapterHeading matches markdown headings and conventional chapter lines
// such as "Chapter 7" or "CHAPTER XII".
var chapterHeading = regexp.MustCompile(`(?i)^(#{1,3}\s+.+|chapter\s+[0-9ivxlc]+.*)$`)

// Book is a parsed document. It implements speech.ChapterProvider.
type Book struct {
	id       string
	title    string
	chapters []speech.Chapter
	byID     map[string]speech.Chapter
}

// Parse reads a document and splits it into chapters on headings. A
// document without headings becomes a single chapter titled after the
// source name.
func Parse(name string, r io.Reader) (*Book, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read book: %w", err)
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("book %q is empty", name)
	}

	sum := sha256.Sum256(raw)
	b := &Book{
		id:    hex.EncodeToString(sum[:8]),
		title: name,
		byID:  make(map[string]speech.Chapter),
	}

	var (
		title string
		body  strings.Builder
	)
	flush := func() {
		if strings.TrimSpace(body.String()) == "" {
			body.Reset()
			return
		}
		n := len(b.chapters) + 1
		if title == "" {
			title = fmt.Sprintf("Chapter %d", n)
		}
		ch := speech.Chapter{
			ID:    fmt.Sprintf("ch-%03d", n),
			Title: title,
			Text:  strings.TrimSpace(body.String()),
		}
		b.chapters = append(b.chapters, ch)
		b.byID[ch.ID] = ch
		title = ""
		body.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if chapterHeading.MatchString(strings.TrimSpace(line)) {
			flush()
			title = headingTitle(line)
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan book: %w", err)
	}
	flush()

	if len(b.chapters) == 0 {
		return nil, fmt.Errorf("book %q has no speakable text", name)
	}
	return b, nil
}

func headingTitle(line string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "# "))
}

// ID returns a stable identifier derived from the book's content.
func (b *Book) ID() string {
	return b.id
}

// Title returns the source name the book was parsed from.
func (b *Book) Title() string {
	return b.title
}

// Chapters returns the chapters in reading order.
func (b *Book) Chapters() []speech.Chapter {
	out := make([]speech.Chapter, len(b.chapters))
	copy(out, b.chapters)
	return out
}

// Chapter returns the chapter with the given ID. Implements
// speech.ChapterProvider.
func (b *Book) Chapter(_ context.Context, id string) (speech.Chapter, error) {
	ch, ok := b.byID[id]
	if !ok {
		return speech.Chapter{}, fmt.Errorf("chapter %q: %w", id, speech.ErrNoChapter)
	}
	return ch, nil
}
