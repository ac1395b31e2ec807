// Package store persists generated segment audio in SQLite, keyed by
// (book, chapter, segment index). An existing row is only replaced when
// the incoming quality tier is at least as high, so upgrades can land in
// any order without regressing stored audio.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/dgnsrekt/bookvoice/speech"
)

// Store wraps a SQLite-backed segment audio store. It implements
// speech.SegmentStore.
type Store struct {
	db     *sql.DB
	logger *log.Logger
	clock  func() time.Time
}

// Open initializes the store at path, creating the schema on first use.
func Open(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS segments (
    book_id TEXT NOT NULL,
    chapter_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    text TEXT NOT NULL,
    words INTEGER NOT NULL,
    audio_key TEXT NOT NULL,
    duration_ns INTEGER NOT NULL,
    tier INTEGER NOT NULL,
    audio BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY(book_id, chapter_id, idx)
);
CREATE TABLE IF NOT EXISTS chapter_audio (
    book_id TEXT NOT NULL,
    chapter_id TEXT NOT NULL,
    audio BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY(book_id, chapter_id)
);
CREATE INDEX IF NOT EXISTS idx_segments_chapter ON segments(book_id, chapter_id, idx);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutSegment stores or upgrades a segment's audio. The conflict clause
// refuses tier downgrades at the database level.
func (s *Store) PutSegment(ctx context.Context, bookID, chapterID string, seg speech.Segment, audio []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(book_id, chapter_id, idx, text, words, audio_key, duration_ns, tier, audio, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(book_id, chapter_id, idx) DO UPDATE SET
		     text=excluded.text,
		     words=excluded.words,
		     audio_key=excluded.audio_key,
		     duration_ns=excluded.duration_ns,
		     tier=excluded.tier,
		     audio=excluded.audio,
		     updated_at=excluded.updated_at
		 WHERE excluded.tier >= segments.tier`,
		bookID, chapterID, seg.Index, seg.Text, seg.Words, seg.AudioKey,
		seg.Duration.Nanoseconds(), seg.Tier, audio, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("put segment %d: %w", seg.Index, err)
	}
	return nil
}

// GetSegments returns the chapter's stored segments ordered by index.
// Audio blobs are not loaded; fetch them by key through GetSegmentAudio.
func (s *Store) GetSegments(ctx context.Context, bookID, chapterID string) ([]speech.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, text, words, audio_key, duration_ns, tier
		 FROM segments WHERE book_id = ? AND chapter_id = ?
		 ORDER BY idx`,
		bookID, chapterID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []speech.Segment
	for rows.Next() {
		var seg speech.Segment
		var durNs int64
		if err := rows.Scan(&seg.Index, &seg.Text, &seg.Words, &seg.AudioKey, &durNs, &seg.Tier); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Duration = time.Duration(durNs)
		out = append(out, seg)
	}
	return out, rows.Err()
}

// GetSegmentAudio returns one segment's audio blob.
func (s *Store) GetSegmentAudio(ctx context.Context, bookID, chapterID string, index int) ([]byte, error) {
	var audio []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT audio FROM segments WHERE book_id = ? AND chapter_id = ? AND idx = ?`,
		bookID, chapterID, index).Scan(&audio)
	if err == sql.ErrNoRows {
		return nil, speech.ErrInvalidSegmentIndex
	}
	if err != nil {
		return nil, fmt.Errorf("get segment audio %d: %w", index, err)
	}
	return audio, nil
}

// PutChapterAudio stores a merged chapter file.
func (s *Store) PutChapterAudio(ctx context.Context, bookID, chapterID string, audio []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapter_audio(book_id, chapter_id, audio, updated_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(book_id, chapter_id) DO UPDATE SET
		     audio=excluded.audio, updated_at=excluded.updated_at`,
		bookID, chapterID, audio, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("put chapter audio: %w", err)
	}
	return nil
}

// GetChapterAudio returns a previously merged chapter file.
func (s *Store) GetChapterAudio(ctx context.Context, bookID, chapterID string) ([]byte, error) {
	var audio []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT audio FROM chapter_audio WHERE book_id = ? AND chapter_id = ?`,
		bookID, chapterID).Scan(&audio)
	if err == sql.ErrNoRows {
		return nil, speech.ErrNoChapter
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter audio: %w", err)
	}
	return audio, nil
}

// Prune deletes every row for a book, reclaiming space after a library
// removal.
func (s *Store) Prune(ctx context.Context, bookID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("prune segments: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chapter_audio WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("prune chapter audio: %w", err)
	}
	return nil
}
