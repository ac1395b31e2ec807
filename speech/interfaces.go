// Package speech implements the segmented generation-and-playback pipeline:
// a generation coordinator with retry and dedup, a lookahead buffer manager,
// a two-pass adaptive quality scheduler, and the playback state machine that
// ties them together. Parsing, synthesis, storage, and presentation are
// external collaborators behind the interfaces in this file.
package speech

import (
	"context"
	"time"
)

// Engine is the external text-to-speech capability: given text and a tier
// configuration, produce raw audio bytes. Implementations may be slow,
// flaky, and resource-variable; the coordinator owns retry and timeout.
type Engine interface {
	// Generate synthesizes audio for the text. The returned bytes are
	// PCM16 mono at the engine's configured sample rate.
	Generate(ctx context.Context, text string, cfg TierConfig) ([]byte, error)

	// Close releases the engine's execution context.
	Close() error
}

// EngineFactory creates engine instances. The coordinator uses it to
// restart the engine after memory-class failures.
type EngineFactory interface {
	New(ctx context.Context) (Engine, error)
}

// Chapter is the unit handed over by the out-of-scope parsing subsystem.
type Chapter struct {
	ID    string
	Title string
	Text  string
}

// ChapterProvider hands over parsed chapters. Document parsing and
// chaptering live behind this interface.
type ChapterProvider interface {
	Chapter(ctx context.Context, id string) (Chapter, error)
}

// SegmentStore persists generated audio keyed by (book, chapter, index).
type SegmentStore interface {
	// PutSegment stores or upgrades a segment's audio. An existing row is
	// only replaced when the incoming tier is at least as high.
	PutSegment(ctx context.Context, bookID, chapterID string, seg Segment, audio []byte) error

	// GetSegments returns the chapter's stored segments ordered by index.
	GetSegments(ctx context.Context, bookID, chapterID string) ([]Segment, error)

	// PutChapterAudio stores a merged chapter file.
	PutChapterAudio(ctx context.Context, bookID, chapterID string, audio []byte) error

	// GetChapterAudio returns a previously merged chapter file.
	GetChapterAudio(ctx context.Context, bookID, chapterID string) ([]byte, error)
}

// AudioCache deduplicates generation work across sessions, keyed by
// (text, voice, tier).
type AudioCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// Audio is a playable clip.
type Audio struct {
	Data       []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// AudioPlayer is the playback device boundary. Play is non-blocking; Done
// reports completion of the most recent clip.
type AudioPlayer interface {
	// Play starts the clip, replacing whatever was playing.
	Play(audio *Audio) error

	// Pause suspends playback in place.
	Pause() error

	// Resume continues a paused clip.
	Resume() error

	// Stop halts playback and discards the current clip.
	Stop() error

	// SetSpeed adjusts the playback rate multiplier.
	SetSpeed(speed float64) error

	// Position returns the position within the current clip.
	Position() time.Duration

	// IsPlaying reports whether audio is currently sounding.
	IsPlaying() bool

	// Done returns a channel closed when the current clip finishes. Each
	// Play call installs a fresh channel.
	Done() <-chan struct{}
}

// SystemProbe reports host capability for the resource monitor. Any method
// may fail when the host exposes no such signal; the monitor treats probe
// failure as permission to proceed.
type SystemProbe interface {
	// TotalMemoryBytes returns installed memory.
	TotalMemoryBytes() (uint64, error)

	// FreeMemoryBytes returns currently available memory.
	FreeMemoryBytes() (uint64, error)

	// HeapUtilization returns the process heap fill ratio in [0,1].
	HeapUtilization() (float64, error)

	// PowerState reports whether the host runs on battery and whether it
	// is charging.
	PowerState() (onBattery, charging bool, err error)

	// NumCPU returns the logical CPU count.
	NumCPU() int
}
