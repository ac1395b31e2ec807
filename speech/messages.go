package speech

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Events emitted by the session. Each doubles as a Bubble Tea message so a
// host program can feed the event channel straight into its update loop.

// StateChangedMsg indicates the playback state has changed.
type StateChangedMsg struct {
	State     StateType
	PrevState StateType
	ChapterID string
	Segment   int
	Timestamp time.Time
}

// SegmentChangedMsg indicates the cursor moved to a new segment.
type SegmentChangedMsg struct {
	Index    int
	Text     string
	Duration time.Duration
	Progress float64 // Progress through the chapter (0.0 to 1.0)
}

// PositionMsg is a periodic position report for the current segment.
type PositionMsg struct {
	Position time.Duration
	Duration time.Duration
	Index    int
}

// BufferingMsg indicates the buffering sub-state was entered or exited.
type BufferingMsg struct {
	Index     int
	Buffering bool
}

// SegmentUpgradedMsg indicates a segment's audio was regenerated at a
// higher tier.
type SegmentUpgradedMsg struct {
	ChapterID string
	Index     int
	Tier      int
}

// SpeedChangedMsg indicates the playback rate changed.
type SpeedChangedMsg struct {
	Speed float64
}

// EndedMsg indicates the cursor ran past the last segment.
type EndedMsg struct {
	ChapterID string
}

// PlaybackErrorMsg indicates playback stopped on an unrecoverable failure.
type PlaybackErrorMsg struct {
	Err       error
	ChapterID string
	Index     int
}

// WaitForEvent returns a command that delivers the session's next event to
// a Bubble Tea program. Re-issue it after each received message.
func WaitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}
