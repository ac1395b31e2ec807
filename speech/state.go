package speech

import "time"

// StateType represents the current state of playback.
type StateType int

const (
	// StateStopped indicates no chapter is playing.
	StateStopped StateType = iota
	// StateLoading indicates a chapter is being split and prepared.
	StateLoading
	// StatePlaying indicates audio is sounding.
	StatePlaying
	// StateBuffering indicates the cursor reached a segment whose audio is
	// not ready yet. Entered from Playing, exited back to Playing.
	StateBuffering
	// StatePaused indicates playback is suspended in place.
	StatePaused
	// StateEnded indicates the cursor ran past the last segment.
	StateEnded
	// StateError indicates playback stopped on an unrecoverable failure.
	StateError
)

// String returns the string representation of the state.
func (s StateType) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateBuffering:
		return "buffering"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Cursor is the single source of truth for what is audible now. Mutated
// only by the session; observers get read-only snapshots.
type Cursor struct {
	SegmentIndex int           // Current segment (0-based)
	Total        int           // Total segments in the chapter
	Position     time.Duration // Position within the current segment
	Duration     time.Duration // Duration of the current segment
	Playing      bool          // Audio is sounding
	Buffering    bool          // Waiting on generation
}

// StateMachine manages playback state transitions.
type StateMachine struct {
	current     StateType
	transitions map[StateType][]StateType
	onEnter     map[StateType]func()
	onExit      map[StateType]func()
}

// NewStateMachine creates a state machine with the valid playback
// transitions.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateStopped,
		transitions: map[StateType][]StateType{
			StateStopped:   {StateLoading},
			StateLoading:   {StatePlaying, StateBuffering, StatePaused, StateStopped, StateError},
			StatePlaying:   {StatePaused, StateBuffering, StateEnded, StateStopped, StateError},
			StateBuffering: {StatePlaying, StatePaused, StateStopped, StateError},
			StatePaused:    {StatePlaying, StateBuffering, StateStopped},
			StateEnded:     {StateLoading, StatePlaying, StateBuffering, StateStopped},
			StateError:     {StateStopped, StateLoading},
		},
		onEnter: make(map[StateType]func()),
		onExit:  make(map[StateType]func()),
	}
}

// Transition attempts to transition to the specified state. It returns
// false and leaves the machine unchanged when the move is not allowed.
func (sm *StateMachine) Transition(to StateType) bool {
	valid := false
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	if exitFn, ok := sm.onExit[sm.current]; ok && exitFn != nil {
		exitFn()
	}

	sm.current = to

	if enterFn, ok := sm.onEnter[to]; ok && enterFn != nil {
		enterFn()
	}

	return true
}

// Current returns the current state.
func (sm *StateMachine) Current() StateType {
	return sm.current
}

// OnEnter registers a callback for entering a state.
func (sm *StateMachine) OnEnter(state StateType, fn func()) {
	sm.onEnter[state] = fn
}

// OnExit registers a callback for exiting a state.
func (sm *StateMachine) OnExit(state StateType, fn func()) {
	sm.onExit[state] = fn
}
