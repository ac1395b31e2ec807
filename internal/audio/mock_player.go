package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/dgnsrekt/bookvoice/speech"
)

// MockPlayer implements speech.AudioPlayer without a device. Clips
// "finish" on a timer scaled by the configured time factor, so tests run
// fast while exercising the full completion path.
type MockPlayer struct {
	mu sync.Mutex

	// TimeFactor scales clip durations; 0.01 plays a 10s clip in 100ms.
	// Zero means real time.
	timeFactor float64

	playing    bool
	paused     bool
	duration   time.Duration
	startTime  time.Time
	pausedAt   time.Duration
	totalPause time.Duration
	speed      float64
	done       chan struct{}
	timer      *time.Timer

	playCount  int
	pauseCount int
	stopCount  int
	played     []time.Duration
}

// NewMockPlayer creates a mock player finishing clips at the time factor.
func NewMockPlayer(timeFactor float64) *MockPlayer {
	if timeFactor <= 0 {
		timeFactor = 1.0
	}
	closedDone := make(chan struct{})
	close(closedDone)
	return &MockPlayer{
		timeFactor: timeFactor,
		speed:      1.0,
		done:       closedDone,
	}
}

// Play starts a simulated clip.
func (p *MockPlayer) Play(audio *speech.Audio) error {
	if audio == nil || len(audio.Data) == 0 {
		return errors.New("audio data is empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	duration := audio.Duration
	if duration <= 0 {
		duration = 100 * time.Millisecond
	}
	scaled := time.Duration(float64(duration) * p.timeFactor / p.speed)
	if scaled <= 0 {
		scaled = time.Millisecond
	}

	p.playing = true
	p.paused = false
	p.duration = duration
	p.startTime = time.Now()
	p.pausedAt = 0
	p.totalPause = 0
	p.playCount++
	p.played = append(p.played, duration)

	done := make(chan struct{})
	p.done = done
	p.timer = time.AfterFunc(scaled, func() {
		p.mu.Lock()
		if p.done == done && p.playing && !p.paused {
			p.playing = false
			p.mu.Unlock()
			close(done)
			return
		}
		p.mu.Unlock()
	})
	return nil
}

// Pause suspends the simulated clip.
func (p *MockPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing || p.paused {
		return nil
	}
	p.paused = true
	p.pausedAt = time.Since(p.startTime) - p.totalPause
	p.pauseCount++
	if p.timer != nil {
		p.timer.Stop()
	}
	return nil
}

// Resume continues the simulated clip; the remaining time is rescheduled.
func (p *MockPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing || !p.paused {
		return nil
	}
	p.paused = false
	p.totalPause = time.Since(p.startTime) - p.pausedAt

	remaining := p.duration - p.pausedAt
	scaled := time.Duration(float64(remaining) * p.timeFactor / p.speed)
	if scaled <= 0 {
		scaled = time.Millisecond
	}
	done := p.done
	p.timer = time.AfterFunc(scaled, func() {
		p.mu.Lock()
		if p.done == done && p.playing && !p.paused {
			p.playing = false
			p.mu.Unlock()
			close(done)
			return
		}
		p.mu.Unlock()
	})
	return nil
}

// Stop discards the simulated clip; its done channel never closes.
func (p *MockPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.stopCount++
	return nil
}

func (p *MockPlayer) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.playing = false
	p.paused = false
}

// SetSpeed sets the rate multiplier for subsequent clips.
func (p *MockPlayer) SetSpeed(speed float64) error {
	if speed <= 0 {
		return errors.New("speed must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = speed
	return nil
}

// Position returns the simulated position.
func (p *MockPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return 0
	}
	if p.paused {
		return p.pausedAt
	}
	pos := time.Duration(float64(time.Since(p.startTime)-p.totalPause) / p.timeFactor)
	if pos > p.duration {
		pos = p.duration
	}
	return pos
}

// IsPlaying reports whether a simulated clip is sounding.
func (p *MockPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.paused
}

// Done returns the completion channel for the current clip.
func (p *MockPlayer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// PlayCount returns how many clips were started.
func (p *MockPlayer) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playCount
}

// PauseCount returns how many times Pause took effect.
func (p *MockPlayer) PauseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauseCount
}

// StopCount returns how many times Stop was called.
func (p *MockPlayer) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCount
}
