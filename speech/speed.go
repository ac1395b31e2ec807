package speech

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSpeedOutOfRange is returned when a speed is outside the valid range.
var ErrSpeedOutOfRange = errors.New("speed must be between 0.5 and 2.0")

// SpeedControl manages the playback rate multiplier with predefined steps.
type SpeedControl struct {
	mu      sync.RWMutex
	current float64
	steps   []float64
}

// NewSpeedControl creates a speed control at normal speed.
func NewSpeedControl() *SpeedControl {
	return &SpeedControl{
		current: 1.0,
		steps:   []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0},
	}
}

// Speed returns the current multiplier.
func (s *SpeedControl) Speed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set sets the multiplier directly. Values outside [0.5, 2.0] are rejected.
func (s *SpeedControl) Set(speed float64) error {
	if speed < 0.5 || speed > 2.0 {
		return fmt.Errorf("set speed %.2f: %w", speed, ErrSpeedOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = speed
	return nil
}

// Increase moves to the next higher step and returns the new multiplier.
func (s *SpeedControl) Increase() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range s.steps {
		if step > s.current {
			s.current = step
			break
		}
	}
	return s.current
}

// Decrease moves to the next lower step and returns the new multiplier.
func (s *SpeedControl) Decrease() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.steps) - 1; i >= 0; i-- {
		if s.steps[i] < s.current {
			s.current = s.steps[i]
			break
		}
	}
	return s.current
}

// Display returns a human-readable description of the current speed.
func (s *SpeedControl) Display() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.current {
	case 1.0:
		return "1.0x (Normal)"
	case 2.0:
		return "2.0x (Double Speed)"
	default:
		return fmt.Sprintf("%.2fx", s.current)
	}
}
