// Package mock provides a mock speech engine for testing.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/bookvoice/speech"
)

// Engine implements speech.Engine with deterministic silence output and
// scriptable failures.
type Engine struct {
	mu sync.Mutex

	sampleRate int
	delay      time.Duration

	// scripted is consumed one error per call before alwaysFail applies.
	scripted   []error
	alwaysFail error

	callCount int
	closed    bool
}

// New creates a mock engine producing PCM16 silence at the sample rate.
func New(sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &Engine{sampleRate: sampleRate}
}

// SetDelay sets a simulated processing delay per call.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// ScriptErrors queues errors returned by the next calls, in order. A nil
// entry makes that call succeed.
func (e *Engine) ScriptErrors(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripted = append(e.scripted, errs...)
}

// SetFailure makes every call fail with err once the script is exhausted.
// Pass nil to restore success.
func (e *Engine) SetFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alwaysFail = err
}

// CallCount returns how many Generate calls the engine has seen.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCount
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Generate produces silence sized by a 150 words-per-minute estimate.
func (e *Engine) Generate(ctx context.Context, text string, cfg speech.TierConfig) ([]byte, error) {
	e.mu.Lock()
	e.callCount++
	if e.closed {
		e.mu.Unlock()
		return nil, speech.ErrClosed
	}
	var scripted error
	hasScripted := false
	if len(e.scripted) > 0 {
		scripted = e.scripted[0]
		e.scripted = e.scripted[1:]
		hasScripted = true
	}
	delay := e.delay
	alwaysFail := e.alwaysFail
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if hasScripted {
		if scripted != nil {
			return nil, scripted
		}
	} else if alwaysFail != nil {
		return nil, alwaysFail
	}

	if strings.TrimSpace(text) == "" {
		return nil, speech.ErrInvalidText
	}

	words := len(strings.Fields(text))
	seconds := float64(words) * 60.0 / 150.0
	samples := int(seconds * float64(e.sampleRate))
	if samples < e.sampleRate/10 {
		samples = e.sampleRate / 10
	}
	return make([]byte, samples*2), nil
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Factory creates mock engines and tracks how many were made, so tests can
// observe engine restarts.
type Factory struct {
	mu         sync.Mutex
	sampleRate int
	created    int
	last       *Engine

	// Configure hooks each new engine before it is returned. May be nil.
	Configure func(*Engine)
}

// NewFactory creates a factory producing engines at the sample rate.
func NewFactory(sampleRate int) *Factory {
	return &Factory{sampleRate: sampleRate}
}

// New implements speech.EngineFactory.
func (f *Factory) New(ctx context.Context) (speech.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := New(f.sampleRate)
	if f.Configure != nil {
		f.Configure(e)
	}
	f.created++
	f.last = e
	return e, nil
}

// Created returns how many engines the factory has built.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Last returns the most recently built engine.
func (f *Factory) Last() *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
