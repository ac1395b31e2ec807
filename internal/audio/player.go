// Package audio provides the playback device boundary: an oto-backed
// player for real output and a timer-driven mock for tests.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/bookvoice/speech"
)

// PlayerConfig configures the output device.
type PlayerConfig struct {
	SampleRate int // Device rate; clip data is resampled to match
	Channels   int // 1 = mono, 2 = stereo
	BufferSize time.Duration
}

// DefaultPlayerConfig returns the default device configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 44100,
		Channels:   1,
		BufferSize: 100 * time.Millisecond,
	}
}

// Player implements speech.AudioPlayer over an oto context. The clip's
// bytes are copied on Play so the caller may release its handle
// immediately; a speed change applies from the next clip.
type Player struct {
	context *oto.Context
	cfg     PlayerConfig

	mu         sync.Mutex
	player     *oto.Player
	clipData   []byte // kept alive for the duration of playback
	duration   time.Duration
	startTime  time.Time
	pausedAt   time.Duration
	totalPause time.Duration
	paused     bool
	speed      float64
	done       chan struct{}
	generation int
}

// NewPlayer opens the output device.
func NewPlayer(cfg PlayerConfig) (*Player, error) {
	if cfg.SampleRate != 44100 && cfg.SampleRate != 48000 {
		return nil, fmt.Errorf("sample rate must be 44100 or 48000, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", cfg.Channels)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultPlayerConfig().BufferSize
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	<-ready

	closedDone := make(chan struct{})
	close(closedDone)
	return &Player{
		context: ctx,
		cfg:     cfg,
		speed:   1.0,
		done:    closedDone,
	}, nil
}

// Play starts the clip, replacing whatever was playing.
func (p *Player) Play(audio *speech.Audio) error {
	if audio == nil || len(audio.Data) == 0 {
		return errors.New("audio data is empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	data := renderPCM(audio.Data, audio.SampleRate, p.cfg.SampleRate, p.cfg.Channels, p.speed)

	samples := len(data) / (2 * p.cfg.Channels)
	duration := time.Duration(samples) * time.Second / time.Duration(p.cfg.SampleRate)

	player := p.context.NewPlayer(bytes.NewReader(data))
	player.Play()

	p.player = player
	p.clipData = data
	p.duration = duration
	p.startTime = time.Now()
	p.pausedAt = 0
	p.totalPause = 0
	p.paused = false
	p.done = make(chan struct{})
	p.generation++

	go p.watch(p.generation, p.done)
	return nil
}

// Pause suspends playback in place.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil || p.paused {
		return nil
	}
	p.player.Pause()
	p.pausedAt = p.positionLocked()
	p.paused = true
	return nil
}

// Resume continues a paused clip.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil || !p.paused {
		return nil
	}
	p.player.Play()
	p.totalPause = time.Since(p.startTime) - p.pausedAt
	p.paused = false
	return nil
}

// Stop halts playback and discards the current clip.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

// stopLocked tears down the current clip. Lock must be held.
func (p *Player) stopLocked() {
	if p.player != nil {
		p.player.Pause()
		p.player.Close()
		p.player = nil
	}
	p.clipData = nil
	p.paused = false
	p.generation++
}

// SetSpeed sets the rate multiplier. Applies from the next Play.
func (p *Player) SetSpeed(speed float64) error {
	if speed < 0.25 || speed > 4.0 {
		return fmt.Errorf("speed %.2f out of range", speed)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = speed
	return nil
}

// Position returns the position within the current clip.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() time.Duration {
	if p.player == nil {
		return 0
	}
	if p.paused {
		return p.pausedAt
	}
	elapsed := time.Since(p.startTime) - p.totalPause
	if elapsed > p.duration {
		elapsed = p.duration
	}
	return elapsed
}

// IsPlaying reports whether audio is currently sounding.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.player != nil && !p.paused
}

// Done returns a channel closed when the current clip finishes.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// watch closes done once the clip has fully sounded. A stale generation
// means the clip was replaced or stopped; its done channel never closes.
func (p *Player) watch(gen int, done chan struct{}) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		if p.generation != gen {
			p.mu.Unlock()
			return
		}
		if !p.paused && p.positionLocked() >= p.duration && p.player != nil && !p.player.IsPlaying() {
			p.stopLocked()
			p.mu.Unlock()
			close(done)
			return
		}
		p.mu.Unlock()
	}
}

// Close releases the device.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

// renderPCM converts PCM16 mono clip data to the device rate and channel
// count, applying the speed multiplier by frame selection.
func renderPCM(data []byte, srcRate, dstRate, dstChannels int, speed float64) []byte {
	if srcRate <= 0 {
		srcRate = dstRate
	}
	if speed <= 0 {
		speed = 1.0
	}

	srcSamples := len(data) / 2
	step := float64(srcRate) / float64(dstRate) * speed
	dstSamples := int(float64(srcSamples) / step)
	if dstSamples <= 0 {
		dstSamples = srcSamples
		step = 1.0
	}

	out := make([]byte, 0, dstSamples*2*dstChannels)
	var buf [2]byte
	for i := 0; i < dstSamples; i++ {
		src := int(float64(i) * step)
		if src >= srcSamples {
			break
		}
		sample := int16(binary.LittleEndian.Uint16(data[src*2:]))
		binary.LittleEndian.PutUint16(buf[:], uint16(sample))
		for c := 0; c < dstChannels; c++ {
			out = append(out, buf[0], buf[1])
		}
	}
	return out
}
