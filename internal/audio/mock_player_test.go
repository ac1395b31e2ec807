package audio

import (
	"testing"
	"time"

	"github.com/dgnsrekt/bookvoice/speech"
)

func clip(d time.Duration) *speech.Audio {
	return &speech.Audio{Data: []byte{1, 2, 3, 4}, SampleRate: 22050, Channels: 1, Duration: d}
}

func awaitDone(t *testing.T, done <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("clip did not finish in time")
	}
}

func TestMockPlayerFinishesClip(t *testing.T) {
	p := NewMockPlayer(0.001)

	if err := p.Play(clip(10 * time.Second)); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if !p.IsPlaying() {
		t.Error("IsPlaying() = false right after Play")
	}

	awaitDone(t, p.Done(), 2*time.Second)
	if p.IsPlaying() {
		t.Error("IsPlaying() = true after the clip finished")
	}
	if got := p.PlayCount(); got != 1 {
		t.Errorf("PlayCount() = %d, want 1", got)
	}
}

func TestMockPlayerRejectsEmptyAudio(t *testing.T) {
	p := NewMockPlayer(0.001)
	if err := p.Play(nil); err == nil {
		t.Error("Play(nil) succeeded")
	}
	if err := p.Play(&speech.Audio{}); err == nil {
		t.Error("Play(empty) succeeded")
	}
}

func TestMockPlayerInitialDoneIsClosed(t *testing.T) {
	p := NewMockPlayer(0.001)
	select {
	case <-p.Done():
	default:
		t.Error("fresh player's done channel should already be closed")
	}
}

func TestMockPlayerPauseHoldsDone(t *testing.T) {
	p := NewMockPlayer(0.01)

	if err := p.Play(clip(10 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := p.Pause(); err != nil {
		t.Fatal(err)
	}
	if p.IsPlaying() {
		t.Error("IsPlaying() = true while paused")
	}

	// The scaled clip would have finished by now were it not paused.
	select {
	case <-p.Done():
		t.Fatal("done closed while paused")
	case <-time.After(50 * time.Millisecond):
	}

	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	awaitDone(t, p.Done(), 2*time.Second)
	if got := p.PauseCount(); got != 1 {
		t.Errorf("PauseCount() = %d, want 1", got)
	}
}

func TestMockPlayerStopDoneNeverCloses(t *testing.T) {
	p := NewMockPlayer(0.01)

	if err := p.Play(clip(time.Second)); err != nil {
		t.Fatal(err)
	}
	done := p.Done()
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
		t.Fatal("stopped clip's done channel closed")
	case <-time.After(50 * time.Millisecond):
	}
	if p.IsPlaying() {
		t.Error("IsPlaying() = true after Stop")
	}
	if got := p.StopCount(); got != 1 {
		t.Errorf("StopCount() = %d, want 1", got)
	}
}

func TestMockPlayerPlayReplacesClip(t *testing.T) {
	p := NewMockPlayer(0.01)

	if err := p.Play(clip(time.Hour)); err != nil {
		t.Fatal(err)
	}
	first := p.Done()
	if err := p.Play(clip(10 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	second := p.Done()

	awaitDone(t, second, 2*time.Second)
	select {
	case <-first:
		t.Error("replaced clip's done channel closed")
	default:
	}
	if got := p.PlayCount(); got != 2 {
		t.Errorf("PlayCount() = %d, want 2", got)
	}
}

func TestMockPlayerSpeedScalesFinish(t *testing.T) {
	p := NewMockPlayer(0.01)
	if err := p.SetSpeed(0); err == nil {
		t.Error("SetSpeed(0) succeeded")
	}
	if err := p.SetSpeed(2.0); err != nil {
		t.Fatal(err)
	}

	// 10s clip at factor 0.01 and double speed finishes in about 50ms.
	start := time.Now()
	if err := p.Play(clip(10 * time.Second)); err != nil {
		t.Fatal(err)
	}
	awaitDone(t, p.Done(), 2*time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("clip took %v, speed not applied", elapsed)
	}
}

func TestMockPlayerPositionWhilePaused(t *testing.T) {
	p := NewMockPlayer(1.0)

	if err := p.Play(clip(time.Hour)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := p.Pause(); err != nil {
		t.Fatal(err)
	}

	pos := p.Position()
	if pos <= 0 {
		t.Errorf("Position() = %v while paused, want progress so far", pos)
	}
	time.Sleep(20 * time.Millisecond)
	if got := p.Position(); got != pos {
		t.Errorf("Position() drifted to %v while paused", got)
	}
}
