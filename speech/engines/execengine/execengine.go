// Package execengine drives an external synthesizer binary, one process
// per request, reading raw PCM16 from its stdout.
package execengine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/bookvoice/speech"
)

// Config describes the external binary.
type Config struct {
	// Binary is the synthesizer executable (e.g. "piper").
	Binary string

	// ModelDir holds the per-voice model files.
	ModelDir string

	// ExtraArgs are appended to every invocation.
	ExtraArgs []string
}

// Engine shells out to the configured binary for each request. The tier
// configuration selects the model file and execution hints.
type Engine struct {
	cfg    Config
	logger *log.Logger
}

// New creates an exec engine.
func New(cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Generate runs one synthesis process and returns its raw PCM16 output.
func (e *Engine) Generate(ctx context.Context, text string, cfg speech.TierConfig) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, speech.ErrInvalidText
	}
	if cfg.Voice == "" {
		return nil, speech.ErrVoiceUnavailable
	}

	args := []string{
		"--model", e.modelPath(cfg),
		"--output-raw",
	}
	if cfg.Precision != "" {
		args = append(args, "--precision", cfg.Precision)
	}
	if cfg.Device != "" {
		args = append(args, "--device", cfg.Device)
	}
	args = append(args, e.cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	cmd.Stdin = bytes.NewBufferString(text + "\n")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s failed: %s: %w", e.cfg.Binary, msg, err)
		}
		return nil, fmt.Errorf("%s failed: %w", e.cfg.Binary, err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("%s produced no audio: %w", e.cfg.Binary, speech.ErrGenerationFailed)
	}

	e.logger.Debug("synthesized", "voice", cfg.Voice, "bytes", len(output))
	return output, nil
}

// Close is a no-op; each request owns its process.
func (e *Engine) Close() error {
	return nil
}

func (e *Engine) modelPath(cfg speech.TierConfig) string {
	if e.cfg.ModelDir == "" {
		return cfg.Voice
	}
	return e.cfg.ModelDir + "/" + cfg.Voice
}

// Factory builds exec engines. Restarts are cheap since the engine holds
// no long-lived process.
type Factory struct {
	cfg    Config
	logger *log.Logger
}

// NewFactory creates a factory for the configured binary.
func NewFactory(cfg Config, logger *log.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// New implements speech.EngineFactory.
func (f *Factory) New(ctx context.Context) (speech.Engine, error) {
	if f.cfg.Binary == "" {
		return nil, fmt.Errorf("exec engine: no binary configured")
	}
	if _, err := exec.LookPath(f.cfg.Binary); err != nil {
		return nil, fmt.Errorf("exec engine: %w", err)
	}
	return New(f.cfg, f.logger), nil
}
