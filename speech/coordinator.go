package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// CoordinatorConfig holds the dispatch tunables.
type CoordinatorConfig struct {
	// Timeout bounds one full generate call, retries included.
	Timeout time.Duration

	// MaxInFlight is the admission ceiling. Requests beyond it are
	// rejected immediately instead of queued.
	MaxInFlight int

	// RetryAttempts is the total number of engine dispatches per call.
	RetryAttempts int

	// RetryBaseDelay and RetryMaxDelay shape the backoff between attempts.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultCoordinatorConfig returns the stock dispatch tunables.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Timeout:        2 * time.Minute,
		MaxInFlight:    50,
		RetryAttempts:  3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  10 * time.Second,
	}
}

type flightKey struct {
	chapter string
	index   int
}

// flightCall is one in-flight generation shared by every caller asking for
// the same (chapter, index) at the same tier. The first caller runs it; the
// rest wait on done. A caller wanting a different tier is refused instead of
// joined, so upgrade results can never carry lower-tier audio.
type flightCall struct {
	done   chan struct{}
	cancel context.CancelFunc
	tier   int

	audio []byte
	err   error
}

// Coordinator dispatches segments to the engine with dedup, admission
// control, timeout, and classified retry. It is the only writer of the
// in-flight map and the only component that talks to the engine directly.
type Coordinator struct {
	factory EngineFactory
	cache   AudioCache
	cfg     CoordinatorConfig
	logger  *log.Logger

	mu      sync.Mutex
	engine  Engine
	flights map[flightKey]*flightCall
	restart *restartCall
	closed  bool
}

// NewCoordinator creates a coordinator. cache may be nil to disable result
// caching.
func NewCoordinator(factory EngineFactory, cache AudioCache, cfg CoordinatorConfig, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCoordinatorConfig().Timeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultCoordinatorConfig().MaxInFlight
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultCoordinatorConfig().RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultCoordinatorConfig().RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultCoordinatorConfig().RetryMaxDelay
	}
	return &Coordinator{
		factory: factory,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		flights: make(map[flightKey]*flightCall),
	}
}

// CacheKey derives the audio cache key for a generation request.
func CacheKey(text, voice string, tier int) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(tier)))
	return hex.EncodeToString(h.Sum(nil))
}

// Generate produces audio for one segment at the given tier configuration.
// Concurrent calls for the same (chapter, index) at the same tier share a
// single dispatch; a call at a different tier fails transient with
// ErrTierBusy rather than receive the running flight's audio. Failures come
// back as *GenError with the retry taxonomy applied.
func (c *Coordinator) Generate(ctx context.Context, chapterID string, seg Segment, tier int, cfg TierConfig) ([]byte, error) {
	key := flightKey{chapter: chapterID, index: seg.Index}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &GenError{Kind: KindCanceled, Chapter: chapterID, Index: seg.Index, Err: ErrClosed}
	}
	if f, ok := c.flights[key]; ok {
		if f.tier != tier {
			c.mu.Unlock()
			return nil, &GenError{Kind: KindTransient, Chapter: chapterID, Index: seg.Index, Err: ErrTierBusy}
		}
		c.mu.Unlock()
		return c.await(ctx, chapterID, seg.Index, f)
	}
	if len(c.flights) >= c.cfg.MaxInFlight {
		c.mu.Unlock()
		return nil, &GenError{Kind: KindTransient, Chapter: chapterID, Index: seg.Index, Err: ErrQueueFull}
	}

	// Flight context is detached from the first caller so late joiners
	// are not torn down by an early caller's cancellation. CancelAll and
	// the per-dispatch timeout are the only things that kill a flight.
	fctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	f := &flightCall{done: make(chan struct{}), cancel: cancel, tier: tier}
	c.flights[key] = f
	c.mu.Unlock()

	go c.run(fctx, key, f, seg, tier, cfg)

	return c.await(ctx, chapterID, seg.Index, f)
}

// InFlight returns the number of dispatches currently running.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flights)
}

// CancelAll fails every pending request with a cancellation error and
// discards the engine instance. It returns only after every flight has
// observably finished.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	pending := make([]*flightCall, 0, len(c.flights))
	for _, f := range c.flights {
		pending = append(pending, f)
	}
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()

	for _, f := range pending {
		f.cancel()
	}
	for _, f := range pending {
		<-f.done
	}

	if engine != nil {
		if err := engine.Close(); err != nil {
			c.logger.Warn("engine close failed", "error", err)
		}
	}
	c.logger.Debug("canceled all pending generation", "count", len(pending))
}

// Close shuts the coordinator down. Subsequent Generate calls fail with a
// cancellation error.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.CancelAll()
	return nil
}

func (c *Coordinator) await(ctx context.Context, chapterID string, index int, f *flightCall) ([]byte, error) {
	select {
	case <-f.done:
		return f.audio, f.err
	case <-ctx.Done():
		return nil, &GenError{Kind: KindCanceled, Chapter: chapterID, Index: index, Err: ctx.Err()}
	}
}

// run executes one flight to completion and publishes the result.
func (c *Coordinator) run(ctx context.Context, key flightKey, f *flightCall, seg Segment, tier int, cfg TierConfig) {
	audio, err := c.generateWithRetry(ctx, key, seg, tier, cfg)

	f.audio = audio
	f.err = err

	c.mu.Lock()
	delete(c.flights, key)
	c.mu.Unlock()

	f.cancel()
	close(f.done)
}

func (c *Coordinator) generateWithRetry(ctx context.Context, key flightKey, seg Segment, tier int, cfg TierConfig) ([]byte, error) {
	if seg.Text == "" {
		return nil, &GenError{Kind: KindPermanent, Chapter: key.chapter, Index: key.index, Err: ErrInvalidText}
	}

	cacheKey := CacheKey(seg.Text, cfg.Voice, tier)
	if c.cache != nil {
		if data, ok := c.cache.Get(cacheKey); ok {
			c.logger.Debug("cache hit", "chapter", key.chapter, "index", key.index, "tier", tier)
			return data, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		engine, err := c.getEngine(ctx)
		if err != nil {
			lastErr = err
			break
		}

		audio, err := engine.Generate(ctx, seg.Text, cfg)
		if err == nil {
			if c.cache != nil {
				if cerr := c.cache.Put(cacheKey, audio); cerr != nil {
					c.logger.Warn("cache put failed", "error", cerr)
				}
			}
			return audio, nil
		}
		lastErr = err

		kind := Classify(err)
		if ctx.Err() != nil {
			kind = classifyContext(ctx)
		}
		if !kind.Retryable() || attempt == c.cfg.RetryAttempts {
			return nil, &GenError{Kind: kind, Chapter: key.chapter, Index: key.index, Attempts: attempt, Err: err}
		}

		c.logger.Warn("generation attempt failed",
			"chapter", key.chapter, "index", key.index,
			"attempt", attempt, "kind", kind, "error", err)

		// An exhausted execution context will keep failing until it is
		// replaced, so restart before backing off.
		if IsMemoryError(err) {
			if rerr := c.restartEngine(ctx); rerr != nil {
				return nil, &GenError{Kind: KindTransient, Chapter: key.chapter, Index: key.index, Attempts: attempt, Err: rerr}
			}
		}

		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return nil, &GenError{Kind: classifyContext(ctx), Chapter: key.chapter, Index: key.index, Attempts: attempt, Err: ctx.Err()}
		}
	}

	kind := Classify(lastErr)
	if ctx.Err() != nil {
		kind = classifyContext(ctx)
	}
	return nil, &GenError{Kind: kind, Chapter: key.chapter, Index: key.index, Attempts: c.cfg.RetryAttempts, Err: lastErr}
}

// backoff returns the delay before the next attempt: exponential in the
// attempt number with up to 50% jitter, capped.
func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.RetryMaxDelay {
			d = c.cfg.RetryMaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	d += jitter
	if d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	return d
}

// getEngine returns the live engine, creating one on first use.
func (c *Coordinator) getEngine(ctx context.Context) (Engine, error) {
	c.mu.Lock()
	if c.engine != nil {
		e := c.engine
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	e, err := c.factory.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		// Lost the race; keep the winner.
		go e.Close()
		return c.engine, nil
	}
	c.engine = e
	return e, nil
}

// restartCall is one in-progress engine restart shared by every flight
// that hit a memory error at the same time.
type restartCall struct {
	done chan struct{}
	err  error
}

// restartEngine replaces the engine instance. Concurrent callers coalesce
// onto one in-progress restart and share its outcome.
func (c *Coordinator) restartEngine(ctx context.Context) error {
	c.mu.Lock()
	if c.restart != nil {
		r := c.restart
		c.mu.Unlock()
		select {
		case <-r.done:
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r := &restartCall{done: make(chan struct{})}
	c.restart = r
	old := c.engine
	c.engine = nil
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			c.logger.Warn("engine close during restart failed", "error", err)
		}
	}

	e, err := c.factory.New(ctx)

	c.mu.Lock()
	if err == nil {
		c.engine = e
	}
	c.restart = nil
	c.mu.Unlock()

	if err != nil {
		r.err = fmt.Errorf("restart engine: %w", err)
	}
	close(r.done)

	if r.err == nil {
		c.logger.Info("engine restarted after memory error")
	}
	return r.err
}

func classifyContext(ctx context.Context) ErrorKind {
	if ctx.Err() == context.DeadlineExceeded {
		return KindTimeout
	}
	return KindCanceled
}
