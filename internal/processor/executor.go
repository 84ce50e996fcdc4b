/**
 * Extraction Executor
 *
 * Runs planned strategies against the recognition engine on a bounded worker
 * pool shared by every orchestration call in the process. Each attempt is
 * isolated: an error, panic or timeout drops only that attempt.
 */

package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// Attempt is the raw outcome of one strategy.
type Attempt struct {
	Strategy Strategy
	Text     string
	Err      error
	Duration time.Duration
}

// OK reports whether the attempt produced text.
func (a Attempt) OK() bool {
	return a.Err == nil && a.Text != ""
}

// Executor fans strategies out to the engine.
type Executor struct {
	pool           *ants.Pool
	engine         Engine
	attemptTimeout time.Duration
	logger         *logging.Logger

	busy atomic.Int64
}

// NewExecutor creates an executor with a pool of the given width.
func NewExecutor(engine Engine, poolSize int, attemptTimeout time.Duration, logger *logging.Logger) (*Executor, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if poolSize <= 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	pool, err := ants.NewPool(poolSize, ants.WithPanicHandler(func(p interface{}) {
		logger.Error("Worker pool task panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create extraction pool: %w", err)
	}

	return &Executor{
		pool:           pool,
		engine:         engine,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}, nil
}

// Run executes every strategy and returns one Attempt per strategy, in
// strategy order. If ctx ends first, Run returns ctx.Err() and no attempts;
// work still queued is skipped.
func (e *Executor) Run(ctx context.Context, strategies []Strategy) ([]Attempt, error) {
	results := make([]Attempt, len(strategies))
	if len(strategies) == 0 {
		return results, nil
	}

	var wg sync.WaitGroup
	wg.Add(len(strategies))
	submitErr := make(chan error, 1)

	go func() {
		for i := range strategies {
			idx := i
			task := func() {
				defer wg.Done()
				results[idx] = e.attempt(ctx, strategies[idx])
			}
			if err := e.pool.Submit(task); err != nil {
				// Remaining tasks never run; release their slots.
				for j := idx; j < len(strategies); j++ {
					wg.Done()
				}
				submitErr <- fmt.Errorf("submit strategy %s: %w", strategies[idx], err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	select {
	case err := <-submitErr:
		return nil, err
	default:
	}
	return results, nil
}

// attempt runs one strategy with its own deadline and panic isolation.
func (e *Executor) attempt(ctx context.Context, s Strategy) (a Attempt) {
	a.Strategy = s
	e.busy.Add(1)
	defer e.busy.Add(-1)
	if err := ctx.Err(); err != nil {
		a.Err = err
		return a
	}

	start := time.Now()
	defer func() {
		a.Duration = time.Since(start)
		if r := recover(); r != nil {
			a.Text = ""
			a.Err = fmt.Errorf("engine panic: %v", r)
		}
		if a.Err != nil {
			a.Err = errors.NewStrategyFailedError("", s.String(), a.Err)
			e.logger.Debug("Strategy failed", "strategy", s.String(), "error", a.Err, "duration", a.Duration)
		}
	}()

	attemptCtx := ctx
	if e.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.attemptTimeout)
		defer cancel()
	}

	text, err := e.engine.Recognize(attemptCtx, s.Variant.Pixels, s.Language, s.Profile)
	if err != nil {
		a.Err = err
		return a
	}
	if attemptCtx.Err() != nil {
		a.Err = attemptCtx.Err()
		return a
	}
	a.Text = text
	return a
}

// Close releases the pool, waiting briefly for running attempts.
func (e *Executor) Close() {
	if err := e.pool.ReleaseTimeout(5 * time.Second); err != nil {
		e.logger.Warn("Extraction pool did not drain", "error", err)
	}
}

// Running returns the number of attempts currently executing.
func (e *Executor) Running() int {
	return int(e.busy.Load())
}

// Capacity returns the pool width.
func (e *Executor) Capacity() int {
	return e.pool.Cap()
}
