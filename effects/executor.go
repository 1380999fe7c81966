package effects

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/on-the-ground/oak/effects/log"
	"go.uber.org/zap"
)

var (
	ErrNoEffect       = errors.New("no effect")
	ErrExecutorClosed = errors.New("executor closed")
	ErrPanicked       = errors.New("effect panicked")
)

// Execution identifies one run of an effect.
type Execution struct {
	ID     string
	Effect string
	Params any
	Span   TimeSpan
}

// Failure is the diagnostic record of an execution that ended in an error
// which had no error-to-message mapping.
type Failure struct {
	Execution
	Err error
}

func (f Failure) Error() string {
	return fmt.Sprintf("effect %s (%s) failed: %v", f.Effect, f.ID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Observer receives lifecycle notifications from an Executor. Any field may be
// nil. Callbacks run on the execution's goroutine.
type Observer struct {
	OnStart   func(Execution)
	OnFinish  func(Execution, error)
	OnFailure func(Failure)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	logger   *zap.Logger
	observer Observer
}

// WithLogger sets the diagnostic sink. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(c *executorConfig) { c.logger = logger }
}

// WithObserver attaches lifecycle callbacks.
func WithObserver(o Observer) ExecutorOption {
	return func(c *executorConfig) { c.observer = o }
}

// Executor runs effects concurrently and feeds their messages to sink.
//
//   - Every Submit spawns one supervised goroutine; executions race freely.
//   - A panic inside an effect is recovered and treated as a failure.
//   - Close cancels the shared context. In-flight work may still finish, but
//     whatever it emits or returns afterwards is discarded.
type Executor[M any] struct {
	sink     func(M)
	logger   *zap.Logger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex // guards wg.Add against Close
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewExecutor creates an executor whose executions run under ctx.
func NewExecutor[M any](ctx context.Context, sink func(M), opts ...ExecutorOption) *Executor[M] {
	cfg := executorConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Executor[M]{
		sink:     sink,
		logger:   log.OrNop(cfg.logger),
		observer: cfg.observer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit starts eff in the background and returns its execution id.
func (x *Executor[M]) Submit(eff *Effect[M]) (string, error) {
	if eff == nil {
		return "", ErrNoEffect
	}
	x.mu.Lock()
	if x.discarding() {
		x.mu.Unlock()
		return "", fmt.Errorf("%w: dropped effect %s", ErrExecutorClosed, eff.name)
	}
	x.wg.Add(1)
	x.mu.Unlock()

	exec := Execution{
		ID:     uuid.NewString(),
		Effect: eff.name,
		Params: eff.params,
	}
	ready := make(chan struct{})
	go func() {
		defer x.wg.Done()
		close(ready)
		x.execute(eff, exec)
	}()
	<-ready
	return exec.ID, nil
}

func (x *Executor[M]) execute(eff *Effect[M], exec Execution) {
	ctx, cancel := context.WithCancel(x.ctx)
	defer cancel()

	start := time.Now()
	exec.Span = NewTimeSpan(start, start)
	if x.observer.OnStart != nil {
		x.observer.OnStart(exec)
	}
	x.logger.Debug("effect started",
		zap.String("effect", exec.Effect),
		zap.String("executionId", exec.ID),
	)

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
		exec.Span = NewTimeSpan(start, time.Now())
		x.finish(eff, exec, err)
	}()

	err = eff.run(ctx, func(msg M) {
		if x.discarding() {
			x.logger.Debug("discarded effect result after close",
				zap.String("effect", exec.Effect),
				zap.String("executionId", exec.ID),
			)
			return
		}
		x.sink(msg)
	})
}

func (x *Executor[M]) finish(eff *Effect[M], exec Execution, err error) {
	if x.observer.OnFinish != nil {
		x.observer.OnFinish(exec, err)
	}
	if err == nil {
		x.logger.Debug("effect finished",
			zap.String("effect", exec.Effect),
			zap.String("executionId", exec.ID),
			zap.Duration("elapsed", exec.Span.Duration()),
		)
		return
	}
	if x.discarding() {
		x.logger.Debug("discarded effect failure after close",
			zap.String("effect", exec.Effect),
			zap.String("executionId", exec.ID),
			zap.Error(err),
		)
		return
	}
	if eff.onError != nil {
		x.logger.Debug("effect failure mapped to message",
			zap.String("effect", exec.Effect),
			zap.String("executionId", exec.ID),
			zap.Error(err),
		)
		x.sink(eff.onError(err))
		return
	}

	failure := Failure{Execution: exec, Err: err}
	x.logger.Error("effect failed",
		zap.String("effect", exec.Effect),
		zap.String("executionId", exec.ID),
		zap.Any("params", exec.Params),
		zap.Time("startedAt", exec.Span.Start()),
		zap.Duration("elapsed", exec.Span.Duration()),
		zap.Error(err),
	)
	if x.observer.OnFailure != nil {
		x.observer.OnFailure(failure)
	}
}

func (x *Executor[M]) discarding() bool {
	return x.closed.Load() || x.ctx.Err() != nil
}

// Close cancels all executions and discards their future results.
// It is safe to call multiple times.
func (x *Executor[M]) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed.CompareAndSwap(false, true) {
		x.cancel()
		x.logger.Debug("executor closed")
	}
}

// Wait blocks until every execution started so far has returned.
func (x *Executor[M]) Wait() {
	x.wg.Wait()
}
