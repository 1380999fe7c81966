package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/on-the-ground/oak/effects"
	"github.com/on-the-ground/oak/effects/log"
	"github.com/on-the-ground/oak/internal/handlers"
	"go.uber.org/zap"
)

// ErrInvalidState wraps validator failures.
var ErrInvalidState = errors.New("invalid state")

// Store is the runtime handle. It owns the message bus, the dispatch loop,
// the notifier and the effect executor.
type Store[S any, M any] struct {
	id       string
	reduce   Reducer[S, M]
	validate func(S) error
	hooks    Hooks[S, M]
	logger   *zap.Logger
	log      bool

	// state is the latest reducer output. Only the dispatch loop touches it.
	state S

	bus      handlers.WorkerDispatcher[M]
	notifier *notifier[S]
	exec     *effects.Executor[M]

	stopped chan struct{}
	once    sync.Once
}

// New creates a store, publishes the initial state and submits the seed
// effect, if any. The dispatch loop is running when New returns.
//
// An initial state rejected by the validator panics with ErrInvalidState.
func New[S any, M any](reducer Reducer[S, M], initial Initial[S, M], opts ...Option[S, M]) *Store[S, M] {
	if reducer == nil || initial == nil {
		panic("store: nil reducer or initial")
	}
	cfg := newConfig(opts)
	id := uuid.NewString()
	logger := log.OrNop(cfg.logger).With(zap.String("store", id))

	seed := initial()
	if cfg.validate != nil {
		if err := cfg.validate(seed.State); err != nil {
			panic(fmt.Errorf("%w: initial state: %w", ErrInvalidState, err))
		}
	}

	s := &Store[S, M]{
		id:       id,
		reduce:   reducer,
		validate: cfg.validate,
		hooks:    cfg.hooks,
		logger:   logger,
		log:      cfg.log,
		state:    seed.State,
		stopped:  make(chan struct{}),
	}
	// The bus and the notifier only stop through Teardown.
	s.notifier = newNotifier(context.Background(), seed.State, cfg.equal, cfg.scope, logger)
	s.bus = handlers.NewSingleQueue(context.Background(), cfg.scope.BufferSize, s.handle)
	s.exec = effects.NewExecutor(cfg.ctx, s.Dispatch,
		effects.WithLogger(logger),
		effects.WithObserver(cfg.hooks.Effects),
	)
	if done := cfg.ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				s.logger.Debug("parent context done", zap.Error(cfg.ctx.Err()))
				s.Teardown()
			case <-s.stopped:
			}
		}()
	}

	if s.log {
		s.logger.Info("STATE", zap.Any("state", seed.State), zap.String("effect", effectName(seed.Effect)))
	}
	s.submit(seed.Effect)
	return s
}

// Dispatch enqueues msg for the dispatch loop. It never blocks, and it is a
// no-op once the store has been torn down.
func (s *Store[S, M]) Dispatch(msg M) {
	select {
	case <-s.stopped:
		return
	default:
	}
	if !s.bus.Send(msg) {
		s.logger.Debug("dropped message after teardown", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// State returns the last published state, the one Subscribe replays. With a
// custom WithEqual it can lag the reducer's latest output, which only the
// dispatch loop sees.
func (s *Store[S, M]) State() S {
	return s.notifier.current()
}

// Subscribe registers listener. It receives the current state first and then
// every later published state, in order, on a goroutine other than the
// caller's. The returned function unsubscribes and may be called repeatedly.
func (s *Store[S, M]) Subscribe(listener func(S)) func() {
	return s.notifier.subscribe(listener)
}

// Updates returns a channel of published states. It holds at most one
// undelivered value: a newer state replaces one the reader has not taken yet.
// The channel is closed when ctx ends or the store is torn down.
func (s *Store[S, M]) Updates(ctx context.Context) <-chan S {
	out := make(chan S, 1)

	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := s.Subscribe(func(state S) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case out <- state:
				return
			default:
			}
			select {
			case <-out:
			default:
			}
		}
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopped:
		}
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out
}

// Teardown stops the loop, cancels running effects, discards whatever they
// produce afterwards and stops listener delivery. It is idempotent and does
// not wait for the loop to exit; use Done for that.
func (s *Store[S, M]) Teardown() {
	s.once.Do(func() {
		close(s.stopped)
		s.bus.Close()
		s.exec.Close()
		s.notifier.close()
		s.logger.Debug("store torn down")
		log.Sync(s.logger)
	})
}

// Done returns a channel that closes when the dispatch loop exits.
func (s *Store[S, M]) Done() <-chan struct{} { return s.bus.Done() }

// handle processes one message. It only ever runs on the bus worker.
func (s *Store[S, M]) handle(_ context.Context, msg M) {
	defer s.recoverPanic()

	if s.hooks.OnMessage != nil {
		s.hooks.OnMessage(msg)
	}
	if s.log {
		s.logger.Info("MSG", zap.String("type", fmt.Sprintf("%T", msg)), zap.Any("msg", msg))
	}

	prev := s.state
	next := s.reduce(prev, msg)
	if s.validate != nil {
		if err := s.validate(next.State); err != nil {
			panic(fmt.Errorf("%w: after %T: %w", ErrInvalidState, msg, err))
		}
	}

	s.state = next.State

	if s.log {
		s.logger.Info("STATE", zap.Any("state", next.State), zap.String("effect", effectName(next.Effect)))
	}

	published := s.notifier.publish(next.State)
	if s.hooks.OnTransition != nil {
		s.hooks.OnTransition(prev, next.State, msg, published)
	}
	s.submit(next.Effect)
}

func (s *Store[S, M]) submit(eff *effects.Effect[M]) {
	if eff == nil {
		return
	}
	if _, err := s.exec.Submit(eff); err != nil {
		s.logger.Debug("effect not submitted", zap.String("effect", eff.Name()), zap.Error(err))
	}
}

func (s *Store[S, M]) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Error("dispatch loop panicked", zap.Any("panic", r))
	if s.hooks.OnPanic == nil {
		panic(r)
	}
	s.hooks.OnPanic(r)
	s.Teardown()
}

func effectName[M any](eff *effects.Effect[M]) string {
	if eff == nil {
		return ""
	}
	return eff.String()
}
