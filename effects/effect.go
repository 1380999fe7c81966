package effects

import (
	"context"
	"fmt"

	"github.com/on-the-ground/oak/shared/helper"
)

// RunFunc performs the work of an effect. It emits zero or more messages, in
// order, and returns once the sequence has ended. A non-nil error sends the
// execution down the failure path.
//
// Implementations should watch ctx: it is cancelled when the owning runtime is
// torn down.
type RunFunc[M any] func(ctx context.Context, emit func(M)) error

// Effect is an inert description of one unit of asynchronous work.
//
// Only an Executor runs it. An Effect is immutable once constructed; OnError
// returns a copy.
type Effect[M any] struct {
	name    string
	params  any
	run     RunFunc[M]
	onError func(error) M
}

// New builds an effect from a push-style work function. It is the most general
// constructor: every other constructor is expressed with it.
func New[M any](name string, params any, run RunFunc[M]) *Effect[M] {
	if run == nil {
		panic(fmt.Sprintf("effects: nil run function for effect %q", name))
	}
	return &Effect[M]{name: name, params: params, run: run}
}

// Single builds an effect that resolves to exactly one message.
func Single[M any](name string, params any, fn func(context.Context) (M, error)) *Effect[M] {
	return New(name, params, func(ctx context.Context, emit func(M)) error {
		msg, err := fn(ctx)
		if err != nil {
			return err
		}
		emit(msg)
		return nil
	})
}

// Stream builds an effect from a channel source. Every value received is
// emitted; the sequence ends when the channel is closed.
func Stream[M any](name string, params any, open func(context.Context) (<-chan M, error)) *Effect[M] {
	return New(name, params, func(ctx context.Context, emit func(M)) error {
		source, err := open(ctx)
		if err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-source:
				if !ok {
					return nil
				}
				emit(msg)
			}
		}
	})
}

// Of builds an effect that emits msgs as they are. With no msgs it is an
// effect with an empty result, which is not the same as no effect at all.
func Of[M any](name string, msgs ...M) *Effect[M] {
	return New(name, nil, func(_ context.Context, emit func(M)) error {
		for _, msg := range msgs {
			emit(msg)
		}
		return nil
	})
}

func (e *Effect[M]) Name() string { return e.name }

func (e *Effect[M]) Params() any { return e.params }

// OnError returns a copy of e whose failures are turned into a message
// instead of being logged and dropped.
func (e *Effect[M]) OnError(toMsg func(error) M) *Effect[M] {
	cp := *e
	cp.onError = toMsg
	return &cp
}

// MapsErrors reports whether failures of e are turned into messages.
func (e *Effect[M]) MapsErrors() bool { return e.onError != nil }

func (e *Effect[M]) String() string {
	if e.params == nil {
		return e.name
	}
	return fmt.Sprintf("%s(%+v)", e.name, e.params)
}

// ParamsOf returns the params of eff as a P.
func ParamsOf[P any, M any](eff *Effect[M]) (P, error) {
	return helper.GetTypedValueOf[P](func() (any, error) {
		if eff == nil {
			return nil, ErrNoEffect
		}
		return eff.params, nil
	})
}

// MustParamsOf is ParamsOf for tests and callers that built eff themselves.
func MustParamsOf[P any, M any](eff *Effect[M]) P {
	return helper.MustGetTypedValue[P](func() (any, error) {
		if eff == nil {
			return nil, ErrNoEffect
		}
		return eff.params, nil
	})
}
