package store

import "github.com/on-the-ground/oak/effects"

// Hooks provide optional observability into a store's execution. Any field
// may be nil.
type Hooks[S any, M any] struct {
	// OnMessage is called after a message is dequeued, before reducing.
	OnMessage func(msg M)
	// OnTransition is called after reducing. published reports whether the
	// new state was handed to subscribers or suppressed as a duplicate.
	OnTransition func(prev S, next S, msg M, published bool)
	// OnPanic is called when the loop panics, after which the store is torn
	// down. If nil, panics propagate to crash.
	OnPanic func(recovered any)
	// Effects observes the executor.
	Effects effects.Observer
}

// merge returns hooks that call h first and then o.
func (h Hooks[S, M]) merge(o Hooks[S, M]) Hooks[S, M] {
	return Hooks[S, M]{
		OnMessage:    chain1(h.OnMessage, o.OnMessage),
		OnTransition: chainTransition(h.OnTransition, o.OnTransition),
		OnPanic:      chain1(h.OnPanic, o.OnPanic),
		Effects: effects.Observer{
			OnStart:   chain1(h.Effects.OnStart, o.Effects.OnStart),
			OnFinish:  chain2(h.Effects.OnFinish, o.Effects.OnFinish),
			OnFailure: chain1(h.Effects.OnFailure, o.Effects.OnFailure),
		},
	}
}

func chain1[A any](f, g func(A)) func(A) {
	switch {
	case f == nil:
		return g
	case g == nil:
		return f
	}
	return func(a A) {
		f(a)
		g(a)
	}
}

func chain2[A, B any](f, g func(A, B)) func(A, B) {
	switch {
	case f == nil:
		return g
	case g == nil:
		return f
	}
	return func(a A, b B) {
		f(a, b)
		g(a, b)
	}
}

func chainTransition[S, M any](f, g func(S, S, M, bool)) func(S, S, M, bool) {
	switch {
	case f == nil:
		return g
	case g == nil:
		return f
	}
	return func(prev, next S, msg M, published bool) {
		f(prev, next, msg, published)
		g(prev, next, msg, published)
	}
}
