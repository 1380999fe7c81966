package store

import "github.com/on-the-ground/oak/effects"

// Next is what a reducer returns: the state to adopt and, optionally, one
// effect to run. A nil Effect means there is no further asynchronous work. An
// effect whose result is empty is not the same thing: it is still submitted.
type Next[S any, M any] struct {
	State  S
	Effect *effects.Effect[M]
}

// NextOf returns a Next with no effect.
func NextOf[M any, S any](state S) Next[S, M] {
	return Next[S, M]{State: state}
}

// NextWith returns a Next carrying eff.
func NextWith[S any, M any](state S, eff *effects.Effect[M]) Next[S, M] {
	return Next[S, M]{State: state, Effect: eff}
}

// HasEffect reports whether the reducer asked for asynchronous work.
func (n Next[S, M]) HasEffect() bool { return n.Effect != nil }

// Reducer is a pure state transition function.
//
// Reducers must be side-effect free and total over M. An unhandled message
// variant is a programming error and should panic.
type Reducer[S any, M any] func(state S, msg M) Next[S, M]

// Initial produces the seed Next of a store.
type Initial[S any, M any] func() Next[S, M]

// Seed uses a literal Next as the initial state and effect.
func Seed[S any, M any](next Next[S, M]) Initial[S, M] {
	return func() Next[S, M] { return next }
}

// InitFunc computes the initial Next once, when the store is created.
func InitFunc[S any, M any](fn func() Next[S, M]) Initial[S, M] {
	return Initial[S, M](fn)
}

// Step applies a reducer to a single (state, msg) pair.
//
// This is a testing utility for reducer-level unit tests. It does not execute
// the returned effect.
func Step[S any, M any](reducer Reducer[S, M], state S, msg M) Next[S, M] {
	return reducer(state, msg)
}
