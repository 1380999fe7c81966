// Package store runs a pure reducer against a stream of messages.
//
// The core idea is:
//   - A single goroutine (the dispatch loop) owns the state.
//   - A pure Reducer turns (state, message) into the next state and at most
//     one effect.
//   - An effects.Executor runs the effect and dispatches whatever it emits back
//     through the same path as external messages.
//   - Subscribers see the initial state on subscribe and then every state that
//     is not structurally equal to the one published before it.
//
// Example:
//
//	s := store.New(reduce, store.Seed(store.Next[State, Msg]{State: State{}}),
//	    store.WithLog[State, Msg](true),
//	)
//	defer s.Teardown()
//
//	unsubscribe := s.Subscribe(func(st State) { render(st) })
//	defer unsubscribe()
//	s.Dispatch(Add{X: 10, Y: 20})
package store
