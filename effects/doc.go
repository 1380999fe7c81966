// Package effects describes asynchronous side effects as data and runs them.
//
// An Effect is an inert value: a name, optional params, and a work function
// that emits zero or more messages. Reducers return effects instead of doing
// I/O; an Executor runs them on supervised goroutines and hands every emitted
// message back to its sink, which in a store is the dispatch path itself.
//
// # Result shapes
//
// A single eventual value (Single), a channel of values (Stream), known values
// (Of), and arbitrary push-style sequences (New) all normalize to the same
// thing: an ordered, asynchronous sequence of messages of length 0..N that may
// or may not terminate.
//
// # Failures
//
// A work function that returns an error, or panics, fails its execution only.
// If the effect was built with OnError the error becomes a message; otherwise
// the failure is logged and reported to the Observer, and nothing is emitted.
//
// Example:
//
//	eff := effects.Single("lookup", key, func(ctx context.Context) (Msg, error) {
//	    v, err := repo.Get(ctx, key)
//	    return Found{Value: v}, err
//	}).OnError(func(err error) Msg { return LookupFailed{Err: err} })
//
// Built-in effects live in the delay and httpget subpackages.
package effects
