// Package delay provides timer effects.
package delay

import (
	"context"
	"time"

	"github.com/on-the-ground/oak/effects"
)

const (
	NameAfter = "delay"
	NameEvery = "interval"
)

// Params describes a timer effect.
type Params struct {
	Duration time.Duration
}

// After resolves to one message, built by msgFn, once d has elapsed.
// The timer is stopped if the runtime is torn down first.
func After[M any](d time.Duration, msgFn func() M) *effects.Effect[M] {
	return effects.Single(NameAfter, Params{Duration: d}, func(ctx context.Context) (M, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			var zero M
			return zero, ctx.Err()
		case <-timer.C:
			return msgFn(), nil
		}
	})
}

// Every emits a message every d until the runtime is torn down. The sequence
// never ends on its own.
func Every[M any](d time.Duration, msgFn func(time.Time) M) *effects.Effect[M] {
	return effects.New(NameEvery, Params{Duration: d}, func(ctx context.Context, emit func(M)) error {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case t := <-ticker.C:
				emit(msgFn(t))
			}
		}
	})
}
