// Package metrics records store activity as Prometheus metrics.
//
// A Collector is built once per registry and turned into store hooks:
//
//	c := metrics.NewCollector(prometheus.DefaultRegisterer, "oak")
//	s := store.New(reduce, initial, store.WithHooks(metrics.Hooks[State, Msg](c)))
package metrics

import (
	"fmt"

	"github.com/on-the-ground/oak/effects"
	"github.com/on-the-ground/oak/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the metric vectors shared by every store it observes.
type Collector struct {
	Messages       *prometheus.CounterVec
	Publications   prometheus.Counter
	Suppressed     prometheus.Counter
	Panics         prometheus.Counter
	EffectRuns     *prometheus.CounterVec
	EffectFailures *prometheus.CounterVec
	EffectDuration *prometheus.HistogramVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Messages processed by the dispatch loop, by message type.",
			},
			[]string{"type"},
		),
		Publications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_total",
			Help:      "States handed to subscribers.",
		}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppressed_total",
			Help:      "Reducer outputs dropped as duplicates of the last published state.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_total",
			Help:      "Panics recovered in the dispatch loop.",
		}),
		EffectRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "effect_runs_total",
				Help:      "Effect executions started, by effect name.",
			},
			[]string{"effect"},
		),
		EffectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "effect_failures_total",
				Help:      "Effect executions that failed without an error mapping, by effect name.",
			},
			[]string{"effect"},
		),
		EffectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "effect_duration_seconds",
				Help:      "Duration of effect executions, by effect name.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"effect"},
		),
	}

	for _, m := range []prometheus.Collector{
		c.Messages, c.Publications, c.Suppressed, c.Panics,
		c.EffectRuns, c.EffectFailures, c.EffectDuration,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// Hooks returns store hooks that feed c. OnPanic is left nil so that
// combining these hooks does not change how the store handles a panic.
func Hooks[S any, M any](c *Collector) store.Hooks[S, M] {
	return store.Hooks[S, M]{
		OnMessage: func(msg M) {
			c.Messages.WithLabelValues(fmt.Sprintf("%T", msg)).Inc()
		},
		OnTransition: func(_, _ S, _ M, published bool) {
			if published {
				c.Publications.Inc()
				return
			}
			c.Suppressed.Inc()
		},
		Effects: effects.Observer{
			OnStart: func(e effects.Execution) {
				c.EffectRuns.WithLabelValues(e.Effect).Inc()
			},
			OnFinish: func(e effects.Execution, _ error) {
				c.EffectDuration.WithLabelValues(e.Effect).Observe(e.Span.Duration().Seconds())
			},
			OnFailure: func(f effects.Failure) {
				c.EffectFailures.WithLabelValues(f.Effect).Inc()
			},
		},
	}
}

// PanicHook counts a recovered panic and then calls next, which may be nil.
func PanicHook(c *Collector, next func(any)) func(any) {
	return func(r any) {
		c.Panics.Inc()
		if next != nil {
			next(r)
		}
	}
}
