package store

import (
	"context"
	"reflect"

	"github.com/on-the-ground/oak/internal/model"
	"go.uber.org/zap"
)

// Option configures a Store.
type Option[S any, M any] func(*config[S, M])

type config[S any, M any] struct {
	ctx      context.Context
	logger   *zap.Logger
	log      bool
	equal    func(a, b S) bool
	validate func(S) error
	hooks    Hooks[S, M]
	scope    model.ScopeConfig
}

func newConfig[S any, M any](opts []Option[S, M]) config[S, M] {
	cfg := config[S, M]{
		ctx:   context.Background(),
		equal: func(a, b S) bool { return reflect.DeepEqual(a, b) },
		scope: model.NewScopeConfig(0, 0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLog writes every accepted message and every reducer output to the
// logger at info level.
func WithLog[S any, M any](enabled bool) Option[S, M] {
	return func(c *config[S, M]) { c.log = enabled }
}

// WithLogger sets the diagnostic sink. Defaults to a no-op logger.
func WithLogger[S any, M any](logger *zap.Logger) Option[S, M] {
	return func(c *config[S, M]) { c.logger = logger }
}

// WithEqual replaces the structural equality used to suppress duplicate
// publications.
func WithEqual[S any, M any](equal func(a, b S) bool) Option[S, M] {
	return func(c *config[S, M]) {
		if equal != nil {
			c.equal = equal
		}
	}
}

// WithValidator checks every reducer output before it is published. A
// validation failure panics the loop with ErrInvalidState.
func WithValidator[S any, M any](validate func(S) error) Option[S, M] {
	return func(c *config[S, M]) { c.validate = validate }
}

// WithHooks attaches hooks for observability. It may be given more than once;
// hooks run in the order they were added.
func WithHooks[S any, M any](hooks Hooks[S, M]) Option[S, M] {
	return func(c *config[S, M]) { c.hooks = c.hooks.merge(hooks) }
}

// WithScope sizes the mailboxes and the number of subscriber delivery workers.
// Non-positive values keep the defaults.
func WithScope[S any, M any](bufferSize, numWorkers int) Option[S, M] {
	return func(c *config[S, M]) { c.scope = model.NewScopeConfig(bufferSize, numWorkers) }
}

// WithContext sets the parent context of every effect execution. Cancelling
// it tears the store down.
func WithContext[S any, M any](ctx context.Context) Option[S, M] {
	return func(c *config[S, M]) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}
