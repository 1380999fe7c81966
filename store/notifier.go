package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/on-the-ground/oak/internal/handlers"
	"github.com/on-the-ground/oak/internal/model"
	"go.uber.org/zap"
)

// delivery is one state bound for one listener.
type delivery[S any] struct {
	key   string
	state S
}

func (d delivery[S]) PartitionKey() string { return d.key }

// notifier holds the last published state and fans it out to listeners.
//
// Deliveries for the same listener go through the same worker, so each
// listener sees states in publication order. A slow listener delays only the
// listeners that share its worker, never the dispatch loop.
type notifier[S any] struct {
	logger *zap.Logger
	equal  func(a, b S) bool
	queue  handlers.WorkerDispatcher[delivery[S]]

	mu        sync.Mutex
	last      S
	listeners map[string]func(S)
	closed    bool
}

func newNotifier[S any](
	ctx context.Context,
	initial S,
	equal func(a, b S) bool,
	scope model.ScopeConfig,
	logger *zap.Logger,
) *notifier[S] {
	n := &notifier[S]{
		logger:    logger,
		equal:     equal,
		last:      initial,
		listeners: map[string]func(S){},
	}
	n.queue = handlers.NewPartitionedQueue(ctx, scope.NumWorkers, scope.BufferSize, n.deliver)
	return n
}

// publish records next and fans it out, unless it equals the last published
// state. It reports whether next was published.
func (n *notifier[S]) publish(next S) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.equal(n.last, next) {
		return false
	}
	n.last = next
	for key := range n.listeners {
		n.queue.Send(delivery[S]{key: key, state: next})
	}
	return true
}

// current is the last published state.
func (n *notifier[S]) current() S {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// subscribe registers listener and replays the current state to it.
func (n *notifier[S]) subscribe(listener func(S)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return func() {}
	}

	key := uuid.NewString()
	n.listeners[key] = listener
	n.queue.Send(delivery[S]{key: key, state: n.last})
	n.logger.Debug("listener subscribed", zap.String("listener", key))

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.listeners, key)
			n.logger.Debug("listener unsubscribed", zap.String("listener", key))
		})
	}
}

// deliver runs on a queue worker. The listener is looked up at delivery time
// so an unsubscribe takes effect for states still queued.
func (n *notifier[S]) deliver(_ context.Context, d delivery[S]) {
	n.mu.Lock()
	listener, ok := n.listeners[d.key]
	n.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("listener panicked",
				zap.String("listener", d.key),
				zap.Error(fmt.Errorf("%v", r)),
			)
		}
	}()
	listener(d.state)
}

func (n *notifier[S]) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.listeners = map[string]func(S){}
	n.queue.Close()
}
