package handlers

import (
	"context"
	"sync"

	"github.com/on-the-ground/oak/internal/model"
)

// --- common interface ---

// WorkerDispatcher hands messages to long-lived worker goroutines.
//
// Send never blocks and reports false once the dispatcher is closed or its
// context has ended. Messages queued but not yet handled at that point are
// dropped.
type WorkerDispatcher[T any] interface {
	Send(msg T) bool
	Close()
	Done() <-chan struct{}
}

type worker[T any] struct {
	box *mailbox[T]
}

// run handles messages one at a time, in arrival order, until ctx ends.
func (w worker[T]) run(ctx context.Context, handleFn func(context.Context, T)) {
	for {
		select {
		case <-ctx.Done():
			w.box.close()
			return
		case <-w.box.signal:
			for _, msg := range w.box.drain() {
				if ctx.Err() != nil {
					w.box.close()
					return
				}
				handleFn(ctx, msg)
			}
		}
	}
}

type dispatcher[T any] struct {
	workers []worker[T]
	pick    func(T) int
	cancel  context.CancelFunc
	done    chan struct{}
}

func (d *dispatcher[T]) Send(msg T) bool {
	return d.workers[d.pick(msg)].box.push(msg)
}

func (d *dispatcher[T]) Close() {
	d.cancel()
	for _, w := range d.workers {
		w.box.close()
	}
}

func (d *dispatcher[T]) Done() <-chan struct{} {
	return d.done
}

func start[T any](
	ctx context.Context,
	numWorkers, bufferSize int,
	pick func(T) int,
	handleFn func(context.Context, T),
) *dispatcher[T] {
	ctx, cancel := context.WithCancel(ctx)
	d := &dispatcher[T]{
		workers: make([]worker[T], numWorkers),
		pick:    pick,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	var exited sync.WaitGroup
	ready := sync.WaitGroup{}
	for i := 0; i < numWorkers; i++ {
		w := worker[T]{box: newMailbox[T](bufferSize)}
		d.workers[i] = w
		exited.Add(1)
		ready.Add(1)
		go func() {
			defer exited.Done()
			ready.Done()
			w.run(ctx, handleFn)
		}()
	}
	ready.Wait()

	go func() {
		exited.Wait()
		close(d.done)
	}()
	return d
}

// --- single queue ---

// NewSingleQueue starts one worker. Every message is handled by the same
// goroutine, so handleFn never runs concurrently with itself.
func NewSingleQueue[T any](
	ctx context.Context,
	bufferSize int,
	handleFn func(context.Context, T),
) WorkerDispatcher[T] {
	return start(ctx, 1, bufferSize, func(T) int { return 0 }, handleFn)
}

// --- partitioned queue ---

// NewPartitionedQueue starts numWorkers workers and routes each message by the
// hash of its PartitionKey. Messages sharing a key keep their relative order.
func NewPartitionedQueue[T model.Partitionable](
	ctx context.Context,
	numWorkers, bufferSize int,
	handleFn func(context.Context, T),
) WorkerDispatcher[T] {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return start(ctx, numWorkers, bufferSize, func(msg T) int {
		return getIndexByHash(msg, numWorkers)
	}, handleFn)
}
