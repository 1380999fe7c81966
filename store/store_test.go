package store_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/on-the-ground/oak/effects"
	"github.com/on-the-ground/oak/effects/delay"
	"github.com/on-the-ground/oak/effects/httpget"
	"github.com/on-the-ground/oak/effects/log"
	"github.com/on-the-ground/oak/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const waitFor = 2 * time.Second

type msg interface{ isMsg() }

type add struct{ X, Y int }
type addLater struct{ X, Y int }
type timedOut struct{}
type fetch struct{ URI string }
type fetched struct{ Title string }
type tick struct{}
type unknown struct{}

func (add) isMsg()      {}
func (addLater) isMsg() {}
func (timedOut) isMsg() {}
func (fetch) isMsg()    {}
func (fetched) isMsg()  {}
func (tick) isMsg()     {}
func (unknown) isMsg()  {}

type counter struct {
	Result      int
	TimeoutDone bool
	Ticks       int
	Title       string
}

func reduce(s counter, m msg) store.Next[counter, msg] {
	switch m := m.(type) {
	case add:
		s.Result = m.X + m.Y
		return store.NextOf[msg](s)
	case addLater:
		s.Result = m.X + m.Y
		return store.NextWith(s, delay.After(20*time.Millisecond, func() msg { return timedOut{} }))
	case timedOut:
		s.TimeoutDone = true
		return store.NextOf[msg](s)
	case fetch:
		return store.NextWith(s, httpget.JSON(m.URI, func(v struct{ Title string }) msg {
			return fetched{Title: v.Title}
		}))
	case fetched:
		s.Title = m.Title
		return store.NextOf[msg](s)
	case tick:
		s.Ticks++
		return store.NextOf[msg](s)
	default:
		panic(fmt.Sprintf("unhandled message %T", m))
	}
}

func seed(s counter) store.Initial[counter, msg] {
	return store.Seed(store.NextOf[msg](s))
}

// recorder is a listener that keeps every state it receives.
type recorder struct {
	mu     sync.Mutex
	states []counter
}

func (r *recorder) listen(s counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot() []counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]counter(nil), r.states...)
}

func (r *recorder) last() counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return counter{}
	}
	return r.states[len(r.states)-1]
}

func (r *recorder) sees(want counter) func() bool {
	return func() bool { return r.last() == want }
}

func TestStore_SubscribeReplaysCurrentState(t *testing.T) {
	s := store.New(reduce, seed(counter{Result: 7}))
	defer s.Teardown()

	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.listen)
	defer unsubscribe()

	require.Eventually(t, rec.sees(counter{Result: 7}), waitFor, 5*time.Millisecond)
	assert.Equal(t, counter{Result: 7}, s.State())
}

func TestStore_SuppressesConsecutiveDuplicates(t *testing.T) {
	var suppressed atomic.Int32
	s := store.New(reduce, seed(counter{}), store.WithHooks(store.Hooks[counter, msg]{
		OnTransition: func(prev, next counter, m msg, published bool) {
			if !published {
				suppressed.Add(1)
			}
		},
	}))
	defer s.Teardown()

	rec := &recorder{}
	defer s.Subscribe(rec.listen)()

	for _, m := range []msg{add{0, 0}, add{2, 3}, add{1, 4}, add{3, 4}, add{3, 4}, add{0, 0}} {
		s.Dispatch(m)
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []counter{{Result: 0}, {Result: 5}, {Result: 7}, {Result: 0}}, rec.snapshot())
	assert.Equal(t, int32(3), suppressed.Load())

	states := rec.snapshot()
	for i := 1; i < len(states); i++ {
		assert.NotEqual(t, states[i-1], states[i])
	}
}

func TestStore_CustomEqual(t *testing.T) {
	var transitions atomic.Int32
	sameResult := func(a, b counter) bool { return a.Result == b.Result }
	s := store.New(reduce, seed(counter{}),
		store.WithEqual[counter, msg](sameResult),
		store.WithHooks(store.Hooks[counter, msg]{
			OnTransition: func(prev, next counter, m msg, published bool) { transitions.Add(1) },
		}),
	)
	defer s.Teardown()

	rec := &recorder{}
	defer s.Subscribe(rec.listen)()

	s.Dispatch(tick{})
	require.Eventually(t, func() bool { return transitions.Load() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, counter{}, s.State(), "a suppressed state is not visible")

	s.Dispatch(add{1, 1})

	require.Eventually(t, rec.sees(counter{Result: 2, Ticks: 1}), waitFor, 5*time.Millisecond)
	assert.Len(t, rec.snapshot(), 2)
	assert.Equal(t, rec.last(), s.State())

	late := &recorder{}
	defer s.Subscribe(late.listen)()
	require.Eventually(t, late.sees(s.State()), waitFor, 5*time.Millisecond)
}

func TestStore_NoEffectNeverReachesExecutor(t *testing.T) {
	var (
		started     atomic.Int32
		transitions atomic.Int32
	)
	s := store.New(reduce, seed(counter{}), store.WithHooks(store.Hooks[counter, msg]{
		OnTransition: func(counter, counter, msg, bool) { transitions.Add(1) },
		Effects: effects.Observer{
			OnStart: func(effects.Execution) { started.Add(1) },
		},
	}))
	defer s.Teardown()

	s.Dispatch(add{1, 2})
	s.Dispatch(tick{})
	s.Dispatch(add{1, 2})

	require.Eventually(t, func() bool { return transitions.Load() == 3 }, waitFor, 5*time.Millisecond)
	assert.Zero(t, started.Load())

	s.Dispatch(addLater{1, 2})
	require.Eventually(t, func() bool { return started.Load() == 1 }, waitFor, 5*time.Millisecond)
}

func TestStore_EffectResultsTakeTheDispatchPath(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []msg
	)
	emitTick := func(s counter, m msg) store.Next[counter, msg] {
		if _, ok := m.(add); ok {
			return store.NextWith(s, effects.Of[msg]("tick", tick{}))
		}
		return reduce(s, m)
	}
	s := store.New(emitTick, seed(counter{}), store.WithHooks(store.Hooks[counter, msg]{
		OnMessage: func(m msg) {
			mu.Lock()
			seen = append(seen, m)
			mu.Unlock()
		},
	}))
	defer s.Teardown()

	s.Dispatch(tick{})
	s.Dispatch(add{})

	require.Eventually(t, func() bool { return s.State().Ticks == 2 }, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, tick{}, seen[0])
	assert.Equal(t, add{}, seen[1])
	assert.Equal(t, seen[0], seen[2], "effect output must look like an external message")
}

func TestStore_AddThenTimeoutFollowUp(t *testing.T) {
	s := store.New(reduce, seed(counter{}))
	defer s.Teardown()

	rec := &recorder{}
	defer s.Subscribe(rec.listen)()

	s.Dispatch(addLater{10, 20})

	require.Eventually(t, func() bool {
		for _, st := range rec.snapshot() {
			if st == (counter{Result: 30}) {
				return true
			}
		}
		return false
	}, waitFor, time.Millisecond, "the sum is published before the timer fires")

	require.Eventually(t, rec.sees(counter{Result: 30, TimeoutDone: true}), waitFor, 5*time.Millisecond)
	assert.Equal(t, []counter{{}, {Result: 30}, {Result: 30, TimeoutDone: true}}, rec.snapshot())
}

func TestStore_FailedFetchWithoutMappingIsLoggedAndDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	failed := make(chan effects.Failure, 1)
	var fetchedSeen atomic.Bool

	s := store.New(reduce, seed(counter{Result: 1}),
		store.WithLogger[counter, msg](zap.New(core)),
		store.WithHooks(store.Hooks[counter, msg]{
			OnMessage: func(m msg) {
				if _, ok := m.(fetched); ok {
					fetchedSeen.Store(true)
				}
			},
			Effects: effects.Observer{
				OnFailure: func(f effects.Failure) { failed <- f },
			},
		}),
	)
	defer s.Teardown()

	s.Dispatch(fetch{URI: srv.URL + "/todos/1"})

	select {
	case f := <-failed:
		assert.Equal(t, httpget.Name, f.Effect)
		assert.ErrorIs(t, f, httpget.ErrStatus)
	case <-time.After(waitFor):
		t.Fatal("failure was not reported")
	}

	assert.Equal(t, counter{Result: 1}, s.State())
	assert.False(t, fetchedSeen.Load())

	records := logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("effect failed").All()
	require.Len(t, records, 1)
	assert.Equal(t, httpget.Name, records[0].ContextMap()["effect"])
}

func TestStore_FetchSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"delectus aut autem"}`))
	}))
	defer srv.Close()

	s := store.New(reduce, seed(counter{}), store.WithLogger[counter, msg](log.NewTestLogger()))
	defer s.Teardown()

	s.Dispatch(fetch{URI: srv.URL})
	require.Eventually(t, func() bool { return s.State().Title == "delectus aut autem" }, waitFor, 5*time.Millisecond)
}

func TestStore_TeardownIsIdempotent(t *testing.T) {
	var transitions atomic.Int32
	s := store.New(reduce, seed(counter{}), store.WithHooks(store.Hooks[counter, msg]{
		OnTransition: func(counter, counter, msg, bool) { transitions.Add(1) },
	}))

	rec := &recorder{}
	s.Subscribe(rec.listen)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, 5*time.Millisecond)

	s.Teardown()
	assert.NotPanics(t, s.Teardown)

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("dispatch loop did not exit")
	}

	assert.NotPanics(t, func() { s.Dispatch(add{1, 1}) })
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, transitions.Load())
	assert.Len(t, rec.snapshot(), 1)
	assert.Equal(t, counter{}, s.State())
}

func TestStore_ResultsAfterTeardownAreDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	slow := func(s counter, m msg) store.Next[counter, msg] {
		if _, ok := m.(add); ok {
			return store.NextWith(s, effects.New[msg]("slow", nil, func(ctx context.Context, emit func(msg)) error {
				close(started)
				<-release
				emit(tick{})
				return nil
			}))
		}
		return reduce(s, m)
	}
	s := store.New(slow, seed(counter{}))

	s.Dispatch(add{})
	<-started
	s.Teardown()
	close(release)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, s.State().Ticks)
}

func TestStore_LateSubscribersConverge(t *testing.T) {
	s := store.New(reduce, seed(counter{}))
	defer s.Teardown()

	early := &recorder{}
	defer s.Subscribe(early.listen)()

	s.Dispatch(add{1, 1})
	s.Dispatch(addLater{2, 2})
	s.Dispatch(tick{})

	late := &recorder{}
	defer s.Subscribe(late.listen)()

	s.Dispatch(tick{})

	want := counter{Result: 4, Ticks: 2, TimeoutDone: true}
	require.Eventually(t, early.sees(want), waitFor, 5*time.Millisecond)
	require.Eventually(t, late.sees(want), waitFor, 5*time.Millisecond)
	assert.GreaterOrEqual(t, len(early.snapshot()), len(late.snapshot()))
}

func TestStore_SeedEffectRuns(t *testing.T) {
	s := store.New(reduce, store.InitFunc(func() store.Next[counter, msg] {
		return store.NextWith(counter{Result: 3}, effects.Of[msg]("seed", tick{}, tick{}))
	}))
	defer s.Teardown()

	require.Eventually(t, func() bool { return s.State() == counter{Result: 3, Ticks: 2} }, waitFor, 5*time.Millisecond)
}

func TestStore_UnsubscribeStopsDelivery(t *testing.T) {
	s := store.New(reduce, seed(counter{}))
	defer s.Teardown()

	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.listen)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, 5*time.Millisecond)
	unsubscribe()
	unsubscribe()

	other := &recorder{}
	defer s.Subscribe(other.listen)()
	s.Dispatch(add{1, 2})

	require.Eventually(t, other.sees(counter{Result: 3}), waitFor, 5*time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestStore_ListenerPanicIsContained(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := store.New(reduce, seed(counter{}), store.WithLogger[counter, msg](zap.New(core)))
	defer s.Teardown()

	defer s.Subscribe(func(counter) { panic("bad listener") })()
	rec := &recorder{}
	defer s.Subscribe(rec.listen)()

	s.Dispatch(add{2, 2})
	require.Eventually(t, rec.sees(counter{Result: 4}), waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("listener panicked").Len() >= 1
	}, waitFor, 5*time.Millisecond)
}

func TestStore_ValidatorFailurePanicsIntoHook(t *testing.T) {
	panics := make(chan any, 1)
	notNegative := func(s counter) error {
		if s.Result < 0 {
			return errors.New("negative result")
		}
		return nil
	}
	s := store.New(reduce, seed(counter{}),
		store.WithValidator[counter, msg](notNegative),
		store.WithHooks(store.Hooks[counter, msg]{
			OnPanic: func(r any) { panics <- r },
		}),
	)

	s.Dispatch(add{-5, 1})

	select {
	case r := <-panics:
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, store.ErrInvalidState)
	case <-time.After(waitFor):
		t.Fatal("validator failure did not panic the loop")
	}
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("store was not torn down after the panic")
	}
	assert.Equal(t, counter{}, s.State())
}

func TestStore_InvalidInitialStatePanics(t *testing.T) {
	assert.PanicsWithError(t, "invalid state: initial state: bad", func() {
		store.New(reduce, seed(counter{}), store.WithValidator[counter, msg](func(counter) error {
			return errors.New("bad")
		}))
	})
}

func TestStore_UnhandledMessagePanicsIntoHook(t *testing.T) {
	panics := make(chan any, 1)
	s := store.New(reduce, seed(counter{}), store.WithHooks(store.Hooks[counter, msg]{
		OnPanic: func(r any) { panics <- r },
	}))
	defer s.Teardown()

	s.Dispatch(unknown{})
	select {
	case r := <-panics:
		assert.Equal(t, "unhandled message store_test.unknown", r)
	case <-time.After(waitFor):
		t.Fatal("unhandled message did not panic the loop")
	}
}

func TestStore_LogOptionWritesMessagesAndStates(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := store.New(reduce, seed(counter{}),
		store.WithLog[counter, msg](true),
		store.WithLogger[counter, msg](zap.New(core)),
	)
	defer s.Teardown()

	s.Dispatch(add{1, 2})
	require.Eventually(t, func() bool { return logs.FilterMessage("STATE").Len() == 2 }, waitFor, 5*time.Millisecond)

	msgs := logs.FilterMessage("MSG").All()
	require.Len(t, msgs, 1)
	assert.Equal(t, "store_test.add", msgs[0].ContextMap()["type"])
}

func TestStore_LogOptionOffIsQuiet(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := store.New(reduce, seed(counter{}), store.WithLogger[counter, msg](zap.New(core)))
	defer s.Teardown()

	s.Dispatch(add{1, 2})
	require.Eventually(t, func() bool { return s.State().Result == 3 }, waitFor, 5*time.Millisecond)
	assert.Zero(t, logs.FilterMessage("MSG").Len())
	assert.Zero(t, logs.FilterMessage("STATE").Len())
}

func TestStore_Updates(t *testing.T) {
	s := store.New(reduce, seed(counter{Result: 1}))
	defer s.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	updates := s.Updates(ctx)

	select {
	case st := <-updates:
		assert.Equal(t, counter{Result: 1}, st)
	case <-time.After(waitFor):
		t.Fatal("no replayed state")
	}

	s.Dispatch(add{2, 2})
	select {
	case st := <-updates:
		assert.Equal(t, counter{Result: 4}, st)
	case <-time.After(waitFor):
		t.Fatal("no published state")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, waitFor, 5*time.Millisecond)
}

func TestStore_UpdatesCloseOnTeardown(t *testing.T) {
	s := store.New(reduce, seed(counter{}))
	updates := s.Updates(context.Background())
	s.Teardown()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, waitFor, 5*time.Millisecond)
}

func TestStore_CancelledContextTearsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := store.New(reduce, seed(counter{Result: 1}), store.WithContext[counter, msg](ctx))
	defer s.Teardown()

	updates := s.Updates(context.Background())
	cancel()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("dispatch loop kept running after the context was cancelled")
	}
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, waitFor, 5*time.Millisecond)

	s.Dispatch(add{2, 3})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, counter{Result: 1}, s.State())
}

func TestStore_LiveContextKeepsRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.New(reduce, seed(counter{}), store.WithContext[counter, msg](ctx))
	defer s.Teardown()

	s.Dispatch(addLater{1, 2})
	require.Eventually(t, func() bool {
		return s.State() == counter{Result: 3, TimeoutDone: true}
	}, waitFor, 5*time.Millisecond)

	s.Teardown()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("teardown did not stop the loop")
	}
}

func TestStore_ScopedListenersKeepOrder(t *testing.T) {
	const n = 50
	s := store.New(reduce, seed(counter{}), store.WithScope[counter, msg](4, 4))
	defer s.Teardown()

	recs := make([]*recorder, 8)
	for i := range recs {
		recs[i] = &recorder{}
		defer s.Subscribe(recs[i].listen)()
	}
	for i := 1; i <= n; i++ {
		s.Dispatch(add{i, 0})
	}

	want := make([]counter, 0, n+1)
	for i := 0; i <= n; i++ {
		want = append(want, counter{Result: i})
	}
	for i, rec := range recs {
		require.Eventually(t, rec.sees(counter{Result: n}), waitFor, 5*time.Millisecond, "listener %d", i)
		assert.Equal(t, want, rec.snapshot(), "listener %d", i)
	}
}

func TestStore_HooksCompose(t *testing.T) {
	var first, second atomic.Int32
	s := store.New(reduce, seed(counter{}),
		store.WithHooks(store.Hooks[counter, msg]{OnMessage: func(msg) { first.Add(1) }}),
		store.WithHooks(store.Hooks[counter, msg]{OnMessage: func(msg) { second.Add(1) }}),
	)
	defer s.Teardown()

	s.Dispatch(tick{})
	require.Eventually(t, func() bool { return first.Load() == 1 && second.Load() == 1 }, waitFor, 5*time.Millisecond)
}

func TestStep(t *testing.T) {
	next := store.Step(reduce, counter{}, msg(addLater{10, 20}))
	assert.Equal(t, counter{Result: 30}, next.State)
	require.True(t, next.HasEffect())

	p, err := effects.ParamsOf[delay.Params](next.Effect)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, p.Duration)

	next = store.Step(reduce, next.State, msg(timedOut{}))
	assert.True(t, next.State.TimeoutDone)
	assert.False(t, next.HasEffect())
}
