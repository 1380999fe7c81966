// Package demo is a small counter application built on the store: add two
// numbers, wait, then fetch a todo title over HTTP.
package demo

import (
	"fmt"
	"time"

	"github.com/on-the-ground/oak/effects"
	"github.com/on-the-ground/oak/effects/delay"
	"github.com/on-the-ground/oak/effects/httpget"
	"github.com/on-the-ground/oak/store"
)

const (
	DefaultTodoURL = "https://jsonplaceholder.typicode.com/todos/1"
	DefaultPostURL = "https://jsonplaceholder.typicode.com/posts/1"
	DefaultTimeout = 2 * time.Second
	DefaultDelay   = time.Second
)

// RemoteData is either Initial, Loading, or the fetched value itself.
type RemoteData string

const (
	Initial RemoteData = "initial"
	Loading RemoteData = "loading"
)

func (r RemoteData) Fetched() bool {
	return r != Initial && r != Loading
}

type State struct {
	Result      int
	TimeoutDone bool
	HTTPResult  RemoteData
	FetchError  string
}

var InitialState = State{HTTPResult: Initial}

func (s State) String() string {
	out := fmt.Sprintf("result=%d timeoutDone=%t http=%s", s.Result, s.TimeoutDone, s.HTTPResult)
	if s.FetchError != "" {
		out += " error=" + s.FetchError
	}
	return out
}

// Msg is the closed set of messages App understands.
type Msg interface{ isMsg() }

type Add struct{ X, Y int }

type AfterTimeout struct{}

type GotResult struct{ Data string }

type FetchFailed struct{ Err string }

func (Add) isMsg()          {}
func (AfterTimeout) isMsg() {}
func (GotResult) isMsg()    {}
func (FetchFailed) isMsg()  {}

type todo struct {
	Title string `json:"title"`
}

// App holds the knobs of the counter application. The zero value uses the
// defaults above.
type App struct {
	TodoURL string
	Timeout time.Duration
	HTTP    []httpget.Option
}

func (a App) todoURL() string {
	if a.TodoURL == "" {
		return DefaultTodoURL
	}
	return a.TodoURL
}

func (a App) timeout() time.Duration {
	if a.Timeout <= 0 {
		return DefaultTimeout
	}
	return a.Timeout
}

func (a App) Init() store.Next[State, Msg] {
	return store.NextOf[Msg](InitialState)
}

func (a App) Update(s State, msg Msg) store.Next[State, Msg] {
	switch msg := msg.(type) {
	case Add:
		s.Result = msg.X + msg.Y
		return store.NextWith(s, delay.After(a.timeout(), func() Msg { return AfterTimeout{} }))
	case AfterTimeout:
		s.TimeoutDone = true
		if s.HTTPResult != Initial {
			return store.NextOf[Msg](s)
		}
		s.HTTPResult = Loading
		return store.NextWith(s, a.fetchTodo())
	case GotResult:
		s.HTTPResult = RemoteData(msg.Data)
		s.FetchError = ""
		return store.NextOf[Msg](s)
	case FetchFailed:
		s.HTTPResult = Initial
		s.FetchError = msg.Err
		return store.NextOf[Msg](s)
	default:
		panic(fmt.Sprintf("demo: unhandled message %T", msg))
	}
}

func (a App) fetchTodo() *effects.Effect[Msg] {
	return httpget.JSON(a.todoURL(), func(t todo) Msg {
		return GotResult{Data: t.Title}
	}, a.HTTP...).OnError(func(err error) Msg {
		return FetchFailed{Err: err.Error()}
	})
}
