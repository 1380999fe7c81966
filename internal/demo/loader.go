package demo

import (
	"fmt"
	"time"

	"github.com/on-the-ground/oak/effects/delay"
	"github.com/on-the-ground/oak/effects/httpget"
	"github.com/on-the-ground/oak/store"
)

// Loader waits, then fetches a post title. Its seed effect is the wait.
type Loader struct {
	PostURL string
	Delay   time.Duration
	HTTP    []httpget.Option
}

type LoaderState struct {
	Value RemoteData
}

func (s LoaderState) String() string {
	switch s.Value {
	case Initial:
		return "Haven't started yet"
	case Loading:
		return "Loading..."
	}
	return string(s.Value)
}

type LoaderMsg interface{ isLoaderMsg() }

type DelayDone struct{}

type Result struct{ Value string }

func (DelayDone) isLoaderMsg() {}
func (Result) isLoaderMsg()    {}

type post struct {
	Title string `json:"title"`
}

func (l Loader) Init() store.Next[LoaderState, LoaderMsg] {
	d := l.Delay
	if d <= 0 {
		d = DefaultDelay
	}
	return store.NextWith(LoaderState{Value: Initial}, delay.After(d, func() LoaderMsg { return DelayDone{} }))
}

func (l Loader) Update(s LoaderState, msg LoaderMsg) store.Next[LoaderState, LoaderMsg] {
	switch msg := msg.(type) {
	case DelayDone:
		uri := l.PostURL
		if uri == "" {
			uri = DefaultPostURL
		}
		s.Value = Loading
		return store.NextWith(s, httpget.JSON(uri, func(p post) LoaderMsg {
			return Result{Value: p.Title}
		}, l.HTTP...))
	case Result:
		s.Value = RemoteData(msg.Value)
		return store.NextOf[LoaderMsg](s)
	default:
		panic(fmt.Sprintf("demo: unhandled message %T", msg))
	}
}
