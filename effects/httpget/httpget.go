// Package httpget provides an HTTP GET effect.
//
// Transport errors, non-2xx responses and decode failures all fail the
// execution. Chain OnError on the returned effect to turn them into messages;
// without it they are logged and dropped by the executor.
package httpget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/on-the-ground/oak/effects"
	"github.com/on-the-ground/oak/shared/helper"
)

const Name = "httpGet"

var (
	ErrStatus = errors.New("unexpected http status")
	ErrDecode = errors.New("failed to decode response body")
)

// Params describes a GET effect.
type Params struct {
	URI         string
	MaxAttempts int
}

// Body is a fetched response.
type Body struct {
	Data   []byte
	Status int
	Header http.Header
}

type Option func(*config)

type config struct {
	client      *http.Client
	header      http.Header
	maxAttempts int
	backoff     time.Duration
}

// WithClient replaces http.DefaultClient.
func WithClient(client *http.Client) Option {
	return func(c *config) { c.client = client }
}

// WithHeader adds a request header.
func WithHeader(key, value string) Option {
	return func(c *config) { c.header.Add(key, value) }
}

// WithRetry retries transport errors and 5xx responses up to maxAttempts
// calls in total, sleeping backoff between them.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(c *config) {
		c.maxAttempts = maxAttempts
		c.backoff = backoff
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		client:      http.DefaultClient,
		header:      http.Header{},
		maxAttempts: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxAttempts < 1 {
		cfg.maxAttempts = 1
	}
	return cfg
}

// Get fetches uri and resolves to the message built by onSuccess.
func Get[M any](uri string, onSuccess func(Body) M, opts ...Option) *effects.Effect[M] {
	cfg := newConfig(opts)
	return effects.Single(Name, Params{URI: uri, MaxAttempts: cfg.maxAttempts}, func(ctx context.Context) (M, error) {
		body, err := fetch(ctx, cfg, uri)
		if err != nil {
			var zero M
			return zero, err
		}
		return onSuccess(body), nil
	})
}

// JSON fetches uri, decodes the body as a T and resolves to onSuccess(T).
func JSON[T any, M any](uri string, onSuccess func(T) M, opts ...Option) *effects.Effect[M] {
	cfg := newConfig(opts)
	cfg.header.Set("Accept", "application/json")
	return effects.Single(Name, Params{URI: uri, MaxAttempts: cfg.maxAttempts}, func(ctx context.Context) (M, error) {
		var zero M
		body, err := fetch(ctx, cfg, uri)
		if err != nil {
			return zero, err
		}
		var v T
		if err := json.Unmarshal(body.Data, &v); err != nil {
			return zero, fmt.Errorf("%w from %s: %w", ErrDecode, uri, err)
		}
		return onSuccess(v), nil
	})
}

// permanent marks an error that retrying cannot fix.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

func fetch(ctx context.Context, cfg config, uri string) (Body, error) {
	var (
		body    Body
		stop    error
		attempt int
	)
	err := helper.Retry(cfg.maxAttempts, func() error {
		if attempt > 0 && cfg.backoff > 0 {
			select {
			case <-ctx.Done():
				stop = ctx.Err()
				return nil
			case <-time.After(cfg.backoff):
			}
		}
		attempt++

		b, err := get(ctx, cfg, uri)
		if err == nil {
			body = b
			return nil
		}
		var p permanent
		if errors.As(err, &p) || ctx.Err() != nil {
			stop = unwrapPermanent(err)
			return nil
		}
		return err
	})
	if stop != nil {
		return Body{}, stop
	}
	if err != nil {
		return Body{}, err
	}
	return body, nil
}

func unwrapPermanent(err error) error {
	var p permanent
	if errors.As(err, &p) {
		return p.err
	}
	return err
}

func get(ctx context.Context, cfg config, uri string) (Body, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Body{}, permanent{fmt.Errorf("build request for %s: %w", uri, err)}
	}
	for k, vs := range cfg.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := cfg.client.Do(req)
	if err != nil {
		return Body{}, fmt.Errorf("get %s: %w", uri, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Body{}, fmt.Errorf("read %s: %w", uri, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, uri)
		if resp.StatusCode >= 500 {
			return Body{}, statusErr
		}
		return Body{}, permanent{statusErr}
	}

	return Body{Data: data, Status: resp.StatusCode, Header: resp.Header}, nil
}
