package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// RetryingIndex retries ErrUnavailable failures of the wrapped index with
// exponential backoff. Any other error is returned on first occurrence.
type RetryingIndex struct {
	inner  Index
	policy RetryPolicy
	logger zerolog.Logger
}

func NewRetryingIndex(idx Index, policy RetryPolicy, logger zerolog.Logger) *RetryingIndex {
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 100 * time.Millisecond
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = 5 * time.Second
	}
	return &RetryingIndex{inner: idx, policy: policy, logger: logger}
}

func (r *RetryingIndex) Close() { r.inner.Close() }

func (r *RetryingIndex) do(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.InitialInterval
	eb.MaxInterval = r.policy.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.policy.MaxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		r.logger.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("index unavailable, retrying")
		return err
	}, b)
}

func (r *RetryingIndex) Get(ctx context.Context, account AccountRef, address string) (*Entry, error) {
	var out *Entry
	err := r.do(ctx, "get", func() error {
		e, err := r.inner.Get(ctx, account, address)
		out = e
		return err
	})
	return out, err
}

func (r *RetryingIndex) List(ctx context.Context, account AccountRef, opts ListOptions) ([]*Entry, error) {
	var out []*Entry
	err := r.do(ctx, "list", func() error {
		es, err := r.inner.List(ctx, account, opts)
		out = es
		return err
	})
	return out, err
}

func (r *RetryingIndex) Index(ctx context.Context, account AccountRef, c Contact, cardUID string) error {
	return r.do(ctx, "index", func() error { return r.inner.Index(ctx, account, c, cardUID) })
}

func (r *RetryingIndex) Update(ctx context.Context, account AccountRef, c Contact, cardUID string) error {
	return r.do(ctx, "update", func() error { return r.inner.Update(ctx, account, c, cardUID) })
}

func (r *RetryingIndex) Delete(ctx context.Context, account AccountRef, address, cardUID string) error {
	return r.do(ctx, "delete", func() error { return r.inner.Delete(ctx, account, address, cardUID) })
}
