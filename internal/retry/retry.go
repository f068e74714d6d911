// Package retry is the single retry/backoff combinator used across the
// extractor, wrapping github.com/cenkalti/backoff/v4 in one generic
// classify-and-retry helper. Broker publish and broker reconnect go through
// this package. The object-store client does not: it resumes a dropped
// download with its own bounded Range-request loop (no backoff), and its
// listing and manifest requests are made once.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Classification tells Do whether an error is worth retrying.
type Classification int

const (
	// Fatal errors abort the retry loop immediately (e.g. config errors,
	// permanent 4xx responses).
	Fatal Classification = iota
	// Transient errors are retried with backoff.
	Transient
)

// Classifier decides, for a given error, whether it is Transient or Fatal.
// A nil Classifier treats every non-nil error as Transient.
type Classifier func(error) Classification

// Policy configures one Do invocation.
type Policy struct {
	MaxElapsedTime time.Duration // 0 = no limit (bounded only by MaxAttempts and ctx)
	MaxAttempts    int           // 0 = unlimited (bounded only by MaxElapsedTime and ctx)
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Classifier     Classifier
}

// DefaultPolicy is a short-initial-backoff, capped-growth cadence expressed
// as the generic exponential-backoff parameters backoff.ExponentialBackOff
// takes.
var DefaultPolicy = Policy{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
}

// permanentMarker wraps a Fatal-classified error so backoff.Retry stops
// immediately instead of continuing to retry.
type permanentMarker struct{ err error }

func (p *permanentMarker) Error() string { return p.err.Error() }
func (p *permanentMarker) Unwrap() error { return p.err }

// Do runs op, retrying on Transient errors per policy until it succeeds,
// a Fatal error is classified, MaxAttempts/MaxElapsedTime is exhausted, or
// ctx is done.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	classify := policy.Classifier
	if classify == nil {
		classify = func(error) Classification { return Transient }
	}

	eb := backoff.NewExponentialBackOff()
	if policy.InitialBackoff > 0 {
		eb.InitialInterval = policy.InitialBackoff
	}
	if policy.MaxBackoff > 0 {
		eb.MaxInterval = policy.MaxBackoff
	}
	eb.MaxElapsedTime = policy.MaxElapsedTime

	var b backoff.BackOff = eb
	if policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(eb, uint64(policy.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	err := backoff.Retry(func() error {
		opErr := op(ctx)
		if opErr == nil {
			return nil
		}
		if classify(opErr) == Fatal {
			return backoff.Permanent(&permanentMarker{err: opErr})
		}
		return opErr
	}, b)

	if err == nil {
		return nil
	}
	var perm *permanentMarker
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}
