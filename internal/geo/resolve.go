package geo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ResolveOptions controls Resolve's retry behaviour.
type ResolveOptions struct {
	// Retries is the number of attempts per query variant.
	Retries int
	// Backoff is multiplied by the attempt number after each failed attempt.
	Backoff time.Duration
}

// DefaultResolveOptions matches what Nominatim tolerates for batch jobs.
var DefaultResolveOptions = ResolveOptions{Retries: 3, Backoff: 2 * time.Second}

// Resolve geocodes a normalized address, trying each of QueryVariants in turn.
// Transport errors are retried with linear backoff; ErrNotFound moves straight
// to the next variant. When no variant matches, the returned error is
// ErrNotFound if every variant was a clean miss, or wraps ErrUnavailable and
// the last transport error otherwise.
func Resolve(ctx context.Context, g Geocoder, addr string, opts ResolveOptions) (Point, error) {
	if addr == "" {
		return Point{}, ErrNotFound
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}

	var lastErr error
	for _, q := range QueryVariants(addr) {
		for attempt := 1; attempt <= opts.Retries; attempt++ {
			p, err := g.Geocode(ctx, q)
			if err == nil {
				return p, nil
			}
			if errors.Is(err, ErrNotFound) {
				break
			}
			if ctx.Err() != nil {
				return Point{}, ctx.Err()
			}
			lastErr = err
			if err := sleep(ctx, opts.Backoff*time.Duration(attempt)); err != nil {
				return Point{}, err
			}
		}
	}

	if lastErr != nil {
		return Point{}, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
	}
	return Point{}, ErrNotFound
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
