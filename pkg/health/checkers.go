package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Goroutines fails when more than limit goroutines are running.
func Goroutines(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines, limit %d", n, limit)
		}
		return nil
	}
}

// Pinger is a dependency that can be probed, such as a pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks p.
func Ping(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}
