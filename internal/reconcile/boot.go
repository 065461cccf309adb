package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner is the part of Reconciler that RunDetached needs.
type Runner interface {
	Run(ctx context.Context) (Summary, error)
}

// RunDetached starts r in a goroutine under its own timeout and returns
// immediately. The outcome is only logged. The returned channel is closed
// when the run finishes.
func RunDetached(ctx context.Context, r Runner, timeout time.Duration, log *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		started := time.Now()
		sum, err := r.Run(runCtx)
		switch {
		case err == nil:
			log.Info("boot sync: complete",
				slog.Int("total", sum.Total),
				slog.Int("inserted", sum.Inserted),
				slog.Int("updated", sum.Updated),
				slog.Int("deleted", sum.Deleted),
				slog.Duration("elapsed", time.Since(started)),
			)
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn("boot sync: timed out", slog.Duration("timeout", timeout))
		case errors.Is(err, ErrSyncInProgress):
			log.Info("boot sync: skipped, another sync is running")
		default:
			log.Error("boot sync: failed", slog.Any("error", err))
		}
	}()
	return done
}
