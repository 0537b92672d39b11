package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// retention is how long an expired pairing row is kept before removal.
const retention = 24 * time.Hour

// Janitor periodically removes long-expired pairings. Expiry itself is
// checked on access, so a slow or stopped janitor changes nothing a
// caller can observe.
type Janitor struct {
	svc      *Service
	sessions SessionPurger
	every    time.Duration
	logger   *slog.Logger
}

// SessionPurger removes expired sign-in sessions alongside pairings.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// NewJanitor creates a Janitor. If every is <= 0, it defaults to 10 minutes.
func NewJanitor(svc *Service, every time.Duration) *Janitor {
	if every <= 0 {
		every = 10 * time.Minute
	}
	return &Janitor{svc: svc, every: every, logger: slog.Default()}
}

// WithSessions makes each sweep also purge expired sessions.
func (j *Janitor) WithSessions(p SessionPurger) *Janitor {
	j.sessions = p
	return j
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	for {
		if err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("pairing sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(j.every):
		}
	}
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) error {
	removed, evicted, err := j.svc.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweeping pairings: %w", err)
	}
	if removed > 0 || evicted > 0 {
		j.logger.Debug("pairing sweep", "removed", removed, "limiters_evicted", evicted)
	}
	if j.sessions == nil {
		return nil
	}
	n, err := j.sessions.PurgeExpiredSessions(ctx)
	if err != nil {
		return fmt.Errorf("purging sessions: %w", err)
	}
	if n > 0 {
		j.logger.Debug("session sweep", "removed", n)
	}
	return nil
}
