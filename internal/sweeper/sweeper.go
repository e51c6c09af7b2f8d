// Package sweeper purges delivered one-shot and lead-time reminders once
// they age past the retention horizon.
package sweeper

import (
	"context"
	"time"

	"remindd/internal/store"
	"remindd/pkg/logx"
)

// DefaultHorizon keeps delivered reminders visible for 30 days.
const DefaultHorizon = 30 * 24 * time.Hour

type Sweeper struct {
	store   store.Store
	horizon time.Duration
	log     logx.Logger
}

func New(st store.Store, horizon time.Duration, log logx.Logger) *Sweeper {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{store: st, horizon: horizon, log: log}
}

// Sweep deletes delivered one-shot/lead-time reminders with due_at older
// than the horizon. Pending and recurring reminders are untouched
// unconditionally; the store enforces that invariant in its delete filter.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	n, err := s.store.DeleteDeliveredBefore(ctx, now.Add(-s.horizon))
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("swept delivered reminders", logx.Int64("deleted", n))
	} else {
		s.log.Debug("nothing to sweep")
	}
	return nil
}
