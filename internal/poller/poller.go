// Package poller decides, once per tick, which reminders are due right now
// and hands them to the dispatcher.
//
// Delivery guarantees per kind:
//   - one_shot / lead_time: exactly once, enforced by a conditional
//     pending -> delivered flip in the store.
//   - recurring: at most once, by matching the rule against the exact
//     1-tick window. A missed tick (process restart, clock drift) skips a
//     firing rather than duplicating it; there is no persisted watermark.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"remindd/internal/dispatch"
	"remindd/internal/reminder"
	"remindd/internal/rule"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultLeadTime = 10 * time.Minute
)

type Config struct {
	// Interval is the tick cadence P.
	Interval time.Duration
	// LeadTime is how far before DueAt a lead_time reminder fires.
	LeadTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.LeadTime <= 0 {
		c.LeadTime = DefaultLeadTime
	}
	return c
}

type Poller struct {
	cfg   Config
	store store.Store
	disp  *dispatch.Dispatcher
	log   logx.Logger
}

func New(cfg Config, st store.Store, disp *dispatch.Dispatcher, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{cfg: cfg.withDefaults(), store: st, disp: disp, log: log}
}

// Interval returns the effective tick cadence.
func (p *Poller) Interval() time.Duration { return p.cfg.Interval }

// Tick runs one poll pass anchored at now. A store failure on a query aborts
// the tick early (it is retried on the next interval); failures on individual
// reminders are logged and never block their siblings.
//
// The caller must not run two ticks concurrently; the jobs runner serializes
// them.
func (p *Poller) Tick(ctx context.Context, now time.Time) error {
	if err := p.tickLeadTime(ctx, now); err != nil {
		return fmt.Errorf("lead_time pass: %w", err)
	}
	if err := p.tickOneShot(ctx, now); err != nil {
		return fmt.Errorf("one_shot pass: %w", err)
	}
	if err := p.tickRecurring(ctx, now); err != nil {
		return fmt.Errorf("recurring pass: %w", err)
	}
	return nil
}

// Lead-time reminders fire LeadTime ahead of DueAt, so each tick claims the
// window [now+L, now+L+P).
func (p *Poller) tickLeadTime(ctx context.Context, now time.Time) error {
	due, err := p.store.ListReminders(ctx, store.Filter{
		Kind:      reminder.KindLeadTime,
		State:     reminder.StatePending,
		DueFrom:   now.Add(p.cfg.LeadTime),
		DueBefore: now.Add(p.cfg.LeadTime + p.cfg.Interval),
	})
	if err != nil {
		return err
	}
	p.deliverTracked(ctx, due)
	return nil
}

// One-shot reminders fire at DueAt itself; the trailing window tolerates one
// missed tick. due_at == now fires this tick (the extra millisecond keeps the
// query half-open at storage resolution).
func (p *Poller) tickOneShot(ctx context.Context, now time.Time) error {
	due, err := p.store.ListReminders(ctx, store.Filter{
		Kind:      reminder.KindOneShot,
		State:     reminder.StatePending,
		DueFrom:   now.Add(-p.cfg.Interval),
		DueBefore: now.Add(time.Millisecond),
	})
	if err != nil {
		return err
	}
	p.deliverTracked(ctx, due)
	return nil
}

// Recurring reminders fire when the rule's next occurrence from the previous
// tick lands in [now-P, now]. No state is written.
func (p *Poller) tickRecurring(ctx context.Context, now time.Time) error {
	all, err := p.store.ListReminders(ctx, store.Filter{Kind: reminder.KindRecurring})
	if err != nil {
		return err
	}

	var fire []reminder.Reminder
	for _, r := range all {
		next, err := rule.NextAfter(r.CronRule, now.Add(-p.cfg.Interval))
		if err != nil {
			// One malformed rule must not block delivery of any other reminder.
			p.log.Warn("skipping reminder with invalid rule",
				logx.String("reminder", r.ID), logx.Err(err))
			continue
		}
		// Both window bounds are checked here even though NextAfter never
		// returns an instant before its reference; the trailing window is
		// what keeps a recurring occurrence from firing on two ticks.
		if next.IsZero() || next.After(now) || next.Before(now.Add(-p.cfg.Interval)) {
			continue
		}
		if next.Before(r.CreatedAt) {
			continue
		}
		fire = append(fire, r)
	}

	p.fanOut(ctx, fire, false)
	return nil
}

func (p *Poller) deliverTracked(ctx context.Context, due []reminder.Reminder) {
	p.fanOut(ctx, due, true)
}

// fanOut dispatches each reminder on its own goroutine and waits for the
// whole batch, so a tick always runs to completion before the next starts.
func (p *Poller) fanOut(ctx context.Context, due []reminder.Reminder, track bool) {
	if len(due) == 0 {
		return
	}
	p.log.Info("reminders due", logx.Int("count", len(due)), logx.Bool("tracked", track))

	var wg sync.WaitGroup
	for _, r := range due {
		wg.Add(1)
		go func(r reminder.Reminder) {
			defer wg.Done()
			p.deliverOne(ctx, r, track)
		}(r)
	}
	wg.Wait()
}

func (p *Poller) deliverOne(ctx context.Context, r reminder.Reminder, track bool) {
	user, err := p.store.GetUser(ctx, r.UserID)
	if err != nil {
		p.log.Warn("owner lookup failed; skipping reminder",
			logx.String("reminder", r.ID), logx.String("user", r.UserID), logx.Err(err))
		return
	}

	p.disp.Dispatch(ctx, user, r)

	if !track {
		return
	}
	flipped, err := p.store.MarkDelivered(ctx, r.ID)
	if err != nil {
		p.log.Error("failed to mark reminder delivered",
			logx.String("reminder", r.ID), logx.Err(err))
		return
	}
	if !flipped {
		p.log.Warn("reminder already delivered elsewhere", logx.String("reminder", r.ID))
	}
}
