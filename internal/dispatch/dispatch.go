// Package dispatch fans a due reminder out to the user's notification
// channels.
//
// Channels are independent: a failure on one never blocks or fails another,
// and no channel outcome is escalated to the caller. A reminder counts as
// delivered once dispatch was attempted.
package dispatch

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/push"
	"remindd/internal/reminder"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// Result records one channel attempt. NoOp marks attempts that had nothing
// to do (user offline, no email address); those are successes, not errors.
type Result struct {
	Channel Channel
	OK      bool
	NoOp    bool
	Err     error
}

// EventReminderDue is the push event type for a firing reminder.
const EventReminderDue = "reminder.due"

type Config struct {
	ChannelTimeout  time.Duration // per-channel bound, default 10s
	EmailRatePerSec int           // token bucket for outbound mail, default 3
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Dispatcher struct {
	reg     push.Registry
	mailer  Mailer
	log     logx.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

func New(cfg Config, reg push.Registry, mailer Mailer, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 10 * time.Second
	}
	rps := cfg.EmailRatePerSec
	if rps <= 0 {
		rps = 3
	}
	return &Dispatcher{
		reg:     reg,
		mailer:  mailer,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: cfg.ChannelTimeout,
	}
}

// Dispatch attempts every configured channel for the reminder and returns
// the per-channel results. It never returns an error: channel failures are
// logged and recorded in the result set only.
func (d *Dispatcher) Dispatch(ctx context.Context, user store.User, r reminder.Reminder) []Result {
	results := make([]Result, 0, 2)
	results = append(results, d.pushResult(user, r))
	results = append(results, d.emailResult(ctx, user, r))

	for _, res := range results {
		if res.Err != nil {
			d.log.Warn("channel failed",
				logx.String("channel", string(res.Channel)),
				logx.String("reminder", r.ID),
				logx.String("user", user.ID),
				logx.Err(res.Err))
		}
	}
	return results
}

func (d *Dispatcher) pushResult(user store.User, r reminder.Reminder) Result {
	if d.reg == nil {
		return Result{Channel: ChannelPush, NoOp: true}
	}
	delivered := d.reg.Publish(user.ID, push.Event{Type: EventReminderDue, Data: r})
	if !delivered {
		// No live connection is fine; the email channel still runs.
		return Result{Channel: ChannelPush, NoOp: true}
	}
	return Result{Channel: ChannelPush, OK: true}
}

func (d *Dispatcher) emailResult(ctx context.Context, user store.User, r reminder.Reminder) Result {
	if d.mailer == nil || user.Email == "" {
		return Result{Channel: ChannelEmail, NoOp: true}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiter.Wait(sendCtx); err != nil {
		return Result{Channel: ChannelEmail, Err: err}
	}
	if err := d.mailer.Send(sendCtx, user.Email, emailSubject(r), emailBody(r)); err != nil {
		return Result{Channel: ChannelEmail, Err: err}
	}
	return Result{Channel: ChannelEmail, OK: true}
}
