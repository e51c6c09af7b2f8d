// Package rule evaluates cron expressions for recurring reminders.
//
// All functions are stateless: each call parses the expression on its own,
// so evaluations are independent and restartable. Windows are half-open
// [start, end) throughout.
package rule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidRule marks a cron expression that does not parse.
// Write paths must reject it; read paths log and skip.
var ErrInvalidRule = errors.New("invalid cron rule")

// Standard 5-field cron plus descriptors (@daily, @every ...), matching the
// scheduling granularity the rest of the engine assumes (minutes).
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRule, expr, err)
	}
	return sched, nil
}

// Validate reports whether expr is a syntactically valid rule.
// It must be called before a recurring reminder is persisted or updated.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// NextAfter returns the smallest occurrence at or after ref.
// A zero time means the rule has no occurrence within the evaluation horizon.
func NextAfter(expr string, ref time.Time) (time.Time, error) {
	sched, err := parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	// cron schedules activate strictly after the given instant, rounded up
	// to a whole second. Stepping back one nanosecond makes a whole-second
	// ref itself eligible without ever reaching an instant before ref.
	return sched.Next(ref.Add(-time.Nanosecond)), nil
}

// HasOccurrenceInWindow reports whether at least one occurrence
// falls in [start, end).
func HasOccurrenceInWindow(expr string, start, end time.Time) (bool, error) {
	next, err := NextAfter(expr, start)
	if err != nil {
		return false, err
	}
	return !next.IsZero() && next.Before(end), nil
}

// OccurrencesInWindow returns every occurrence in [start, end), ascending.
// The result is finite for any finite window.
func OccurrencesInWindow(expr string, start, end time.Time) ([]time.Time, error) {
	sched, err := parse(expr)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for t := sched.Next(start.Add(-time.Nanosecond)); !t.IsZero() && t.Before(end); t = sched.Next(t) {
		out = append(out, t)
	}
	return out, nil
}
