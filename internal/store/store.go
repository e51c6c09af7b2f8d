// Package store provides the persistence layer for reminders, users and
// incident logs.
//
// The engine consumes it through the Store interface: equality filters on
// owner/kind/state, a half-open range on due_at, a conditional state flip
// for delivery tracking, and a bulk delete for retention.
package store

import (
	"context"
	"errors"
	"time"

	"remindd/internal/reminder"
)

var ErrNotFound = errors.New("record not found")

// Config configures the SQLite backend.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is the minimal owner record the dispatcher needs.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Incident is a log entry surfaced on the calendar when severe enough.
type Incident struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Severity   int       `json:"severity"` // 1 low .. 3 very high
	Summary    string    `json:"summary"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Filter selects reminders. Zero-valued fields match everything.
// The due range is half-open: DueFrom <= due_at < DueBefore.
type Filter struct {
	UserID   string
	Kind     reminder.Kind
	State    reminder.DeliveryState
	Category string

	DueFrom   time.Time
	DueBefore time.Time
}

// Patch applies a partial reminder update. Nil fields are left untouched.
// Kind and owner are immutable.
type Patch struct {
	Category    *string
	Title       *string
	Description *string
	DueAt       *time.Time
	CronRule    *string
	ExternalURL *string
}

type Store interface {
	CreateReminder(ctx context.Context, r reminder.Reminder) error
	GetReminder(ctx context.Context, userID, id string) (reminder.Reminder, error)
	UpdateReminder(ctx context.Context, userID, id string, p Patch) (reminder.Reminder, error)
	DeleteReminder(ctx context.Context, userID, id string) error
	ListReminders(ctx context.Context, f Filter) ([]reminder.Reminder, error)

	// MarkDelivered flips delivery_state pending -> delivered and reports
	// whether this call performed the flip. A false return means another
	// tick already delivered the reminder (or it does not exist).
	MarkDelivered(ctx context.Context, id string) (bool, error)

	// DeleteDeliveredBefore removes delivered one-shot/lead-time reminders
	// with due_at earlier than cutoff. Pending and recurring reminders are
	// never touched.
	DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)

	CreateIncident(ctx context.Context, in Incident) error
	ListIncidents(ctx context.Context, userID string, minSeverity int, start, end time.Time) ([]Incident, error)

	Close() error
}
