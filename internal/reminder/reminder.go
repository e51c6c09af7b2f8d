// Package reminder defines the reminder record and resolves concrete
// occurrences for the three reminder kinds.
package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindd/internal/rule"
)

// Kind discriminates the three reminder shapes. Code switching on Kind must
// be exhaustive and treat unknown values as an error, never as a fallthrough.
type Kind string

const (
	// KindOneShot fires once at DueAt, delivery tracked.
	KindOneShot Kind = "one_shot"
	// KindLeadTime fires once, a configured interval before DueAt, delivery tracked.
	KindLeadTime Kind = "lead_time"
	// KindRecurring fires per CronRule; delivery is not tracked per occurrence.
	KindRecurring Kind = "recurring"
)

var ErrUnknownKind = errors.New("unknown reminder kind")

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOneShot, KindLeadTime, KindRecurring:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateDelivered DeliveryState = "delivered"
)

// Reminder is owned by exactly one user. Identity is immutable;
// scheduling and content fields may change.
//
// DueAt is meaningful only for one_shot/lead_time; CronRule only for
// recurring. DeliveryState is advanced only by the poller and never for
// recurring reminders.
type Reminder struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	Kind        Kind   `json:"kind"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`

	DueAt    time.Time `json:"dueAt,omitzero"`
	CronRule string    `json:"cronRule,omitempty"`

	ExternalURL  string `json:"externalUrl,omitempty"`
	RelatedLogID string `json:"relatedLogId,omitempty"`

	DeliveryState DeliveryState `json:"deliveryState"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the kind-specific field contract before a write.
func (r Reminder) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	switch r.Kind {
	case KindOneShot, KindLeadTime:
		if r.DueAt.IsZero() {
			return fmt.Errorf("%s reminder requires dueAt", r.Kind)
		}
		if r.CronRule != "" {
			return fmt.Errorf("%s reminder must not carry a cron rule", r.Kind)
		}
		return nil
	case KindRecurring:
		if !r.DueAt.IsZero() {
			return errors.New("recurring reminder must not carry dueAt")
		}
		return rule.Validate(r.CronRule)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
}

// DueWithin reports whether the reminder is actionable for delivery in
// [start, end). One-shot and lead-time reminders are actionable only while
// pending; recurring reminders only depend on their rule.
func DueWithin(r Reminder, start, end time.Time) (bool, error) {
	switch r.Kind {
	case KindOneShot, KindLeadTime:
		if r.DeliveryState != StatePending {
			return false, nil
		}
		return inWindow(r.DueAt, start, end), nil
	case KindRecurring:
		return rule.HasOccurrenceInWindow(r.CronRule, floorAtCreation(r, start), end)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
}

// OccurrencesWithin returns the reminder's concrete due instants in
// [start, end), regardless of delivery state. Calendar views must show past
// and delivered items too, so this deliberately ignores DeliveryState.
func OccurrencesWithin(r Reminder, start, end time.Time) ([]time.Time, error) {
	switch r.Kind {
	case KindOneShot, KindLeadTime:
		if inWindow(r.DueAt, start, end) {
			return []time.Time{r.DueAt}, nil
		}
		return nil, nil
	case KindRecurring:
		return rule.OccurrencesInWindow(r.CronRule, floorAtCreation(r, start), end)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// A recurring reminder yields no occurrences from before it existed.
func floorAtCreation(r Reminder, start time.Time) time.Time {
	if !r.CreatedAt.IsZero() && r.CreatedAt.After(start) {
		return r.CreatedAt
	}
	return start
}
