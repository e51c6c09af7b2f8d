package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "remindd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustCreate(t *testing.T, st Store, r reminder.Reminder) reminder.Reminder {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.DeliveryState == "" {
		r.DeliveryState = reminder.StatePending
	}
	if err := st.CreateReminder(context.Background(), r); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	return r
}

func TestReminderRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	due := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	mustCreate(t, st, reminder.Reminder{
		ID: "r1", UserID: "u1", Kind: reminder.KindOneShot,
		Category: "work", Title: "standup", Description: "daily sync",
		DueAt: due, ExternalURL: "https://example.com/join",
	})

	got, err := st.GetReminder(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got.Kind != reminder.KindOneShot || !got.DueAt.Equal(due) || got.ExternalURL != "https://example.com/join" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.DeliveryState != reminder.StatePending {
		t.Fatalf("DeliveryState = %s, want pending", got.DeliveryState)
	}

	// Wrong owner never sees it.
	if _, err := st.GetReminder(ctx, "u2", "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-user get: expected ErrNotFound, got %v", err)
	}
}

func TestUpdateReminderPatch(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, st, reminder.Reminder{
		ID: "r1", UserID: "u1", Kind: reminder.KindRecurring,
		Title: "water plants", CronRule: "0 9 * * *",
	})

	title := "water the plants"
	cr := "0 8 * * *"
	got, err := st.UpdateReminder(ctx, "u1", "r1", Patch{Title: &title, CronRule: &cr})
	if err != nil {
		t.Fatalf("UpdateReminder: %v", err)
	}
	if got.Title != title || got.CronRule != cr {
		t.Fatalf("patch not applied: %+v", got)
	}

	if _, err := st.UpdateReminder(ctx, "u1", "nope", Patch{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRemindersFilters(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, st, reminder.Reminder{ID: "a", UserID: "u1", Kind: reminder.KindOneShot, Title: "a", DueAt: base})
	mustCreate(t, st, reminder.Reminder{ID: "b", UserID: "u1", Kind: reminder.KindOneShot, Title: "b", DueAt: base.Add(time.Hour)})
	mustCreate(t, st, reminder.Reminder{ID: "c", UserID: "u1", Kind: reminder.KindLeadTime, Title: "c", DueAt: base.Add(2 * time.Hour)})
	mustCreate(t, st, reminder.Reminder{ID: "d", UserID: "u2", Kind: reminder.KindOneShot, Title: "d", DueAt: base})
	mustCreate(t, st, reminder.Reminder{ID: "e", UserID: "u1", Kind: reminder.KindRecurring, Title: "e", CronRule: "0 9 * * *"})

	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"by user", Filter{UserID: "u1"}, []string{"e", "a", "b", "c"}}, // NULL due_at sorts first
		{"by kind", Filter{UserID: "u1", Kind: reminder.KindOneShot}, []string{"a", "b"}},
		{"due range half-open", Filter{UserID: "u1", DueFrom: base, DueBefore: base.Add(2 * time.Hour)}, []string{"a", "b"}},
		{"state pending", Filter{UserID: "u1", Kind: reminder.KindLeadTime, State: reminder.StatePending}, []string{"c"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.ListReminders(ctx, tt.f)
			if err != nil {
				t.Fatalf("ListReminders: %v", err)
			}
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("got %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", ids, tt.want)
				}
			}
		})
	}
}

func TestMarkDeliveredIsConditional(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, st, reminder.Reminder{
		ID: "r1", UserID: "u1", Kind: reminder.KindOneShot, Title: "t",
		DueAt: time.Now().UTC(),
	})

	flipped, err := st.MarkDelivered(ctx, "r1")
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if !flipped {
		t.Fatal("first MarkDelivered did not flip")
	}

	// Second flip loses the compare-and-swap.
	flipped, err = st.MarkDelivered(ctx, "r1")
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if flipped {
		t.Fatal("second MarkDelivered flipped again")
	}

	// Recurring reminders never transition to delivered.
	mustCreate(t, st, reminder.Reminder{
		ID: "r2", UserID: "u1", Kind: reminder.KindRecurring, Title: "t", CronRule: "0 9 * * *",
	})
	flipped, err = st.MarkDelivered(ctx, "r2")
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if flipped {
		t.Fatal("recurring reminder was marked delivered")
	}
}

func TestDeleteDeliveredBefore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	horizon := 30 * 24 * time.Hour
	cutoff := now.Add(-horizon)

	mustCreate(t, st, reminder.Reminder{
		ID: "old", UserID: "u1", Kind: reminder.KindOneShot, Title: "t",
		DueAt: now.Add(-31 * 24 * time.Hour),
	})
	mustCreate(t, st, reminder.Reminder{
		ID: "recent", UserID: "u1", Kind: reminder.KindLeadTime, Title: "t",
		DueAt: now.Add(-29 * 24 * time.Hour),
	})
	mustCreate(t, st, reminder.Reminder{
		ID: "pending-old", UserID: "u1", Kind: reminder.KindOneShot, Title: "t",
		DueAt: now.Add(-90 * 24 * time.Hour),
	})
	mustCreate(t, st, reminder.Reminder{
		ID: "rec", UserID: "u1", Kind: reminder.KindRecurring, Title: "t", CronRule: "0 9 * * *",
	})

	// Deliver "old" and "recent"; leave "pending-old" pending.
	for _, id := range []string{"old", "recent"} {
		if _, err := st.MarkDelivered(ctx, id); err != nil {
			t.Fatalf("MarkDelivered(%s): %v", id, err)
		}
	}

	n, err := st.DeleteDeliveredBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteDeliveredBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows, want 1", n)
	}

	if _, err := st.GetReminder(ctx, "u1", "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old delivered reminder survived sweep: %v", err)
	}
	for _, id := range []string{"recent", "pending-old", "rec"} {
		if _, err := st.GetReminder(ctx, "u1", id); err != nil {
			t.Fatalf("%s should survive sweep: %v", id, err)
		}
	}
}

func TestUsersAndIncidents(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, User{ID: "u1", Email: "a@example.com", Name: "A"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := st.UpsertUser(ctx, User{ID: "u1", Email: "b@example.com", Name: "A"}); err != nil {
		t.Fatalf("UpsertUser (update): %v", err)
	}
	u, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Email != "b@example.com" {
		t.Fatalf("upsert did not update email: %+v", u)
	}
	if _, err := st.GetUser(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	at := time.Date(2025, 7, 10, 14, 0, 0, 0, time.UTC)
	for i, sev := range []int{1, 2, 3} {
		err := st.CreateIncident(ctx, Incident{
			ID: string(rune('a' + i)), UserID: "u1", Severity: sev,
			Summary: "incident", OccurredAt: at.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateIncident: %v", err)
		}
	}

	high, err := st.ListIncidents(ctx, "u1", 2, at.Add(-time.Hour), at.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(high) != 2 {
		t.Fatalf("got %d incidents with severity >= 2, want 2", len(high))
	}
}
