package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if necessary) the SQLite database at cfg.Path and
// applies migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store.path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- reminders ----

const reminderCols = `id, user_id, kind, category, title, description,
	due_at, cron_rule, external_url, related_log_id, delivery_state, created_at, updated_at`

func (s *sqliteStore) CreateReminder(ctx context.Context, r reminder.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, string(r.Kind), r.Category, r.Title, r.Description,
		nullMilli(r.DueAt), nullStr(r.CronRule), nullStr(r.ExternalURL), nullStr(r.RelatedLogID),
		string(r.DeliveryState), r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetReminder(ctx context.Context, userID, id string) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = ? AND user_id = ?`, id, userID)
	return scanReminder(row)
}

func (s *sqliteStore) UpdateReminder(ctx context.Context, userID, id string, p Patch) (reminder.Reminder, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixMilli()}

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Category != nil {
		add("category", *p.Category)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.DueAt != nil {
		add("due_at", p.DueAt.UnixMilli())
	}
	if p.CronRule != nil {
		add("cron_rule", *p.CronRule)
	}
	if p.ExternalURL != nil {
		add("external_url", nullStr(*p.ExternalURL))
	}

	args = append(args, id, userID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reminder.Reminder{}, ErrNotFound
	}
	return s.GetReminder(ctx, userID, id)
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListReminders(ctx context.Context, f Filter) ([]reminder.Reminder, error) {
	where := []string{"1=1"}
	var args []any

	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.State != "" {
		where = append(where, "delivery_state = ?")
		args = append(args, string(f.State))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if !f.DueFrom.IsZero() {
		where = append(where, "due_at >= ?")
		args = append(args, f.DueFrom.UnixMilli())
	}
	if !f.DueBefore.IsZero() {
		where = append(where, "due_at < ?")
		args = append(args, f.DueBefore.UnixMilli())
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE `+strings.Join(where, " AND ")+
			` ORDER BY due_at ASC, created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkDelivered(ctx context.Context, id string) (bool, error) {
	// Conditional flip: a concurrent duplicate tick loses the race here.
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET delivery_state = ?, updated_at = ?
		 WHERE id = ? AND delivery_state = ? AND kind IN (?,?)`,
		string(reminder.StateDelivered), time.Now().UnixMilli(),
		id, string(reminder.StatePending),
		string(reminder.KindOneShot), string(reminder.KindLeadTime),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders
		 WHERE delivery_state = ? AND kind IN (?,?) AND due_at < ?`,
		string(reminder.StateDelivered),
		string(reminder.KindOneShot), string(reminder.KindLeadTime),
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- users ----

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, name, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET email=excluded.email, name=excluded.name`,
		u.ID, u.Email, u.Name, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// ---- incidents ----

func (s *sqliteStore) CreateIncident(ctx context.Context, in Incident) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents(id, user_id, severity, summary, occurred_at) VALUES(?,?,?,?,?)`,
		in.ID, in.UserID, in.Severity, in.Summary, in.OccurredAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListIncidents(ctx context.Context, userID string, minSeverity int, start, end time.Time) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, severity, summary, occurred_at FROM incidents
		 WHERE user_id = ? AND severity >= ? AND occurred_at >= ? AND occurred_at < ?
		 ORDER BY occurred_at ASC`,
		userID, minSeverity, start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var in Incident
		var at int64
		if err := rows.Scan(&in.ID, &in.UserID, &in.Severity, &in.Summary, &at); err != nil {
			return nil, err
		}
		in.OccurredAt = time.UnixMilli(at).UTC()
		out = append(out, in)
	}
	return out, rows.Err()
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (reminder.Reminder, error) {
	var r reminder.Reminder
	var kind, state string
	var dueAt sql.NullInt64
	var cronRule, externalURL, relatedLogID sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&r.ID, &r.UserID, &kind, &r.Category, &r.Title, &r.Description,
		&dueAt, &cronRule, &externalURL, &relatedLogID, &state, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, ErrNotFound
	}
	if err != nil {
		return reminder.Reminder{}, err
	}

	r.Kind = reminder.Kind(kind)
	r.DeliveryState = reminder.DeliveryState(state)
	if dueAt.Valid {
		r.DueAt = time.UnixMilli(dueAt.Int64).UTC()
	}
	r.CronRule = cronRule.String
	r.ExternalURL = externalURL.String
	r.RelatedLogID = relatedLogID.String
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return r, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMilli(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
