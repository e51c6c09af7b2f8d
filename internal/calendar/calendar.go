// Package calendar materializes reminders and severe incidents into
// month-grid markers and day-detail views.
//
// Views are read-only: they never advance delivery state, and delivered
// one-shot reminders still render. Markers carry no global ordering; a
// calendar grid groups by day, so callers sort client-side if they need
// chronological order.
package calendar

import (
	"context"
	"errors"
	"time"

	"remindd/internal/reminder"
	"remindd/internal/rule"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

// Incident severities: 1 low, 2 high, 3 very high. The month grid only
// flags the worst; the day detail includes high as well.
const (
	monthMinSeverity = 3
	dayMinSeverity   = 2
)

const dateFormat = "2006-01-02"

// Marker tags a calendar day with a reminder occurrence.
type Marker struct {
	Date string        `json:"date"` // YYYY-MM-DD
	Kind reminder.Kind `json:"kind"`
}

type IncidentMarker struct {
	Date string `json:"date"`
}

type MonthData struct {
	IncidentMarkers []IncidentMarker `json:"incidentMarkers"`
	ReminderMarkers []Marker         `json:"reminderMarkers"`
}

type DayData struct {
	Incidents []store.Incident    `json:"incidents"`
	Reminders []reminder.Reminder `json:"reminders"`
}

// FilterOptions narrows the Filtered listing. Zero values widen the filter;
// an empty window defaults to the current calendar month.
type FilterOptions struct {
	Kind     reminder.Kind
	Category string
	Start    time.Time
	End      time.Time
}

type Service struct {
	store store.Store
	loc   *time.Location
	log   logx.Logger
}

func New(st store.Store, loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: st, loc: loc, log: log}
}

// MonthView expands every reminder of the user over [first of month, first
// of next month) and pairs the markers with very-high-severity incident days.
func (s *Service) MonthView(ctx context.Context, userID string, year int, month time.Month) (MonthData, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 1, 0)

	out := MonthData{
		IncidentMarkers: []IncidentMarker{},
		ReminderMarkers: []Marker{},
	}

	incidents, err := s.store.ListIncidents(ctx, userID, monthMinSeverity, start, end)
	if err != nil {
		return MonthData{}, err
	}
	for _, in := range incidents {
		out.IncidentMarkers = append(out.IncidentMarkers, IncidentMarker{
			Date: in.OccurredAt.In(s.loc).Format(dateFormat),
		})
	}

	reminders, err := s.store.ListReminders(ctx, store.Filter{UserID: userID})
	if err != nil {
		return MonthData{}, err
	}
	for _, r := range reminders {
		occ, ok := s.occurrences(r, start, end)
		if !ok {
			continue
		}
		for _, t := range occ {
			out.ReminderMarkers = append(out.ReminderMarkers, Marker{
				Date: t.In(s.loc).Format(dateFormat),
				Kind: r.Kind,
			})
		}
	}
	return out, nil
}

// DayView returns full incident and reminder records for the 24-hour window
// anchored at local midnight of day. Recurring reminders appear when their
// rule fires that day; each reminder appears once regardless of how many
// occurrences land in the window.
func (s *Service) DayView(ctx context.Context, userID string, day time.Time) (DayData, error) {
	d := day.In(s.loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)

	out := DayData{
		Incidents: []store.Incident{},
		Reminders: []reminder.Reminder{},
	}

	incidents, err := s.store.ListIncidents(ctx, userID, dayMinSeverity, start, end)
	if err != nil {
		return DayData{}, err
	}
	out.Incidents = incidents

	reminders, err := s.store.ListReminders(ctx, store.Filter{UserID: userID})
	if err != nil {
		return DayData{}, err
	}
	for _, r := range reminders {
		occ, ok := s.occurrences(r, start, end)
		if ok && len(occ) > 0 {
			out.Reminders = append(out.Reminders, r)
		}
	}
	return out, nil
}

// Filtered lists full reminder records matching the options, expanding
// recurring rules against the window like the views do.
func (s *Service) Filtered(ctx context.Context, userID string, opt FilterOptions) ([]reminder.Reminder, error) {
	start, end := opt.Start, opt.End
	if start.IsZero() || end.IsZero() {
		now := time.Now().In(s.loc)
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
		end = start.AddDate(0, 1, 0)
	}

	reminders, err := s.store.ListReminders(ctx, store.Filter{
		UserID:   userID,
		Kind:     opt.Kind,
		Category: opt.Category,
	})
	if err != nil {
		return nil, err
	}

	out := []reminder.Reminder{}
	for _, r := range reminders {
		occ, ok := s.occurrences(r, start, end)
		if ok && len(occ) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// occurrences resolves r over [start, end), treating a malformed rule as
// "renders nowhere" instead of failing the whole view.
func (s *Service) occurrences(r reminder.Reminder, start, end time.Time) ([]time.Time, bool) {
	occ, err := reminder.OccurrencesWithin(r, start, end)
	if err != nil {
		if errors.Is(err, rule.ErrInvalidRule) || errors.Is(err, reminder.ErrUnknownKind) {
			s.log.Warn("skipping unrenderable reminder",
				logx.String("reminder", r.ID), logx.Err(err))
			return nil, false
		}
		s.log.Warn("occurrence resolution failed",
			logx.String("reminder", r.ID), logx.Err(err))
		return nil, false
	}
	return occ, true
}
