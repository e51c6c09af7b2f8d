package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"remindd/internal/calendar"
	"remindd/internal/push"
	"remindd/internal/reminder"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "api.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cal := calendar.New(st, time.UTC, logx.Nop())
	s := New(Config{}, st, cal, push.NewHub(), logx.Nop())
	return s.router()
}

func do(t *testing.T, r *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestRequireUser(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	if w := do(t, r, http.MethodGet, "/api/reminders", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no header: code = %d, want 401", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: code = %d, want 200", w.Code)
	}
}

func TestReminderLifecycle(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/reminders", "u1", gin.H{
		"title":    "standup",
		"category": "work",
		"dueAt":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: code = %d, body = %s", w.Code, w.Body)
	}
	var created reminder.Reminder
	decode(t, w, &created)
	if created.Kind != reminder.KindOneShot || created.ID == "" {
		t.Fatalf("created = %+v", created)
	}

	if w := do(t, r, http.MethodGet, "/api/reminders/"+created.ID, "u1", nil); w.Code != http.StatusOK {
		t.Fatalf("get: code = %d", w.Code)
	}
	// Another user cannot see it.
	if w := do(t, r, http.MethodGet, "/api/reminders/"+created.ID, "u2", nil); w.Code != http.StatusNotFound {
		t.Fatalf("cross-user get: code = %d, want 404", w.Code)
	}

	w = do(t, r, http.MethodPatch, "/api/reminders/"+created.ID, "u1", gin.H{"title": "daily standup"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: code = %d, body = %s", w.Code, w.Body)
	}
	var patched reminder.Reminder
	decode(t, w, &patched)
	if patched.Title != "daily standup" || patched.Category != "work" {
		t.Fatalf("patched = %+v", patched)
	}

	if w := do(t, r, http.MethodDelete, "/api/reminders/"+created.ID, "u1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: code = %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/reminders/"+created.ID, "u1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: code = %d, want 404", w.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	cases := []struct {
		name string
		path string
		body gin.H
	}{
		{"missing title", "/api/reminders", gin.H{"dueAt": time.Now().Format(time.RFC3339)}},
		{"missing dueAt", "/api/reminders", gin.H{"title": "x"}},
		{"recurring on wrong endpoint", "/api/reminders", gin.H{"kind": "recurring", "title": "x"}},
		{"unknown kind", "/api/reminders", gin.H{"kind": "weekly", "title": "x"}},
		{"bad rule", "/api/reminders/periodic", gin.H{"title": "x", "cronRule": "not a rule"}},
		{"missing rule", "/api/reminders/periodic", gin.H{"title": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(t, r, http.MethodPost, tc.path, "u1", tc.body); w.Code != http.StatusBadRequest {
				t.Fatalf("code = %d, body = %s, want 400", w.Code, w.Body)
			}
		})
	}
}

func TestPatchKeepsKindContract(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/reminders/periodic", "u1", gin.H{
		"title":    "water plants",
		"cronRule": "0 9 * * *",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: code = %d, body = %s", w.Code, w.Body)
	}
	var rec reminder.Reminder
	decode(t, w, &rec)

	// A recurring reminder cannot grow a due time.
	w = do(t, r, http.MethodPatch, "/api/reminders/"+rec.ID, "u1", gin.H{
		"dueAt": time.Now().Format(time.RFC3339),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("patch dueAt on recurring: code = %d, want 400", w.Code)
	}

	// Rule edits are validated.
	w = do(t, r, http.MethodPatch, "/api/reminders/"+rec.ID, "u1", gin.H{"cronRule": "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("patch bad rule: code = %d, want 400", w.Code)
	}
	w = do(t, r, http.MethodPatch, "/api/reminders/"+rec.ID, "u1", gin.H{"cronRule": "30 8 * * 1"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch good rule: code = %d, body = %s", w.Code, w.Body)
	}
}

func TestListFilters(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	mk := func(body gin.H, path string) {
		if w := do(t, r, http.MethodPost, path, "u1", body); w.Code != http.StatusCreated {
			t.Fatalf("seed %v: code = %d, body = %s", body, w.Code, w.Body)
		}
	}
	mk(gin.H{"title": "a", "category": "work", "dueAt": "2025-06-05T09:00:00Z"}, "/api/reminders")
	mk(gin.H{"title": "b", "category": "home", "dueAt": "2025-06-06T09:00:00Z"}, "/api/reminders")
	mk(gin.H{"title": "c", "cronRule": "0 9 * * *"}, "/api/reminders/periodic")

	var got []reminder.Reminder

	w := do(t, r, http.MethodGet, "/api/reminders?kind=one_shot", "u1", nil)
	decode(t, w, &got)
	if len(got) != 2 {
		t.Fatalf("kind filter: got %d, want 2", len(got))
	}

	w = do(t, r, http.MethodGet, "/api/reminders?category=home", "u1", nil)
	decode(t, w, &got)
	if len(got) != 1 || got[0].Title != "b" {
		t.Fatalf("category filter: got %+v", got)
	}

	if w := do(t, r, http.MethodGet, "/api/reminders?kind=nope", "u1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: code = %d, want 400", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/reminders?from=yesterday", "u1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad from: code = %d, want 400", w.Code)
	}
}

func TestCalendarEndpoints(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/reminders", "u1", gin.H{
		"title": "review", "dueAt": "2025-06-12T15:00:00Z",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("seed: code = %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/api/calendar/month?year=2025&month=6", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("month: code = %d, body = %s", w.Code, w.Body)
	}
	var month calendar.MonthData
	decode(t, w, &month)
	if len(month.ReminderMarkers) != 1 || month.ReminderMarkers[0].Date != "2025-06-12" {
		t.Fatalf("month markers = %+v", month.ReminderMarkers)
	}

	w = do(t, r, http.MethodGet, "/api/calendar/day?date=2025-06-12", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("day: code = %d", w.Code)
	}
	var day calendar.DayData
	decode(t, w, &day)
	if len(day.Reminders) != 1 {
		t.Fatalf("day reminders = %+v", day.Reminders)
	}

	if w := do(t, r, http.MethodGet, "/api/calendar/month?year=2025&month=13", "u1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad month: code = %d, want 400", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/calendar/day?date=12-06-2025", "u1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad date: code = %d, want 400", w.Code)
	}
}

func TestUpsertUser(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/users", "u1", gin.H{"email": "u1@example.com", "name": "U One"})
	if w.Code != http.StatusOK {
		t.Fatalf("upsert: code = %d, body = %s", w.Code, w.Body)
	}
	var u store.User
	decode(t, w, &u)
	if u.ID != "u1" || u.Email != "u1@example.com" {
		t.Fatalf("user = %+v", u)
	}
}
