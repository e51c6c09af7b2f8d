package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"remindd/internal/calendar"
	"remindd/internal/reminder"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

type createReminderRequest struct {
	Kind         string    `json:"kind"`
	Category     string    `json:"category"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	DueAt        time.Time `json:"dueAt"`
	ExternalURL  string    `json:"externalUrl"`
	RelatedLogID string    `json:"relatedLogId"`
}

type createPeriodicRequest struct {
	Category     string `json:"category"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	CronRule     string `json:"cronRule"`
	ExternalURL  string `json:"externalUrl"`
	RelatedLogID string `json:"relatedLogId"`
}

type updateReminderRequest struct {
	Category    *string    `json:"category"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	DueAt       *time.Time `json:"dueAt"`
	CronRule    *string    `json:"cronRule"`
	ExternalURL *string    `json:"externalUrl"`
}

type upsertUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *Server) createReminder(c *gin.Context) {
	var req createReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	kind := reminder.KindOneShot
	if req.Kind != "" {
		k, err := reminder.ParseKind(req.Kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if k == reminder.KindRecurring {
			c.JSON(http.StatusBadRequest, gin.H{"error": "use /api/reminders/periodic for recurring reminders"})
			return
		}
		kind = k
	}

	now := time.Now()
	r := reminder.Reminder{
		ID:            uuid.New().String(),
		UserID:        userID(c),
		Kind:          kind,
		Category:      req.Category,
		Title:         req.Title,
		Description:   req.Description,
		DueAt:         req.DueAt,
		ExternalURL:   req.ExternalURL,
		RelatedLogID:  req.RelatedLogID,
		DeliveryState: reminder.StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.CreateReminder(c.Request.Context(), r); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) createPeriodicReminder(c *gin.Context) {
	var req createPeriodicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	now := time.Now()
	r := reminder.Reminder{
		ID:            uuid.New().String(),
		UserID:        userID(c),
		Kind:          reminder.KindRecurring,
		Category:      req.Category,
		Title:         req.Title,
		Description:   req.Description,
		CronRule:      req.CronRule,
		ExternalURL:   req.ExternalURL,
		RelatedLogID:  req.RelatedLogID,
		DeliveryState: reminder.StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.CreateReminder(c.Request.Context(), r); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) getReminder(c *gin.Context) {
	r, err := s.store.GetReminder(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) updateReminder(c *gin.Context) {
	var req updateReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	cur, err := s.store.GetReminder(ctx, userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	// Apply the patch to a copy and revalidate the kind contract so a
	// one-shot cannot grow a cron rule and a recurring cannot grow a due
	// time.
	next := cur
	if req.Category != nil {
		next.Category = *req.Category
	}
	if req.Title != nil {
		next.Title = *req.Title
	}
	if req.Description != nil {
		next.Description = *req.Description
	}
	if req.DueAt != nil {
		next.DueAt = *req.DueAt
	}
	if req.CronRule != nil {
		next.CronRule = *req.CronRule
	}
	if req.ExternalURL != nil {
		next.ExternalURL = *req.ExternalURL
	}
	if err := next.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := s.store.UpdateReminder(ctx, userID(c), cur.ID, store.Patch{
		Category:    req.Category,
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt,
		CronRule:    req.CronRule,
		ExternalURL: req.ExternalURL,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteReminder(c *gin.Context) {
	if err := s.store.DeleteReminder(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listReminders(c *gin.Context) {
	f := store.Filter{UserID: userID(c), Category: c.Query("category")}
	if v := c.Query("kind"); v != "" {
		k, err := reminder.ParseKind(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Kind = k
	}
	if v := c.Query("state"); v != "" {
		switch reminder.DeliveryState(v) {
		case reminder.StatePending, reminder.StateDelivered:
			f.State = reminder.DeliveryState(v)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown state %q", v)})
			return
		}
	}
	var err error
	if f.DueFrom, err = timeQuery(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.DueBefore, err = timeQuery(c, "before"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rs, err := s.store.ListReminders(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (s *Server) calendarMonth(c *gin.Context) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "year must be an integer"})
		return
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be 1-12"})
		return
	}

	data, err := s.cal.MonthView(c.Request.Context(), userID(c), year, time.Month(month))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) calendarDay(c *gin.Context) {
	day, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	data, err := s.cal.DayView(c.Request.Context(), userID(c), day)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) calendarFiltered(c *gin.Context) {
	opt := calendar.FilterOptions{Category: c.Query("category")}
	if v := c.Query("kind"); v != "" {
		k, err := reminder.ParseKind(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opt.Kind = k
	}
	var err error
	if opt.Start, err = timeQuery(c, "start"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if opt.End, err = timeQuery(c, "end"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rs, err := s.cal.Filtered(c.Request.Context(), userID(c), opt)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (s *Server) upsertUser(c *gin.Context) {
	var req upsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	u := store.User{ID: userID(c), Email: req.Email, Name: req.Name}
	if err := s.store.UpsertUser(c.Request.Context(), u); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// events streams the caller's push channel as server-sent events. The
// connection counts as an online session for delivery purposes.
func (s *Server) events(c *gin.Context) {
	ch, unsubscribe := s.hub.Subscribe(userID(c), 16)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(e.Type, e.Data)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func timeQuery(c *gin.Context, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339: %v", name, err)
	}
	return t, nil
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.log.Error("request failed",
		logx.String("path", c.FullPath()), logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
