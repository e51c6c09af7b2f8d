// Package httpapi exposes the reminder engine over HTTP: CRUD for
// reminders, calendar views, and a server-sent event stream mirroring the
// push channel.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"remindd/internal/calendar"
	"remindd/internal/push"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

const userHeader = "X-User-ID"

type Config struct {
	Addr string
}

type Server struct {
	store store.Store
	cal   *calendar.Service
	hub   push.Registry
	log   logx.Logger

	srv *http.Server
}

func New(cfg Config, st store.Store, cal *calendar.Service, hub push.Registry, log logx.Logger) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{store: st, cal: cal, hub: hub, log: log}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", s.requireUser())
	{
		api.POST("/users", s.upsertUser)

		api.POST("/reminders", s.createReminder)
		api.POST("/reminders/periodic", s.createPeriodicReminder)
		api.GET("/reminders", s.listReminders)
		api.GET("/reminders/:id", s.getReminder)
		api.PATCH("/reminders/:id", s.updateReminder)
		api.DELETE("/reminders/:id", s.deleteReminder)

		api.GET("/calendar", s.calendarFiltered)
		api.GET("/calendar/month", s.calendarMonth)
		api.GET("/calendar/day", s.calendarDay)

		api.GET("/events", s.events)
	}
	return r
}

// requireUser resolves the caller from the X-User-ID header. An upstream
// gateway is expected to authenticate requests and stamp the header.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader(userHeader)
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + userHeader + " header"})
			return
		}
		c.Set("userID", uid)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.MustGet("userID").(string)
}

func (s *Server) Start() {
	go func() {
		s.log.Info("http listening", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
