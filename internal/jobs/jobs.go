// Package jobs runs the engine's background jobs on cron-driven cadences.
//
// Ticks of the same job are serialized: a slow tick delays the next one
// instead of overlapping it, so a job's batch always runs to completion
// before its next batch starts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/pkg/logx"
)

type Config struct {
	DefaultTimeout time.Duration
	HistorySize    int
	Timezone       string // IANA TZ, e.g. "Asia/Jakarta"; empty means process local
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type jobDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	run     func(ctx context.Context) error
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []jobDef

	runCtx context.Context
	stop   context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// AddInterval registers a job that fires every `every`.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, run func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("job %q: interval must be > 0", name)
	}
	return s.add(jobDef{
		name:    name,
		spec:    fmt.Sprintf("@every %s", every.String()),
		timeout: s.resolveTimeout(timeout),
		run:     run,
	})
}

// AddDaily registers a job that fires once per day at HH:MM (service timezone).
func (s *Service) AddDaily(name string, atHHMM string, timeout time.Duration, run func(ctx context.Context) error) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	return s.add(jobDef{
		name:    name,
		spec:    fmt.Sprintf("%d %d * * *", m, h),
		timeout: s.resolveTimeout(timeout),
		run:     run,
	})
}

func (s *Service) add(d jobDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.parser.Parse(d.spec); err != nil {
		return err
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		return s.registerLocked(d)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.stop = context.WithCancel(ctx)

	loc := s.loadLocationLocked()
	s.loc = loc

	cl := cronLogger{s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		// Recover keeps one panicking job from killing the process;
		// DelayIfStillRunning serializes ticks of the same job.
		cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		_ = s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("jobs started", logx.Int("jobs", len(s.defs)), logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.c = nil
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.log.Info("jobs stopped")
}

func (s *Service) registerLocked(d jobDef) error {
	runCtx := s.runCtx
	_, err := s.c.AddFunc(d.spec, func() {
		s.execOne(runCtx, d)
	})
	return err
}

func (s *Service) execOne(ctx context.Context, d jobDef) {
	start := time.Now()
	runCtx := ctx
	var cancel func()
	if d.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := d.run(runCtx)

	item := HistoryItem{
		Name:     d.name,
		Started:  start,
		Duration: time.Since(start),
	}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", d.name), logx.Err(err))
	} else {
		s.log.Debug("job ok", logx.String("job", d.name), logx.Duration("took", item.Duration))
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

// Snapshot returns recent job executions for operational visibility.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) resolveTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return s.cfg.DefaultTimeout
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

var errCron = errors.New("cron")

// cronLogger adapts logx to the cron.Logger interface.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	if err == nil {
		err = errCron
	}
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
