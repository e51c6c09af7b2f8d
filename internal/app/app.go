// Package app assembles the daemon: config, logging, storage, the
// scheduling engine, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindd/internal/calendar"
	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/httpapi"
	"remindd/internal/jobs"
	"remindd/internal/poller"
	"remindd/internal/push"
	"remindd/internal/store"
	"remindd/internal/sweeper"
	"remindd/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	store store.Store
	hub   *push.Hub
	jobs  *jobs.Service
	http  *httpapi.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type engineSettings struct {
	pollInterval    time.Duration
	leadTime        time.Duration
	retention       time.Duration
	dispatchTimeout time.Duration
	sweepAt         string
	timezone        *time.Location
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	eng, err := engineFromConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	hub := push.NewHub()

	var mailer dispatch.Mailer
	if cfg.SMTP != nil {
		mailer, err = dispatch.NewSMTPMailer(dispatch.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			_ = st.Close()
			logSvc.Close()
			return nil, err
		}
	}
	disp := dispatch.New(dispatch.Config{
		ChannelTimeout:  eng.dispatchTimeout,
		EmailRatePerSec: cfg.Engine.EmailRatePerSec,
	}, hub, mailer, log.With(logx.String("comp", "dispatch")))

	jobSvc := jobs.New(jobs.Config{
		DefaultTimeout: eng.dispatchTimeout + eng.pollInterval,
		Timezone:       cfg.Engine.Timezone,
	}, log.With(logx.String("comp", "jobs")))

	poll := poller.New(poller.Config{
		Interval: eng.pollInterval,
		LeadTime: eng.leadTime,
	}, st, disp, log.With(logx.String("comp", "poller")))
	if err := jobSvc.AddInterval("reminder.poll", poll.Interval(), 0, func(ctx context.Context) error {
		return poll.Tick(ctx, time.Now())
	}); err != nil {
		_ = st.Close()
		logSvc.Close()
		return nil, err
	}

	sweep := sweeper.New(st, eng.retention, log.With(logx.String("comp", "sweeper")))
	if err := jobSvc.AddDaily("reminder.sweep", eng.sweepAt, 0, func(ctx context.Context) error {
		return sweep.Sweep(ctx, time.Now())
	}); err != nil {
		_ = st.Close()
		logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		store: st,
		hub:   hub,
		jobs:  jobSvc,
	}

	if cfg.HTTP.Enabled {
		cal := calendar.New(st, eng.timezone, log.With(logx.String("comp", "calendar")))
		a.http = httpapi.New(httpapi.Config{Addr: cfg.HTTP.Addr},
			st, cal, hub, log.With(logx.String("comp", "http")))
	}

	return a, nil
}

func engineFromConfig(cfg *config.Config) (engineSettings, error) {
	var (
		eng engineSettings
		err error
	)
	if eng.pollInterval, err = config.ParseDurationOrDefault("engine.poll_interval", cfg.Engine.PollInterval, poller.DefaultInterval); err != nil {
		return eng, err
	}
	if eng.leadTime, err = config.ParseDurationOrDefault("engine.lead_time", cfg.Engine.LeadTime, poller.DefaultLeadTime); err != nil {
		return eng, err
	}
	if eng.retention, err = config.ParseDurationOrDefault("engine.retention", cfg.Engine.Retention, sweeper.DefaultHorizon); err != nil {
		return eng, err
	}
	if eng.dispatchTimeout, err = config.ParseDurationOrDefault("engine.dispatch_timeout", cfg.Engine.DispatchTimeout, 10*time.Second); err != nil {
		return eng, err
	}
	eng.sweepAt = cfg.Engine.SweepAt
	if eng.sweepAt == "" {
		eng.sweepAt = "00:00"
	}
	eng.timezone = time.Local
	if tz := strings.TrimSpace(cfg.Engine.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return eng, fmt.Errorf("engine.timezone: invalid %q: %w", tz, err)
		}
		eng.timezone = loc
	}
	return eng, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Reject bad hot-reloads before they are committed.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := engineFromConfig(cfg)
		return err
	})

	a.jobs.Start(runCtx)
	if a.http != nil {
		a.http.Start()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	// Engine timing changes need a restart; logging changes apply live.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("configuration reloaded")
			}
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.http != nil {
		if err := a.http.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
	}
	a.jobs.Stop(ctx)
	a.wg.Wait()

	err := a.store.Close()
	a.log.Info("stopped")
	a.logs.Close()
	return err
}
