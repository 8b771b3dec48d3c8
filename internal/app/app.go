// Package app wires the bot together: config, logging, storage, the
// lifecycle service, the scheduling engine, and the Telegram transport.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gtbot/internal/clock"
	"gtbot/internal/config"
	"gtbot/internal/meeting"
	"gtbot/internal/notify"
	rtsup "gtbot/internal/runtime/supervisor"
	"gtbot/internal/schedule"
	"gtbot/internal/storage"
	"gtbot/internal/transport/telegram/adapter"
	"gtbot/internal/transport/telegram/router"
	logx "gtbot/pkg/logx"
)

const stopStepTimeout = 5 * time.Second

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	adapter  *adapter.Adapter
	notifier *notify.Service
	meetings *meeting.Service
	engine   *schedule.Engine
	router   *router.Router

	sup     *rtsup.Supervisor
	lastCfg *config.Config
}

// New loads the config and constructs every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: cfg.Logging.FileEnabled, Path: cfg.Logging.FilePath},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log, lastCfg: cfg}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	// Validate() already checked these; errors here are programming bugs.
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	annHour, annMinute, err := cfg.AnnounceTime()
	if err != nil {
		return err
	}

	busyTimeout, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	}
	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	ad, err := adapter.New(adapter.Config{Token: token, PollTimeout: pollTimeout},
		a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = ad

	sendTimeout, _ := config.ParseDurationOrDefault("notify.send_timeout", cfg.Notify.SendTimeout, 10*time.Second)
	a.notifier = notify.New(ad, notify.Config{
		RatePerSec:  cfg.Notify.RatePerSec,
		Burst:       cfg.Notify.Burst,
		SendTimeout: sendTimeout,
	}, a.log.With(logx.String("comp", "notify")))

	render := router.NewRenderer(loc)
	clk := clock.System{}

	a.meetings = meeting.NewService(store, clk, a.notifier, render,
		cfg.Telegram.AdminUserIDs, a.log.With(logx.String("comp", "meeting")))

	retryBase, _ := config.ParseDurationOrDefault("schedule.retry_base", cfg.Schedule.RetryBase, 30*time.Second)
	retryMaxDelay, _ := config.ParseDurationOrDefault("schedule.retry_max_delay", cfg.Schedule.RetryMaxDelay, 15*time.Minute)
	engine, err := schedule.NewEngine(store, clk, a.notifier, render, a.meetings, schedule.Options{
		Location:       loc,
		AnnounceDays:   cfg.AnnounceDaysOrDefault(),
		AnnounceHour:   annHour,
		AnnounceMinute: annMinute,
		AnnounceChatID: cfg.Telegram.AnnounceChatID,
		RetryMax:       cfg.Schedule.RetryMax,
		RetryBase:      retryBase,
		RetryMaxDelay:  retryMaxDelay,
	}, a.log.With(logx.String("comp", "schedule")))
	if err != nil {
		return fmt.Errorf("schedule engine: %w", err)
	}
	a.engine = engine
	a.meetings.SetScheduler(engine)

	a.router = router.New(ad, a.meetings, render, loc, a.log.With(logx.String("comp", "router")))
	return nil
}

// Start brings the engines up: scheduling first (rehydration), then
// polling, then the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "app"))))
	runCtx := a.sup.Context()

	if err := a.engine.Start(runCtx); err != nil {
		return fmt.Errorf("start schedule engine: %w", err)
	}
	if err := a.router.Start(runCtx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	a.sup.Go0("config.watch", func(c context.Context) { _ = a.cfgMgr.Watch(c) })
	a.sup.Go0("config.apply", a.applyLoop)

	a.log.Info("bot started")
	return nil
}

// applyLoop consumes committed config updates. Logging settings apply
// live; anything else needs a restart and is only reported.
func (a *App) applyLoop(ctx context.Context) {
	updates := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(updates)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok || cfg == nil {
				return
			}
			prev := a.lastCfg
			a.lastCfg = cfg

			if prev == nil || !sectionEqual(prev.Logging, cfg.Logging) {
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.ConsoleEnabled(),
					File:    logx.FileConfig{Enabled: cfg.Logging.FileEnabled, Path: cfg.Logging.FilePath},
				})
				a.log.Info("logging config applied")
			}

			if prev != nil {
				for section, changed := range map[string]bool{
					"telegram": !sectionEqual(prev.Telegram, cfg.Telegram),
					"storage":  !sectionEqual(prev.Storage, cfg.Storage),
					"schedule": !sectionEqual(prev.Schedule, cfg.Schedule),
					"notify":   !sectionEqual(prev.Notify, cfg.Notify),
				} {
					if changed {
						a.log.Warn("config section changed, restart required to apply",
							logx.String("section", section))
					}
				}
			}
		}
	}
}

func sectionEqual(a, b any) bool {
	ja, err1 := json.Marshal(a)
	jb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ja) == string(jb)
}

// Stop shuts down in reverse order with a per-step deadline: polling
// stops first so no new commands arrive, then the timers, then the
// background goroutines, and the store last.
func (a *App) Stop(ctx context.Context) {
	step := func(name string, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, stopStepTimeout)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("shutdown step failed", logx.String("step", name), logx.Err(err))
		}
	}

	step("router", a.router.Stop)
	a.engine.Stop()

	if a.sup != nil {
		step("background", a.sup.Stop)
		if n := a.sup.Active(); n > 0 {
			a.log.Warn("background goroutines still running", logx.Int64("count", n))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("bot stopped")
	_ = a.logSvc.Close()
}
