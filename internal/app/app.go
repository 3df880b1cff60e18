// Package app assembles the bot: config, logging, storage, the telegram
// adapter, the broadcast registry, the command router and housekeeping.
package app

import (
	"context"
	"errors"
	"fmt"

	"notifybot/internal/access"
	"notifybot/internal/broadcast"
	"notifybot/internal/config"
	"notifybot/internal/housekeeping"
	"notifybot/internal/router"
	"notifybot/internal/storage"
	"notifybot/internal/transport"
	"notifybot/internal/transport/telegram"
	"notifybot/pkg/logx"
)

const updateQueueSize = 64

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store     storage.Store // nil when disabled
	whitelist *access.Whitelist
	adapter   *telegram.Adapter
	registry  *broadcast.Registry
	router    *router.Router
	chores    *housekeeping.Service // nil when disabled

	updates chan transport.Update
	cfgSub  chan *config.Config
	cancel  context.CancelFunc
}

// New loads the config and builds every component, wired but not yet running.
func New(configPath string) (*App, error) {
	boot := logx.NewConsole("info")
	cfgMgr := config.NewManager(configPath, boot)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	a.whitelist = access.New()
	a.seedWhitelist(cfg)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0)
	if err != nil {
		return err
	}
	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Broadcast.SendRatePerSec,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}

	a.registry = broadcast.NewRegistry(a.adapter, a.log.With(logx.String("comp", "broadcast")))
	a.router = router.New(a.adapter, a.registry, a.whitelist, a.store,
		a.log.With(logx.String("comp", "router")))

	if cfg.Housekeeping.Enabled {
		a.chores, err = housekeeping.New(cfg.Housekeeping, a.whitelist, a.registry, a.store,
			a.log.With(logx.String("comp", "housekeeping")))
		if err != nil {
			return err
		}
	}
	return nil
}

// seedWhitelist merges the persisted whitelist with the configured one. Config
// maintainers always win; persisted admins and groups survive restarts.
func (a *App) seedWhitelist(cfg *config.Config) {
	seed := access.Snapshot{
		Maintainers: cfg.Whitelist.Maintainers,
		Admins:      cfg.Whitelist.Admins,
		Groups:      cfg.Whitelist.Groups,
	}
	if a.store != nil {
		saved, err := a.store.LoadWhitelist(context.Background())
		if err != nil {
			a.log.Warn("persisted whitelist unavailable", logx.Err(err))
		} else {
			seed.Admins = append(seed.Admins, saved.Admins...)
			seed.Groups = append(seed.Groups, saved.Groups...)
		}
	}
	a.whitelist.Seed(seed)
	snap, _ := a.whitelist.Snapshot()
	a.log.Info("whitelist ready",
		logx.Int("maintainers", len(snap.Maintainers)),
		logx.Int("admins", len(snap.Admins)),
		logx.Int("groups", len(snap.Groups)))
}

// Start brings the bot up: adapter polling, command routing, housekeeping and
// the config watcher. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.updates = make(chan transport.Update, updateQueueSize)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return fmt.Errorf("start telegram adapter: %w", err)
	}
	a.router.Start(runCtx, a.updates)

	if a.chores != nil {
		a.chores.Start()
	}

	a.cfgSub = a.cfgMgr.Subscribe(1)
	go a.watchConfig(runCtx)
	go func() {
		if err := a.cfgMgr.Watch(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	a.log.Info("bot started")
	return nil
}

// watchConfig applies the reloadable subset of the config. Only logging is
// hot-swappable; everything else needs a restart.
func (a *App) watchConfig(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgSub:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config reloaded", logx.String("level", cfg.Logging.Level))
		}
	}
}

// Stop shuts the bot down in dependency order: inbound first, then jobs,
// then persistence.
func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram adapter stop", logx.Err(err))
	}
	a.router.Wait()
	a.registry.Stop()
	if a.chores != nil {
		a.chores.Stop(ctx)
	}
	if a.cfgSub != nil {
		a.cfgMgr.Unsubscribe(a.cfgSub)
	}

	if a.store != nil {
		snap, _ := a.whitelist.Snapshot()
		if err := a.store.SaveWhitelist(ctx, snap); err != nil {
			a.log.Warn("final whitelist save failed", logx.Err(err))
		}
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}

	a.log.Info("bot stopped")
	a.logSvc.Close()
}
