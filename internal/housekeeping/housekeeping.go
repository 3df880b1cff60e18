// Package housekeeping runs the periodic maintenance chores: flushing the
// whitelist to storage when it changed and reporting registry stats.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"notifybot/internal/access"
	"notifybot/internal/broadcast"
	"notifybot/internal/config"
	"notifybot/internal/storage"
	"notifybot/pkg/logx"
)

const (
	defaultFlushSpec  = "@every 5m"
	defaultReportSpec = "@every 1h"
	choreTimeout      = 15 * time.Second
)

type Service struct {
	cron      *cron.Cron
	whitelist *access.Whitelist
	registry  *broadcast.Registry
	store     storage.Store
	log       logx.Logger

	lastRev uint64 // whitelist revision at the last successful flush
}

func New(cfg config.HousekeepingConfig, wl *access.Whitelist, reg *broadcast.Registry, store storage.Store, log logx.Logger) (*Service, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("housekeeping timezone: %w", err)
		}
	}

	s := &Service{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		whitelist: wl,
		registry:  reg,
		store:     store,
		log:       log,
	}

	flushSpec := cfg.FlushSpec
	if flushSpec == "" {
		flushSpec = defaultFlushSpec
	}
	reportSpec := cfg.ReportSpec
	if reportSpec == "" {
		reportSpec = defaultReportSpec
	}

	if store != nil {
		if _, err := s.cron.AddFunc(flushSpec, s.flushWhitelist); err != nil {
			return nil, fmt.Errorf("housekeeping flush spec %q: %w", flushSpec, err)
		}
	}
	if _, err := s.cron.AddFunc(reportSpec, s.report); err != nil {
		return nil, fmt.Errorf("housekeeping report spec %q: %w", reportSpec, err)
	}

	// Remember the seed revision so a flush right after boot is a no-op.
	_, s.lastRev = wl.Snapshot()
	return s, nil
}

func (s *Service) Start() {
	s.cron.Start()
	s.log.Info("housekeeping started", logx.Int("entries", len(s.cron.Entries())))
}

// Stop halts scheduling and waits for a running chore to finish.
func (s *Service) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("housekeeping stop timed out")
	}
}

func (s *Service) flushWhitelist() {
	snap, rev := s.whitelist.Snapshot()
	if rev == s.lastRev {
		s.log.Debug("whitelist unchanged, flush skipped", logx.Uint64("rev", rev))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), choreTimeout)
	defer cancel()
	if err := s.store.SaveWhitelist(ctx, snap); err != nil {
		s.log.Warn("whitelist flush failed", logx.Err(err))
		return
	}
	s.lastRev = rev
	s.log.Info("whitelist flushed",
		logx.Uint64("rev", rev),
		logx.Int("admins", len(snap.Admins)),
		logx.Int("groups", len(snap.Groups)))
}

func (s *Service) report() {
	jobs := s.registry.List()
	s.log.Info("registry stats", logx.Int("jobs", len(jobs)))
	for _, j := range jobs {
		s.log.Debug("job",
			logx.Uint64("id", j.ID),
			logx.Duration("interval", j.Interval),
			logx.String("skim", j.Skim))
	}
}
