package scheduler

import (
	"context"
	"fmt"
	"time"

	"match-reftool/internal/config"
	"match-reftool/internal/constants"
	"match-reftool/internal/domain"
	"match-reftool/internal/service"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

type Syncer interface {
	Busy() bool
	TrackedMatch() int64
	IncrementalSync(ctx context.Context, matchID int64) (*service.Run, error)
}

// Refresher periodically refreshes the tracked match while no other sync runs.
// It does nothing when the configured interval is zero.
type Refresher struct {
	interval  time.Duration
	syncer    Syncer
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

func NewRefresher(cfg *config.Config, syncer Syncer, logger zerolog.Logger) *Refresher {
	interval := cfg.RefreshInterval
	if interval > 0 && interval < constants.MinimumRefreshInterval {
		logger.Warn().
			Dur("requested", interval).
			Dur("minimum", constants.MinimumRefreshInterval).
			Msg("refresh interval too short, using minimum")
		interval = constants.MinimumRefreshInterval
	}
	return &Refresher{interval: interval, syncer: syncer, logger: logger}
}

func (r *Refresher) Enabled() bool { return r.interval > 0 }

func (r *Refresher) Start() error {
	if !r.Enabled() {
		r.logger.Info().Msg("auto refresh disabled")
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.refresh(context.Background()) }),
		gocron.WithName("refresh-tracked-match"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	s.Start()
	r.scheduler = s
	r.logger.Info().Dur("interval", r.interval).Msg("auto refresh started")
	return nil
}

func (r *Refresher) Stop() error {
	if r.scheduler == nil {
		return nil
	}
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	r.logger.Info().Msg("auto refresh stopped")
	return nil
}

// refresh runs one incremental sync of the tracked match and waits for it. It
// reports whether a sync was started.
func (r *Refresher) refresh(ctx context.Context) bool {
	if r.syncer.Busy() {
		r.logger.Debug().Msg("sync in progress, skipping refresh")
		return false
	}
	matchID := r.syncer.TrackedMatch()
	if matchID == 0 {
		r.logger.Debug().Msg("no tracked match, skipping refresh")
		return false
	}

	run, err := r.syncer.IncrementalSync(ctx, matchID)
	if err != nil {
		r.logger.Warn().Err(err).Int64("match_id", matchID).Msg("failed to start refresh")
		return false
	}

	waitCtx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()
	res, err := run.Wait(waitCtx)
	if err != nil {
		r.logger.Warn().Str("run_id", run.ID).Msg("refresh still running, not waiting any longer")
		return true
	}

	r.logger.Debug().
		Str("run_id", run.ID).
		Int64("match_id", matchID).
		Str("status", string(res.Status)).
		Int("added", res.Added).
		Int("removed", res.Removed).
		Msg("refresh finished")
	if res.Status == domain.SyncFailed {
		r.logger.Warn().Err(res.Err).Int64("match_id", matchID).Msg("refresh failed")
	}
	return true
}
