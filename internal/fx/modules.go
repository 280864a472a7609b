package fx

import (
	"match-reftool/internal/api"
	"match-reftool/internal/cache"
	"match-reftool/internal/config"
	"match-reftool/internal/database"
	"match-reftool/internal/logger"
	"match-reftool/internal/monitor"
	"match-reftool/internal/repository"
	"match-reftool/internal/scheduler"
	"match-reftool/internal/scoring"
	"match-reftool/internal/server"
	"match-reftool/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideUserCache(
	client *api.Client,
	store *repository.UserRepository,
	metrics *monitor.Metrics,
	logger zerolog.Logger,
) *cache.UserCache {
	return cache.NewUserCache(client, store, metrics, logger)
}

func ProvideEngine(
	client *api.Client,
	users *cache.UserCache,
	runs *repository.SyncRunRepository,
	metrics *monitor.Metrics,
	logger zerolog.Logger,
) *service.Engine {
	return service.NewEngine(client, users, runs, metrics, logger)
}

func ProvideRefresher(cfg *config.Config, engine *service.Engine, logger zerolog.Logger) *scheduler.Refresher {
	return scheduler.NewRefresher(cfg, engine, logger)
}

func ProvideRefereeServer(
	engine *service.Engine,
	users *cache.UserCache,
	runs *repository.SyncRunRepository,
	metrics *monitor.Metrics,
	logger zerolog.Logger,
) *server.RefereeServer {
	return server.NewRefereeServer(engine, users, runs, scoring.NewScorer(nil), metrics, logger)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	fx.Provide(monitor.NewMetrics),
	// repos
	fx.Provide(repository.NewUserRepository),
	fx.Provide(repository.NewSyncRunRepository),
	// upstream
	fx.Provide(api.NewTokenManager),
	fx.Provide(api.NewClient),
	// svc
	fx.Provide(ProvideUserCache),
	fx.Provide(ProvideEngine),
	fx.Provide(ProvideRefresher),
	// server
	fx.Provide(ProvideRefereeServer),
)
