package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"match-reftool/internal/config"
	"match-reftool/internal/constants"
	fxmodules "match-reftool/internal/fx"
	"match-reftool/internal/logger"
	"match-reftool/internal/scheduler"
	"match-reftool/internal/server"
	"match-reftool/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	referee *server.RefereeServer,
	engine *service.Engine,
	refresher *scheduler.Refresher,
	cfg *config.Config,
	db *sql.DB,
	log zerolog.Logger,
) {
	logger.ApplyLevel(cfg.LogLevel, log)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: c.Handler(referee.Routes()),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server failed")
				}
			}()
			return refresher.Start()
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("shutting down server")

			if err := refresher.Stop(); err != nil {
				log.Warn().Err(err).Msg("error stopping auto refresh")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			// event streams stay open until the engine closes their channels
			engineDone := make(chan error, 1)
			go func() { engineDone <- engine.Close() }()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			if err := <-engineDone; err != nil {
				log.Warn().Err(err).Msg("error closing sync engine")
			}

			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing database connection")
			}

			log.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
