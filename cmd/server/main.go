package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"chatforum/internal/auth"
	"chatforum/internal/config"
	"chatforum/internal/db"
	"chatforum/internal/handlers"
	"chatforum/internal/jobs"
	"chatforum/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	migrateOnly := flag.Bool("migrate", false, "apply the schema and seed users, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if cfg.Database.Driver == db.DriverSQLite {
		// Create data dir for DB
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			logging.Fatal().Err(err).Msg("create data dir")
		}
	}

	dbc, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logging.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open database")
	}
	defer dbc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx, dbc); err != nil {
		logging.Fatal().Err(err).Msg("migrate")
	}
	store := db.New(dbc)
	creds := auth.NewCredentials(store, cfg.Auth.BcryptCost)

	seeds := make([]auth.SeedUser, 0, len(cfg.SeedUsers))
	for _, su := range cfg.SeedUsers {
		seeds = append(seeds, auth.SeedUser{Username: su.Username, Password: su.Password, Name: su.Name})
	}
	if n, err := creds.SeedUsers(ctx, seeds); err != nil {
		logging.Fatal().Err(err).Msg("seed users")
	} else if n > 0 {
		logging.Info().Int("created", n).Msg("seeded users")
	}
	if *migrateOnly {
		logging.Info().Msg("migration done")
		return
	}

	sessions := auth.NewManager(store, auth.Options{
		CookieName: cfg.Session.CookieName,
		Lifetime:   cfg.Session.Lifetime,
		Secure:     cfg.Session.Secure,
	})

	h, err := handlers.New(store, creds, sessions)
	if err != nil {
		logging.Fatal().Err(err).Msg("load templates")
	}

	scheduler := jobs.New(store)
	if err := scheduler.Start(cfg.Jobs.SessionPruneInterval, cfg.Jobs.LikeReconcileInterval); err != nil {
		logging.Fatal().Err(err).Msg("start jobs")
	}
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("driver", cfg.Database.Driver).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		logging.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("shutdown")
		}
	}
}
