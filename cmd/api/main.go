package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/michelevens/ClinicLink-sub000/agreement"
	"github.com/michelevens/ClinicLink-sub000/auth"
	"github.com/michelevens/ClinicLink-sub000/authz"
	"github.com/michelevens/ClinicLink-sub000/config"
	"github.com/michelevens/ClinicLink-sub000/db"
	"github.com/michelevens/ClinicLink-sub000/document"
	"github.com/michelevens/ClinicLink-sub000/notify"
	"github.com/michelevens/ClinicLink-sub000/party"
	"github.com/michelevens/ClinicLink-sub000/signature"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dispatcher := notify.NewSMTPDispatcher(cfg.SMTPAddr, cfg.SMTPFrom, logger)

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	agreements := agreement.NewCRUDService(pool)
	transitions := agreement.NewStatusService(pool)
	signatures := signature.NewService(pool, signature.NewRepository(pool), nil, nil, dispatcher)

	server := &Server{
		agreements:  agreements,
		transitions: transitions,
		signatures:  signatures,
		accounts:    authService,
		parties:     party.NewRepository(pool),
		documents:   document.NewPGStore(pool),
		verifier:    authService,
		logger:      logger,
	}

	sweeper := agreement.NewExpirySweeper(pool)
	go runExpirySweep(ctx, sweeper, logger)

	logger.Info("agreement service ready", "bind_addr", cfg.BindAddr)
	if err := http.ListenAndServe(cfg.BindAddr, server.Routes()); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

// runExpirySweep periodically expires lapsed agreements as the platform actor.
func runExpirySweep(ctx context.Context, sweeper *agreement.ExpirySweeper, logger *slog.Logger) {
	systemActor := authz.Identity{Role: authz.RoleAdmin}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.Sweep(ctx, systemActor)
			if err != nil {
				logger.Error("expiry sweep", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired lapsed agreements", "count", n)
			}
		}
	}
}
