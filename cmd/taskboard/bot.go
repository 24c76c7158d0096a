package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskboard/internal/api"
	"taskboard/internal/auth"
	"taskboard/internal/bot"
	"taskboard/internal/config"
	"taskboard/internal/logging"
	"taskboard/internal/repository"
	"taskboard/internal/service"
)

func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		Long:  "Serve every signed-in chat, resync boards periodically and send the daily digest.",
		Args:  cobra.NoArgs,
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ValidateBot(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, closer, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	users, err := repository.NewUserRepository(db, repository.WithTokenKey(cfg.TokenKey))
	if err != nil {
		return fmt.Errorf("users: %w", err)
	}
	if cfg.TokenKey == "" {
		logger.Warn("TOKEN_KEY is not set; remembered refresh tokens are stored unsealed")
	}

	authClient := auth.NewClient(cfg.AuthEndpoint, cfg.AuthClientID, nil)
	telegramBot, err := bot.New(cfg.TelegramToken, bot.Deps{
		Config: &cfg,
		Users:  users,
		Cache:  repository.NewCategoryCacheRepository(db),
		Auth:   authClient,
		Backends: func(s *auth.Session) bot.Backend {
			return api.NewClient(cfg.APIEndpoint, s.TokenSource())
		},
		Logger:   logger,
		Location: time.Local,
	})
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}
	defer telegramBot.Shutdown()

	if err := telegramBot.RestoreSessions(ctx); err != nil {
		logger.Error("restore sessions", "error", err)
	}

	scheduler := service.NewScheduler(time.Local)
	if _, err := scheduler.ScheduleInterval(cfg.SyncInterval, func() {
		jobCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		telegramBot.ResyncAll(jobCtx)
	}); err != nil {
		return fmt.Errorf("schedule resync: %w", err)
	}
	if _, err := scheduler.ScheduleDaily(cfg.DigestTime, func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := telegramBot.SendDigests(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("daily digest", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule digest: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	slog.Info("taskboard bot started", "sync_interval", cfg.SyncInterval, "digest_time", cfg.DigestTime)
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot stopped: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}
