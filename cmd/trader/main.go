package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ratio-trade-bot-go/internal/config"
	"ratio-trade-bot-go/internal/database"
	"ratio-trade-bot-go/internal/logger"
	"ratio-trade-bot-go/internal/notifications"
	"ratio-trade-bot-go/internal/scheduler"
	"ratio-trade-bot-go/internal/trader"

	"ratio-trade-bot-go/internal/binance"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	// The notifier is wired before the logger so WARN+ entries fan out.
	bootstrapLog, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, nil)
	if err != nil {
		return err
	}
	notifier, err := notifications.NewNotifier(&cfg.Notifications, bootstrapLog)
	if err != nil {
		return fmt.Errorf("could not set up notifications: %w", err)
	}
	defer notifier.Close()

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, notifier)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("Starting")

	// Initialize database and populate the coin/pair graph
	db, err := database.NewDatabase(&cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.SetCoins(cfg.Trading.SupportedCoinList); err != nil {
		return fmt.Errorf("failed to set supported coins: %w", err)
	}
	log.Info("Database ready", zap.Int("supported_coins", len(cfg.Trading.SupportedCoinList)))

	// Exchange adapter; the account probe verifies credentials before
	// anything else touches the API.
	manager := binance.NewManager(&cfg, db, log)
	if _, err := manager.GetAccount(); err != nil {
		return fmt.Errorf("couldn't access Binance API - API keys may be wrong or lack sufficient permissions: %w", err)
	}
	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start exchange adapter: %w", err)
	}
	defer manager.Close()

	strategy, err := trader.NewStrategy(cfg.Trading.Strategy, trader.Dependencies{
		Manager:  manager,
		DB:       db,
		Logger:   log,
		Cfg:      &cfg,
		Notifier: notifier,
	})
	if err != nil {
		return err
	}
	log.Debug("Chosen strategy", zap.String("strategy", strategy.Name()))

	if cfg.Trading.LossAfterHours > 0 {
		log.Debug("Will allow losses after being stuck",
			zap.Float64("loss_after_hours", cfg.Trading.LossAfterHours),
			zap.Float64("max_loss_percent", cfg.Trading.MaxLossPercent))
	} else {
		log.Debug("Will not allow losses")
	}

	if err := strategy.Initialize(); err != nil {
		return fmt.Errorf("strategy initialization failed: %w", err)
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if cfg.Server.EnableAPI {
		api := trader.NewAPIServer(cfg.Server.Port, db, strategy.Name(), log)
		api.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := api.Stop(shutdownCtx); err != nil {
				log.Warn("API server shutdown failed", zap.Error(err))
			}
		}()
	}

	scoutInterval := time.Duration(cfg.Trading.ScoutSleepTime) * time.Second
	scoutRetention := time.Duration(cfg.Trading.ScoutHistoryRetentionHours) * time.Hour
	valueRetention := time.Duration(cfg.Trading.ValueHistoryRetentionDays) * 24 * time.Hour
	progressInterval := time.Duration(cfg.Trading.LogProgressAfterHours * float64(time.Hour))

	sched := scheduler.New(log)
	sched.Every(scoutInterval).Do(strategy.Scout).Tag("scouting")
	sched.Every(time.Minute).Do(strategy.UpdateValues).Tag("updating value history")
	sched.Every(time.Minute).Do(func() error {
		return db.PruneScoutHistory(scoutRetention, manager.Now())
	}).Tag("pruning scout history")
	sched.Every(time.Hour).Do(func() error {
		return db.PruneValueHistory(valueRetention, manager.Now())
	}).Tag("pruning value history")
	sched.Every(progressInterval).Do(strategy.LogProgress).Tag("logging progress")

	sched.Run(ctx)

	log.Info("Bot has been shut down.")
	return nil
}
