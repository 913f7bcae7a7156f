// GRVT Balance Poller
//
// Companion daemon to the hedger. It watches the two trading accounts'
// equity, pages when either drops under its configured floor, sweeps
// idle funding balances back into trading, and shifts margin from the
// richer account to the poorer one when the equity split drifts past
// the configured threshold. Runs standalone so a hedger restart never
// interrupts balance supervision.
//
// Same .env as the hedger plus the GRVT_FUNDING_* keys. See
// internal/config/balance.go for the full list.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/alert"
	"grvt-hedge/internal/balance"
	"grvt-hedge/internal/config"
	"grvt-hedge/internal/risk"
	"grvt-hedge/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadBalance()
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("config rejected")
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	if err != nil {
		logrus.WithError(err).Fatal("logger init failed")
	}

	legs, err := balance.BuildLegs(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("account setup failed")
	}

	notifier := alert.NewNotifier(cfg.Alert, log)
	alerts := risk.NewManager(risk.Options{}, notifier, log)
	poller := balance.NewPoller(cfg, legs, alerts, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"accounts": len(legs),
		"interval": cfg.PollInterval.String(),
	}).Info("balance poller starting")

	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("poller exited")
		os.Exit(1)
	}
}
