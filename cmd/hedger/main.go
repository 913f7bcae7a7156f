// GRVT Dual-Account Hedger — posts opposing maker orders from two GRVT
// accounts so the pair stays delta-flat while both sides earn maker flow.
//
// Architecture:
//
//	main.go              — entry point: loads env config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: snapshots both accounts per tick, drives one hedger per symbol
//	strategy/decision.go — per-tick decision: imbalance detection, hedge sizing, post-only placement
//	strategy/ledger.go   — FIFO fill lots with guard prices, matched across the two accounts
//	strategy/orders.go   — client order id namespace and the managed-order table
//	market/registry.go   — instrument name resolution and metadata (tick size, min size)
//	market/book.go       — top-of-book cache fed by WebSocket snapshots, REST refresh on gaps
//	exchange/client.go   — REST client for the GRVT trading and market-data gateways
//	exchange/auth.go     — session cookie login and EIP-712 order/transfer signing
//	exchange/ws.go       — market-data WebSocket with auto-reconnect
//	risk/manager.go      — margin-ratio and stuck-hedge alerts, alert deduplication
//	alert/notifier.go    — chat-gateway delivery of operator alerts
//
// How it makes money:
//
//	Both accounts quote post-only, so every fill pays maker rebates or
//	qualifies for maker volume programs. When one account gets filled, the
//	other works a resting order at a guard price chosen so closing the pair
//	can not lose money on price. Net exposure stays near zero; the carry is
//	the loop's business, not directional risk.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/config"
	"grvt-hedge/internal/engine"
	"grvt-hedge/pkg/logger"
)

func main() {
	// Optional .env for local runs; production injects real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid config")
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up logging")
	}

	eng, err := engine.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"accounts": len(cfg.Accounts),
		"symbols":  cfg.SymbolsFile,
		"interval": cfg.LoopInterval.String(),
	}).Info("grvt hedger starting")

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("engine exited")
		os.Exit(1)
	}
	log.Info("grvt hedger stopped")
}
