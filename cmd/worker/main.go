// Package main is the entry point for the medledger background worker.
// It sweeps expired reservations and runs the stock and expiry alert
// scans on fixed intervals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"medledger/internal/domain/alert"
	"medledger/internal/domain/ledger"
	"medledger/internal/domain/reservation"
	"medledger/internal/infrastructure/storage/postgres"
	"medledger/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting medledger worker")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)

	ledgerRepo := postgres.NewLedgerRepo(txManager)
	ledgerSvc := ledger.NewService(ledgerRepo, txManager, log)

	resRepo := postgres.NewReservationRepo(txManager)
	resSvc := reservation.NewService(resRepo, ledgerRepo, ledgerSvc, txManager, log)

	thresholdRepo := postgres.NewThresholdRepo(txManager)
	alertRepo := postgres.NewAlertRepo(txManager)
	engine := alert.NewEngine(thresholdRepo, alertRepo, ledgerRepo, txManager, log)

	sweeperCfg := reservation.DefaultSweeperConfig()
	sweeperCfg.Interval = getEnvDuration("RESERVATION_SWEEP_INTERVAL", sweeperCfg.Interval)
	sweeper := reservation.NewSweeper(resSvc, sweeperCfg, log)

	worker := NewWorker(engine, log, WorkerConfig{
		StockScanInterval:  getEnvDuration("ALERT_STOCK_SCAN_INTERVAL", 5*time.Minute),
		ExpiryScanInterval: getEnvDuration("ALERT_EXPIRY_SCAN_INTERVAL", 1*time.Hour),
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// WorkerConfig holds the alert scan intervals.
type WorkerConfig struct {
	StockScanInterval  time.Duration
	ExpiryScanInterval time.Duration
}

// Worker runs the periodic alert scans.
type Worker struct {
	alerts *alert.Engine
	cfg    WorkerConfig
	log    *logger.Logger
}

// NewWorker creates the background worker.
func NewWorker(engine *alert.Engine, log *logger.Logger, cfg WorkerConfig) *Worker {
	return &Worker{
		alerts: engine,
		cfg:    cfg,
		log:    log.WithComponent("worker"),
	}
}

// Run starts the scan loops and blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		w.loop(ctx, "stock scan", w.cfg.StockScanInterval, w.alerts.ScanStock)
	}()
	go func() {
		defer wg.Done()
		w.loop(ctx, "expiry scan", w.cfg.ExpiryScanInterval, func(ctx context.Context) error {
			return w.alerts.ScanExpiry(ctx, time.Now())
		})
	}()

	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Infow("job loop started", "job", name, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			w.log.Infow("job loop stopped", "job", name)
			return
		case <-ticker.C:
			if err := job(ctx); err != nil {
				w.log.Errorw("job failed", "job", name, "error", err)
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
