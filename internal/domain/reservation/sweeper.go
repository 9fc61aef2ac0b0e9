package reservation

import (
	"context"
	"time"

	"medledger/pkg/logger"
)

// SweeperConfig tunes the expiry sweep loop.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// BatchSize is the maximum reservations expired per sweep.
	BatchSize int
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
	}
}

// Sweeper periodically expires reservations past their TTL. Expiry is
// also applied lazily on consume, so the sweeper only bounds how long
// dead holds can sit on batch reserves.
type Sweeper struct {
	svc *Service
	cfg SweeperConfig
	log *logger.Logger
}

// NewSweeper creates a sweeper over the reservation service.
func NewSweeper(svc *Service, cfg SweeperConfig, log *logger.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweeperConfig().BatchSize
	}
	return &Sweeper{
		svc: svc,
		cfg: cfg,
		log: log.WithComponent("reservation-sweeper"),
	}
}

// Run sweeps until the context is cancelled. Blocking; run in a goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Infow("reservation sweeper started",
		"interval", s.cfg.Interval.String(), "batch_size", s.cfg.BatchSize)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("reservation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.svc.ExpireDue(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Errorw("reservation sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.log.Infow("expired reservations swept", "count", expired)
	}
}
