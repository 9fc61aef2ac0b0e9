package alert

import (
	"context"
	"fmt"
	"time"

	"medledger/internal/core/apperror"
	appctx "medledger/internal/core/context"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/tx"
	"medledger/internal/core/types"
	"medledger/internal/domain/ledger"
	"medledger/pkg/logger"
)

// BatchReader is the slice of the ledger repository the scans need.
type BatchReader interface {
	ListBatches(ctx context.Context, f ledger.BatchFilter) ([]*entity.Batch, error)
}

// Engine runs the monitoring scans and manages the alert lifecycle.
type Engine struct {
	thresholds ThresholdRepository
	alerts     AlertRepository
	batches    BatchReader
	txManager  tx.Manager
	log        *logger.Logger
	rules      *ruleCache
}

// NewEngine creates the alert engine.
func NewEngine(
	thresholds ThresholdRepository,
	alerts AlertRepository,
	batches BatchReader,
	txManager tx.Manager,
	log *logger.Logger,
) *Engine {
	return &Engine{
		thresholds: thresholds,
		alerts:     alerts,
		batches:    batches,
		txManager:  txManager,
		log:        log,
		rules:      newRuleCache(),
	}
}

// --- Threshold management ---

// CreateThreshold validates and stores a threshold. A custom rule is
// compiled up front so invalid expressions are rejected at write time.
func (e *Engine) CreateThreshold(ctx context.Context, t *Threshold) error {
	if err := t.Validate(ctx); err != nil {
		return err
	}
	if t.Rule != "" {
		if _, err := e.rules.get(t.Rule); err != nil {
			return err
		}
	}
	return e.thresholds.Create(ctx, t)
}

// UpdateThreshold revalidates and stores a threshold.
func (e *Engine) UpdateThreshold(ctx context.Context, t *Threshold) error {
	if err := t.Validate(ctx); err != nil {
		return err
	}
	if t.Rule != "" {
		if _, err := e.rules.get(t.Rule); err != nil {
			return err
		}
	}
	t.Touch()
	return e.thresholds.Update(ctx, t)
}

// DeleteThreshold removes a threshold. Open alerts it raised stay open
// until acknowledged or resolved by hand.
func (e *Engine) DeleteThreshold(ctx context.Context, thresholdID id.ID) error {
	return e.thresholds.Delete(ctx, thresholdID)
}

// ListThresholds returns thresholds matching the filter.
func (e *Engine) ListThresholds(ctx context.Context, f ThresholdFilter) ([]*Threshold, error) {
	return e.thresholds.List(ctx, f)
}

// --- Scans ---

// ScanStock evaluates every active threshold against current on-hand
// quantities. Breaches open or escalate alerts; recoveries resolve
// them. Each threshold is processed in its own transaction so one bad
// row cannot wedge the whole scan.
func (e *Engine) ScanStock(ctx context.Context) error {
	thresholds, err := e.thresholds.List(ctx, ThresholdFilter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("list thresholds: %w", err)
	}

	var failed int
	for _, t := range thresholds {
		if err := e.txManager.RunInTransaction(ctx, func(txCtx context.Context) error {
			return e.scanThreshold(txCtx, t)
		}); err != nil {
			failed++
			e.log.Errorw("stock scan failed for threshold",
				"threshold_id", t.ID,
				"item_id", t.ItemID,
				"error", err,
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("stock scan: %d of %d thresholds failed", failed, len(thresholds))
	}
	return nil
}

func (e *Engine) scanThreshold(ctx context.Context, t *Threshold) error {
	quantity, err := e.onHand(ctx, t.ItemID, t.WarehouseID)
	if err != nil {
		return err
	}

	level, err := e.triggerLevel(t, quantity)
	if err != nil {
		return err
	}

	open, err := e.alerts.GetOpenStock(ctx, t.ItemID, t.WarehouseID)
	if err != nil {
		return err
	}

	if level == "" {
		if open != nil {
			return e.resolve(ctx, open, quantity)
		}
		return nil
	}

	message := fmt.Sprintf("stock %s at or below %s level; reorder %s suggested",
		quantity, level, t.ReorderQuantity)

	if open == nil {
		a := NewAlert(KindLowStock, level, t.ItemID, t.WarehouseID)
		a.Quantity = quantity
		a.Message = message
		e.log.Infow("low stock alert raised",
			"item_id", t.ItemID,
			"level", level,
			"quantity", quantity.String(),
		)
		return e.alerts.Create(ctx, a)
	}

	if open.Level == level && open.Quantity == quantity {
		return nil
	}
	open.Level = level
	open.Quantity = quantity
	open.Message = message
	open.Touch()
	return e.alerts.Update(ctx, open)
}

// triggerLevel decides whether the threshold fires. A custom rule, when
// present, overrides the built-in comparison; severity still comes from
// the configured levels, defaulting to warning when the rule fires
// above them.
func (e *Engine) triggerLevel(t *Threshold, quantity types.Quantity) (Level, error) {
	if t.Rule == "" {
		return t.LevelFor(quantity), nil
	}
	rule, err := e.rules.get(t.Rule)
	if err != nil {
		return "", err
	}
	fired, err := rule.Eval(quantity, t)
	if err != nil {
		return "", err
	}
	if !fired {
		return "", nil
	}
	if level := t.LevelFor(quantity); level != "" {
		return level, nil
	}
	return LevelWarning, nil
}

// onHand sums batch quantities for the item, across all warehouses when
// warehouseID is nil.
func (e *Engine) onHand(ctx context.Context, itemID id.ID, warehouseID *id.ID) (types.Quantity, error) {
	batches, err := e.batches.ListBatches(ctx, ledger.BatchFilter{
		ItemID:      &itemID,
		WarehouseID: warehouseID,
	})
	if err != nil {
		return 0, fmt.Errorf("list batches: %w", err)
	}
	var total types.Quantity
	for _, b := range batches {
		total += b.Quantity
	}
	return total, nil
}

// ScanExpiry raises alerts for batches approaching or past expiry.
// Severity follows the distance to the expiry date: 30 days critical,
// 60 warning, 90 info. One open alert per batch; drained batches get
// their alert resolved.
func (e *Engine) ScanExpiry(ctx context.Context, now time.Time) error {
	horizon := now.AddDate(0, 0, ExpiryInfoDays)
	batches, err := e.batches.ListBatches(ctx, ledger.BatchFilter{
		ExpiringBefore: &horizon,
	})
	if err != nil {
		return fmt.Errorf("list expiring batches: %w", err)
	}

	flagged := make(map[id.ID]bool, len(batches))
	var failed int
	for _, b := range batches {
		if !b.Quantity.IsPositive() || b.ExpiryDate == nil {
			continue
		}
		flagged[b.ID] = true
		daysLeft := int(b.ExpiryDate.Sub(now).Hours() / 24)
		level := ExpiryLevel(daysLeft)
		if level == "" {
			continue
		}
		batch := b
		if err := e.txManager.RunInTransaction(ctx, func(txCtx context.Context) error {
			return e.syncExpiryAlert(txCtx, batch, level, daysLeft)
		}); err != nil {
			failed++
			e.log.Errorw("expiry scan failed for batch",
				"batch_id", b.ID,
				"error", err,
			)
		}
	}

	if err := e.resolveStaleExpiry(ctx, flagged); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("expiry scan: %d of %d batches failed", failed, len(batches))
	}
	return nil
}

func (e *Engine) syncExpiryAlert(ctx context.Context, b *entity.Batch, level Level, daysLeft int) error {
	open, err := e.alerts.GetOpenExpiry(ctx, b.ID)
	if err != nil {
		return err
	}

	var message string
	if daysLeft < 0 {
		message = fmt.Sprintf("batch %s expired %d days ago, %s on hand", b.BatchNumber, -daysLeft, b.Quantity)
	} else {
		message = fmt.Sprintf("batch %s expires in %d days, %s on hand", b.BatchNumber, daysLeft, b.Quantity)
	}

	if open == nil {
		a := NewAlert(KindExpiry, level, b.ItemID, &b.WarehouseID)
		batchID := b.ID
		a.BatchID = &batchID
		a.Quantity = b.Quantity
		a.Message = message
		e.log.Infow("expiry alert raised",
			"batch_id", b.ID,
			"batch_number", b.BatchNumber,
			"level", level,
			"days_left", daysLeft,
		)
		return e.alerts.Create(ctx, a)
	}

	if open.Level == level && open.Quantity == b.Quantity {
		return nil
	}
	open.Level = level
	open.Quantity = b.Quantity
	open.Message = message
	open.Touch()
	return e.alerts.Update(ctx, open)
}

// resolveStaleExpiry closes open expiry alerts whose batch no longer
// qualifies (drained, unflagged or pushed outside the horizon).
func (e *Engine) resolveStaleExpiry(ctx context.Context, flagged map[id.ID]bool) error {
	open, err := e.alerts.List(ctx, AlertFilter{Kind: KindExpiry, OpenOnly: true})
	if err != nil {
		return fmt.Errorf("list open expiry alerts: %w", err)
	}
	for _, a := range open {
		if a.BatchID == nil || flagged[*a.BatchID] {
			continue
		}
		if err := e.resolve(ctx, a, 0); err != nil {
			return err
		}
	}
	return nil
}

// --- Lifecycle ---

// Acknowledge records that someone has seen the alert and what they did
// about it. Resolved alerts cannot be acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, alertID id.ID, action string) (*Alert, error) {
	a, err := e.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperror.NewNotFound("alert", alertID)
	}
	if a.Status == StatusResolved {
		return nil, apperror.NewInvalidTransition("alert", string(a.Status), string(StatusAcknowledged))
	}

	now := time.Now().UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = appctx.GetUserID(ctx)
	a.ActionTaken = action
	a.Touch()
	if err := e.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolve closes an alert by hand.
func (e *Engine) Resolve(ctx context.Context, alertID id.ID) (*Alert, error) {
	a, err := e.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperror.NewNotFound("alert", alertID)
	}
	if a.Status == StatusResolved {
		return nil, apperror.NewInvalidTransition("alert", string(a.Status), string(StatusResolved))
	}
	if err := e.resolve(ctx, a, a.Quantity); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAlerts returns alerts matching the filter.
func (e *Engine) ListAlerts(ctx context.Context, f AlertFilter) ([]*Alert, error) {
	return e.alerts.List(ctx, f)
}

func (e *Engine) resolve(ctx context.Context, a *Alert, quantity types.Quantity) error {
	now := time.Now().UTC()
	a.Status = StatusResolved
	a.ResolvedAt = &now
	a.Quantity = quantity
	a.Touch()
	e.log.Infow("alert resolved",
		"alert_id", a.ID,
		"kind", a.Kind,
		"item_id", a.ItemID,
	)
	return e.alerts.Update(ctx, a)
}
