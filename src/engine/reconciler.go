package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"enginemanager/src/model"
)

func nullDec(d *LooseDecimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d.Decimal, Valid: true}
}

func decOrZero(d *LooseDecimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return d.Decimal
}

// upsertOrder applies one order observation. Replays and restarts deliver
// the same order id more than once, so the write is a full-row upsert on
// (id, project_id): last observation wins.
func (d *Dispatcher) upsertOrder(ctx context.Context, e *OrderEvent) error {
	leverage := e.Leverage.Decimal
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}
	row := model.Order{
		ID:                 e.OrderID,
		ProjectID:          d.projectID,
		PositionID:         e.PositionID,
		ExecOrderID:        e.ExecOrderID,
		SignalID:           e.SignalID,
		StrategyID:         e.StrategyID,
		StrategyInstanceID: e.StrategyInstanceID,
		OrderStatus:        e.OrderStatus,
		OrderTime:          UnixToTime(e.OrderTime),
		Ratio:              nullDec(e.Ratio),
		Symbol:             e.Symbol,
		QuoteCurrency:      e.QuoteCurrency,
		InsType:            e.InsType,
		AssetType:          e.AssetType,
		Side:               e.Side,
		IsOpen:             e.IsOpen,
		IsFake:             e.IsFake,
		OrderAmount:        e.OrderAmount.Decimal,
		OrderPrice:         e.OrderPrice.Decimal,
		OrderType:          e.OrderType,
		SettleAmount:       nullDec(e.SettleAmount),
		ExecutionPrice:     nullDec(e.ExecutionPrice),
		Sz:                 nullDec(e.Sz),
		SzValue:            nullDec(e.SzValue),
		Fee:                nullDec(e.Fee),
		Pnl:                nullDec(e.Pnl),
		UnrealizedPnl:      nullDec(e.UnrealizedPnl),
		Friction:           e.Friction.Decimal,
		Leverage:           leverage,
		ExecutorID:         e.ExecutorID,
		TradeMode:          e.TradeMode,
		Extra:              e.Extra,
		MarketOrderID:      e.MarketOrderID,
	}
	if e.FinishTime != 0 {
		ft := UnixToTime(e.FinishTime)
		row.FinishTime = &ft
	}

	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "project_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (d *Dispatcher) execOrderFromEvent(e *ExecOrderEvent) model.ExecutionOrder {
	return model.ExecutionOrder{
		ID:                 e.ContextID,
		ProjectID:          d.projectID,
		SignalID:           e.SignalID,
		StrategyID:         e.StrategyID,
		StrategyInstanceID: e.StrategyInstanceID,
		TargetExecutorID:   e.TargetExecutorID,
		ExecutionAssets:    e.ExecutionAssets,
		OpenAmount:         e.OpenAmount.Decimal,
		OpenRatio:          e.OpenRatio.Decimal,
		Leverage:           nullDec(e.Leverage),
		OrderType:          e.OrderType,
		TradeType:          e.TradeType,
		TradeMode:          e.TradeMode,
		CreatedTime:        UnixToTime(e.CreatedTime),
		ActualRatio:        nullDec(e.ActualRatio),
		ActualAmount:       nullDec(e.ActualAmount),
		ActualPnl:          nullDec(e.ActualPnl),
		Extra:              e.Extra,
	}
}

// insertExecOrder records a new execution order. A replayed creation for a
// known id overwrites the row, matching the order upsert policy.
func (d *Dispatcher) insertExecOrder(ctx context.Context, e *ExecOrderEvent) error {
	row := d.execOrderFromEvent(e)
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "project_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// amendExecOrder folds an update into an existing execution order. When
// the creation event was lost the update carries the full payload, so an
// absent row is inserted instead of dropped.
func (d *Dispatcher) amendExecOrder(ctx context.Context, e *ExecOrderEvent) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.ExecutionOrder
		err := tx.Where("id = ? AND project_id = ?", e.ContextID, d.projectID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row := d.execOrderFromEvent(e)
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}

		existing.ExecutionAssets = e.ExecutionAssets
		existing.ActualRatio = nullDec(e.ActualRatio)
		existing.ActualAmount = nullDec(e.ActualAmount)
		existing.ActualPnl = nullDec(e.ActualPnl)
		if e.Extra != nil {
			existing.Extra = e.Extra
		}
		return tx.Save(&existing).Error
	})
}

// reconcilePosition merges one sparse position observation into the
// durable row. Runs in a single storage transaction so the sum invariant
// (sz equals the executor_sz total) holds at every commit point. A closed
// row is terminal: late events for it are dropped.
func (d *Dispatcher) reconcilePosition(ctx context.Context, e *PositionEvent) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pos model.Position
		err := tx.Where("id = ? AND project_id = ?", e.PositionID, d.projectID).First(&pos).Error
		fresh := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !fresh {
			return err
		}
		if !fresh && pos.IsClosed {
			logger.WithFields(map[string]interface{}{
				"project_id":  d.projectID,
				"position_id": e.PositionID,
			}).Debug("dropping update for closed position")
			return nil
		}

		if fresh {
			pos = model.Position{
				ID:        e.PositionID,
				ProjectID: d.projectID,
				Leverage:  decimal.NewFromInt(1),
				OpenTime:  time.Now(),
			}
		}

		if e.StrategyID != 0 {
			pos.StrategyID = e.StrategyID
		}
		if e.StrategyInstanceID != "" {
			pos.StrategyInstanceID = e.StrategyInstanceID
		}
		if e.Symbol != "" {
			pos.Symbol = e.Symbol
		}
		if e.QuoteCurrency != "" {
			pos.QuoteCurrency = e.QuoteCurrency
		}
		if e.InsType != "" {
			pos.InsType = e.InsType
		}
		if e.AssetType != "" {
			pos.AssetType = e.AssetType
		}
		if e.Side != "" {
			pos.Side = e.Side
		}
		if e.ExecutorID != "" {
			pos.ExecutorID = e.ExecutorID
		}
		if e.CostPrice != nil {
			pos.CostPrice = e.CostPrice.Decimal
		}
		if e.ClosePrice != nil {
			pos.ClosePrice = decimal.NullDecimal{Decimal: e.ClosePrice.Decimal, Valid: true}
		}
		if e.CurrentPrice != nil {
			pos.CurrentPrice = decimal.NullDecimal{Decimal: e.CurrentPrice.Decimal, Valid: true}
		}
		if e.Amount != nil {
			pos.Amount = e.Amount.Decimal
		}
		if e.Ratio != nil {
			pos.Ratio = e.Ratio.Decimal
		}
		if e.TotalAmount != nil {
			pos.TotalAmount = e.TotalAmount.Decimal
		}
		if e.TotalSz != nil {
			pos.TotalSz = e.TotalSz.Decimal
		}
		if e.Pnl != nil {
			pos.Pnl = e.Pnl.Decimal
		}
		if e.Fee != nil {
			pos.Fee = e.Fee.Decimal
		}
		if e.Friction != nil {
			pos.Friction = e.Friction.Decimal
		}
		if e.Leverage != nil {
			pos.Leverage = e.Leverage.Decimal
		}
		if e.IsFake != nil {
			pos.IsFake = *e.IsFake
		}
		if e.OpenTime != 0 {
			pos.OpenTime = UnixToTime(e.OpenTime)
		}
		if e.ExecutorSz != nil {
			pos.ExecutorSz = e.ExecutorSz
		}
		if e.VirtualPositions != nil {
			vps := make([]model.VirtualPosition, 0, len(e.VirtualPositions))
			for _, vp := range e.VirtualPositions {
				vps = append(vps, model.VirtualPosition{
					SignalID:     vp.SignalID,
					RiskPolicyID: vp.RiskPolicyID,
					Sz:           vp.Sz.Decimal,
					Pnl:          vp.Pnl.Decimal,
				})
			}
			pos.VirtualPositions = vps
		}

		// The stored quantity is always derived from the per-executor
		// breakdown, never taken from the event at face value.
		pos.Sz = pos.ExecutorSzSum()
		if pos.Sz.GreaterThan(pos.MaxSz) {
			pos.MaxSz = pos.Sz
		}
		if pos.Amount.GreaterThan(pos.MaxAmount) {
			pos.MaxAmount = pos.Amount
		}

		if !pos.Sz.IsPositive() && !pos.VirtualSzSum().IsPositive() {
			pos.IsClosed = true
			if pos.CloseTime == nil {
				now := time.Now()
				pos.CloseTime = &now
			}
		}

		for _, vp := range pos.VirtualPositions {
			if vp.Pnl.IsZero() {
				continue
			}
			if err := d.mergeVirtualPnl(tx, pos.ID, vp); err != nil {
				return err
			}
		}

		return tx.Save(&pos).Error
	})
}

// mergeVirtualPnl folds one resolved shadow position's pnl back into the
// signal-type risk log that spawned it. Contributions are keyed by
// position id inside ExtraInfo so a replay overwrites rather than
// double-counts, and the row's Pnl is recomputed as the contribution sum.
func (d *Dispatcher) mergeVirtualPnl(tx *gorm.DB, positionID int64, vp model.VirtualPosition) error {
	var log model.RiskLog
	err := tx.Where(
		"project_id = ? AND risk_type = ? AND signal_id = ? AND risk_policy_id = ?",
		d.projectID, model.RiskTypeSignal, vp.SignalID, vp.RiskPolicyID,
	).First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.WithFields(map[string]interface{}{
			"project_id":     d.projectID,
			"signal_id":      vp.SignalID,
			"risk_policy_id": vp.RiskPolicyID,
		}).Warn("no risk log for resolved virtual position")
		return nil
	}
	if err != nil {
		return err
	}

	if log.ExtraInfo == nil {
		log.ExtraInfo = make(map[string]string)
	}
	log.ExtraInfo[formatID(positionID)] = vp.Pnl.String()

	total := decimal.Zero
	for _, raw := range log.ExtraInfo {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		total = total.Add(v)
	}
	log.Pnl = decimal.NullDecimal{Decimal: total, Valid: true}

	return tx.Save(&log).Error
}

// insertSignal records a signal. Signals are immutable, so a replayed id
// is ignored rather than rewritten.
func (d *Dispatcher) insertSignal(ctx context.Context, e *SignalEvent) error {
	row := model.Signal{
		ID:                   e.SignalID,
		ProjectID:            d.projectID,
		StrategyID:           e.StrategyID,
		StrategyInstanceID:   e.StrategyInstanceID,
		StrategyClassName:    e.StrategyClassName,
		DataSourceInstanceID: e.DataSourceInstanceID,
		DataSourceClassName:  e.DataSourceClassName,
		SignalTime:           UnixToTime(e.SignalTime),
		Assets:               e.Assets,
		Config:               e.Config,
		Extra:                e.Extra,
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "project_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

func (d *Dispatcher) insertRiskLog(ctx context.Context, e *RiskEvent) error {
	row := model.RiskLog{
		ProjectID:           d.projectID,
		RiskType:            e.RiskType,
		StrategyID:          e.StrategyID,
		StrategyInstanceID:  e.StrategyInstanceID,
		StrategyClassName:   e.StrategyClassName,
		RiskPolicyID:        e.RiskPolicyID,
		RiskPolicyClassName: e.RiskPolicyClassName,
		TriggerTime:         UnixToTime(e.TriggerTime),
		TriggerReason:       e.TriggerReason,
		SignalID:            e.SignalID,
		ExecutionOrderID:    e.ExecutionOrderID,
		PositionID:          e.PositionID,
		OriginalAmount:      nullDec(e.OriginalAmount),
		Pnl:                 nullDec(e.Pnl),
		ExtraInfo:           e.ExtraInfo,
		Tags:                e.Tags,
	}
	if row.TriggerTime.IsZero() {
		row.TriggerTime = time.Now()
	}
	return d.db.WithContext(ctx).Create(&row).Error
}

func (d *Dispatcher) insertTransaction(ctx context.Context, e *TransactionEvent) error {
	row := model.BalanceTransaction{
		ProjectID:          d.projectID,
		StrategyID:         e.StrategyID,
		StrategyInstanceID: e.StrategyInstanceID,
		PositionID:         e.PositionID,
		OrderID:            e.OrderID,
		SignalID:           e.SignalID,
		ExecutorID:         e.ExecutorID,
		AssetKey:           e.AssetKey,
		TransactionType:    e.TransactionType,
		Amount:             e.Amount.Decimal,
		BalanceBefore:      nullDec(e.BalanceBefore),
		BalanceAfter:       nullDec(e.BalanceAfter),
		Description:        e.Description,
	}
	return d.db.WithContext(ctx).Create(&row).Error
}
