package engine

import (
	"context"
	"encoding/json"
	"strconv"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"enginemanager/src/model"
	"enginemanager/src/repository"
)

// OrderEvent is the worker's order payload, shared by order-created,
// order-updated and position-init (which carries a batch).
type OrderEvent struct {
	OrderID            int64             `json:"order_id"`
	PositionID         *int64            `json:"position_id,omitempty"`
	ExecOrderID        *int64            `json:"exec_order_id,omitempty"`
	SignalID           int64             `json:"signal_id"`
	StrategyID         int64             `json:"strategy_id"`
	StrategyInstanceID string            `json:"strategy_instance_id"`
	OrderStatus        string            `json:"order_status"`
	OrderTime          int64             `json:"order_time"`
	Ratio              *LooseDecimal     `json:"ratio,omitempty"`
	Symbol             string            `json:"symbol"`
	QuoteCurrency      string            `json:"quote_currency"`
	InsType            string            `json:"ins_type"`
	AssetType          string            `json:"asset_type"`
	Side               string            `json:"side"`
	IsOpen             bool              `json:"is_open"`
	IsFake             bool              `json:"is_fake"`
	OrderAmount        LooseDecimal      `json:"order_amount"`
	OrderPrice         LooseDecimal      `json:"order_price"`
	OrderType          string            `json:"order_type"`
	SettleAmount       *LooseDecimal     `json:"settle_amount,omitempty"`
	ExecutionPrice     *LooseDecimal     `json:"execution_price,omitempty"`
	Sz                 *LooseDecimal     `json:"sz,omitempty"`
	SzValue            *LooseDecimal     `json:"sz_value,omitempty"`
	Fee                *LooseDecimal     `json:"fee,omitempty"`
	Pnl                *LooseDecimal     `json:"pnl,omitempty"`
	UnrealizedPnl      *LooseDecimal     `json:"unrealized_pnl,omitempty"`
	FinishTime         int64             `json:"finish_time,omitempty"`
	Friction           LooseDecimal      `json:"friction"`
	Leverage           LooseDecimal      `json:"leverage"`
	ExecutorID         string            `json:"executor_id,omitempty"`
	TradeMode          string            `json:"trade_mode,omitempty"`
	Extra              map[string]any    `json:"extra,omitempty"`
	MarketOrderID      string            `json:"market_order_id,omitempty"`
}

// ExecOrderEvent is the execution-order payload. The worker calls the
// execution order id its "context id".
type ExecOrderEvent struct {
	ContextID          int64                  `json:"context_id"`
	SignalID           int64                  `json:"signal_id"`
	StrategyID         int64                  `json:"strategy_id"`
	StrategyInstanceID string                 `json:"strategy_instance_id"`
	TargetExecutorID   string                 `json:"target_executor_id"`
	ExecutionAssets    []model.ExecutionAsset `json:"execution_assets"`
	OpenAmount         LooseDecimal           `json:"open_amount"`
	OpenRatio          LooseDecimal           `json:"open_ratio"`
	Leverage           *LooseDecimal          `json:"leverage,omitempty"`
	OrderType          string                 `json:"order_type"`
	TradeType          string                 `json:"trade_type"`
	TradeMode          string                 `json:"trade_mode"`
	CreatedTime        int64                  `json:"created_time"`
	ActualRatio        *LooseDecimal          `json:"actual_ratio,omitempty"`
	ActualAmount       *LooseDecimal          `json:"actual_amount,omitempty"`
	ActualPnl          *LooseDecimal          `json:"actual_pnl,omitempty"`
	Extra              map[string]any         `json:"extra,omitempty"`
}

// VirtualPositionEvent is one shadow position attached to a position
// payload, tagged with the originating signal and risk policy.
type VirtualPositionEvent struct {
	SignalID     int64        `json:"signal_id"`
	RiskPolicyID int64        `json:"risk_policy_id"`
	Sz           LooseDecimal `json:"sz"`
	Pnl          LooseDecimal `json:"pnl"`
}

// PositionEvent is the sparse position-update payload: nil pointers mean
// "field not reported", and only reported fields are applied.
type PositionEvent struct {
	PositionID         int64                  `json:"position_id"`
	StrategyID         int64                  `json:"strategy_id"`
	StrategyInstanceID string                 `json:"strategy_instance_id"`
	Symbol             string                 `json:"symbol"`
	QuoteCurrency      string                 `json:"quote_currency"`
	InsType            string                 `json:"ins_type"`
	AssetType          string                 `json:"asset_type"`
	Side               string                 `json:"side"`
	CostPrice          *LooseDecimal          `json:"cost_price,omitempty"`
	ClosePrice         *LooseDecimal          `json:"close_price,omitempty"`
	CurrentPrice       *LooseDecimal          `json:"current_price,omitempty"`
	Amount             *LooseDecimal          `json:"amount,omitempty"`
	Ratio              *LooseDecimal          `json:"ratio,omitempty"`
	ExecutorSz         map[string]string      `json:"executor_sz,omitempty"`
	TotalAmount        *LooseDecimal          `json:"total_amount,omitempty"`
	TotalSz            *LooseDecimal          `json:"total_sz,omitempty"`
	Pnl                *LooseDecimal          `json:"pnl,omitempty"`
	Fee                *LooseDecimal          `json:"fee,omitempty"`
	Friction           *LooseDecimal          `json:"friction,omitempty"`
	Leverage           *LooseDecimal          `json:"leverage,omitempty"`
	ExecutorID         string                 `json:"executor_id,omitempty"`
	IsFake             *bool                  `json:"is_fake,omitempty"`
	OpenTime           int64                  `json:"open_time,omitempty"`
	VirtualPositions   []VirtualPositionEvent `json:"virtual_positions,omitempty"`
}

// SignalEvent is a strategy decision; signals are write-once facts.
type SignalEvent struct {
	SignalID             int64               `json:"signal_id"`
	StrategyID           int64               `json:"strategy_id"`
	StrategyInstanceID   string              `json:"strategy_instance_id"`
	StrategyClassName    string              `json:"strategy_class_name"`
	DataSourceInstanceID int64               `json:"data_source_instance_id"`
	DataSourceClassName  string              `json:"data_source_class_name"`
	SignalTime           int64               `json:"signal_time"`
	Assets               []model.SignalAsset `json:"assets"`
	Config               map[string]any      `json:"config,omitempty"`
	Extra                map[string]any      `json:"extra,omitempty"`
}

// RiskEvent reports a risk-policy trigger.
type RiskEvent struct {
	RiskType            string            `json:"risk_type"`
	StrategyID          *int64            `json:"strategy_id,omitempty"`
	StrategyInstanceID  string            `json:"strategy_instance_id,omitempty"`
	StrategyClassName   string            `json:"strategy_class_name,omitempty"`
	RiskPolicyID        *int64            `json:"risk_policy_id,omitempty"`
	RiskPolicyClassName string            `json:"risk_policy_class_name"`
	TriggerTime         int64             `json:"trigger_time"`
	TriggerReason       string            `json:"trigger_reason,omitempty"`
	SignalID            *int64            `json:"signal_id,omitempty"`
	ExecutionOrderID    *int64            `json:"execution_order_id,omitempty"`
	PositionID          *int64            `json:"position_id,omitempty"`
	OriginalAmount      *LooseDecimal     `json:"original_amount,omitempty"`
	Pnl                 *LooseDecimal     `json:"pnl,omitempty"`
	ExtraInfo           map[string]string `json:"extra_info,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
}

// TransactionEvent is one balance-affecting ledger entry.
type TransactionEvent struct {
	StrategyID         *int64        `json:"strategy_id,omitempty"`
	StrategyInstanceID string        `json:"strategy_instance_id,omitempty"`
	PositionID         *int64        `json:"position_id,omitempty"`
	OrderID            *int64        `json:"order_id,omitempty"`
	SignalID           *int64        `json:"signal_id,omitempty"`
	ExecutorID         string        `json:"executor_id,omitempty"`
	AssetKey           string        `json:"asset_key"`
	TransactionType    string        `json:"transaction_type"`
	Amount             LooseDecimal  `json:"amount"`
	BalanceBefore      *LooseDecimal `json:"balance_before,omitempty"`
	BalanceAfter       *LooseDecimal `json:"balance_after,omitempty"`
	Description        string        `json:"description,omitempty"`
}

// Dispatcher converts one project's inbound push events into durable
// store mutations. Handlers may run concurrently with an in-flight
// supervisor health check for the same project, so every upsert re-fetches
// the current row inside its own storage transaction.
type Dispatcher struct {
	projectID int64
	db        *gorm.DB

	// advise pushes a best-effort cache-refresh action back at the worker
	// after a position update; failures are non-fatal by contract.
	advise func(action string)
}

func NewDispatcher(projectID int64, db *gorm.DB, advise func(action string)) *Dispatcher {
	if advise == nil {
		advise = func(string) {}
	}
	return &Dispatcher{projectID: projectID, db: db, advise: advise}
}

// Register wires one handler per event type onto the client. The event
// set is closed: every EventType has exactly one route.
func (d *Dispatcher) Register(c EngineClient) {
	c.RegisterHandler(EventOrderCreated, d.handle(EventOrderCreated, d.onOrderBatch))
	c.RegisterHandler(EventOrderUpdated, d.handle(EventOrderUpdated, d.onOrderUpdated))
	c.RegisterHandler(EventExecOrderCreated, d.handle(EventExecOrderCreated, d.onExecOrderCreated))
	c.RegisterHandler(EventExecOrderUpdated, d.handle(EventExecOrderUpdated, d.onExecOrderUpdated))
	c.RegisterHandler(EventPositionUpdate, d.handle(EventPositionUpdate, d.onPositionUpdate))
	c.RegisterHandler(EventPositionInit, d.handle(EventPositionInit, d.onOrderBatch))
	c.RegisterHandler(EventStrategySignal, d.handle(EventStrategySignal, d.onStrategySignal))
	c.RegisterHandler(EventTransaction, d.handle(EventTransaction, d.onTransaction))
	c.RegisterHandler(EventRiskTriggered, d.handle(EventRiskTriggered, d.onRiskTriggered))
	c.RegisterHandler(EventStrategyData, d.handle(EventStrategyData, d.onStrategyData))
	c.RegisterHandler(EventPositionData, d.handle(EventPositionData, d.onPositionData))
}

// handle adapts a fallible handler into an EventHandler: one bad event is
// logged and dropped, it never blocks subsequent events on the channel.
func (d *Dispatcher) handle(event EventType, fn func(ctx context.Context, data json.RawMessage) error) EventHandler {
	return func(data json.RawMessage) {
		if err := fn(context.Background(), data); err != nil {
			logger.WithFields(map[string]interface{}{
				"project_id": d.projectID,
				"event":      event,
			}).WithError(err).Error("event reconciliation failed")
		}
	}
}

func (d *Dispatcher) onOrderBatch(ctx context.Context, data json.RawMessage) error {
	var events []OrderEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return err
	}
	for i := range events {
		if err := d.upsertOrder(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) onOrderUpdated(ctx context.Context, data json.RawMessage) error {
	var event OrderEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	return d.upsertOrder(ctx, &event)
}

func (d *Dispatcher) onExecOrderCreated(ctx context.Context, data json.RawMessage) error {
	var event ExecOrderEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	return d.insertExecOrder(ctx, &event)
}

func (d *Dispatcher) onExecOrderUpdated(ctx context.Context, data json.RawMessage) error {
	var event ExecOrderEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	return d.amendExecOrder(ctx, &event)
}

func (d *Dispatcher) onPositionUpdate(ctx context.Context, data json.RawMessage) error {
	var event PositionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	if err := d.reconcilePosition(ctx, &event); err != nil {
		return err
	}
	// Warm the worker-side snapshots so the next supervisor pull is cheap.
	d.advise(ActionStorageStrategy)
	d.advise(ActionStoragePosition)
	return nil
}

func (d *Dispatcher) onStrategySignal(ctx context.Context, data json.RawMessage) error {
	var event SignalEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	return d.insertSignal(ctx, &event)
}

func (d *Dispatcher) onTransaction(ctx context.Context, data json.RawMessage) error {
	var event TransactionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	return d.insertTransaction(ctx, &event)
}

func (d *Dispatcher) onRiskTriggered(ctx context.Context, data json.RawMessage) error {
	var event RiskEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	return d.insertRiskLog(ctx, &event)
}

// onStrategyData persists a strategy runtime blob the worker pushed on
// its own initiative.
func (d *Dispatcher) onStrategyData(ctx context.Context, data json.RawMessage) error {
	var payload struct {
		StrategyID int64          `json:"strategy_id"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	return repository.NewConfigRepositoryWithDB(d.db).
		SaveStrategyData(ctx, d.projectID, payload.StrategyID, payload.Data)
}

func (d *Dispatcher) onPositionData(ctx context.Context, data json.RawMessage) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	return repository.NewConfigRepositoryWithDB(d.db).
		SavePositionData(ctx, d.projectID, payload)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
