package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a single execution attempt reported by the worker, keyed by the
// worker-assigned order id. Created on order-created events, fully
// replaced on order-updated events.
type Order struct {
	ID                 int64               `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProjectID          int64               `gorm:"primaryKey;autoIncrement:false" json:"project_id"`
	PositionID         *int64              `gorm:"index" json:"position_id,omitempty"`
	ExecOrderID        *int64              `gorm:"index" json:"exec_order_id,omitempty"`
	SignalID           int64               `gorm:"index;not null" json:"signal_id"`
	StrategyID         int64               `gorm:"index;not null" json:"strategy_id"`
	StrategyInstanceID string              `gorm:"size:200;index;not null" json:"strategy_instance_id"`
	OrderStatus        string              `gorm:"size:32;not null" json:"order_status"`
	OrderTime          time.Time           `gorm:"not null" json:"order_time"`
	Ratio              decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"ratio,omitempty"`
	Symbol             string              `gorm:"size:32;not null" json:"symbol"`
	QuoteCurrency      string              `gorm:"size:16" json:"quote_currency"`
	InsType            string              `gorm:"size:16" json:"ins_type"`
	AssetType          string              `gorm:"size:16" json:"asset_type"`
	Side               string              `gorm:"size:8;not null" json:"side"`
	IsOpen             bool                `gorm:"not null" json:"is_open"`
	IsFake             bool                `gorm:"not null;default:false" json:"is_fake"`
	OrderAmount        decimal.Decimal     `gorm:"type:numeric(36,18)" json:"order_amount"`
	OrderPrice         decimal.Decimal     `gorm:"type:numeric(36,18)" json:"order_price"`
	OrderType          string              `gorm:"size:16" json:"order_type,omitempty"`
	SettleAmount       decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"settle_amount,omitempty"`
	ExecutionPrice     decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"execution_price,omitempty"`
	Sz                 decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"sz,omitempty"`
	SzValue            decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"sz_value,omitempty"`
	Fee                decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"fee,omitempty"`
	Pnl                decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"pnl,omitempty"`
	UnrealizedPnl      decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"unrealized_pnl,omitempty"`
	FinishTime         *time.Time          `json:"finish_time,omitempty"`
	Friction           decimal.Decimal     `gorm:"type:numeric(36,18);not null;default:0" json:"friction"`
	Leverage           decimal.Decimal     `gorm:"type:numeric(36,18);not null;default:1" json:"leverage"`
	ExecutorID         string              `gorm:"size:64" json:"executor_id,omitempty"`
	TradeMode          string              `gorm:"size:16" json:"trade_mode,omitempty"`
	Extra              map[string]any      `gorm:"type:jsonb;serializer:json" json:"extra,omitempty"`
	MarketOrderID      string              `gorm:"size:200" json:"market_order_id,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// ExecutionAsset is one leg of an execution order's fan-out.
type ExecutionAsset struct {
	AssetType     string  `json:"asset_type"`
	InsType       string  `json:"ins_type"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Price         *string `json:"price,omitempty"`
	IsOpen        bool    `json:"is_open"`
	IsFake        bool    `json:"is_fake"`
	Ratio         *string `json:"ratio,omitempty"`
	Amount        *string `json:"amount,omitempty"`
	Sz            *string `json:"sz,omitempty"`
	QuoteCurrency string  `json:"quote_currency,omitempty"`
	PositionID    *int64  `json:"position_id,omitempty"`
	ActualPnl     *string `json:"actual_pnl,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// ExecutionOrder is the aggregate trade intent; it may fan out into
// multiple Orders across assets. Created once, amended by later updates.
type ExecutionOrder struct {
	ID                 int64               `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProjectID          int64               `gorm:"primaryKey;autoIncrement:false" json:"project_id"`
	SignalID           int64               `gorm:"index;not null" json:"signal_id"`
	StrategyID         int64               `gorm:"index;not null" json:"strategy_id"`
	StrategyInstanceID string              `gorm:"size:200;not null" json:"strategy_instance_id"`
	TargetExecutorID   string              `gorm:"size:64;not null" json:"target_executor_id"`
	ExecutionAssets    []ExecutionAsset    `gorm:"type:jsonb;serializer:json" json:"execution_assets"`
	OpenAmount         decimal.Decimal     `gorm:"type:numeric(36,18)" json:"open_amount"`
	OpenRatio          decimal.Decimal     `gorm:"type:numeric(36,18)" json:"open_ratio"`
	Leverage           decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"leverage,omitempty"`
	OrderType          string              `gorm:"size:16" json:"order_type,omitempty"`
	TradeType          string              `gorm:"size:16" json:"trade_type,omitempty"`
	TradeMode          string              `gorm:"size:32" json:"trade_mode,omitempty"`
	CreatedTime        time.Time           `gorm:"not null" json:"created_time"`
	ActualRatio        decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"actual_ratio,omitempty"`
	ActualAmount       decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"actual_amount,omitempty"`
	ActualPnl          decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"actual_pnl,omitempty"`
	Extra              map[string]any      `gorm:"type:jsonb;serializer:json" json:"extra,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func (ExecutionOrder) TableName() string {
	return "execution_orders"
}
