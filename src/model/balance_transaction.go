package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types mirror the worker's balance-event classification.
const (
	TransactionFrozen   = "FROZEN"
	TransactionUnfrozen = "UNFROZEN"
	TransactionDeposit  = "DEPOSIT"
	TransactionWithdraw = "WITHDRAW"
	TransactionTrade    = "TRADE"
	TransactionFee      = "FEE"
	TransactionPnl      = "PNL"
	TransactionFunding  = "FUNDING"
	TransactionSettle   = "SETTLE"
	TransactionOther    = "OTHER"
)

// BalanceTransaction is one entry of the append-only balance ledger.
// Rows are inserted by the reconciler and never mutated.
type BalanceTransaction struct {
	ID                 int64               `gorm:"primaryKey" json:"id"`
	ProjectID          int64               `gorm:"index;not null" json:"project_id"`
	StrategyID         *int64              `gorm:"index" json:"strategy_id,omitempty"`
	StrategyInstanceID string              `gorm:"size:200;index" json:"strategy_instance_id,omitempty"`
	PositionID         *int64              `gorm:"index" json:"position_id,omitempty"`
	OrderID            *int64              `gorm:"index" json:"order_id,omitempty"`
	SignalID           *int64              `gorm:"index" json:"signal_id,omitempty"`
	ExecutorID         string              `gorm:"size:64;index" json:"executor_id,omitempty"`
	AssetKey           string              `gorm:"size:64;not null" json:"asset_key"`
	TransactionType    string              `gorm:"size:16;not null" json:"transaction_type"`
	Amount             decimal.Decimal     `gorm:"type:numeric(36,18);not null" json:"amount"`
	BalanceBefore      decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"balance_before,omitempty"`
	BalanceAfter       decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"balance_after,omitempty"`
	Description        string              `gorm:"size:500" json:"description,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
}

func (BalanceTransaction) TableName() string {
	return "balance_transactions"
}
