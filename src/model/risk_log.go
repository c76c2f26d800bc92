package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RiskTypeEmbedded = "embedded"
	RiskTypeSignal   = "signal"
	RiskTypeActive   = "active"
)

// RiskLog records a risk-policy trigger. Signal-type rows are amended
// later: when a virtual position resolves, its pnl is merged into
// ExtraInfo keyed by position id and Pnl is recomputed as the sum of all
// contributions.
type RiskLog struct {
	ID                  int64               `gorm:"primaryKey" json:"id"`
	ProjectID           int64               `gorm:"index;not null" json:"project_id"`
	RiskType            string              `gorm:"size:32;index;not null" json:"risk_type"`
	StrategyID          *int64              `gorm:"index" json:"strategy_id,omitempty"`
	StrategyInstanceID  string              `gorm:"size:200;index" json:"strategy_instance_id,omitempty"`
	StrategyClassName   string              `gorm:"size:200" json:"strategy_class_name,omitempty"`
	RiskPolicyID        *int64              `gorm:"index" json:"risk_policy_id,omitempty"`
	RiskPolicyClassName string              `gorm:"size:200;not null" json:"risk_policy_class_name"`
	TriggerTime         time.Time           `gorm:"index;not null" json:"trigger_time"`
	TriggerReason       string              `gorm:"type:text" json:"trigger_reason,omitempty"`
	SignalID            *int64              `gorm:"index" json:"signal_id,omitempty"`
	ExecutionOrderID    *int64              `gorm:"index" json:"execution_order_id,omitempty"`
	PositionID          *int64              `gorm:"index" json:"position_id,omitempty"`
	OriginalAmount      decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"original_amount,omitempty"`
	Pnl                 decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"pnl,omitempty"`
	ExtraInfo           map[string]string   `gorm:"type:jsonb;serializer:json" json:"extra_info,omitempty"`
	Tags                []string            `gorm:"type:jsonb;serializer:json" json:"tags,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

func (RiskLog) TableName() string {
	return "risk_logs"
}
