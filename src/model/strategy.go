package model

import "time"

// Strategy is a configured trading strategy pushed to the project worker
// when enabled. Data holds the worker-reported runtime blob, persisted by
// the supervisor on every successful state pull.
type Strategy struct {
	ID                int64          `gorm:"primaryKey" json:"id"`
	ProjectID         int64          `gorm:"index;not null" json:"project_id"`
	Name              string         `gorm:"size:200;not null" json:"name"`
	ClassName         string         `gorm:"size:200;not null" json:"class_name"`
	Params            map[string]any `gorm:"type:jsonb;serializer:json" json:"params,omitempty"`
	DataSourceIDs     []int64        `gorm:"type:jsonb;serializer:json" json:"data_source_ids,omitempty"`
	PositionPolicyIDs []int64        `gorm:"type:jsonb;serializer:json" json:"position_policy_ids,omitempty"`
	Data              map[string]any `gorm:"type:jsonb;serializer:json" json:"data,omitempty"`
	IsEnabled         bool           `gorm:"default:false;index" json:"is_enabled"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (Strategy) TableName() string {
	return "strategies"
}

// ToConfig renders the payload for add_strategy / update_strategy.
func (s *Strategy) ToConfig() map[string]any {
	return map[string]any{
		"id":                  s.ID,
		"name":                s.Name,
		"class_name":          s.ClassName,
		"params":              s.Params,
		"data_source_ids":     s.DataSourceIDs,
		"position_policy_ids": s.PositionPolicyIDs,
	}
}

// Executor is an order-execution backend configuration (exchange account,
// simulated matcher, ...). Params may contain sealed credential values.
type Executor struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	ProjectID int64          `gorm:"index;not null" json:"project_id"`
	Name      string         `gorm:"size:200;not null" json:"name"`
	ClassName string         `gorm:"size:200;not null" json:"class_name"`
	Params    map[string]any `gorm:"type:jsonb;serializer:json" json:"params,omitempty"`
	IsEnabled bool           `gorm:"default:false;index" json:"is_enabled"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Executor) TableName() string {
	return "executors"
}

func (e *Executor) ToConfig() map[string]any {
	return map[string]any{
		"id":         e.ID,
		"name":       e.Name,
		"class_name": e.ClassName,
		"params":     e.Params,
	}
}

// DataSource feeds market data into the worker. Params may contain sealed
// credential values.
type DataSource struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	ProjectID int64          `gorm:"index;not null" json:"project_id"`
	Name      string         `gorm:"size:200;not null" json:"name"`
	ClassName string         `gorm:"size:200;not null" json:"class_name"`
	Params    map[string]any `gorm:"type:jsonb;serializer:json" json:"params,omitempty"`
	IsEnabled bool           `gorm:"default:false;index" json:"is_enabled"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (DataSource) TableName() string {
	return "data_sources"
}

func (d *DataSource) ToConfig() map[string]any {
	return map[string]any{
		"id":         d.ID,
		"name":       d.Name,
		"class_name": d.ClassName,
		"params":     d.Params,
	}
}

// RiskPolicy is a position-level risk rule evaluated inside the worker.
type RiskPolicy struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	ProjectID int64          `gorm:"index;not null" json:"project_id"`
	Name      string         `gorm:"size:200;not null" json:"name"`
	ClassName string         `gorm:"size:200;not null" json:"class_name"`
	Params    map[string]any `gorm:"type:jsonb;serializer:json" json:"params,omitempty"`
	Scope     string         `gorm:"size:32" json:"scope,omitempty"`
	IsEnabled bool           `gorm:"default:false;index" json:"is_enabled"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (RiskPolicy) TableName() string {
	return "risk_policies"
}

func (r *RiskPolicy) ToConfig() map[string]any {
	return map[string]any{
		"id":         r.ID,
		"name":       r.Name,
		"class_name": r.ClassName,
		"params":     r.Params,
		"scope":      r.Scope,
	}
}
