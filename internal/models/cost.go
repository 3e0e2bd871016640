package models

import (
	"time"
)

// CostEvent records one billable provider call.
type CostEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AvatarID      string    `gorm:"not null;index;size:36" json:"avatar_id"`
	OperationType string    `gorm:"size:50;not null;index" json:"operation_type"`
	Provider      string    `gorm:"size:100;not null;index" json:"provider"`
	CostUSD       float64   `gorm:"not null" json:"cost_usd"`
	Metadata      JSONMap   `gorm:"type:jsonb" json:"metadata"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// CostSummary aggregates spend for one avatar.
type CostSummary struct {
	AvatarID    string             `json:"avatar_id"`
	TotalUSD    float64            `json:"total_usd"`
	ByOperation map[string]float64 `json:"by_operation"`
	ByProvider  map[string]float64 `json:"by_provider"`
	EventCount  int                `json:"event_count"`
}
