package models

import (
	"time"
)

// BatchStatus is the lifecycle state of a generation batch.
type BatchStatus string

const (
	BatchQueued          BatchStatus = "queued"
	BatchRunning         BatchStatus = "running"
	BatchCompleted       BatchStatus = "completed"
	BatchPartiallyFailed BatchStatus = "partially_failed"
	BatchFailed          BatchStatus = "failed"
	BatchCancelled       BatchStatus = "cancelled"
)

// Terminal reports whether the batch status is final.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchPartiallyFailed, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

type GenerationBatch struct {
	ID               string      `gorm:"primaryKey;size:36" json:"id"`
	AvatarID         string      `gorm:"not null;index;size:36" json:"avatar_id"`
	RequestedCount   int         `gorm:"not null" json:"requested_count"`
	TierDistribution TierCounts  `gorm:"type:jsonb" json:"tier_distribution"`
	Status           BatchStatus `gorm:"size:30;not null;index" json:"status"`
	CompletedCount   int         `gorm:"default:0" json:"completed_count"`
	FailedCount      int         `gorm:"default:0" json:"failed_count"`
	TotalCostUSD     float64     `gorm:"default:0" json:"total_cost_usd"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`

	// ArtifactIDs is populated from the artifacts table on read, ordered by
	// batch index. The batch owns this list; an artifact belongs to exactly
	// one batch.
	ArtifactIDs []string `gorm:"-" json:"artifact_ids"`
}
