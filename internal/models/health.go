package models

import (
	"time"
)

// AccountHealth is the operational state of a platform account.
type AccountHealth string

const (
	HealthHealthy   AccountHealth = "healthy"
	HealthDegraded  AccountHealth = "degraded"
	HealthSuspended AccountHealth = "suspended"
)

// PlatformAccountHealth is owned by the health monitor; every other
// component reads it but never writes it. Version guards concurrent updates
// across orchestrator instances.
type PlatformAccountHealth struct {
	PlatformAccountID   string        `gorm:"primaryKey;size:36" json:"platform_account_id"`
	Platform            Platform      `gorm:"size:30;index" json:"platform"`
	Health              AccountHealth `gorm:"size:20;not null" json:"health"`
	ConsecutiveFailures int           `gorm:"default:0" json:"consecutive_failures"`
	BackoffUntil        *time.Time    `json:"backoff_until"`
	LastSuccessAt       *time.Time    `json:"last_success_at"`
	LastFailureAt       *time.Time    `json:"last_failure_at"`
	Version             int64         `gorm:"default:0" json:"version"`
	CreatedAt           time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}
