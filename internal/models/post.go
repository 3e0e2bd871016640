package models

import (
	"time"
)

// Platform identifies a social platform target.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformTwitter   Platform = "twitter"
	PlatformOnlyFans  Platform = "onlyfans"
)

// ValidPlatform reports whether p is a known platform.
func ValidPlatform(p Platform) bool {
	switch p {
	case PlatformInstagram, PlatformTikTok, PlatformTwitter, PlatformOnlyFans:
		return true
	}
	return false
}

// PostStatus is the lifecycle state of a scheduled post.
type PostStatus string

const (
	PostPending    PostStatus = "pending"
	PostPublishing PostStatus = "publishing"
	PostPublished  PostStatus = "published"
	PostFailed     PostStatus = "failed"
	PostCancelled  PostStatus = "cancelled"
)

// Active reports whether the post still occupies its (artifact, platform)
// slot. At most one active post may exist per artifact and platform.
func (s PostStatus) Active() bool {
	return s == PostPending || s == PostPublishing
}

type ScheduledPost struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	ArtifactID        string     `gorm:"not null;index;size:36" json:"artifact_id"`
	PlatformAccountID string     `gorm:"not null;index;size:36" json:"platform_account_id"`
	Platform          Platform   `gorm:"size:30;not null;index" json:"platform"`
	ScheduledAt       time.Time  `gorm:"not null;index" json:"scheduled_at"`
	Timezone          string     `gorm:"size:64" json:"timezone"`
	Status            PostStatus `gorm:"size:30;not null;index" json:"status"`
	AttemptCount      int        `gorm:"default:0" json:"attempt_count"`
	LastError         string     `gorm:"type:text" json:"last_error"`
	IdempotencyKey    string     `gorm:"size:36" json:"idempotency_key"`
	PlatformPostID    string     `gorm:"size:255" json:"platform_post_id"`
	PublishedAt       *time.Time `json:"published_at"`
	DispatchedAt      *time.Time `json:"dispatched_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
