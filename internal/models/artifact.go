package models

import (
	"time"
)

// Tier is the monetization layer an artifact targets.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
	TierCustom  Tier = "custom"
)

// ValidTier reports whether t is a known tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierBasic, TierPremium, TierCustom:
		return true
	}
	return false
}

// ArtifactStatus is the lifecycle state of a generated content piece.
type ArtifactStatus string

const (
	ArtifactRequested     ArtifactStatus = "requested"
	ArtifactGenerating    ArtifactStatus = "generating"
	ArtifactPendingSafety ArtifactStatus = "pending_safety"
	ArtifactSafe          ArtifactStatus = "safe"
	ArtifactBorderline    ArtifactStatus = "borderline"
	ArtifactRejected      ArtifactStatus = "rejected"
	ArtifactEligible      ArtifactStatus = "eligible"
	ArtifactScheduled     ArtifactStatus = "scheduled"
	ArtifactPublished     ArtifactStatus = "published"
	ArtifactFailed        ArtifactStatus = "failed"
)

// SafetyVerdict is the classification result from the safety gate.
type SafetyVerdict string

const (
	VerdictSafe       SafetyVerdict = "safe"
	VerdictBorderline SafetyVerdict = "borderline"
	VerdictRejected   SafetyVerdict = "rejected"
)

// artifactTransitions encodes the legal lifecycle edges. Rejected is a dead
// end: nothing maps it toward eligible, scheduled or published.
var artifactTransitions = map[ArtifactStatus][]ArtifactStatus{
	ArtifactRequested:     {ArtifactGenerating, ArtifactFailed},
	ArtifactGenerating:    {ArtifactPendingSafety, ArtifactFailed},
	ArtifactPendingSafety: {ArtifactSafe, ArtifactBorderline, ArtifactRejected, ArtifactFailed},
	ArtifactSafe:          {ArtifactEligible, ArtifactFailed},
	ArtifactBorderline:    {ArtifactEligible, ArtifactRejected, ArtifactFailed},
	ArtifactEligible:      {ArtifactScheduled, ArtifactFailed},
	ArtifactScheduled:     {ArtifactPublished, ArtifactFailed},
}

// CanTransition reports whether moving an artifact from one status to
// another is a legal lifecycle step.
func CanTransition(from, to ArtifactStatus) bool {
	for _, next := range artifactTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ContentArtifact struct {
	ID                  string         `gorm:"primaryKey;size:36" json:"id"`
	AvatarID            string         `gorm:"not null;index;size:36" json:"avatar_id"`
	BatchID             string         `gorm:"index;size:36" json:"batch_id"`
	BatchIndex          int            `gorm:"default:0" json:"batch_index"`
	TemplateID          *string        `gorm:"size:100" json:"template_id"`
	PromptUsed          string         `gorm:"type:text" json:"prompt_used"`
	Tier                Tier           `gorm:"size:20;not null" json:"tier"`
	Status              ArtifactStatus `gorm:"size:30;not null;index" json:"status"`
	SafetyVerdict       SafetyVerdict  `gorm:"size:20" json:"safety_verdict"`
	SafetyScore         float64        `gorm:"default:0" json:"safety_score"`
	GenerationCostUSD   float64        `gorm:"default:0" json:"generation_cost_usd"`
	GenerationLatencyMs int64          `gorm:"default:0" json:"generation_latency_ms"`
	StorageLocator      string         `gorm:"size:500" json:"storage_locator"`
	Metadata            JSONMap        `gorm:"type:jsonb" json:"metadata"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
