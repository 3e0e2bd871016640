package store

import (
	"context"
	"errors"
	"time"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStorageConflict is returned when a guarded conditional update
	// matched no row: the entity changed underneath the caller, who must
	// re-read and retry.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrInvalidTransition is returned when a status update names an edge
	// the entity lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// CounterField selects which batch counter to increment.
type CounterField string

const (
	CounterCompleted CounterField = "completed_count"
	CounterFailed    CounterField = "failed_count"
)

// ArtifactPatch carries optional field updates applied together with a
// guarded artifact status transition.
type artifactPatch struct {
	verdict        *models.SafetyVerdict
	safetyScore    *float64
	storageLocator *string
	costUSD        *float64
	latencyMs      *int64
}

type ArtifactOption func(*artifactPatch)

func WithVerdict(v models.SafetyVerdict, score float64) ArtifactOption {
	return func(p *artifactPatch) {
		p.verdict = &v
		p.safetyScore = &score
	}
}

func WithGenerationResult(locator string, costUSD float64, latencyMs int64) ArtifactOption {
	return func(p *artifactPatch) {
		p.storageLocator = &locator
		p.costUSD = &costUSD
		p.latencyMs = &latencyMs
	}
}

type postPatch struct {
	lastError      *string
	publishedAt    *time.Time
	dispatchedAt   *time.Time
	scheduledAt    *time.Time
	platformPostID *string
	bumpAttempt    bool
}

type PostOption func(*postPatch)

func WithLastError(msg string) PostOption {
	return func(p *postPatch) { p.lastError = &msg }
}

func WithPublishedAt(t time.Time) PostOption {
	return func(p *postPatch) { p.publishedAt = &t }
}

func WithDispatchedAt(t time.Time) PostOption {
	return func(p *postPatch) { p.dispatchedAt = &t }
}

func WithRescheduledAt(t time.Time) PostOption {
	return func(p *postPatch) { p.scheduledAt = &t }
}

func WithPlatformPostID(id string) PostOption {
	return func(p *postPatch) { p.platformPostID = &id }
}

func WithAttemptBump() PostOption {
	return func(p *postPatch) { p.bumpAttempt = true }
}

// ContentStore is the single source of truth for artifact, batch, post and
// account-health state. All status transitions are guarded conditional
// updates so two workers can never both move the same entity.
type ContentStore interface {
	CreateArtifact(ctx context.Context, artifact *models.ContentArtifact) error
	GetArtifact(ctx context.Context, id string) (*models.ContentArtifact, error)
	UpdateArtifactStatus(ctx context.Context, id string, from, to models.ArtifactStatus, opts ...ArtifactOption) error
	ListEligibleArtifacts(ctx context.Context, avatarID string) ([]models.ContentArtifact, error)

	CreateBatch(ctx context.Context, batch *models.GenerationBatch) error
	GetBatch(ctx context.Context, id string) (*models.GenerationBatch, error)
	UpdateBatchStatus(ctx context.Context, id string, from, to models.BatchStatus) error
	IncrementBatchCounter(ctx context.Context, id string, field CounterField) error
	AddBatchCost(ctx context.Context, id string, costUSD float64) error

	CreateScheduledPost(ctx context.Context, post *models.ScheduledPost) error
	GetScheduledPost(ctx context.Context, id string) (*models.ScheduledPost, error)
	UpdateScheduledPostStatus(ctx context.Context, id string, from, to models.PostStatus, opts ...PostOption) error
	HasActivePost(ctx context.Context, artifactID string, platform models.Platform) (bool, error)
	ListActivePosts(ctx context.Context, accountID string) ([]models.ScheduledPost, error)
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]models.ScheduledPost, error)
	ListStalledPosts(ctx context.Context, olderThan time.Time) ([]models.ScheduledPost, error)
	ListRecentPosts(ctx context.Context, limit int) ([]models.ScheduledPost, error)

	GetAccountHealth(ctx context.Context, accountID string) (*models.PlatformAccountHealth, error)
	UpsertAccountHealth(ctx context.Context, health *models.PlatformAccountHealth) error

	AppendCostEvent(ctx context.Context, event *models.CostEvent) error
	CostSummary(ctx context.Context, avatarID string) (*models.CostSummary, error)
}
