package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/config"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

// NewDatabase opens the postgres connection and migrates the pipeline schema.
func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode, cfg.TimeZone)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// Maps driver duplicate-key errors to gorm.ErrDuplicatedKey so the
		// first-sight create race surfaces as a storage conflict.
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.ContentArtifact{},
		&models.GenerationBatch{},
		&models.ScheduledPost{},
		&models.PlatformAccountHealth{},
		&models.CostEvent{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// GormStore implements ContentStore on top of gorm/postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateArtifact(ctx context.Context, artifact *models.ContentArtifact) error {
	return s.db.WithContext(ctx).Create(artifact).Error
}

func (s *GormStore) GetArtifact(ctx context.Context, id string) (*models.ContentArtifact, error) {
	var artifact models.ContentArtifact
	if err := s.db.WithContext(ctx).First(&artifact, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &artifact, nil
}

func (s *GormStore) UpdateArtifactStatus(ctx context.Context, id string, from, to models.ArtifactStatus, opts ...ArtifactOption) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("artifact %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}

	patch := &artifactPatch{}
	for _, opt := range opts {
		opt(patch)
	}

	updates := map[string]interface{}{"status": to}
	if patch.verdict != nil {
		updates["safety_verdict"] = *patch.verdict
		updates["safety_score"] = *patch.safetyScore
	}
	if patch.storageLocator != nil {
		updates["storage_locator"] = *patch.storageLocator
		updates["generation_cost_usd"] = *patch.costUSD
		updates["generation_latency_ms"] = *patch.latencyMs
	}

	res := s.db.WithContext(ctx).Model(&models.ContentArtifact{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("artifact %s not in status %s: %w", id, from, ErrStorageConflict)
	}
	return nil
}

func (s *GormStore) ListEligibleArtifacts(ctx context.Context, avatarID string) ([]models.ContentArtifact, error) {
	var artifacts []models.ContentArtifact
	err := s.db.WithContext(ctx).
		Where("avatar_id = ? AND status = ?", avatarID, models.ArtifactEligible).
		Order("created_at").
		Find(&artifacts).Error
	return artifacts, err
}

func (s *GormStore) CreateBatch(ctx context.Context, batch *models.GenerationBatch) error {
	return s.db.WithContext(ctx).Create(batch).Error
}

func (s *GormStore) GetBatch(ctx context.Context, id string) (*models.GenerationBatch, error) {
	var batch models.GenerationBatch
	if err := s.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	// The batch owns its ordered artifact list; it is derived from the
	// artifacts table so the list stays append-only by construction.
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.ContentArtifact{}).
		Where("batch_id = ?", id).
		Order("batch_index").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	batch.ArtifactIDs = ids

	return &batch, nil
}

func (s *GormStore) UpdateBatchStatus(ctx context.Context, id string, from, to models.BatchStatus) error {
	res := s.db.WithContext(ctx).Model(&models.GenerationBatch{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("batch %s not in status %s: %w", id, from, ErrStorageConflict)
	}
	return nil
}

func (s *GormStore) IncrementBatchCounter(ctx context.Context, id string, field CounterField) error {
	// The WHERE clause keeps completed+failed bounded by requested even if
	// two workers race on the last unit.
	res := s.db.WithContext(ctx).Model(&models.GenerationBatch{}).
		Where("id = ? AND completed_count + failed_count < requested_count", id).
		Update(string(field), gorm.Expr(string(field)+" + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("batch %s counters already at requested count: %w", id, ErrStorageConflict)
	}
	return nil
}

func (s *GormStore) AddBatchCost(ctx context.Context, id string, costUSD float64) error {
	return s.db.WithContext(ctx).Model(&models.GenerationBatch{}).
		Where("id = ?", id).
		Update("total_cost_usd", gorm.Expr("total_cost_usd + ?", costUSD)).Error
}

func (s *GormStore) CreateScheduledPost(ctx context.Context, post *models.ScheduledPost) error {
	return s.db.WithContext(ctx).Create(post).Error
}

func (s *GormStore) GetScheduledPost(ctx context.Context, id string) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &post, nil
}

func (s *GormStore) UpdateScheduledPostStatus(ctx context.Context, id string, from, to models.PostStatus, opts ...PostOption) error {
	patch := &postPatch{}
	for _, opt := range opts {
		opt(patch)
	}

	updates := map[string]interface{}{"status": to}
	if patch.lastError != nil {
		updates["last_error"] = *patch.lastError
	}
	if patch.publishedAt != nil {
		updates["published_at"] = *patch.publishedAt
	}
	if patch.dispatchedAt != nil {
		updates["dispatched_at"] = *patch.dispatchedAt
	}
	if patch.scheduledAt != nil {
		updates["scheduled_at"] = *patch.scheduledAt
	}
	if patch.platformPostID != nil {
		updates["platform_post_id"] = *patch.platformPostID
	}
	if patch.bumpAttempt {
		updates["attempt_count"] = gorm.Expr("attempt_count + 1")
	}

	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("post %s not in status %s: %w", id, from, ErrStorageConflict)
	}
	return nil
}

func (s *GormStore) HasActivePost(ctx context.Context, artifactID string, platform models.Platform) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("artifact_id = ? AND platform = ? AND status IN ?",
			artifactID, platform, []models.PostStatus{models.PostPending, models.PostPublishing}).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) ListActivePosts(ctx context.Context, accountID string) ([]models.ScheduledPost, error) {
	var posts []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("platform_account_id = ? AND status IN ?",
			accountID, []models.PostStatus{models.PostPending, models.PostPublishing}).
		Order("scheduled_at").
		Find(&posts).Error
	return posts, err
}

func (s *GormStore) ListDuePosts(ctx context.Context, now time.Time, limit int) ([]models.ScheduledPost, error) {
	var posts []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.PostPending, now).
		Order("scheduled_at").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

func (s *GormStore) ListStalledPosts(ctx context.Context, olderThan time.Time) ([]models.ScheduledPost, error) {
	var posts []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ? AND dispatched_at IS NOT NULL AND dispatched_at < ?", models.PostPublishing, olderThan).
		Find(&posts).Error
	return posts, err
}

func (s *GormStore) ListRecentPosts(ctx context.Context, limit int) ([]models.ScheduledPost, error) {
	var posts []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

func (s *GormStore) GetAccountHealth(ctx context.Context, accountID string) (*models.PlatformAccountHealth, error) {
	var health models.PlatformAccountHealth
	if err := s.db.WithContext(ctx).First(&health, "platform_account_id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		return nil, err
	}
	return &health, nil
}

func (s *GormStore) UpsertAccountHealth(ctx context.Context, health *models.PlatformAccountHealth) error {
	if health.Version == 0 {
		health.Version = 1
		err := s.db.WithContext(ctx).Create(health).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("account %s already exists: %w", health.PlatformAccountID, ErrStorageConflict)
		}
		return err
	}

	res := s.db.WithContext(ctx).Model(&models.PlatformAccountHealth{}).
		Where("platform_account_id = ? AND version = ?", health.PlatformAccountID, health.Version).
		Updates(map[string]interface{}{
			"health":               health.Health,
			"consecutive_failures": health.ConsecutiveFailures,
			"backoff_until":        health.BackoffUntil,
			"last_success_at":      health.LastSuccessAt,
			"last_failure_at":      health.LastFailureAt,
			"version":              health.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s health version %d: %w", health.PlatformAccountID, health.Version, ErrStorageConflict)
	}
	health.Version++
	return nil
}

func (s *GormStore) AppendCostEvent(ctx context.Context, event *models.CostEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *GormStore) CostSummary(ctx context.Context, avatarID string) (*models.CostSummary, error) {
	var events []models.CostEvent
	if err := s.db.WithContext(ctx).
		Where("avatar_id = ?", avatarID).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return summarizeCostEvents(avatarID, events), nil
}

func summarizeCostEvents(avatarID string, events []models.CostEvent) *models.CostSummary {
	summary := &models.CostSummary{
		AvatarID:    avatarID,
		ByOperation: make(map[string]float64),
		ByProvider:  make(map[string]float64),
	}
	for _, e := range events {
		summary.TotalUSD += e.CostUSD
		summary.ByOperation[e.OperationType] += e.CostUSD
		summary.ByProvider[e.Provider] += e.CostUSD
		summary.EventCount++
	}
	return summary
}
