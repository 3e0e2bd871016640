package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

// MemoryStore is an in-process ContentStore used in dev mode and tests. It
// enforces the same guarded-update semantics as the postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*models.ContentArtifact
	batches   map[string]*models.GenerationBatch
	posts     map[string]*models.ScheduledPost
	health    map[string]*models.PlatformAccountHealth
	costs     []models.CostEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]*models.ContentArtifact),
		batches:   make(map[string]*models.GenerationBatch),
		posts:     make(map[string]*models.ScheduledPost),
		health:    make(map[string]*models.PlatformAccountHealth),
	}
}

func (s *MemoryStore) CreateArtifact(ctx context.Context, artifact *models.ContentArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	cp := *artifact
	s.artifacts[artifact.ID] = &cp

	// Batch artifact lists are append-only; record membership on create.
	if artifact.BatchID != "" {
		if batch, ok := s.batches[artifact.BatchID]; ok {
			batch.ArtifactIDs = append(batch.ArtifactIDs, artifact.ID)
		}
	}
	return nil
}

func (s *MemoryStore) GetArtifact(ctx context.Context, id string) (*models.ContentArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	cp := *artifact
	return &cp, nil
}

func (s *MemoryStore) UpdateArtifactStatus(ctx context.Context, id string, from, to models.ArtifactStatus, opts ...ArtifactOption) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("artifact %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}

	patch := &artifactPatch{}
	for _, opt := range opts {
		opt(patch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	artifact, ok := s.artifacts[id]
	if !ok || artifact.Status != from {
		return fmt.Errorf("artifact %s not in status %s: %w", id, from, ErrStorageConflict)
	}

	artifact.Status = to
	if patch.verdict != nil {
		artifact.SafetyVerdict = *patch.verdict
		artifact.SafetyScore = *patch.safetyScore
	}
	if patch.storageLocator != nil {
		artifact.StorageLocator = *patch.storageLocator
		artifact.GenerationCostUSD = *patch.costUSD
		artifact.GenerationLatencyMs = *patch.latencyMs
	}
	artifact.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListEligibleArtifacts(ctx context.Context, avatarID string) ([]models.ContentArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ContentArtifact
	for _, a := range s.artifacts {
		if a.AvatarID == avatarID && a.Status == models.ArtifactEligible {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateBatch(ctx context.Context, batch *models.GenerationBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	cp := *batch
	s.batches[batch.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, id string) (*models.GenerationBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	cp := *batch
	cp.ArtifactIDs = append([]string(nil), batch.ArtifactIDs...)
	return &cp, nil
}

func (s *MemoryStore) UpdateBatchStatus(ctx context.Context, id string, from, to models.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok || batch.Status != from {
		return fmt.Errorf("batch %s not in status %s: %w", id, from, ErrStorageConflict)
	}
	batch.Status = to
	batch.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) IncrementBatchCounter(ctx context.Context, id string, field CounterField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if batch.CompletedCount+batch.FailedCount >= batch.RequestedCount {
		return fmt.Errorf("batch %s counters already at requested count: %w", id, ErrStorageConflict)
	}
	switch field {
	case CounterCompleted:
		batch.CompletedCount++
	case CounterFailed:
		batch.FailedCount++
	default:
		return fmt.Errorf("unknown counter field %s", field)
	}
	return nil
}

func (s *MemoryStore) AddBatchCost(ctx context.Context, id string, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	batch.TotalCostUSD += costUSD
	return nil
}

func (s *MemoryStore) CreateScheduledPost(ctx context.Context, post *models.ScheduledPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	cp := *post
	s.posts[post.ID] = &cp
	return nil
}

func (s *MemoryStore) GetScheduledPost(ctx context.Context, id string) (*models.ScheduledPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	cp := *post
	return &cp, nil
}

func (s *MemoryStore) UpdateScheduledPostStatus(ctx context.Context, id string, from, to models.PostStatus, opts ...PostOption) error {
	patch := &postPatch{}
	for _, opt := range opts {
		opt(patch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[id]
	if !ok || post.Status != from {
		return fmt.Errorf("post %s not in status %s: %w", id, from, ErrStorageConflict)
	}

	post.Status = to
	if patch.lastError != nil {
		post.LastError = *patch.lastError
	}
	if patch.publishedAt != nil {
		t := *patch.publishedAt
		post.PublishedAt = &t
	}
	if patch.dispatchedAt != nil {
		t := *patch.dispatchedAt
		post.DispatchedAt = &t
	}
	if patch.scheduledAt != nil {
		post.ScheduledAt = *patch.scheduledAt
	}
	if patch.platformPostID != nil {
		post.PlatformPostID = *patch.platformPostID
	}
	if patch.bumpAttempt {
		post.AttemptCount++
	}
	post.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) HasActivePost(ctx context.Context, artifactID string, platform models.Platform) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.posts {
		if p.ArtifactID == artifactID && p.Platform == platform && p.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListActivePosts(ctx context.Context, accountID string) ([]models.ScheduledPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ScheduledPost
	for _, p := range s.posts {
		if p.PlatformAccountID == accountID && p.Status.Active() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *MemoryStore) ListDuePosts(ctx context.Context, now time.Time, limit int) ([]models.ScheduledPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ScheduledPost
	for _, p := range s.posts {
		if p.Status == models.PostPending && !p.ScheduledAt.After(now) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListStalledPosts(ctx context.Context, olderThan time.Time) ([]models.ScheduledPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ScheduledPost
	for _, p := range s.posts {
		if p.Status == models.PostPublishing && p.DispatchedAt != nil && p.DispatchedAt.Before(olderThan) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecentPosts(ctx context.Context, limit int) ([]models.ScheduledPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ScheduledPost
	for _, p := range s.posts {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetAccountHealth(ctx context.Context, accountID string) (*models.PlatformAccountHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	health, ok := s.health[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	cp := *health
	return &cp, nil
}

func (s *MemoryStore) UpsertAccountHealth(ctx context.Context, health *models.PlatformAccountHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.health[health.PlatformAccountID]
	if health.Version == 0 {
		if ok {
			return fmt.Errorf("account %s already exists: %w", health.PlatformAccountID, ErrStorageConflict)
		}
		health.Version = 1
		cp := *health
		s.health[health.PlatformAccountID] = &cp
		return nil
	}

	if !ok || existing.Version != health.Version {
		return fmt.Errorf("account %s health version %d: %w", health.PlatformAccountID, health.Version, ErrStorageConflict)
	}
	health.Version++
	cp := *health
	s.health[health.PlatformAccountID] = &cp
	return nil
}

func (s *MemoryStore) AppendCostEvent(ctx context.Context, event *models.CostEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.ID = uint(len(s.costs) + 1)
	s.costs = append(s.costs, *event)
	return nil
}

func (s *MemoryStore) CostSummary(ctx context.Context, avatarID string) (*models.CostSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.CostEvent
	for _, e := range s.costs {
		if e.AvatarID == avatarID {
			events = append(events, e)
		}
	}
	return summarizeCostEvents(avatarID, events), nil
}
