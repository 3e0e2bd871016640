package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/config"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/cost"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/generation"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/safety"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/store"
)

// ErrInvalidRequest marks bad batch input. It is the only failure surfaced
// synchronously from StartBatch; everything after that is reflected in
// entity status.
var ErrInvalidRequest = errors.New("invalid request")

// StartBatchRequest describes one generation batch.
type StartBatchRequest struct {
	AvatarID         string
	AvatarModelRef   string
	RequestedCount   int
	TierDistribution models.TierCounts
	TemplateSelector TemplateSelector
}

// Orchestrator drives parallel artifact generation. Work units share a
// bounded semaphore sized to the provider's concurrent-call ceiling; a
// single unit failing never aborts its siblings.
type Orchestrator struct {
	store    store.ContentStore
	provider generation.Provider
	gate     safety.Gate
	costs    *cost.Tracker
	logger   *zap.Logger

	poolSize     int64
	retryLimit   int
	retryBackoff time.Duration
	callTimeout  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg *config.GenerationConfig, st store.ContentStore, provider generation.Provider, gate safety.Gate, costs *cost.Tracker, logger *zap.Logger) (*Orchestrator, error) {
	backoff, err := time.ParseDuration(cfg.RetryBackoff)
	if err != nil {
		return nil, fmt.Errorf("invalid retry backoff: %w", err)
	}
	timeout, err := time.ParseDuration(cfg.CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid call timeout: %w", err)
	}

	return &Orchestrator{
		store:        st,
		provider:     provider,
		gate:         gate,
		costs:        costs,
		logger:       logger,
		poolSize:     int64(cfg.PoolSize),
		retryLimit:   cfg.RetryLimit,
		retryBackoff: backoff,
		callTimeout:  timeout,
		cancels:      make(map[string]context.CancelFunc),
	}, nil
}

// StartBatch validates the request, persists the batch and kicks off the
// worker pool. It returns as soon as the batch is running; progress is
// queryable through the batch counters at any time.
func (o *Orchestrator) StartBatch(ctx context.Context, req StartBatchRequest) (*models.GenerationBatch, error) {
	if req.AvatarID == "" {
		return nil, fmt.Errorf("avatar id required: %w", ErrInvalidRequest)
	}
	if req.RequestedCount <= 0 {
		return nil, fmt.Errorf("requested count must be positive: %w", ErrInvalidRequest)
	}
	for tier, count := range req.TierDistribution {
		if !models.ValidTier(tier) {
			return nil, fmt.Errorf("unknown tier %q: %w", tier, ErrInvalidRequest)
		}
		// A negative count could offset a surplus elsewhere and slip past
		// the sum check below.
		if count <= 0 {
			return nil, fmt.Errorf("tier %s count must be positive, got %d: %w", tier, count, ErrInvalidRequest)
		}
	}
	if got := req.TierDistribution.Total(); got != req.RequestedCount {
		return nil, fmt.Errorf("tier distribution sums to %d, requested %d: %w", got, req.RequestedCount, ErrInvalidRequest)
	}
	if req.TemplateSelector == nil {
		req.TemplateSelector = DefaultSelector
	}

	batch := &models.GenerationBatch{
		ID:               uuid.NewString(),
		AvatarID:         req.AvatarID,
		RequestedCount:   req.RequestedCount,
		TierDistribution: req.TierDistribution,
		Status:           models.BatchQueued,
	}
	if err := o.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	if err := o.store.UpdateBatchStatus(ctx, batch.ID, models.BatchQueued, models.BatchRunning); err != nil {
		return nil, err
	}
	batch.Status = models.BatchRunning

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[batch.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(runCtx, batch, req)

	o.logger.Info("Batch started",
		zap.String("batch_id", batch.ID),
		zap.String("avatar_id", req.AvatarID),
		zap.Int("requested", req.RequestedCount))

	return batch, nil
}

// CancelBatch stops dispatching new work for a running batch. In-flight
// generation calls run to completion and are still counted.
func (o *Orchestrator) CancelBatch(batchID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[batchID]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all running batches have reached a terminal status.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// ApproveArtifact promotes a borderline artifact to eligible. Borderline
// content requires this explicit review step; there is no auto-approval.
func (o *Orchestrator) ApproveArtifact(ctx context.Context, artifactID string) error {
	return o.store.UpdateArtifactStatus(ctx, artifactID, models.ArtifactBorderline, models.ArtifactEligible)
}

// RejectArtifact fails a borderline artifact out of the review queue.
func (o *Orchestrator) RejectArtifact(ctx context.Context, artifactID string) error {
	return o.store.UpdateArtifactStatus(ctx, artifactID, models.ArtifactBorderline, models.ArtifactRejected)
}

type workUnit struct {
	index int
	tier  models.Tier
}

func (o *Orchestrator) run(ctx context.Context, batch *models.GenerationBatch, req StartBatchRequest) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, batch.ID)
		o.mu.Unlock()
	}()

	units := expandUnits(batch.TierDistribution)

	var (
		unitWG        sync.WaitGroup
		templateMu    sync.Mutex
		usedTemplates []string
	)
	sem := semaphore.NewWeighted(o.poolSize)
	cancelled := false

	for _, unit := range units {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancellation observed: stop dispatching, let in-flight
			// units drain. Undispatched units count as failed so the
			// batch still resolves every unit.
			cancelled = true
			o.failUndispatched(context.WithoutCancel(ctx), batch.ID)
			continue
		}

		unitWG.Add(1)
		go func(unit workUnit) {
			defer unitWG.Done()
			defer sem.Release(1)

			templateMu.Lock()
			templateID, prompt := req.TemplateSelector(unit.tier, usedTemplates)
			usedTemplates = append(usedTemplates, templateID)
			templateMu.Unlock()

			o.processUnit(context.WithoutCancel(ctx), batch, req, unit, templateID, prompt)
		}(unit)
	}

	unitWG.Wait()
	if ctx.Err() != nil {
		cancelled = true
	}

	o.finalize(context.WithoutCancel(ctx), batch.ID, cancelled)
}

// processUnit walks one artifact through its full lifecycle. The context
// is detached from cancellation: an issued external call is never aborted.
func (o *Orchestrator) processUnit(ctx context.Context, batch *models.GenerationBatch, req StartBatchRequest, unit workUnit, templateID, prompt string) {
	artifact := &models.ContentArtifact{
		ID:         uuid.NewString(),
		AvatarID:   batch.AvatarID,
		BatchID:    batch.ID,
		BatchIndex: unit.index,
		TemplateID: &templateID,
		PromptUsed: prompt,
		Tier:       unit.tier,
		Status:     models.ArtifactRequested,
		Metadata:   models.JSONMap{},
	}
	if err := o.store.CreateArtifact(ctx, artifact); err != nil {
		o.logger.Error("Failed to persist artifact", zap.String("batch_id", batch.ID), zap.Error(err))
		o.countFailure(ctx, batch.ID)
		return
	}

	if err := o.store.UpdateArtifactStatus(ctx, artifact.ID, models.ArtifactRequested, models.ArtifactGenerating); err != nil {
		o.failArtifact(ctx, artifact.ID, models.ArtifactRequested, batch.ID, err)
		return
	}

	result, err := o.generateWithRetry(ctx, generation.GenerateRequest{
		AvatarID:       batch.AvatarID,
		AvatarModelRef: req.AvatarModelRef,
		Prompt:         prompt,
		TemplateParams: map[string]string{"template_id": templateID},
	})
	if err != nil {
		o.logger.Warn("Generation failed permanently",
			zap.String("artifact_id", artifact.ID),
			zap.String("batch_id", batch.ID),
			zap.Error(err))
		o.failArtifact(ctx, artifact.ID, models.ArtifactGenerating, batch.ID, err)
		return
	}

	o.costs.Track(ctx, batch.AvatarID, "image_generation", o.provider.Name(), result.CostUSD, models.JSONMap{
		"batch_id":    batch.ID,
		"artifact_id": artifact.ID,
	})
	if err := o.store.AddBatchCost(ctx, batch.ID, result.CostUSD); err != nil {
		o.logger.Error("Failed to add batch cost", zap.String("batch_id", batch.ID), zap.Error(err))
	}

	if err := o.store.UpdateArtifactStatus(ctx, artifact.ID, models.ArtifactGenerating, models.ArtifactPendingSafety,
		store.WithGenerationResult(result.StorageLocator, result.CostUSD, result.LatencyMs)); err != nil {
		o.failArtifact(ctx, artifact.ID, models.ArtifactGenerating, batch.ID, err)
		return
	}

	classification, err := o.gate.Classify(ctx, result.StorageLocator, prompt)
	if err != nil {
		o.logger.Error("Safety classification failed",
			zap.String("artifact_id", artifact.ID),
			zap.Error(err))
		o.failArtifact(ctx, artifact.ID, models.ArtifactPendingSafety, batch.ID, err)
		return
	}

	verdictStatus := map[models.SafetyVerdict]models.ArtifactStatus{
		models.VerdictSafe:       models.ArtifactSafe,
		models.VerdictBorderline: models.ArtifactBorderline,
		models.VerdictRejected:   models.ArtifactRejected,
	}[classification.Verdict]

	if err := o.store.UpdateArtifactStatus(ctx, artifact.ID, models.ArtifactPendingSafety, verdictStatus,
		store.WithVerdict(classification.Verdict, classification.Score)); err != nil {
		o.failArtifact(ctx, artifact.ID, models.ArtifactPendingSafety, batch.ID, err)
		return
	}

	if classification.Verdict == models.VerdictSafe {
		if err := o.store.UpdateArtifactStatus(ctx, artifact.ID, models.ArtifactSafe, models.ArtifactEligible); err != nil {
			o.failArtifact(ctx, artifact.ID, models.ArtifactSafe, batch.ID, err)
			return
		}
	}

	// The unit resolved: the artifact exists with a verdict, even if that
	// verdict keeps it out of scheduling.
	if err := o.store.IncrementBatchCounter(ctx, batch.ID, store.CounterCompleted); err != nil {
		o.logger.Error("Failed to increment completed counter", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

func (o *Orchestrator) generateWithRetry(ctx context.Context, req generation.GenerateRequest) (*generation.GenerateResult, error) {
	var lastErr error
	for attempt := 1; attempt <= o.retryLimit; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		result, err := o.provider.Generate(callCtx, req)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !generation.Retryable(err) {
			return nil, err
		}
		if attempt < o.retryLimit {
			select {
			case <-time.After(o.retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// failUndispatched records a unit that was never started because the batch
// was cancelled before it could be dispatched.
func (o *Orchestrator) failUndispatched(ctx context.Context, batchID string) {
	o.countFailure(ctx, batchID)
}

func (o *Orchestrator) failArtifact(ctx context.Context, artifactID string, from models.ArtifactStatus, batchID string, cause error) {
	if err := o.store.UpdateArtifactStatus(ctx, artifactID, from, models.ArtifactFailed); err != nil {
		o.logger.Error("Failed to mark artifact failed",
			zap.String("artifact_id", artifactID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
	o.countFailure(ctx, batchID)
}

func (o *Orchestrator) countFailure(ctx context.Context, batchID string) {
	if err := o.store.IncrementBatchCounter(ctx, batchID, store.CounterFailed); err != nil {
		o.logger.Error("Failed to increment failed counter", zap.String("batch_id", batchID), zap.Error(err))
	}
}

// finalize settles the batch once every unit has resolved.
func (o *Orchestrator) finalize(ctx context.Context, batchID string, cancelled bool) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		o.logger.Error("Failed to load batch for finalization", zap.String("batch_id", batchID), zap.Error(err))
		return
	}

	var terminal models.BatchStatus
	switch {
	case cancelled:
		terminal = models.BatchCancelled
	case batch.FailedCount == 0:
		terminal = models.BatchCompleted
	case batch.CompletedCount == 0:
		terminal = models.BatchFailed
	default:
		terminal = models.BatchPartiallyFailed
	}

	if err := o.store.UpdateBatchStatus(ctx, batchID, models.BatchRunning, terminal); err != nil {
		o.logger.Error("Failed to finalize batch", zap.String("batch_id", batchID), zap.Error(err))
		return
	}

	o.logger.Info("Batch finished",
		zap.String("batch_id", batchID),
		zap.String("status", string(terminal)),
		zap.Int("completed", batch.CompletedCount),
		zap.Int("failed", batch.FailedCount),
		zap.Float64("total_cost_usd", batch.TotalCostUSD))
}

// expandUnits flattens the tier distribution into an ordered unit list.
func expandUnits(distribution models.TierCounts) []workUnit {
	var units []workUnit
	index := 0
	for _, tier := range []models.Tier{models.TierBasic, models.TierPremium, models.TierCustom} {
		for i := 0; i < distribution[tier]; i++ {
			units = append(units, workUnit{index: index, tier: tier})
			index++
		}
	}
	return units
}
