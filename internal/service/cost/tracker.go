package cost

import (
	"context"

	"go.uber.org/zap"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/store"
)

// Tracker records per-call provider spend so every generated artifact has a
// cost trail. Tracking failures are logged, never propagated: losing a cost
// event must not fail the work that incurred it.
type Tracker struct {
	store  store.ContentStore
	logger *zap.Logger
}

func NewTracker(st store.ContentStore, logger *zap.Logger) *Tracker {
	return &Tracker{store: st, logger: logger}
}

func (t *Tracker) Track(ctx context.Context, avatarID, operationType, provider string, costUSD float64, metadata models.JSONMap) {
	event := &models.CostEvent{
		AvatarID:      avatarID,
		OperationType: operationType,
		Provider:      provider,
		CostUSD:       costUSD,
		Metadata:      metadata,
	}
	if err := t.store.AppendCostEvent(ctx, event); err != nil {
		t.logger.Error("Failed to record cost event",
			zap.String("avatar_id", avatarID),
			zap.String("operation", operationType),
			zap.Float64("cost_usd", costUSD),
			zap.Error(err))
	}
}

func (t *Tracker) Summary(ctx context.Context, avatarID string) (*models.CostSummary, error) {
	return t.store.CostSummary(ctx, avatarID)
}
