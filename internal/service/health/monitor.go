package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/config"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/store"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/pkg/clock"
)

// Monitor owns PlatformAccountHealth records: it is the only component that
// writes them. The scheduler consults it before creating or dispatching a
// post.
type Monitor struct {
	store  store.ContentStore
	logger *zap.Logger
	clock  clock.Clock

	backoffBase        time.Duration
	backoffCap         int
	degradedThreshold  int
	suspendedThreshold int
}

func NewMonitor(cfg *config.HealthConfig, st store.ContentStore, logger *zap.Logger, clk clock.Clock) (*Monitor, error) {
	base, err := time.ParseDuration(cfg.BackoffBase)
	if err != nil {
		return nil, fmt.Errorf("invalid backoff base: %w", err)
	}

	return &Monitor{
		store:              st,
		logger:             logger,
		clock:              clk,
		backoffBase:        base,
		backoffCap:         cfg.BackoffCap,
		degradedThreshold:  cfg.DegradedThreshold,
		suspendedThreshold: cfg.SuspendedThreshold,
	}, nil
}

// RecordOutcome folds one publish outcome into the account's health record.
// Guarded updates race with nothing in a single instance, but a second
// orchestrator instance may interleave; on conflict the record is re-read
// and the outcome re-applied.
func (m *Monitor) RecordOutcome(ctx context.Context, accountID string, platform models.Platform, success, retryable bool) (*models.PlatformAccountHealth, error) {
	for attempt := 0; attempt < 3; attempt++ {
		health, err := m.loadOrInit(ctx, accountID, platform)
		if err != nil {
			return nil, err
		}

		m.apply(health, success, retryable)

		if err := m.store.UpsertAccountHealth(ctx, health); err != nil {
			if errors.Is(err, store.ErrStorageConflict) {
				continue
			}
			return nil, err
		}
		return health, nil
	}
	return nil, fmt.Errorf("account %s: health update kept conflicting: %w", accountID, store.ErrStorageConflict)
}

func (m *Monitor) apply(health *models.PlatformAccountHealth, success, retryable bool) {
	now := m.clock.Now()

	if success {
		health.ConsecutiveFailures = 0
		health.BackoffUntil = nil
		health.LastSuccessAt = &now
		// Suspension requires an explicit operator reset; success alone
		// does not clear it.
		if health.Health == models.HealthDegraded {
			health.Health = models.HealthHealthy
		}
		return
	}

	health.ConsecutiveFailures++
	health.LastFailureAt = &now

	// Backoff only gates retryable failures; a terminal failure is not
	// going to be retried, so there is nothing to hold back.
	if retryable {
		exp := health.ConsecutiveFailures
		if exp > m.backoffCap {
			exp = m.backoffCap
		}
		until := now.Add(m.backoffBase * time.Duration(1<<exp))
		health.BackoffUntil = &until
	}

	if health.Health != models.HealthSuspended {
		switch {
		case health.ConsecutiveFailures >= m.suspendedThreshold:
			health.Health = models.HealthSuspended
			m.logger.Warn("Account suspended after consecutive failures",
				zap.String("account_id", health.PlatformAccountID),
				zap.Int("consecutive_failures", health.ConsecutiveFailures))
		case health.ConsecutiveFailures >= m.degradedThreshold:
			health.Health = models.HealthDegraded
		}
	}
}

// Check returns the current health record, creating a healthy one on first
// sight of an account.
func (m *Monitor) Check(ctx context.Context, accountID string, platform models.Platform) (*models.PlatformAccountHealth, error) {
	return m.loadOrInit(ctx, accountID, platform)
}

// ResetAccount clears a suspension. This is the explicit operator surface;
// nothing else un-suspends an account.
func (m *Monitor) ResetAccount(ctx context.Context, accountID string) (*models.PlatformAccountHealth, error) {
	for attempt := 0; attempt < 3; attempt++ {
		health, err := m.store.GetAccountHealth(ctx, accountID)
		if err != nil {
			return nil, err
		}

		health.Health = models.HealthHealthy
		health.ConsecutiveFailures = 0
		health.BackoffUntil = nil

		if err := m.store.UpsertAccountHealth(ctx, health); err != nil {
			if errors.Is(err, store.ErrStorageConflict) {
				continue
			}
			return nil, err
		}

		m.logger.Info("Account health reset", zap.String("account_id", accountID))
		return health, nil
	}
	return nil, fmt.Errorf("account %s: health reset kept conflicting: %w", accountID, store.ErrStorageConflict)
}

func (m *Monitor) loadOrInit(ctx context.Context, accountID string, platform models.Platform) (*models.PlatformAccountHealth, error) {
	health, err := m.store.GetAccountHealth(ctx, accountID)
	if err == nil {
		return health, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	health = &models.PlatformAccountHealth{
		PlatformAccountID: accountID,
		Platform:          platform,
		Health:            models.HealthHealthy,
	}
	if err := m.store.UpsertAccountHealth(ctx, health); err != nil {
		// Another instance created it first; read theirs.
		if errors.Is(err, store.ErrStorageConflict) {
			return m.store.GetAccountHealth(ctx, accountID)
		}
		return nil, err
	}
	return health, nil
}
