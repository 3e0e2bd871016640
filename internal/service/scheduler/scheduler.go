package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/config"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/health"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/publisher"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/store"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/pkg/clock"
)

var (
	// ErrNotEligible is returned when the artifact is not in a schedulable
	// state.
	ErrNotEligible = errors.New("artifact not eligible for scheduling")

	// ErrDuplicateSchedule is returned when the artifact already has an
	// active post on the platform.
	ErrDuplicateSchedule = errors.New("duplicate schedule")

	// ErrAccountUnavailable is returned when the target account is
	// suspended or the platform is not configured.
	ErrAccountUnavailable = errors.New("account unavailable")

	// ErrCancelNotAllowed is returned when cancelling a post that is
	// already publishing; the external side effect may be in motion.
	ErrCancelNotAllowed = errors.New("post is publishing and cannot be cancelled")

	// ErrWindowExhausted is returned when spacing, posting hours and the
	// daily cap leave no slot before the caller's window end.
	ErrWindowExhausted = errors.New("no slot available before window end")
)

// Window bounds the search for a publish slot, e.g. the next 24 hours.
type Window struct {
	Start time.Time
	End   time.Time
}

// Scheduler assigns eligible artifacts to future publish slots and runs the
// dispatch loop that executes them. Publish attempts for one account are
// strictly serialized: the loop is a single cooperative sweep.
type Scheduler struct {
	store    store.ContentStore
	registry *publisher.Registry
	monitor  *health.Monitor
	logger   *zap.Logger
	clock    clock.Clock
	policies map[models.Platform]platformPolicy

	tickInterval   time.Duration
	stallTimeout   time.Duration
	retryDelay     time.Duration
	publishTimeout time.Duration
	maxAttempts    int
	dispatchLimit  int
	enabled        bool

	rngMu sync.Mutex
	rng   *rand.Rand

	ticker *time.Ticker
	stopCh chan struct{}
}

type Option func(*Scheduler)

// WithRandSeed fixes the jitter source, for deterministic tests.
func WithRandSeed(seed int64) Option {
	return func(s *Scheduler) { s.rng = newSeededRand(seed) }
}

func New(cfg *config.SchedulerConfig, platforms map[string]config.PlatformPolicy, st store.ContentStore, registry *publisher.Registry, monitor *health.Monitor, logger *zap.Logger, clk clock.Clock, opts ...Option) (*Scheduler, error) {
	tick, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid tick interval: %w", err)
	}
	stall, err := time.ParseDuration(cfg.StallTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid stall timeout: %w", err)
	}
	retryDelay, err := time.ParseDuration(cfg.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("invalid retry delay: %w", err)
	}
	publishTimeout, err := time.ParseDuration(cfg.PublishTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid publish timeout: %w", err)
	}
	policies, err := resolvePolicies(platforms)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		store:          st,
		registry:       registry,
		monitor:        monitor,
		logger:         logger,
		clock:          clk,
		policies:       policies,
		tickInterval:   tick,
		stallTimeout:   stall,
		retryDelay:     retryDelay,
		publishTimeout: publishTimeout,
		maxAttempts:    cfg.MaxAttempts,
		dispatchLimit:  cfg.DispatchLimit,
		enabled:        cfg.Enabled,
		rng:            newSeededRand(time.Now().UnixNano()),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScheduleArtifact binds an eligible artifact to a future publish slot on
// one platform account. Precondition failures return before any state is
// written.
func (s *Scheduler) ScheduleArtifact(ctx context.Context, artifactID string, platform models.Platform, accountID string, window Window) (*models.ScheduledPost, error) {
	policy, ok := s.policies[platform]
	if !ok || !policy.enabled {
		return nil, fmt.Errorf("platform %s not configured: %w", platform, ErrAccountUnavailable)
	}

	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	// An artifact already scheduled on one platform may still be scheduled
	// on others; every other state is out.
	if artifact.Status != models.ArtifactEligible && artifact.Status != models.ArtifactScheduled {
		return nil, fmt.Errorf("artifact %s is %s: %w", artifactID, artifact.Status, ErrNotEligible)
	}

	accountHealth, err := s.monitor.Check(ctx, accountID, platform)
	if err != nil {
		return nil, err
	}
	if accountHealth.Health == models.HealthSuspended {
		return nil, fmt.Errorf("account %s is suspended: %w", accountID, ErrAccountUnavailable)
	}

	duplicate, err := s.store.HasActivePost(ctx, artifactID, platform)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, fmt.Errorf("artifact %s already has an active post on %s: %w", artifactID, platform, ErrDuplicateSchedule)
	}

	active, err := s.store.ListActivePosts(ctx, accountID)
	if err != nil {
		return nil, err
	}

	anchor := s.clock.Now()
	if window.Start.After(anchor) {
		anchor = window.Start
	}
	if accountHealth.BackoffUntil != nil && accountHealth.BackoffUntil.After(anchor) {
		anchor = *accountHealth.BackoffUntil
	}

	slot := s.nextSlot(policy, anchor, active)
	if !window.End.IsZero() && slot.After(window.End) {
		return nil, fmt.Errorf("next slot %s is past window end %s: %w",
			slot.Format(time.RFC3339), window.End.Format(time.RFC3339), ErrWindowExhausted)
	}

	post := &models.ScheduledPost{
		ID:                uuid.NewString(),
		ArtifactID:        artifactID,
		PlatformAccountID: accountID,
		Platform:          platform,
		ScheduledAt:       slot,
		Timezone:          policy.location.String(),
		Status:            models.PostPending,
		IdempotencyKey:    uuid.NewString(),
	}
	if err := s.store.CreateScheduledPost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create scheduled post: %w", err)
	}

	if artifact.Status == models.ArtifactEligible {
		if err := s.store.UpdateArtifactStatus(ctx, artifactID, models.ArtifactEligible, models.ArtifactScheduled); err != nil && !errors.Is(err, store.ErrStorageConflict) {
			return nil, err
		}
	}

	s.logger.Info("Artifact scheduled",
		zap.String("artifact_id", artifactID),
		zap.String("platform", string(platform)),
		zap.String("account_id", accountID),
		zap.Time("scheduled_at", slot))

	return post, nil
}

// ScheduleEligible schedules every eligible artifact of an avatar onto one
// account, spacing them out across the window and the daily cap. It stops
// quietly once the window is exhausted; unscheduled artifacts stay eligible
// for a later window.
func (s *Scheduler) ScheduleEligible(ctx context.Context, avatarID string, platform models.Platform, accountID string, window Window) ([]models.ScheduledPost, error) {
	artifacts, err := s.store.ListEligibleArtifacts(ctx, avatarID)
	if err != nil {
		return nil, err
	}

	var posts []models.ScheduledPost
	for i := range artifacts {
		post, err := s.ScheduleArtifact(ctx, artifacts[i].ID, platform, accountID, window)
		if err != nil {
			if errors.Is(err, ErrDuplicateSchedule) {
				continue
			}
			if errors.Is(err, ErrWindowExhausted) {
				break
			}
			return posts, err
		}
		posts = append(posts, *post)
	}
	return posts, nil
}

// CancelPost removes a pending post from the dispatch loop. A publishing
// post cannot be cancelled; its result is still awaited and recorded.
func (s *Scheduler) CancelPost(ctx context.Context, postID string) error {
	post, err := s.store.GetScheduledPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.Status == models.PostPublishing {
		return ErrCancelNotAllowed
	}
	return s.store.UpdateScheduledPostStatus(ctx, postID, models.PostPending, models.PostCancelled)
}

// Start launches the periodic dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.enabled {
		s.logger.Info("Dispatch loop is disabled")
		return nil
	}

	s.logger.Info("Starting dispatch loop", zap.Duration("tick_interval", s.tickInterval))
	s.ticker = time.NewTicker(s.tickInterval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.Sweep(ctx)
			case <-s.stopCh:
				s.logger.Info("Dispatch loop stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Dispatch loop context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop halts the dispatch loop.
func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Dispatch loop shutdown completed")
}

// Sweep runs one dispatch pass: recover stalled posts, then execute due
// ones. It is safe to re-enter after a process restart; a post stuck in
// publishing past the stall timeout is retried, protected by its
// idempotency key where the platform honors one.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now()
	s.recoverStalled(ctx, now)
	s.dispatchDue(ctx, now)
}

func (s *Scheduler) recoverStalled(ctx context.Context, now time.Time) {
	stalled, err := s.store.ListStalledPosts(ctx, now.Add(-s.stallTimeout))
	if err != nil {
		s.logger.Error("Failed to list stalled posts", zap.Error(err))
		return
	}

	for i := range stalled {
		post := &stalled[i]
		if post.AttemptCount >= s.maxAttempts {
			err = s.store.UpdateScheduledPostStatus(ctx, post.ID, models.PostPublishing, models.PostFailed,
				store.WithLastError("publish stalled past timeout"))
		} else {
			err = s.store.UpdateScheduledPostStatus(ctx, post.ID, models.PostPublishing, models.PostPending,
				store.WithRescheduledAt(now), store.WithLastError("publish stalled, retrying"))
		}
		if err != nil && !errors.Is(err, store.ErrStorageConflict) {
			s.logger.Error("Failed to recover stalled post", zap.String("post_id", post.ID), zap.Error(err))
			continue
		}
		s.logger.Warn("Recovered stalled post",
			zap.String("post_id", post.ID),
			zap.Int("attempts", post.AttemptCount))
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) {
	due, err := s.store.ListDuePosts(ctx, now, s.dispatchLimit)
	if err != nil {
		s.logger.Error("Failed to list due posts", zap.Error(err))
		return
	}

	// One sweep, one goroutine: publish attempts for a given account are
	// serialized by construction.
	deferred := make(map[string]bool)
	for i := range due {
		post := &due[i]
		if deferred[post.PlatformAccountID] {
			continue
		}

		accountHealth, err := s.monitor.Check(ctx, post.PlatformAccountID, post.Platform)
		if err != nil {
			s.logger.Error("Failed to check account health", zap.String("account_id", post.PlatformAccountID), zap.Error(err))
			continue
		}
		if accountHealth.Health == models.HealthSuspended {
			deferred[post.PlatformAccountID] = true
			continue
		}
		if accountHealth.BackoffUntil != nil && accountHealth.BackoffUntil.After(now) {
			// Deferred, not dropped: picked up by the first tick past the
			// backoff deadline.
			deferred[post.PlatformAccountID] = true
			continue
		}

		s.publishOne(ctx, post, now)
	}
}

func (s *Scheduler) publishOne(ctx context.Context, post *models.ScheduledPost, now time.Time) {
	if err := s.store.UpdateScheduledPostStatus(ctx, post.ID, models.PostPending, models.PostPublishing,
		store.WithDispatchedAt(now), store.WithAttemptBump()); err != nil {
		// Another sweep got here first.
		if !errors.Is(err, store.ErrStorageConflict) {
			s.logger.Error("Failed to claim post", zap.String("post_id", post.ID), zap.Error(err))
		}
		return
	}
	post.AttemptCount++

	artifact, err := s.store.GetArtifact(ctx, post.ArtifactID)
	if err != nil {
		s.failPost(ctx, post, fmt.Sprintf("artifact lookup failed: %v", err))
		return
	}

	pub, err := s.registry.Get(post.Platform)
	if err != nil {
		s.failPost(ctx, post, err.Error())
		s.recordOutcome(ctx, post, false, false)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	result, err := pub.Publish(pubCtx, post, artifact)
	cancel()

	if err != nil {
		// Transport-level errors (timeouts included) are retryable.
		result = &publisher.PublishResult{Success: false, ErrorMsg: err.Error(), Retryable: true}
	}

	if result.Success {
		publishedAt := result.PublishedAt
		if publishedAt.IsZero() {
			publishedAt = s.clock.Now()
		}
		if err := s.store.UpdateScheduledPostStatus(ctx, post.ID, models.PostPublishing, models.PostPublished,
			store.WithPublishedAt(publishedAt), store.WithPlatformPostID(result.PlatformPostID)); err != nil {
			s.logger.Error("Failed to mark post published", zap.String("post_id", post.ID), zap.Error(err))
		}
		// First successful publish moves the artifact along; later
		// platforms find it already published, which is fine.
		if err := s.store.UpdateArtifactStatus(ctx, post.ArtifactID, models.ArtifactScheduled, models.ArtifactPublished); err != nil && !errors.Is(err, store.ErrStorageConflict) {
			s.logger.Error("Failed to mark artifact published", zap.String("artifact_id", post.ArtifactID), zap.Error(err))
		}
		s.recordOutcome(ctx, post, true, false)
		s.logger.Info("Post published",
			zap.String("post_id", post.ID),
			zap.String("platform", string(post.Platform)),
			zap.String("platform_post_id", result.PlatformPostID))
		return
	}

	errMsg := result.ErrorMsg
	if errMsg == "" && result.Err != nil {
		errMsg = result.Err.Error()
	}

	if !result.Retryable {
		// Terminal: surfaced for operator attention, never retried.
		s.failPost(ctx, post, errMsg)
		s.recordOutcome(ctx, post, false, false)
		return
	}

	if post.AttemptCount >= s.maxAttempts {
		s.failPost(ctx, post, fmt.Sprintf("retries exhausted: %s", errMsg))
		s.recordOutcome(ctx, post, false, true)
		return
	}

	// Exponential retry delay on the post itself; account-level backoff is
	// the health monitor's job.
	delay := s.retryDelay * time.Duration(1<<(post.AttemptCount-1))
	retryAt := s.clock.Now().Add(delay)
	if err := s.store.UpdateScheduledPostStatus(ctx, post.ID, models.PostPublishing, models.PostPending,
		store.WithRescheduledAt(retryAt), store.WithLastError(errMsg)); err != nil {
		s.logger.Error("Failed to reschedule post", zap.String("post_id", post.ID), zap.Error(err))
	}
	s.recordOutcome(ctx, post, false, true)
	s.logger.Warn("Publish failed, rescheduled",
		zap.String("post_id", post.ID),
		zap.Int("attempt", post.AttemptCount),
		zap.Time("retry_at", retryAt))
}

func (s *Scheduler) failPost(ctx context.Context, post *models.ScheduledPost, errMsg string) {
	if err := s.store.UpdateScheduledPostStatus(ctx, post.ID, models.PostPublishing, models.PostFailed,
		store.WithLastError(errMsg)); err != nil {
		s.logger.Error("Failed to mark post failed", zap.String("post_id", post.ID), zap.Error(err))
	}
	s.logger.Warn("Post failed",
		zap.String("post_id", post.ID),
		zap.String("platform", string(post.Platform)),
		zap.String("error", errMsg))
}

func (s *Scheduler) recordOutcome(ctx context.Context, post *models.ScheduledPost, success, retryable bool) {
	if _, err := s.monitor.RecordOutcome(ctx, post.PlatformAccountID, post.Platform, success, retryable); err != nil {
		s.logger.Error("Failed to record publish outcome",
			zap.String("account_id", post.PlatformAccountID),
			zap.Error(err))
	}
}
