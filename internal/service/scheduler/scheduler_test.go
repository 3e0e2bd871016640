package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/publisher"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/store"
)

// schedulePost walks one artifact to a pending post and returns it.
func (f *schedulerFixture) schedulePost(t *testing.T, artifactID string) *models.ScheduledPost {
	t.Helper()
	f.addEligibleArtifact(t, artifactID)
	now := f.clock.Now()
	post, err := f.scheduler.ScheduleArtifact(context.Background(), artifactID,
		models.PlatformInstagram, "acc1", Window{Start: now, End: now.Add(24 * time.Hour)})
	require.NoError(t, err)
	return post
}

func (f *schedulerFixture) advancePast(post *models.ScheduledPost) {
	f.clock.Set(post.ScheduledAt.Add(time.Minute))
}

func TestSweep_PublishesDuePost(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	ctx := context.Background()

	post := f.schedulePost(t, "a1")
	f.advancePast(post)

	f.scheduler.Sweep(ctx)

	got, err := f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.Status)
	assert.NotEmpty(t, got.PlatformPostID)
	assert.NotNil(t, got.PublishedAt)
	assert.Equal(t, 1, got.AttemptCount)

	artifact, err := f.store.GetArtifact(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactPublished, artifact.Status)

	record, err := f.store.GetAccountHealth(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, record.Health)
	assert.NotNil(t, record.LastSuccessAt)
}

func TestSweep_FuturePostIsNotDispatched(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	ctx := context.Background()

	post := f.schedulePost(t, "a1")

	f.scheduler.Sweep(ctx)

	got, err := f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPending, got.Status)
	assert.Zero(t, got.AttemptCount)
}

func TestSweep_RetryableFailureReschedulesWithBackoff(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	ctx := context.Background()

	post := f.schedulePost(t, "a1")
	f.advancePast(post)
	f.publisher.Script(publisher.PublishResult{Success: false, ErrorMsg: "throttled", Retryable: true})

	f.scheduler.Sweep(ctx)

	got, err := f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "throttled", got.LastError)
	assert.Equal(t, f.clock.Now().Add(2*time.Hour), got.ScheduledAt, "first retry delay is the base")

	record, err := f.store.GetAccountHealth(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, 1, record.ConsecutiveFailures)
	require.NotNil(t, record.BackoffUntil)

	// Past the retry time the next sweep succeeds and the failure streak
	// clears.
	f.clock.Set(got.ScheduledAt.Add(time.Minute))
	f.scheduler.Sweep(ctx)

	got, err = f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.Status)
	assert.Equal(t, 2, got.AttemptCount)

	record, err = f.store.GetAccountHealth(ctx, "acc1")
	require.NoError(t, err)
	assert.Zero(t, record.ConsecutiveFailures)
}

func TestSweep_RetryDelayDoublesPerAttempt(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	ctx := context.Background()

	post := f.schedulePost(t, "a1")
	f.advancePast(post)
	f.publisher.Script(
		publisher.PublishResult{Success: false, ErrorMsg: "throttled", Retryable: true},
		publisher.PublishResult{Success: false, ErrorMsg: "throttled", Retryable: true},
	)

	f.scheduler.Sweep(ctx)
	got, err := f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(2*time.Hour), got.ScheduledAt)

	f.clock.Set(got.ScheduledAt.Add(time.Minute))
	f.scheduler.Sweep(ctx)
	got, err = f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPending, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, f.clock.Now().Add(4*time.Hour), got.ScheduledAt, "second retry delay doubles")
}

func TestSweep_RetriesExhaustedFailsPost(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	ctx := context.Background()

	post := f.schedulePost(t, "a1")
	f.publisher.Script(
		publisher.PublishResult{Success: false, ErrorMsg: "throttled", Retryable: true},
		publisher.PublishResult{Success: false, ErrorMsg: "throttled", Retryable: true},
		publisher.PublishResult{Success: false, ErrorMsg: "throttled", Retryable: true},
	)

	f.advancePast(post)
	for i := 0; i < 3; i++ {
		f.scheduler.Sweep(ctx)
		got, err := f.store.GetScheduledPost(ctx, post.ID)
		require.NoError(t, err)
		f.clock.Set(got.ScheduledAt.Add(time.Minute))
	}

	got, err := f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Contains(t, got.LastError, "retries exhausted")
}

func TestSweep_TerminalFailureIsNotRetried(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	ctx := context.Background()

	post := f.schedulePost(t, "a1")
	f.advancePast(post)
	f.publisher.Script(publisher.PublishResult{Success: false, ErrorMsg: "content removed by platform", Retryable: false})

	f.scheduler.Sweep(ctx)

	got, err := f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)

	// Terminal failures count against health but set no backoff window.
	record, err := f.store.GetAccountHealth(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, 1, record.ConsecutiveFailures)
	assert.Nil(t, record.BackoffUntil)
}

func TestSweep_AccountBackoffDefersDispatch(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	ctx := context.Background()

	// One retryable failure puts the account in a backoff window.
	post := f.schedulePost(t, "a1")
	f.advancePast(post)
	f.publisher.Script(publisher.PublishResult{Success: false, ErrorMsg: "throttled", Retryable: true})
	f.scheduler.Sweep(ctx)

	record, err := f.store.GetAccountHealth(ctx, "acc1")
	require.NoError(t, err)
	require.NotNil(t, record.BackoffUntil)
	require.True(t, record.BackoffUntil.After(f.clock.Now()))

	// A second post already due on the same account is deferred while the
	// backoff window holds.
	require.NoError(t, f.store.CreateScheduledPost(ctx, &models.ScheduledPost{
		ID:                "p2",
		ArtifactID:        "a2",
		PlatformAccountID: "acc1",
		Platform:          models.PlatformInstagram,
		ScheduledAt:       f.clock.Now(),
		Status:            models.PostPending,
		IdempotencyKey:    "idem-p2",
	}))

	f.scheduler.Sweep(ctx)
	got, err := f.store.GetScheduledPost(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, models.PostPending, got.Status)
	assert.Zero(t, got.AttemptCount, "deferred, not attempted")

	// Once the backoff passes the post goes out.
	require.NoError(t, f.store.CreateArtifact(ctx, &models.ContentArtifact{
		ID: "a2", AvatarID: "av1", Tier: models.TierBasic, Status: models.ArtifactScheduled,
	}))
	f.clock.Set(record.BackoffUntil.Add(time.Minute))
	f.scheduler.Sweep(ctx)

	got, err = f.store.GetScheduledPost(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.Status)
}

func TestSweep_RecoversStalledPost(t *testing.T) {
	loc := mexicoCity(t)
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)
	f := newFixture(t, start)
	ctx := context.Background()

	// A post claimed by a crashed worker: stuck in publishing with an old
	// dispatch timestamp.
	dispatched := start.Add(-30 * time.Minute)
	require.NoError(t, f.store.CreateScheduledPost(ctx, &models.ScheduledPost{
		ID:                "stuck",
		ArtifactID:        "a1",
		PlatformAccountID: "acc1",
		Platform:          models.PlatformInstagram,
		ScheduledAt:       start.Add(-time.Hour),
		Status:            models.PostPublishing,
		AttemptCount:      1,
		IdempotencyKey:    "idem-1",
		DispatchedAt:      &dispatched,
	}))
	require.NoError(t, f.store.CreateArtifact(ctx, &models.ContentArtifact{
		ID: "a1", AvatarID: "av1", Tier: models.TierBasic, Status: models.ArtifactScheduled,
	}))

	f.scheduler.Sweep(ctx)

	// Recovered to pending and re-dispatched in the same sweep. The crashed
	// attempt was already counted when the post was first claimed.
	got, err := f.store.GetScheduledPost(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestSweep_StalledPostAtAttemptLimitFails(t *testing.T) {
	loc := mexicoCity(t)
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)
	f := newFixture(t, start)
	ctx := context.Background()

	dispatched := start.Add(-time.Hour)
	require.NoError(t, f.store.CreateScheduledPost(ctx, &models.ScheduledPost{
		ID:                "stuck",
		ArtifactID:        "a1",
		PlatformAccountID: "acc1",
		Platform:          models.PlatformInstagram,
		ScheduledAt:       start.Add(-2 * time.Hour),
		Status:            models.PostPublishing,
		AttemptCount:      3,
		DispatchedAt:      &dispatched,
	}))

	f.scheduler.Sweep(ctx)

	got, err := f.store.GetScheduledPost(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.PostFailed, got.Status)
	assert.Contains(t, got.LastError, "stalled")
}

func TestPublisherIdempotency_RepeatKeyDoesNotDoublePost(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, loc))
	ctx := context.Background()

	post := &models.ScheduledPost{
		ID:             "p1",
		ArtifactID:     "a1",
		Platform:       models.PlatformInstagram,
		IdempotencyKey: "idem-1",
	}
	artifact := &models.ContentArtifact{ID: "a1", AvatarID: "av1"}

	first, err := f.publisher.Publish(ctx, post, artifact)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.publisher.Publish(ctx, post, artifact)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, first.PlatformPostID, second.PlatformPostID)
	assert.Len(t, f.publisher.Published(), 1, "platform must see one post, not two")
}

func TestCancelPost_PendingOnly(t *testing.T) {
	loc := mexicoCity(t)
	f := newFixture(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	ctx := context.Background()

	post := f.schedulePost(t, "a1")
	require.NoError(t, f.scheduler.CancelPost(ctx, post.ID))

	got, err := f.store.GetScheduledPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostCancelled, got.Status)

	// A publishing post cannot be pulled back.
	dispatched := f.clock.Now()
	require.NoError(t, f.store.CreateScheduledPost(ctx, &models.ScheduledPost{
		ID:           "busy",
		ArtifactID:   "a2",
		Platform:     models.PlatformInstagram,
		Status:       models.PostPublishing,
		ScheduledAt:  f.clock.Now(),
		DispatchedAt: &dispatched,
	}))
	err = f.scheduler.CancelPost(ctx, "busy")
	assert.ErrorIs(t, err, ErrCancelNotAllowed)

	err = f.scheduler.CancelPost(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
