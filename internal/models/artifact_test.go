package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_LegalLifecycle(t *testing.T) {
	chain := []ArtifactStatus{
		ArtifactRequested,
		ArtifactGenerating,
		ArtifactPendingSafety,
		ArtifactSafe,
		ArtifactEligible,
		ArtifactScheduled,
		ArtifactPublished,
	}

	for i := 0; i < len(chain)-1; i++ {
		assert.True(t, CanTransition(chain[i], chain[i+1]),
			"%s -> %s should be legal", chain[i], chain[i+1])
	}
}

func TestCanTransition_NoSkippingSafety(t *testing.T) {
	// Nothing reaches eligible without passing the safety gate first.
	assert.False(t, CanTransition(ArtifactGenerating, ArtifactEligible))
	assert.False(t, CanTransition(ArtifactPendingSafety, ArtifactEligible))
	assert.False(t, CanTransition(ArtifactRequested, ArtifactScheduled))
	assert.False(t, CanTransition(ArtifactEligible, ArtifactPublished))
}

func TestCanTransition_RejectedIsTerminal(t *testing.T) {
	for _, to := range []ArtifactStatus{
		ArtifactEligible, ArtifactScheduled, ArtifactPublished,
		ArtifactSafe, ArtifactGenerating, ArtifactFailed,
	} {
		assert.False(t, CanTransition(ArtifactRejected, to),
			"rejected -> %s must not be legal", to)
	}
}

func TestCanTransition_BorderlineReview(t *testing.T) {
	assert.True(t, CanTransition(ArtifactBorderline, ArtifactEligible))
	assert.True(t, CanTransition(ArtifactBorderline, ArtifactRejected))
	assert.False(t, CanTransition(ArtifactBorderline, ArtifactScheduled))
}

func TestCanTransition_PrePublishedCanFail(t *testing.T) {
	for _, from := range []ArtifactStatus{
		ArtifactRequested, ArtifactGenerating, ArtifactPendingSafety,
		ArtifactSafe, ArtifactBorderline, ArtifactEligible, ArtifactScheduled,
	} {
		assert.True(t, CanTransition(from, ArtifactFailed),
			"%s -> failed should be legal", from)
	}
	assert.False(t, CanTransition(ArtifactPublished, ArtifactFailed))
}

func TestTierCountsTotal(t *testing.T) {
	counts := TierCounts{TierBasic: 7, TierPremium: 2, TierCustom: 1}
	assert.Equal(t, 10, counts.Total())
	assert.Equal(t, 0, TierCounts{}.Total())
}
