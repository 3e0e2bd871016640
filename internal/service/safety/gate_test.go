package safety

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

type fixedScorer struct {
	scores map[string]float64
	err    error
}

func (f fixedScorer) Score(ctx context.Context, storageLocator, prompt string) (map[string]float64, error) {
	return f.scores, f.err
}

func TestThresholdGate_PeakCategoryDecides(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		scores  map[string]float64
		verdict models.SafetyVerdict
		score   float64
	}{
		{
			name:    "all low is safe",
			scores:  map[string]float64{"sexual": 0.1, "violence": 0.0},
			verdict: models.VerdictSafe,
			score:   0.1,
		},
		{
			name:    "one category at borderline holds for review",
			scores:  map[string]float64{"sexual": 0.6, "violence": 0.1},
			verdict: models.VerdictBorderline,
			score:   0.6,
		},
		{
			name:    "one category at reject threshold rejects",
			scores:  map[string]float64{"sexual": 0.2, "violence": 0.95},
			verdict: models.VerdictRejected,
			score:   0.95,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := NewThresholdGate(fixedScorer{scores: tc.scores}, 0.9, 0.6)
			got, err := gate.Classify(ctx, "s3://bucket/x.png", "prompt")
			require.NoError(t, err)
			assert.Equal(t, tc.verdict, got.Verdict)
			assert.Equal(t, tc.score, got.Score)
		})
	}
}

func TestThresholdGate_FlagsCategoriesAtOrAboveBorderline(t *testing.T) {
	gate := NewThresholdGate(fixedScorer{scores: map[string]float64{
		"sexual":   0.7,
		"violence": 0.95,
		"hate":     0.1,
	}}, 0.9, 0.6)

	got, err := gate.Classify(context.Background(), "s3://bucket/x.png", "prompt")
	require.NoError(t, err)
	assert.Equal(t, models.VerdictRejected, got.Verdict)
	assert.ElementsMatch(t, []string{"sexual", "violence"}, got.Flags)
}

func TestThresholdGate_ScorerErrorPropagates(t *testing.T) {
	scoreErr := errors.New("moderation backend down")
	gate := NewThresholdGate(fixedScorer{err: scoreErr}, 0.9, 0.6)

	_, err := gate.Classify(context.Background(), "s3://bucket/x.png", "prompt")
	assert.ErrorIs(t, err, scoreErr)
}

func TestKeywordScorer_PromptProxy(t *testing.T) {
	ctx := context.Background()
	scorer := NewKeywordScorer()

	clean, err := scorer.Score(ctx, "", "candid street portrait, golden hour")
	require.NoError(t, err)
	for category, score := range clean {
		assert.Zero(t, score, "category %s should be clean", category)
	}

	flagged, err := scorer.Score(ctx, "", "explicit nude content")
	require.NoError(t, err)
	assert.Equal(t, 1.0, flagged["sexual"], "two hits cap at 1")

	single, err := scorer.Score(ctx, "", "a weapon on the table")
	require.NoError(t, err)
	assert.Equal(t, 0.5, single["violence"])
}
