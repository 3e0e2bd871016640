package safety

import (
	"context"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

// Classification is the safety gate's answer for one artifact.
type Classification struct {
	Verdict models.SafetyVerdict
	Score   float64
	Flags   []string
}

// Gate classifies a generated artifact before it can become eligible for
// scheduling.
type Gate interface {
	Classify(ctx context.Context, storageLocator, prompt string) (*Classification, error)
}

// Scorer produces per-category risk scores in [0,1] for a piece of content.
// The moderation backend (hosted API or local model) sits behind this.
type Scorer interface {
	Score(ctx context.Context, storageLocator, prompt string) (map[string]float64, error)
}

// ThresholdGate maps category scores to a verdict: the highest category
// score decides. At or above the reject threshold the artifact is rejected;
// at or above the borderline threshold it is held for review; below both it
// is safe.
type ThresholdGate struct {
	scorer              Scorer
	rejectThreshold     float64
	borderlineThreshold float64
}

func NewThresholdGate(scorer Scorer, rejectThreshold, borderlineThreshold float64) *ThresholdGate {
	return &ThresholdGate{
		scorer:              scorer,
		rejectThreshold:     rejectThreshold,
		borderlineThreshold: borderlineThreshold,
	}
}

func (g *ThresholdGate) Classify(ctx context.Context, storageLocator, prompt string) (*Classification, error) {
	scores, err := g.scorer.Score(ctx, storageLocator, prompt)
	if err != nil {
		return nil, err
	}

	var peak float64
	var flags []string
	for category, score := range scores {
		if score > peak {
			peak = score
		}
		if score >= g.borderlineThreshold {
			flags = append(flags, category)
		}
	}

	verdict := models.VerdictSafe
	switch {
	case peak >= g.rejectThreshold:
		verdict = models.VerdictRejected
	case peak >= g.borderlineThreshold:
		verdict = models.VerdictBorderline
	}

	return &Classification{
		Verdict: verdict,
		Score:   peak,
		Flags:   flags,
	}, nil
}
