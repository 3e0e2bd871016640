package safety

import (
	"context"
	"strings"
)

// KeywordScorer is a prompt-proxy scorer for dev mode and tests: the image
// itself is not inspected, the generation prompt stands in for it. Hosted
// moderation backends replace this in production.
type KeywordScorer struct {
	categories map[string][]string
}

func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{
		categories: map[string][]string{
			"sexual":     {"explicit", "nude", "nsfw"},
			"violence":   {"gore", "blood", "weapon"},
			"hate":       {"slur", "hate"},
			"harassment": {"harass", "target"},
		},
	}
}

func (s *KeywordScorer) Score(ctx context.Context, storageLocator, prompt string) (map[string]float64, error) {
	lower := strings.ToLower(prompt)
	scores := make(map[string]float64, len(s.categories))
	for category, words := range s.categories {
		score := 0.0
		for _, w := range words {
			if strings.Contains(lower, w) {
				score += 0.5
			}
		}
		if score > 1 {
			score = 1
		}
		scores[category] = score
	}
	return scores, nil
}
