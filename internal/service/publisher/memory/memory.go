package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/publisher"
)

// Publisher is an in-memory platform adapter for dev mode and tests.
// Outcomes can be scripted; unscripted publishes succeed. It records every
// idempotency key it has seen and reports a repeat as the original success
// instead of posting twice.
type Publisher struct {
	platform models.Platform

	mu       sync.Mutex
	scripted []publisher.PublishResult
	seen     map[string]string
	history  []string
}

func New(platform models.Platform) *Publisher {
	return &Publisher{
		platform: platform,
		seen:     make(map[string]string),
	}
}

func (p *Publisher) Platform() models.Platform { return p.platform }

// Script queues outcomes returned in order before the default success.
func (p *Publisher) Script(results ...publisher.PublishResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripted = append(p.scripted, results...)
}

func (p *Publisher) Publish(ctx context.Context, post *models.ScheduledPost, artifact *models.ContentArtifact) (*publisher.PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Platform-side idempotency: a key we already accepted is a no-op.
	if post.IdempotencyKey != "" {
		if platformPostID, ok := p.seen[post.IdempotencyKey]; ok {
			return &publisher.PublishResult{
				Success:        true,
				PlatformPostID: platformPostID,
				PublishedAt:    time.Now(),
			}, nil
		}
	}

	if len(p.scripted) > 0 {
		result := p.scripted[0]
		p.scripted = p.scripted[1:]
		if result.Success && post.IdempotencyKey != "" {
			if result.PlatformPostID == "" {
				result.PlatformPostID = uuid.NewString()
			}
			p.seen[post.IdempotencyKey] = result.PlatformPostID
			p.history = append(p.history, post.ID)
		}
		result.PublishedAt = time.Now()
		return &result, nil
	}

	platformPostID := uuid.NewString()
	if post.IdempotencyKey != "" {
		p.seen[post.IdempotencyKey] = platformPostID
	}
	p.history = append(p.history, post.ID)

	return &publisher.PublishResult{
		Success:        true,
		PlatformPostID: platformPostID,
		PublishedAt:    time.Now(),
	}, nil
}

// Published returns the post IDs that were accepted, in order.
func (p *Publisher) Published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.history...)
}
