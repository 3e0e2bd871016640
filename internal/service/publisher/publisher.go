package publisher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

// PublishResult is what a platform adapter reports back to the dispatch
// loop. Retryable steers backoff-and-retry versus terminal failure.
type PublishResult struct {
	Success        bool      `json:"success"`
	PlatformPostID string    `json:"platform_post_id,omitempty"`
	Err            error     `json:"-"`
	ErrorMsg       string    `json:"error,omitempty"`
	Retryable      bool      `json:"retryable"`
	PublishedAt    time.Time `json:"published_at"`
}

// Publisher executes one publish action on a single platform. The
// scheduler passes the post's idempotency key; adapters forward it to the
// platform API where supported so a re-dispatch after a stall cannot
// double-post. Where the platform has no idempotency support the guarantee
// is best-effort at-most-once only.
type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, post *models.ScheduledPost, artifact *models.ContentArtifact) (*PublishResult, error)
}

// Registry holds one publisher per platform.
type Registry struct {
	publishers map[models.Platform]Publisher
	logger     *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		publishers: make(map[models.Platform]Publisher),
		logger:     logger,
	}
}

func (r *Registry) Register(p Publisher) error {
	platform := p.Platform()
	if _, exists := r.publishers[platform]; exists {
		return fmt.Errorf("publisher for platform %s already registered", platform)
	}
	r.publishers[platform] = p
	r.logger.Info("Publisher registered", zap.String("platform", string(platform)))
	return nil
}

func (r *Registry) Get(platform models.Platform) (Publisher, error) {
	p, exists := r.publishers[platform]
	if !exists {
		return nil, fmt.Errorf("publisher for platform %s not found", platform)
	}
	return p, nil
}

func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.publishers))
	for platform := range r.publishers {
		out = append(out, platform)
	}
	return out
}
