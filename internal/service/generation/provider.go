package generation

import (
	"context"
	"errors"
	"fmt"
)

// GenerateRequest is one image/content generation call.
type GenerateRequest struct {
	AvatarID       string
	AvatarModelRef string
	Prompt         string
	TemplateParams map[string]string
}

// GenerateResult describes a completed generation.
type GenerateResult struct {
	StorageLocator string
	CostUSD        float64
	LatencyMs      int64
}

// ProviderError distinguishes transient provider failures (timeouts, rate
// limits) from permanent ones (policy rejection, bad credentials).
type ProviderError struct {
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("generation provider: %s", e.Message)
}

// Retryable reports whether err is a transient provider failure worth
// retrying. Context deadline errors count as retryable.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Provider is the uniform interface to an external content generator. Calls
// may block on external I/O; callers bound them with a context timeout.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}
