package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StubProvider is a deterministic in-process provider for dev mode and
// tests. Failures can be scripted per prompt substring.
type StubProvider struct {
	mu       sync.Mutex
	calls    int
	costUSD  float64
	latency  time.Duration
	failures map[string]error
}

type StubOption func(*StubProvider)

func WithCallCost(costUSD float64) StubOption {
	return func(p *StubProvider) { p.costUSD = costUSD }
}

func WithLatency(d time.Duration) StubOption {
	return func(p *StubProvider) { p.latency = d }
}

// WithScriptedFailure makes any prompt containing the marker fail with err.
func WithScriptedFailure(marker string, err error) StubOption {
	return func(p *StubProvider) { p.failures[marker] = err }
}

func NewStubProvider(opts ...StubOption) *StubProvider {
	p := &StubProvider{
		costUSD:  0.01,
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *StubProvider) Name() string { return "stub" }

func (p *StubProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	p.calls++
	var scripted error
	for marker, err := range p.failures {
		if strings.Contains(req.Prompt, marker) {
			scripted = err
		}
	}
	p.mu.Unlock()

	if scripted != nil {
		return nil, scripted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &GenerateResult{
		StorageLocator: fmt.Sprintf("stub://%s/%s", req.AvatarID, uuid.NewString()),
		CostUSD:        p.costUSD,
		LatencyMs:      int64(p.latency / time.Millisecond),
	}, nil
}

// Calls returns how many generations were attempted.
func (p *StubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
