package scheduler

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/config"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

// platformPolicy is a PlatformPolicy with durations and timezone resolved.
type platformPolicy struct {
	enabled        bool
	minSpacing     time.Duration
	jitterFraction float64
	windowStart    int
	windowEnd      int
	location       *time.Location
	maxPostsPerDay int
}

func resolvePolicies(raw map[string]config.PlatformPolicy) (map[models.Platform]platformPolicy, error) {
	policies := make(map[models.Platform]platformPolicy, len(raw))
	for name, p := range raw {
		platform := models.Platform(name)
		if !models.ValidPlatform(platform) {
			return nil, fmt.Errorf("unknown platform %q in config", name)
		}
		spacing, err := time.ParseDuration(p.MinSpacing)
		if err != nil {
			return nil, fmt.Errorf("platform %s: invalid min_spacing: %w", name, err)
		}
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, fmt.Errorf("platform %s: invalid timezone: %w", name, err)
		}
		policies[platform] = platformPolicy{
			enabled:        p.Enabled,
			minSpacing:     spacing,
			jitterFraction: p.JitterFraction,
			windowStart:    p.WindowStart,
			windowEnd:      p.WindowEnd,
			location:       loc,
			maxPostsPerDay: p.MaxPostsPerDay,
		}
	}
	return policies, nil
}

// effectiveMinSpacing is the tightest legal gap between two posts on one
// account: the base cadence minus the largest possible negative jitter.
func (p platformPolicy) effectiveMinSpacing() time.Duration {
	return time.Duration(float64(p.minSpacing) * (1 - p.jitterFraction))
}

// nextSlot picks the publish time for a new post. The cadence is the base
// spacing plus uniform jitter in ±jitterFraction of it, so consecutive
// slots are never perfectly periodic. The result always falls inside the
// account's posting-hours window, rolling to the next day when the window
// or the daily cap is exhausted, and never lands closer than the effective
// minimum spacing to an already scheduled post.
func (s *Scheduler) nextSlot(policy platformPolicy, anchor time.Time, active []models.ScheduledPost) time.Time {
	var last *time.Time
	perDay := make(map[string]int)
	for i := range active {
		t := active[i].ScheduledAt
		if last == nil || t.After(*last) {
			last = &t
		}
		perDay[dayKey(t, policy.location)]++
	}

	var candidate time.Time
	if last == nil || last.Add(policy.minSpacing).Before(anchor) {
		// Fresh cadence: start at the anchor with a small random offset so
		// the first slot of a day is not always the window edge.
		candidate = anchor.Add(s.jitterWithin(30 * time.Minute))
	} else {
		candidate = last.Add(policy.minSpacing + s.jitterAround(policy))
		if gap := candidate.Sub(*last); gap < policy.effectiveMinSpacing() {
			candidate = last.Add(policy.effectiveMinSpacing())
		}
	}
	if candidate.Before(anchor) {
		candidate = anchor
	}

	// Clamping only ever moves the slot forward, so spacing from earlier
	// posts is preserved.
	for i := 0; i < 31; i++ {
		candidate = clampToWindow(candidate, policy)
		if policy.maxPostsPerDay > 0 && perDay[dayKey(candidate, policy.location)] >= policy.maxPostsPerDay {
			candidate = nextWindowOpen(candidate, policy)
			continue
		}
		return candidate
	}
	return candidate
}

// jitterAround returns a uniform offset in ±jitterFraction of the base
// spacing.
func (s *Scheduler) jitterAround(policy platformPolicy) time.Duration {
	span := float64(policy.minSpacing) * policy.jitterFraction
	s.rngMu.Lock()
	f := s.rng.Float64()
	s.rngMu.Unlock()
	return time.Duration((f*2 - 1) * span)
}

// jitterWithin returns a uniform offset in [0, span).
func (s *Scheduler) jitterWithin(span time.Duration) time.Duration {
	s.rngMu.Lock()
	f := s.rng.Float64()
	s.rngMu.Unlock()
	return time.Duration(f * float64(span))
}

// clampToWindow moves t forward into the posting-hours window of its day,
// or to the next day's window start when the day is spent.
func clampToWindow(t time.Time, policy platformPolicy) time.Time {
	local := t.In(policy.location)
	hour := local.Hour()
	switch {
	case hour < policy.windowStart:
		return time.Date(local.Year(), local.Month(), local.Day(),
			policy.windowStart, local.Minute(), local.Second(), 0, policy.location)
	case hour >= policy.windowEnd:
		return nextWindowOpen(t, policy)
	default:
		return t
	}
}

// nextWindowOpen returns the window start of the day after t, keeping the
// minute/second so consecutive rollovers do not align on :00.
func nextWindowOpen(t time.Time, policy platformPolicy) time.Time {
	local := t.In(policy.location).AddDate(0, 0, 1)
	return time.Date(local.Year(), local.Month(), local.Day(),
		policy.windowStart, local.Minute(), local.Second(), 0, policy.location)
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func newSeededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
