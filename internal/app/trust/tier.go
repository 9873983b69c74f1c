// Package trust implements trust-tier resolution and the penalty engine.
//
// A user's integer score in [0,100] maps onto exactly one of four tiers:
//
//	suspended  [0,20)   - task starts blocked, longest hold
//	restricted [20,50)  - 1.5× timers, daily earning cap, 24h hold
//	normal     [50,80)  - baseline policy, 30m hold
//	trusted    [80,100] - no hold
//
// The tier table is the single source of truth for daily caps, timer
// multipliers, and pending-release durations. Moving a threshold in the
// policy bundle changes behavior everywhere without touching any engine.
package trust

import "github.com/capsulemarket/capsule/internal/domain"

// Resolver derives the tier configuration for a score. It is a total
// function over integers: anything at or above the top tier's floor is
// trusted, anything below the lowest ceiling is suspended. Callers clamp
// scores before persisting them; the resolver never rejects input.
type Resolver struct {
	tiers []domain.TierConfig // ordered by MinScore ascending, validated by policy.Bundle
}

// NewResolver creates a resolver over a validated, contiguous tier table.
func NewResolver(tiers []domain.TierConfig) *Resolver {
	return &Resolver{tiers: tiers}
}

// ResolveTier returns the tier configuration for the score.
// Pure: no side effects, no errors.
func (r *Resolver) ResolveTier(score int) domain.TierConfig {
	for i := len(r.tiers) - 1; i > 0; i-- {
		if score >= r.tiers[i].MinScore {
			return r.tiers[i]
		}
	}
	return r.tiers[0]
}

// Tiers returns the tier table, lowest first.
func (r *Resolver) Tiers() []domain.TierConfig {
	out := make([]domain.TierConfig, len(r.tiers))
	copy(out, r.tiers)
	return out
}
