package trust

import (
	"time"

	"github.com/capsulemarket/capsule/internal/domain"
	"github.com/capsulemarket/capsule/internal/policy"
)

// ─── Penalty Signals ────────────────────────────────────────────────────────

// Signal is a moderation or abuse event that moves a user's trust score.
type Signal string

const (
	SignalVerified           Signal = "verified"            // task verified without dispute
	SignalConsistentTiming   Signal = "consistent_timing"   // completion times look organic
	SignalCleanWindow        Signal = "clean_window"        // no reversals over the review window
	SignalCommunityConfirmed Signal = "community_confirmed" // other users confirmed the action
	SignalReversed           Signal = "reversed"            // task reversed after release
	SignalDispute            Signal = "dispute"             // advertiser disputed the completion
	SignalUnrealisticSpeed   Signal = "unrealistic_speed"   // timing impossible for a human
	SignalDuplicateContent   Signal = "duplicate_content"   // same evidence reused
	SignalAbuseConfirmed     Signal = "abuse_confirmed"     // abuse report upheld
)

// ─── Penalty Engine ─────────────────────────────────────────────────────────

// Engine converts moderation signals into trust-score deltas, slashing
// amounts, and cooldowns. Pure over its inputs; persistence is the caller's
// problem.
type Engine struct {
	points policy.PenaltyPoints
}

// NewEngine creates a penalty engine from the policy bundle's point table.
func NewEngine(points policy.PenaltyPoints) *Engine {
	return &Engine{points: points}
}

// Delta returns the score delta for a signal. Unknown signals return (0, false).
func (e *Engine) Delta(sig Signal) (int, bool) {
	switch sig {
	case SignalVerified:
		return e.points.Verified, true
	case SignalConsistentTiming:
		return e.points.ConsistentTiming, true
	case SignalCleanWindow:
		return e.points.CleanWindow, true
	case SignalCommunityConfirmed:
		return e.points.CommunityConfirmed, true
	case SignalReversed:
		return e.points.Reversed, true
	case SignalDispute:
		return e.points.Dispute, true
	case SignalUnrealisticSpeed:
		return e.points.UnrealisticSpeed, true
	case SignalDuplicateContent:
		return e.points.DuplicateContent, true
	case SignalAbuseConfirmed:
		return e.points.AbuseConfirmed, true
	default:
		return 0, false
	}
}

// Apply returns the trust record with the signal's delta applied and the
// score clamped back into [0,100].
func (e *Engine) Apply(ts domain.TrustScore, sig Signal, now time.Time) domain.TrustScore {
	delta, ok := e.Delta(sig)
	if !ok {
		return ts
	}
	ts.Score = domain.ClampScore(ts.Score + delta)
	ts.UpdatedAt = now
	return ts
}

// SlashAmount returns how many capsules to debit when a submission that
// earned the given amount is reversed. Always more than was credited
// (SlashPercent > 100), so attempt-and-hope loses money.
func (e *Engine) SlashAmount(earned int64) int64 {
	return earned * int64(e.points.SlashPercent) / 100
}

// SetCooldown suspends new task starts for the given number of hours,
// regardless of score. Zero hours clears an active cooldown.
func (e *Engine) SetCooldown(ts domain.TrustScore, hours float64, now time.Time) domain.TrustScore {
	if hours <= 0 {
		ts.CooldownUntil = time.Time{}
	} else {
		ts.CooldownUntil = now.Add(time.Duration(hours * float64(time.Hour)))
	}
	ts.UpdatedAt = now
	return ts
}
