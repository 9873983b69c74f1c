package trust

import (
	"testing"
	"time"

	"github.com/capsulemarket/capsule/internal/domain"
	"github.com/capsulemarket/capsule/internal/policy"
)

func TestResolveTier(t *testing.T) {
	r := NewResolver(policy.Default().Tiers)

	tests := []struct {
		score int
		want  domain.TierName
	}{
		{0, domain.TierSuspended},
		{19, domain.TierSuspended},
		{20, domain.TierRestricted},
		{49, domain.TierRestricted},
		{50, domain.TierNormal},
		{65, domain.TierNormal},
		{79, domain.TierNormal},
		{80, domain.TierTrusted},
		{100, domain.TierTrusted},
	}
	for _, tt := range tests {
		if got := r.ResolveTier(tt.score); got.Name != tt.want {
			t.Errorf("ResolveTier(%d) = %s, want %s", tt.score, got.Name, tt.want)
		}
	}
}

func TestResolveTierEveryScoreHasExactlyOneTier(t *testing.T) {
	r := NewResolver(policy.Default().Tiers)
	for score := 0; score <= 100; score++ {
		tier := r.ResolveTier(score)
		inRange := score >= tier.MinScore &&
			(score < tier.MaxScore || (tier.MaxScore == 100 && score == 100))
		if !inRange {
			t.Errorf("score %d resolved to %s [%d,%d)", score, tier.Name, tier.MinScore, tier.MaxScore)
		}
	}
}

func TestDelta(t *testing.T) {
	e := NewEngine(policy.Default().Penalties)

	tests := []struct {
		sig  Signal
		want int
	}{
		{SignalVerified, 2},
		{SignalConsistentTiming, 1},
		{SignalCleanWindow, 3},
		{SignalCommunityConfirmed, 2},
		{SignalReversed, -7},
		{SignalDispute, -3},
		{SignalUnrealisticSpeed, -5},
		{SignalDuplicateContent, -4},
		{SignalAbuseConfirmed, -10},
	}
	for _, tt := range tests {
		got, ok := e.Delta(tt.sig)
		if !ok {
			t.Errorf("Delta(%s) unknown", tt.sig)
			continue
		}
		if got != tt.want {
			t.Errorf("Delta(%s) = %d, want %d", tt.sig, got, tt.want)
		}
	}

	if _, ok := e.Delta("made-up"); ok {
		t.Error("unknown signal should report ok=false")
	}
}

func TestApplyClampsScore(t *testing.T) {
	e := NewEngine(policy.Default().Penalties)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	low := e.Apply(domain.TrustScore{UserID: "u1", Score: 3}, SignalAbuseConfirmed, now)
	if low.Score != 0 {
		t.Errorf("score after abuse at 3 = %d, want 0", low.Score)
	}
	high := e.Apply(domain.TrustScore{UserID: "u1", Score: 99}, SignalCleanWindow, now)
	if high.Score != 100 {
		t.Errorf("score after clean window at 99 = %d, want 100", high.Score)
	}
	if !high.UpdatedAt.Equal(now) {
		t.Error("Apply should stamp UpdatedAt")
	}

	unknown := e.Apply(domain.TrustScore{UserID: "u1", Score: 40}, "made-up", now)
	if unknown.Score != 40 {
		t.Error("unknown signal must not move the score")
	}
}

func TestSlashAmount(t *testing.T) {
	e := NewEngine(policy.Default().Penalties)
	tests := []struct {
		earned int64
		want   int64
	}{
		{20, 30},
		{10, 15},
		{5, 7}, // integer division floors
		{0, 0},
	}
	for _, tt := range tests {
		if got := e.SlashAmount(tt.earned); got != tt.want {
			t.Errorf("SlashAmount(%d) = %d, want %d", tt.earned, got, tt.want)
		}
	}
}

func TestSetCooldown(t *testing.T) {
	e := NewEngine(policy.Default().Penalties)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ts := e.SetCooldown(domain.TrustScore{UserID: "u1"}, 48, now)
	if want := now.Add(48 * time.Hour); !ts.CooldownUntil.Equal(want) {
		t.Errorf("CooldownUntil = %v, want %v", ts.CooldownUntil, want)
	}
	if !ts.InCooldown(now.Add(47 * time.Hour)) {
		t.Error("should still be cooling down at 47h")
	}
	if ts.InCooldown(now.Add(49 * time.Hour)) {
		t.Error("should be out of cooldown at 49h")
	}

	cleared := e.SetCooldown(ts, 0, now)
	if !cleared.CooldownUntil.IsZero() {
		t.Error("zero hours should clear the cooldown")
	}
}
