// Package policy holds the versioned policy bundle: trust tier table,
// per-task-type validation rules, reward bases, plan multipliers, penalty
// points, and content question pools. The bundle is loaded once and injected
// into the engines (never read as ambient global state) so configuration
// can be hot-swapped without touching in-flight submissions, which carry
// their own policy snapshot.
package policy

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/capsulemarket/capsule/internal/domain"
)

// ─── Bundle ─────────────────────────────────────────────────────────────────

// Rewards maps task types to base capsule rewards, and plan names to payout
// multipliers. capsulesEarned = floor(base × multiplier).
type Rewards struct {
	Base            map[domain.TaskType]int64 `yaml:"base"`
	PlanMultipliers map[string]float64        `yaml:"plan_multipliers"`
}

// PenaltyPoints are the trust-score deltas per moderation/abuse signal.
// Values are tunable policy; the signs and relative ordering are contract.
type PenaltyPoints struct {
	Verified           int `yaml:"verified"`            // +2
	ConsistentTiming   int `yaml:"consistent_timing"`   // +1
	CleanWindow        int `yaml:"clean_window"`        // +3
	CommunityConfirmed int `yaml:"community_confirmed"` // +2
	Reversed           int `yaml:"reversed"`            // -7
	Dispute            int `yaml:"dispute"`             // -3
	UnrealisticSpeed   int `yaml:"unrealistic_speed"`   // -5
	DuplicateContent   int `yaml:"duplicate_content"`   // -4
	AbuseConfirmed     int `yaml:"abuse_confirmed"`     // -10

	// SlashPercent of the original reward is debited on reversal.
	// Must exceed 100 so that attempt-and-hope is unprofitable.
	SlashPercent int `yaml:"slash_percent"`
}

// Bundle is one immutable version of the full policy configuration.
type Bundle struct {
	Version   int                                       `yaml:"version"`
	Tiers     []domain.TierConfig                       `yaml:"-"`
	Rules     map[domain.TaskType]domain.ValidationRule `yaml:"rules"`
	Rewards   Rewards                                   `yaml:"rewards"`
	Penalties PenaltyPoints                             `yaml:"penalties"`
	Questions map[domain.TaskType][]string              `yaml:"questions"`
}

// ─── Defaults ───────────────────────────────────────────────────────────────

// Default returns the built-in policy bundle.
func Default() *Bundle {
	return &Bundle{
		Version: 1,
		Tiers: []domain.TierConfig{
			{
				Name:               domain.TierSuspended,
				MinScore:           0,
				MaxScore:           20,
				PendingDuration:    72 * time.Hour,
				TimerMultiplier:    2.0,
				ScreenshotRequired: true,
				AllowTaskStart:     false,
			},
			{
				Name:               domain.TierRestricted,
				MinScore:           20,
				MaxScore:           50,
				DailyEarningCap:    50,
				PendingDuration:    24 * time.Hour,
				TimerMultiplier:    1.5,
				ScreenshotRequired: true,
				AllowTaskStart:     true,
			},
			{
				Name:               domain.TierNormal,
				MinScore:           50,
				MaxScore:           80,
				PendingDuration:    30 * time.Minute,
				TimerMultiplier:    1.0,
				ScreenshotRequired: true,
				AllowTaskStart:     true,
			},
			{
				Name:               domain.TierTrusted,
				MinScore:           80,
				MaxScore:           100,
				PendingDuration:    0,
				TimerMultiplier:    1.0,
				ScreenshotRequired: true,
				AllowTaskStart:     true,
			},
		},
		Rules: map[domain.TaskType]domain.ValidationRule{
			domain.TaskLike:    {MinTimerSeconds: 15, MaxTimerSeconds: 300, RequiresUsername: true, RequiresContentQuestion: true},
			domain.TaskComment: {MinTimerSeconds: 30, MaxTimerSeconds: 600, RequiresComment: true, RequiresUsername: true, RequiresContentQuestion: true},
			domain.TaskFollow:  {MinTimerSeconds: 10, MaxTimerSeconds: 300, RequiresUsername: true, RequiresContentQuestion: true},
			domain.TaskWatch:   {MinTimerSeconds: 45, MaxTimerSeconds: 1800, RequiresUsername: true, RequiresContentQuestion: true},
			// Website visits claim no account action, so no username.
			domain.TaskVisit: {MinTimerSeconds: 20, MaxTimerSeconds: 600, RequiresContentQuestion: true},
		},
		Rewards: Rewards{
			Base: map[domain.TaskType]int64{
				domain.TaskLike:    5,
				domain.TaskComment: 10,
				domain.TaskFollow:  8,
				domain.TaskWatch:   12,
				domain.TaskVisit:   6,
			},
			PlanMultipliers: map[string]float64{
				"free":    1.0,
				"premium": 1.5,
			},
		},
		Penalties: PenaltyPoints{
			Verified:           2,
			ConsistentTiming:   1,
			CleanWindow:        3,
			CommunityConfirmed: 2,
			Reversed:           -7,
			Dispute:            -3,
			UnrealisticSpeed:   -5,
			DuplicateContent:   -4,
			AbuseConfirmed:     -10,
			SlashPercent:       150,
		},
		Questions: defaultQuestions(),
	}
}

// ─── Validation Rule Engine ─────────────────────────────────────────────────

// EffectivePolicy combines a task type's validation rule with the tier
// resolved at submission start. The result is frozen into the submission:
// requiredSeconds = ceil(minTimer × tier.timerMultiplier).
func (b *Bundle) EffectivePolicy(taskType domain.TaskType, tier domain.TierConfig) (domain.SubmissionPolicy, error) {
	rule, ok := b.Rules[taskType]
	if !ok {
		return domain.SubmissionPolicy{}, fmt.Errorf("%w: %s", domain.ErrUnknownTaskType, taskType)
	}
	return domain.SubmissionPolicy{
		RequiredSeconds:    int(math.Ceil(float64(rule.MinTimerSeconds) * tier.TimerMultiplier)),
		MaxTimerSeconds:    rule.MaxTimerSeconds,
		RequiresUsername:   rule.RequiresUsername,
		RequiresComment:    rule.RequiresComment,
		ScreenshotRequired: tier.ScreenshotRequired,
		Tier:               tier.Name,
		PendingDuration:    tier.PendingDuration,
	}, nil
}

// Reward returns floor(base × planMultiplier) for the task type. Unknown
// plans pay at the free multiplier.
func (b *Bundle) Reward(taskType domain.TaskType, plan string) (int64, error) {
	base, ok := b.Rewards.Base[taskType]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownTaskType, taskType)
	}
	mult, ok := b.Rewards.PlanMultipliers[plan]
	if !ok {
		mult = 1.0
	}
	return domain.RewardCapsules(base, mult), nil
}

// ─── Bundle Loading ─────────────────────────────────────────────────────────

// tierYAML is the on-disk tier shape: pending time is expressed in hours,
// matching how moderators reason about hold windows.
type tierYAML struct {
	Name            string  `yaml:"name"`
	MinScore        int     `yaml:"min_score"`
	MaxScore        int     `yaml:"max_score"`
	DailyEarningCap int64   `yaml:"daily_earning_cap"`
	PendingHours    float64 `yaml:"pending_hours"`
	TimerMultiplier float64 `yaml:"timer_multiplier"`
	AllowTaskStart  bool    `yaml:"allow_task_start"`
}

type bundleYAML struct {
	Version   int                                       `yaml:"version"`
	Tiers     []tierYAML                                `yaml:"tiers"`
	Rules     map[domain.TaskType]domain.ValidationRule `yaml:"rules"`
	Rewards   Rewards                                   `yaml:"rewards"`
	Penalties PenaltyPoints                             `yaml:"penalties"`
	Questions map[domain.TaskType][]string              `yaml:"questions"`
}

// Load reads a policy bundle from a YAML file. Sections left empty in the
// file fall back to the built-in defaults, so operators can override only
// the tier table or only the reward bases.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy bundle: %w", err)
	}

	var raw bundleYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy bundle: %w", err)
	}

	b := Default()
	if raw.Version != 0 {
		b.Version = raw.Version
	}
	if len(raw.Tiers) > 0 {
		tiers := make([]domain.TierConfig, 0, len(raw.Tiers))
		for _, t := range raw.Tiers {
			tiers = append(tiers, domain.TierConfig{
				Name:               domain.TierName(t.Name),
				MinScore:           t.MinScore,
				MaxScore:           t.MaxScore,
				DailyEarningCap:    t.DailyEarningCap,
				PendingDuration:    time.Duration(t.PendingHours * float64(time.Hour)),
				TimerMultiplier:    t.TimerMultiplier,
				ScreenshotRequired: true, // current policy: always
				AllowTaskStart:     t.AllowTaskStart,
			})
		}
		b.Tiers = tiers
	}
	if len(raw.Rules) > 0 {
		b.Rules = raw.Rules
	}
	if len(raw.Rewards.Base) > 0 {
		b.Rewards.Base = raw.Rewards.Base
	}
	if len(raw.Rewards.PlanMultipliers) > 0 {
		b.Rewards.PlanMultipliers = raw.Rewards.PlanMultipliers
	}
	if raw.Penalties != (PenaltyPoints{}) {
		b.Penalties = raw.Penalties
	}
	for tt, pool := range raw.Questions {
		b.Questions[tt] = pool
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the structural invariants of the bundle.
func (b *Bundle) Validate() error {
	if err := validateTiers(b.Tiers); err != nil {
		return err
	}
	for _, tt := range domain.AllTaskTypes() {
		rule, ok := b.Rules[tt]
		if !ok {
			return fmt.Errorf("policy bundle missing validation rule for %s", tt)
		}
		if rule.MinTimerSeconds <= 0 || rule.MaxTimerSeconds < rule.MinTimerSeconds {
			return fmt.Errorf("policy bundle has invalid timer bounds for %s", tt)
		}
		if _, ok := b.Rewards.Base[tt]; !ok {
			return fmt.Errorf("policy bundle missing base reward for %s", tt)
		}
		if len(b.Questions[tt]) == 0 {
			return fmt.Errorf("policy bundle has empty question pool for %s", tt)
		}
	}
	if b.Penalties.SlashPercent <= 100 {
		return fmt.Errorf("slash_percent must exceed 100, got %d", b.Penalties.SlashPercent)
	}
	return nil
}

// validateTiers checks that the tier ranges partition [0,100] contiguously:
// exactly one tier applies to any score.
func validateTiers(tiers []domain.TierConfig) error {
	if len(tiers) == 0 {
		return fmt.Errorf("policy bundle has no tiers")
	}
	if tiers[0].MinScore != 0 {
		return fmt.Errorf("first tier must start at score 0, starts at %d", tiers[0].MinScore)
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinScore != tiers[i-1].MaxScore {
			return fmt.Errorf("tier %s leaves a gap or overlap at score %d",
				tiers[i].Name, tiers[i].MinScore)
		}
	}
	if last := tiers[len(tiers)-1]; last.MaxScore != 100 {
		return fmt.Errorf("last tier must end at score 100, ends at %d", last.MaxScore)
	}
	return nil
}
