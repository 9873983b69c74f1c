// Package submission implements the task submission state machine:
//
//	started → pending → {verified, rejected}
//	verified → released
//	verified | released → reversed
//
// flagged is an orthogonal overlay; a flagged submission keeps its primary
// status but release is suspended until the flag is cleared.
//
// Every transition with a ledger or trust effect runs inside one store
// transaction, so a released submission and its capsule credit are never
// observable half-done. Moderator-driven transitions use an optimistic
// status check so two racing approvals cannot double-credit.
package submission

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/capsulemarket/capsule/internal/app/ledger"
	"github.com/capsulemarket/capsule/internal/app/trust"
	"github.com/capsulemarket/capsule/internal/domain"
	"github.com/capsulemarket/capsule/internal/infra/observability"
	"github.com/capsulemarket/capsule/internal/policy"
)

// Broadcaster receives capsule release events for the live feed.
type Broadcaster interface {
	BroadcastRelease(userID string, amount int64, taskType domain.TaskType)
}

// Service drives submissions through their lifecycle.
type Service struct {
	stores   domain.Stores
	bundle   *policy.Bundle
	resolver *trust.Resolver
	penalty  *trust.Engine
	ledger   *ledger.Service
	oracle   domain.UsernameOracle // nil = no oracle configured
	feed     Broadcaster           // nil = no live feed
	log      zerolog.Logger

	// Injectable clock and question picker for testing.
	now  func() time.Time
	intn func(n int) int

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-user serialization of start/moderation
}

// New creates a submission service.
func New(stores domain.Stores, bundle *policy.Bundle, resolver *trust.Resolver,
	penalty *trust.Engine, led *ledger.Service, oracle domain.UsernameOracle,
	log zerolog.Logger) *Service {
	return &Service{
		stores:   stores,
		bundle:   bundle,
		resolver: resolver,
		penalty:  penalty,
		ledger:   led,
		oracle:   oracle,
		log:      log.With().Str("component", "submission").Logger(),
		now:      time.Now,
		intn:     rand.Intn,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetBroadcaster wires the live capsule feed.
func (s *Service) SetBroadcaster(b Broadcaster) { s.feed = b }

func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ─── Start ──────────────────────────────────────────────────────────────────

// StartRequest describes a user beginning a task.
type StartRequest struct {
	TaskID   string          `json:"task_id"`
	UserID   string          `json:"user_id"`
	Platform domain.Platform `json:"platform"`
	TaskType domain.TaskType `json:"task_type"`
	Plan     string          `json:"plan"` // reward plan, e.g. "free" or "premium"
}

// Start creates a submission in the started state. The effective validation
// policy, the content question, and the reward are all computed here and
// frozen; a tier change after this point never touches the submission.
//
// Refused when the user is in cooldown, the tier blocks task starts, or the
// tier's daily earning cap would be exceeded.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.TaskSubmission, error) {
	unlock := s.lockUser(req.UserID)
	defer unlock()

	now := s.now()

	ts, err := s.stores.Trust().GetTrustScore(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load trust score: %w", err)
	}

	if ts.InCooldown(now) {
		observability.StartsRefused.WithLabelValues("cooldown").Inc()
		return nil, fmt.Errorf("%w (until %s)", domain.ErrCooldownActive,
			ts.CooldownUntil.Format(time.RFC3339))
	}

	tier := s.resolver.ResolveTier(ts.Score)
	if !tier.AllowTaskStart {
		observability.StartsRefused.WithLabelValues("tier").Inc()
		return nil, domain.ErrTierBlocked
	}

	pol, err := s.bundle.EffectivePolicy(req.TaskType, tier)
	if err != nil {
		return nil, err
	}
	reward, err := s.bundle.Reward(req.TaskType, req.Plan)
	if err != nil {
		return nil, err
	}

	if tier.DailyEarningCap > 0 {
		committed, err := s.stores.Submissions().CapsulesCommittedSince(ctx, req.UserID, startOfDay(now))
		if err != nil {
			return nil, fmt.Errorf("check daily cap: %w", err)
		}
		if committed+reward > tier.DailyEarningCap {
			observability.StartsRefused.WithLabelValues("daily_cap").Inc()
			return nil, fmt.Errorf("%w (%d/%d capsules committed today)",
				domain.ErrDailyCapReached, committed, tier.DailyEarningCap)
		}
	}

	sub := domain.TaskSubmission{
		ID:              uuid.NewString(),
		TaskID:          req.TaskID,
		UserID:          req.UserID,
		Platform:        req.Platform,
		TaskType:        req.TaskType,
		Policy:          pol,
		ContentQuestion: s.bundle.PickQuestion(req.TaskType, s.intn),
		CapsulesEarned:  reward,
		Status:          domain.SubmissionStarted,
		CreatedAt:       now,
	}

	if err := s.stores.Submissions().InsertSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist submission: %w", err)
	}

	observability.SubmissionsStarted.WithLabelValues(string(req.TaskType)).Inc()
	s.log.Info().Str("submission", sub.ID).Str("user", req.UserID).
		Str("task_type", string(req.TaskType)).Str("tier", string(tier.Name)).
		Int("required_seconds", pol.RequiredSeconds).Int64("reward", reward).
		Msg("submission started")
	return &sub, nil
}

// ─── Submit (started → pending) ─────────────────────────────────────────────

// Submit attempts the started → pending transition. All evidence checks are
// evaluated together; any failure returns a ValidationIncompleteError naming
// every missing piece, and nothing is persisted; the submission stays in
// started and the user retries.
func (s *Service) Submit(ctx context.Context, id string, ev domain.Evidence) (*domain.TaskSubmission, error) {
	sub, err := s.stores.Submissions().GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.SubmissionStarted {
		return nil, fmt.Errorf("%w: submit from %s", domain.ErrInvalidTransition, sub.Status)
	}

	if missing := checkEvidence(sub.Policy, ev); len(missing) > 0 {
		observability.ValidationFailures.Inc()
		return nil, &domain.ValidationIncompleteError{Missing: missing}
	}

	now := s.now()
	sub.PlatformUsername = strings.TrimSpace(ev.PlatformUsername)
	sub.CommentText = ev.CommentText
	sub.ContentAnswer = ev.ContentAnswer
	sub.ScreenshotRef = ev.ScreenshotRef
	sub.TimerSeconds = frozenTimer(ev.TimerSeconds, sub.Policy.MaxTimerSeconds)
	sub.Status = domain.SubmissionPending
	sub.SubmittedAt = now

	// Username ownership is an external oracle consulted opportunistically.
	// Its verdict is advisory; a false (or an unreachable oracle) never
	// blocks the submission.
	if sub.Policy.RequiresUsername && s.oracle != nil {
		if valid, err := s.oracle.Verify(ctx, sub.Platform, sub.PlatformUsername); err == nil {
			sub.UsernameVerified = &valid
		}
	}

	if err := s.stores.Submissions().UpdateSubmission(ctx, *sub); err != nil {
		return nil, fmt.Errorf("persist submission: %w", err)
	}

	observability.SubmissionTransitions.WithLabelValues(string(domain.SubmissionPending)).Inc()
	s.log.Info().Str("submission", sub.ID).Int("timer", sub.TimerSeconds).Msg("submission pending review")
	return sub, nil
}

// checkEvidence evaluates every evidence requirement against the policy
// snapshot captured at start. Returns the list of failures (empty = pass).
func checkEvidence(pol domain.SubmissionPolicy, ev domain.Evidence) []string {
	var missing []string
	if ev.TimerSeconds < pol.RequiredSeconds {
		missing = append(missing, fmt.Sprintf("timer below %ds", pol.RequiredSeconds))
	}
	if pol.RequiresUsername && len(strings.TrimSpace(ev.PlatformUsername)) < 2 {
		missing = append(missing, "platform username")
	}
	if pol.RequiresComment && len(ev.CommentText) < 5 {
		missing = append(missing, "comment text")
	}
	if len(ev.ContentAnswer) < 3 {
		missing = append(missing, "content answer")
	}
	if pol.ScreenshotRequired && ev.ScreenshotRef == "" {
		missing = append(missing, "screenshot")
	}
	if !ev.Attested {
		missing = append(missing, "truthfulness attestation")
	}
	return missing
}

// frozenTimer caps the recorded engagement timer at the rule's upper bound.
func frozenTimer(timer, maxSeconds int) int {
	if maxSeconds > 0 && timer > maxSeconds {
		return maxSeconds
	}
	return timer
}

// ─── Moderation (pending → verified | rejected) ─────────────────────────────

// Verify marks a pending submission as verified. Notes are optional.
// The status flip and the field write commit as one transaction under the
// user lock; a release racing in can neither interleave between them nor
// be overwritten by a stale row image afterwards.
func (s *Service) Verify(ctx context.Context, id, notes string) (*domain.TaskSubmission, error) {
	sub, err := s.stores.Submissions().GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(sub.UserID)
	defer unlock()

	err = s.stores.WithinTx(ctx, func(tx domain.Stores) error {
		cur, err := tx.Submissions().GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		applied, err := tx.Submissions().TransitionStatus(ctx, id,
			domain.SubmissionPending, domain.SubmissionVerified)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: verify from %s", domain.ErrInvalidTransition, cur.Status)
		}

		cur.Status = domain.SubmissionVerified
		cur.VerifiedAt = s.now()
		cur.ReviewNotes = notes
		if err := tx.Submissions().UpdateSubmission(ctx, *cur); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.SubmissionTransitions.WithLabelValues(string(domain.SubmissionVerified)).Inc()
	s.log.Info().Str("submission", id).Time("release_at", sub.ReleaseAt()).Msg("submission verified")
	return sub, nil
}

// Reject marks a pending submission as rejected. Notes are mandatory; an
// empty-reason rejection is refused for accountability. Applies the dispute
// penalty and counts the rejection on the user's trust record.
func (s *Service) Reject(ctx context.Context, id, notes string) (*domain.TaskSubmission, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, domain.ErrMissingReviewNotes
	}

	sub, err := s.stores.Submissions().GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(sub.UserID)
	defer unlock()

	err = s.stores.WithinTx(ctx, func(tx domain.Stores) error {
		cur, err := tx.Submissions().GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		applied, err := tx.Submissions().TransitionStatus(ctx, id,
			domain.SubmissionPending, domain.SubmissionRejected)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: reject from %s", domain.ErrInvalidTransition, cur.Status)
		}

		cur.Status = domain.SubmissionRejected
		cur.ReviewNotes = notes
		if err := tx.Submissions().UpdateSubmission(ctx, *cur); err != nil {
			return err
		}
		sub = cur

		return s.adjustTrust(ctx, tx, cur.UserID, trust.SignalDispute, func(ts *domain.TrustScore) {
			ts.TotalTasksRejected++
		})
	})
	if err != nil {
		return nil, err
	}

	observability.SubmissionTransitions.WithLabelValues(string(domain.SubmissionRejected)).Inc()
	s.log.Info().Str("submission", id).Str("notes", notes).Msg("submission rejected")
	return sub, nil
}

// ─── Release (verified → released) ──────────────────────────────────────────

// Release credits the held reward. Moderator-triggered: the per-tier
// releaseAt is a display hint, not a server-enforced gate. Refused while
// the submission is flagged; the flag is checked on a fresh read inside
// the transaction, so one raised at the last moment still blocks payout.
// The status flip, the ledger credit, and the trust adjustment commit
// together or not at all; the optimistic status check makes a second
// release attempt fail without double-crediting.
func (s *Service) Release(ctx context.Context, id string) (*domain.TaskSubmission, error) {
	sub, err := s.stores.Submissions().GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(sub.UserID)
	defer unlock()

	err = s.stores.WithinTx(ctx, func(tx domain.Stores) error {
		cur, err := tx.Submissions().GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if cur.Flagged {
			return fmt.Errorf("%w: %s", domain.ErrSubmissionFlagged, cur.FlagReason)
		}
		applied, err := tx.Submissions().TransitionStatus(ctx, id,
			domain.SubmissionVerified, domain.SubmissionReleased)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: release from %s", domain.ErrInvalidTransition, cur.Status)
		}

		cur.Status = domain.SubmissionReleased
		cur.ReleasedAt = s.now()
		if err := tx.Submissions().UpdateSubmission(ctx, *cur); err != nil {
			return err
		}

		if _, err := s.ledger.CreditTx(ctx, tx, cur.UserID, cur.CapsulesEarned,
			domain.EntryEarned, fmt.Sprintf("%s task reward", cur.TaskType), cur.ID); err != nil {
			return err
		}
		sub = cur

		return s.adjustTrust(ctx, tx, cur.UserID, trust.SignalVerified, func(ts *domain.TrustScore) {
			ts.TotalTasksCompleted++
			ts.TotalCapsulesEarned += cur.CapsulesEarned
			ts.LastTaskAt = cur.ReleasedAt
		})
	})
	if err != nil {
		return nil, err
	}

	observability.SubmissionTransitions.WithLabelValues(string(domain.SubmissionReleased)).Inc()
	if s.feed != nil {
		s.feed.BroadcastRelease(sub.UserID, sub.CapsulesEarned, sub.TaskType)
	}
	s.log.Info().Str("submission", id).Str("user", sub.UserID).
		Int64("capsules", sub.CapsulesEarned).Msg("reward released")
	return sub, nil
}

// ─── Reverse (verified | released → reversed) ───────────────────────────────

// Reverse undoes a submission after the fact; the later-discovered abuse
// case, reachable even from released. If the reward was already paid out,
// the ledger is debited for the slash amount (150% of the credit by default,
// capped at the live balance), making attempt-and-hope unprofitable. Always
// applies the reversal trust penalty.
func (s *Service) Reverse(ctx context.Context, id, reason string) (*domain.TaskSubmission, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.ErrMissingReviewNotes
	}

	sub, err := s.stores.Submissions().GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(sub.UserID)
	defer unlock()

	var wasReleased bool
	var slashed int64
	err = s.stores.WithinTx(ctx, func(tx domain.Stores) error {
		cur, err := tx.Submissions().GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != domain.SubmissionVerified && cur.Status != domain.SubmissionReleased {
			return fmt.Errorf("%w: reverse from %s", domain.ErrInvalidTransition, cur.Status)
		}
		wasReleased = cur.Status == domain.SubmissionReleased

		applied, err := tx.Submissions().TransitionStatus(ctx, id, cur.Status, domain.SubmissionReversed)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: reverse from %s", domain.ErrInvalidTransition, cur.Status)
		}

		cur.Status = domain.SubmissionReversed
		cur.ReviewNotes = reason
		if err := tx.Submissions().UpdateSubmission(ctx, *cur); err != nil {
			return err
		}

		// Only a released submission moved money; slash it back with
		// interest. A reversal from verified never credited anything.
		if wasReleased {
			slash := s.penalty.SlashAmount(cur.CapsulesEarned)
			slashed, _, err = s.ledger.DebitUpToTx(ctx, tx, cur.UserID, slash,
				domain.EntryAdminDebit, fmt.Sprintf("reversal of %s task reward", cur.TaskType), cur.ID)
			if err != nil {
				return err
			}
		}
		sub = cur

		return s.adjustTrust(ctx, tx, cur.UserID, trust.SignalReversed, func(ts *domain.TrustScore) {
			ts.TotalTasksRejected++
			ts.TotalCapsulesSlashed += slashed
		})
	})
	if err != nil {
		return nil, err
	}

	observability.SubmissionTransitions.WithLabelValues(string(domain.SubmissionReversed)).Inc()
	if wasReleased {
		observability.Slashes.Inc()
	}
	s.log.Warn().Str("submission", id).Str("user", sub.UserID).
		Int64("slashed", slashed).Str("reason", reason).Msg("submission reversed")
	return sub, nil
}

// ─── Flag Overlay ───────────────────────────────────────────────────────────

// Flag marks a submission for manual review without changing its primary
// status. A flagged submission cannot be released until unflagged. The flag
// columns are written directly, so a moderation transition landing between
// the read and the write is never rolled back by a stale row image.
func (s *Service) Flag(ctx context.Context, id, reason string) (*domain.TaskSubmission, error) {
	if err := s.stores.Submissions().SetSubmissionFlag(ctx, id, true, reason); err != nil {
		return nil, err
	}
	s.log.Info().Str("submission", id).Str("reason", reason).Msg("submission flagged")
	return s.stores.Submissions().GetSubmission(ctx, id)
}

// Unflag clears the manual-review flag.
func (s *Service) Unflag(ctx context.Context, id string) (*domain.TaskSubmission, error) {
	if err := s.stores.Submissions().SetSubmissionFlag(ctx, id, false, ""); err != nil {
		return nil, err
	}
	return s.stores.Submissions().GetSubmission(ctx, id)
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Get returns one submission.
func (s *Service) Get(ctx context.Context, id string) (*domain.TaskSubmission, error) {
	return s.stores.Submissions().GetSubmission(ctx, id)
}

// ListByUser returns a user's recent submissions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]domain.TaskSubmission, error) {
	return s.stores.Submissions().ListSubmissionsByUser(ctx, userID, limit)
}

// ─── Trust Signals ──────────────────────────────────────────────────────────

// ReportSignal applies a moderation/abuse signal to a user's trust score.
func (s *Service) ReportSignal(ctx context.Context, userID string, sig trust.Signal) (*domain.TrustScore, error) {
	if _, ok := s.penalty.Delta(sig); !ok {
		return nil, fmt.Errorf("unknown trust signal %q", sig)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	var out *domain.TrustScore
	err := s.stores.WithinTx(ctx, func(tx domain.Stores) error {
		return s.adjustTrustCapture(ctx, tx, userID, sig, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetCooldown suspends (or, with hours=0, re-enables) new task starts for
// a user regardless of score.
func (s *Service) SetCooldown(ctx context.Context, userID string, hours float64) (*domain.TrustScore, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	ts, err := s.stores.Trust().GetTrustScore(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated := s.penalty.SetCooldown(*ts, hours, s.now())
	if err := s.stores.Trust().PutTrustScore(ctx, updated); err != nil {
		return nil, err
	}
	s.log.Info().Str("user", userID).Float64("hours", hours).Msg("cooldown updated")
	return &updated, nil
}

// TrustScore returns a user's trust record plus the tier currently derived
// from it.
func (s *Service) TrustScore(ctx context.Context, userID string) (*domain.TrustScore, domain.TierConfig, error) {
	ts, err := s.stores.Trust().GetTrustScore(ctx, userID)
	if err != nil {
		return nil, domain.TierConfig{}, err
	}
	return ts, s.resolver.ResolveTier(ts.Score), nil
}

// adjustTrust applies a signal delta plus an optional mutation of the trust
// record inside the caller's transaction.
func (s *Service) adjustTrust(ctx context.Context, tx domain.Stores, userID string, sig trust.Signal, mutate func(*domain.TrustScore)) error {
	var ignored *domain.TrustScore
	return s.adjustTrustCapture(ctx, tx, userID, sig, mutate, &ignored)
}

func (s *Service) adjustTrustCapture(ctx context.Context, tx domain.Stores, userID string, sig trust.Signal, mutate func(*domain.TrustScore), out **domain.TrustScore) error {
	ts, err := tx.Trust().GetTrustScore(ctx, userID)
	if err != nil {
		return err
	}
	updated := s.penalty.Apply(*ts, sig, s.now())
	if mutate != nil {
		mutate(&updated)
	}
	if err := tx.Trust().PutTrustScore(ctx, updated); err != nil {
		return err
	}
	observability.TrustSignals.WithLabelValues(string(sig)).Inc()
	*out = &updated
	return nil
}

// startOfDay truncates to the calendar day boundary in the local zone;
// the daily earning cap resets at local midnight.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
