// Package observability holds the Prometheus metrics for the capsule engine.
// Exposed on /metrics when enabled in the daemon config.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Submission Metrics ─────────────────────────────────────────────────────

// SubmissionsStarted counts task submissions created, by task type.
var SubmissionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "submissions",
	Name:      "started_total",
	Help:      "Total task submissions started, by task type.",
}, []string{"task_type"})

// StartsRefused counts refused task starts, by reason.
var StartsRefused = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "submissions",
	Name:      "starts_refused_total",
	Help:      "Total refused task starts (cooldown, daily cap, tier block).",
}, []string{"reason"})

// SubmissionTransitions counts status transitions, by target status.
var SubmissionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "submissions",
	Name:      "transitions_total",
	Help:      "Total submission status transitions, by target status.",
}, []string{"to"})

// ValidationFailures counts started→pending attempts refused for
// incomplete evidence.
var ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "submissions",
	Name:      "validation_failures_total",
	Help:      "Total submit attempts refused for incomplete evidence.",
})

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// CapsulesCredited counts capsules credited, by entry type.
var CapsulesCredited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "ledger",
	Name:      "credited_total",
	Help:      "Total capsules credited, by entry type.",
}, []string{"type"})

// CapsulesDebited counts capsules debited, by entry type.
var CapsulesDebited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "ledger",
	Name:      "debited_total",
	Help:      "Total capsules debited, by entry type.",
}, []string{"type"})

// Slashes counts reversal slashing events.
var Slashes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "ledger",
	Name:      "slashes_total",
	Help:      "Total reversal slashing events.",
})

// LedgerFreezes counts users whose debits were halted after a chain mismatch.
var LedgerFreezes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "ledger",
	Name:      "freezes_total",
	Help:      "Total users frozen after a ledger chain mismatch.",
})

// ─── Trust Metrics ──────────────────────────────────────────────────────────

// TrustSignals counts penalty-engine signals applied, by signal name.
var TrustSignals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "trust",
	Name:      "signals_total",
	Help:      "Total trust signals applied, by signal.",
}, []string{"signal"})

// ─── Oracle Metrics ─────────────────────────────────────────────────────────

// OracleLookups counts username-oracle lookups, by outcome
// (valid, invalid, error, cached).
var OracleLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capsule",
	Subsystem: "oracle",
	Name:      "lookups_total",
	Help:      "Total username-ownership oracle lookups, by outcome.",
}, []string{"outcome"})
