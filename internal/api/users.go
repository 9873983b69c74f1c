package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capsulemarket/capsule/internal/app/trust"
	"github.com/capsulemarket/capsule/internal/domain"
)

// ─── Per-User Handlers ──────────────────────────────────────────────────────
//
// GET  /api/users/{id}/submissions - recent submissions, newest first
// GET  /api/users/{id}/balance     - current capsule balance
// GET  /api/users/{id}/ledger      - recent ledger entries, newest first
// POST /api/users/{id}/credit      - admin credit
// POST /api/users/{id}/debit       - spend/debit (hard-fails on overdraw)
// POST /api/users/{id}/audit       - replay the full ledger chain
// GET  /api/users/{id}/trust       - trust record + derived tier
// POST /api/users/{id}/signals     - apply a moderation/abuse signal
// POST /api/users/{id}/cooldown    - suspend (or clear) task starts

// handleListSubmissions returns the user's recent submissions.
// GET /api/users/{id}/submissions?limit=N
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.submissions.ListByUser(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"submissions": subs})
}

// handleBalance returns the user's capsule balance.
// GET /api/users/{id}/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	balance, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
		"frozen":  s.ledger.Frozen(userID),
	})
}

// handleLedger returns the user's recent ledger entries.
// GET /api/users/{id}/ledger?limit=N
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Entries(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ledgerMutation is the request body for credit and debit.
type ledgerMutation struct {
	Amount      int64  `json:"amount"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// handleCredit adds capsules to the user's balance.
// POST /api/users/{id}/credit
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req ledgerMutation
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	typ := domain.LedgerEntryType(req.Type)
	if typ == "" {
		typ = domain.EntryAdminCredit
	}

	balance, err := s.ledger.Credit(r.Context(), chi.URLParam(r, "id"), req.Amount, typ, req.Description, req.ReferenceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

// handleDebit removes capsules. Refused outright when the amount exceeds
// the balance.
// POST /api/users/{id}/debit
func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	var req ledgerMutation
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	typ := domain.LedgerEntryType(req.Type)
	if typ == "" {
		typ = domain.EntrySpent
	}

	balance, err := s.ledger.Debit(r.Context(), chi.URLParam(r, "id"), req.Amount, typ, req.Description, req.ReferenceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

// handleAudit replays the user's full ledger chain.
// POST /api/users/{id}/audit
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleTrust returns the trust record plus the derived tier.
// GET /api/users/{id}/trust
func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	ts, tier, err := s.submissions.TrustScore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trust": ts,
		"tier":  tier,
	})
}

// handleSignal applies a moderation/abuse signal to the user's trust score.
// POST /api/users/{id}/signals
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signal string `json:"signal"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ts, err := s.submissions.ReportSignal(r.Context(), chi.URLParam(r, "id"), trust.Signal(req.Signal))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trust": ts})
}

// handleCooldown suspends new task starts for the given hours; zero clears.
// POST /api/users/{id}/cooldown
func (s *Server) handleCooldown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hours float64 `json:"hours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Hours < 0 {
		writeError(w, http.StatusBadRequest, "hours must not be negative")
		return
	}

	ts, err := s.submissions.SetCooldown(r.Context(), chi.URLParam(r, "id"), req.Hours)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trust": ts})
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
