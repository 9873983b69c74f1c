package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capsulemarket/capsule/internal/app/submission"
	"github.com/capsulemarket/capsule/internal/domain"
)

// ─── Submission Handlers ────────────────────────────────────────────────────
//
// POST /api/submissions               - start a task (freezes policy + question)
// GET  /api/submissions/{id}          - fetch one submission
// POST /api/submissions/{id}/submit   - hand over evidence (started → pending)
// POST /api/submissions/{id}/verify   - moderator approve (pending → verified)
// POST /api/submissions/{id}/reject   - moderator reject (pending → rejected)
// POST /api/submissions/{id}/release  - credit the held reward (verified → released)
// POST /api/submissions/{id}/reverse  - undo after the fact (verified|released → reversed)
// POST /api/submissions/{id}/flag     - suspend release pending manual review
// POST /api/submissions/{id}/unflag   - clear the review flag

// handleStart creates a submission in the started state.
// POST /api/submissions
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req submission.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TaskID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "task_id and user_id are required")
		return
	}

	sub, err := s.submissions.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// handleGetSubmission fetches one submission.
// GET /api/submissions/{id}
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.submissions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleSubmit attempts the started → pending transition with evidence.
// POST /api/submissions/{id}/submit
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var ev domain.Evidence
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sub, err := s.submissions.Submit(r.Context(), chi.URLParam(r, "id"), ev)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// reviewRequest carries the moderator's notes or reason.
type reviewRequest struct {
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (rr reviewRequest) text() string {
	if rr.Reason != "" {
		return rr.Reason
	}
	return rr.Notes
}

// handleVerify approves a pending submission. Notes optional.
// POST /api/submissions/{id}/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	decodeJSON(r, &req) // empty body is fine, notes are optional

	sub, err := s.submissions.Verify(r.Context(), chi.URLParam(r, "id"), req.text())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleReject rejects a pending submission. Notes mandatory.
// POST /api/submissions/{id}/reject
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sub, err := s.submissions.Reject(r.Context(), chi.URLParam(r, "id"), req.text())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleRelease credits the held reward.
// POST /api/submissions/{id}/release
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	sub, err := s.submissions.Release(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleReverse undoes a verified or released submission. Reason mandatory.
// POST /api/submissions/{id}/reverse
func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sub, err := s.submissions.Reverse(r.Context(), chi.URLParam(r, "id"), req.text())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleFlag suspends release pending manual review.
// POST /api/submissions/{id}/flag
func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	decodeJSON(r, &req)

	sub, err := s.submissions.Flag(r.Context(), chi.URLParam(r, "id"), req.text())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleUnflag clears the review flag.
// POST /api/submissions/{id}/unflag
func (s *Server) handleUnflag(w http.ResponseWriter, r *http.Request) {
	sub, err := s.submissions.Unflag(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
