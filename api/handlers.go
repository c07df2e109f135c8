/*
handlers.go - HTTP API handlers for the performance-scoring ledger

PURPOSE:
  Exposes the scoring engines via REST. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  POST   /api/awards              Score a completed unit of work
  DELETE /api/events/{eventID}    Reverse all awards for a deleted event
  POST   /api/admin/reset         Zero all aggregates (audited)
  GET    /api/leaderboard         Aggregates, filterable by department
  GET    /api/entries             Ledger entries for audit display

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (award/reversal/reset engines)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Permission failures
  - 500: Internal errors
  Award and Reverse are best-effort by contract: per-assignee and
  per-group failures are contained inside the engines and logged, so
  a 200 means the fan-out ran, not that every unit succeeded.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/score-engine/scoring"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    scoring.Store
	Award    *scoring.AwardEngine
	Reversal *scoring.ReversalEngine
	Reset    *scoring.ResetEngine
}

// NewHandler creates a handler wired to the given store.
func NewHandler(store scoring.Store, cfg scoring.Config) *Handler {
	return &Handler{
		Store:    store,
		Award:    scoring.NewAwardEngine(store, cfg),
		Reversal: scoring.NewReversalEngine(store, cfg),
		Reset:    scoring.NewResetEngine(store, cfg),
	}
}

// =============================================================================
// AWARD / REVERSAL / RESET HANDLERS
// =============================================================================

// CreateAward scores a completed unit of work, once per assignee.
func (h *Handler) CreateAward(w http.ResponseWriter, r *http.Request) {
	var req CreateAwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	completedAt, err := time.Parse(time.RFC3339, req.CompletedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid completed_at (use RFC3339)", err)
		return
	}

	var deadline *time.Time
	if req.Deadline != nil && *req.Deadline != "" {
		d, err := time.Parse(time.RFC3339, *req.Deadline)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid deadline (use RFC3339)", err)
			return
		}
		deadline = &d
	}

	assignees := make([]scoring.Assignee, len(req.Assignees))
	for i, a := range req.Assignees {
		assignees[i] = scoring.Assignee{ID: scoring.UserID(a.ID), Name: a.Name}
	}

	result, err := h.Award.Award(r.Context(), scoring.AwardRequest{
		EventID:     scoring.EventID(req.EventID),
		Department:  req.Department,
		Assignees:   assignees,
		Deadline:    deadline,
		CompletedAt: completedAt,
		TaskTitle:   req.TaskTitle,
		Period:      req.Period,
	})
	if err != nil {
		writeError(w, statusFor(err), "Award rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, AwardResultDTO{
		Awarded: result.Awarded,
		Skipped: result.Skipped,
		Failed:  result.Failed,
	})
}

// ReverseEvent reverses every award produced by a deleted event.
func (h *Handler) ReverseEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	if err := h.Reversal.Reverse(r.Context(), scoring.EventID(eventID)); err != nil {
		writeError(w, statusFor(err), "Reversal rejected", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetScores zeroes every aggregate. Explicit admin action with a
// definitive outcome, unlike the best-effort award/reverse paths.
func (h *Handler) ResetScores(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Reset.ResetAll(r.Context(), req.AdminID, req.AdminName)
	if err != nil {
		if scoring.IsClientError(err) || scoring.IsPermission(err) {
			writeError(w, statusFor(err), "Reset rejected", err)
			return
		}
		// Partial failure still reports how far it got.
		writeJSON(w, http.StatusInternalServerError, ResetResultDTO{
			UsersReset: result.UsersReset,
			Success:    false,
			Error:      err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, ResetResultDTO{
		UsersReset: result.UsersReset,
		Success:    true,
	})
}

// =============================================================================
// DISPLAY HANDLERS (read-only)
// =============================================================================

// GetLeaderboard returns aggregates, optionally filtered by department,
// sorted by score descending.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	department := r.URL.Query().Get("department")

	aggregates, err := h.Store.ListAggregates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list aggregates", err)
		return
	}

	if department != "" {
		canonical, _ := scoring.NormalizeDepartment(department)
		filtered := aggregates[:0]
		for _, agg := range aggregates {
			if agg.Department == canonical {
				filtered = append(filtered, agg)
			}
		}
		aggregates = filtered
	}

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].Score.Equal(aggregates[j].Score) {
			return aggregates[i].Key < aggregates[j].Key
		}
		return aggregates[i].Score.GreaterThan(aggregates[j].Score)
	})

	dtos := make([]AggregateDTO, len(aggregates))
	for i, agg := range aggregates {
		dtos[i] = toAggregateDTO(agg)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListEntries returns ledger entries for audit display. Accepts either
// ?event_id= or ?user_id=&department=.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventID := q.Get("event_id")
	userID := q.Get("user_id")
	department := q.Get("department")

	switch {
	case eventID != "":
		entries, err := h.Store.EntriesByEvent(r.Context(), scoring.EventID(eventID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
			return
		}
		writeJSON(w, http.StatusOK, toEntryDTOs(entries))

	case userID != "" && department != "":
		canonical, _ := scoring.NormalizeDepartment(department)
		entries, err := h.Store.EntriesByUser(r.Context(), scoring.UserID(userID), canonical)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
			return
		}
		writeJSON(w, http.StatusOK, toEntryDTOs(entries))

	default:
		writeError(w, http.StatusBadRequest, "Provide event_id or user_id+department", nil)
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func statusFor(err error) int {
	switch {
	case scoring.IsPermission(err):
		return http.StatusForbidden
	case scoring.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
