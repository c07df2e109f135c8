/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/score-engine/scoring"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AssigneeDTO identifies one assignee on an award request.
type AssigneeDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateAwardRequest is the request to score a completed unit of work.
type CreateAwardRequest struct {
	EventID     string        `json:"event_id"`
	Department  string        `json:"department"`
	Assignees   []AssigneeDTO `json:"assignees"`
	Deadline    *string       `json:"deadline,omitempty"`   // RFC3339
	CompletedAt string        `json:"completed_at"`         // RFC3339
	TaskTitle   string        `json:"task_title,omitempty"`
	Period      string        `json:"period,omitempty"`
}

// AwardResultDTO summarizes an award fan-out.
type AwardResultDTO struct {
	Awarded int `json:"awarded"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ResetRequest carries the acting admin's identity.
type ResetRequest struct {
	AdminID   string `json:"admin_id"`
	AdminName string `json:"admin_name"`
}

// ResetResultDTO reports the outcome of a bulk reset.
type ResetResultDTO struct {
	UsersReset int    `json:"users_reset"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// AggregateDTO represents one leaderboard row.
type AggregateDTO struct {
	UserID               string  `json:"user_id"`
	UserName             string  `json:"user_name"`
	Department           string  `json:"department"`
	Points               float64 `json:"points"`
	TasksAssigned        int     `json:"tasks_assigned"`
	TasksCompletedOnTime int     `json:"tasks_completed_on_time"`
	TasksCompletedLate   int     `json:"tasks_completed_late"`
	TasksIncomplete      int     `json:"tasks_incomplete"`
	EffectivePoints      float64 `json:"effective_points"`
	Score                float64 `json:"score"`
	LastUpdated          string  `json:"last_updated,omitempty"`
	ResetAt              string  `json:"reset_at,omitempty"`
	ResetBy              string  `json:"reset_by,omitempty"`
}

// EntryDTO represents a ledger entry for audit display.
type EntryDTO struct {
	ID              string  `json:"id"`
	EventID         string  `json:"event_id,omitempty"`
	UserID          string  `json:"user_id"`
	UserName        string  `json:"user_name"`
	Department      string  `json:"department"`
	Points          float64 `json:"points"`
	Reason          string  `json:"reason"`
	WasLate         bool    `json:"was_late"`
	OriginalAwardID string  `json:"original_award_id,omitempty"`
	TaskTitle       string  `json:"task_title,omitempty"`
	Period          string  `json:"period,omitempty"`
	AwardedAt       string  `json:"awarded_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAggregateDTO(agg scoring.ScoreAggregate) AggregateDTO {
	points, _ := agg.Points.Float64()
	effective, _ := agg.EffectivePoints.Float64()
	score, _ := agg.Score.Float64()

	dto := AggregateDTO{
		UserID:               string(agg.UserID),
		UserName:             agg.UserName,
		Department:           agg.Department,
		Points:               points,
		TasksAssigned:        agg.TasksAssigned,
		TasksCompletedOnTime: agg.TasksCompletedOnTime,
		TasksCompletedLate:   agg.TasksCompletedLate,
		TasksIncomplete:      agg.TasksIncomplete,
		EffectivePoints:      effective,
		Score:                score,
		ResetBy:              agg.ResetBy,
	}
	if !agg.LastUpdated.IsZero() {
		dto.LastUpdated = agg.LastUpdated.Format(time.RFC3339)
	}
	if !agg.ResetAt.IsZero() {
		dto.ResetAt = agg.ResetAt.Format(time.RFC3339)
	}
	return dto
}

func toEntryDTO(e scoring.LedgerEntry) EntryDTO {
	points, _ := e.Points.Float64()
	return EntryDTO{
		ID:              string(e.ID),
		EventID:         string(e.EventID),
		UserID:          string(e.UserID),
		UserName:        e.UserName,
		Department:      e.Department,
		Points:          points,
		Reason:          string(e.Reason),
		WasLate:         e.WasLate,
		OriginalAwardID: string(e.OriginalAwardID),
		TaskTitle:       e.TaskTitle,
		Period:          e.Period,
		AwardedAt:       e.AwardedAt.Format(time.RFC3339Nano),
	}
}

func toEntryDTOs(entries []scoring.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}
