package dto

import (
	"time"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/service"
)

// CreateRequestRequest payload.
type CreateRequestRequest struct {
	ClientRef   int64  `json:"client_ref"`
	CategoryRef int64  `json:"category_ref"`
	Title       string `json:"title"`
	Cost        *int64 `json:"cost"`
}

// TransferRequest payload.
type TransferRequest struct {
	AssigneeRef int64 `json:"assignee_ref"`
}

// RequestResponse is the request snapshot shown to collaborators.
type RequestResponse struct {
	ID                 int64                `json:"id"`
	ClientRef          int64                `json:"client_ref"`
	CategoryRef        int64                `json:"category_ref"`
	CreatorRef         int64                `json:"creator_ref"`
	AssigneeRef        *int64               `json:"assignee_ref"`
	Title              string               `json:"title"`
	Status             domain.RequestStatus `json:"status"`
	DisplayStatus      string               `json:"display_status"`
	Cost               int64                `json:"cost"`
	AccumulatedSeconds int64                `json:"accumulated_seconds"`
	ElapsedSeconds     int64                `json:"elapsed_seconds"`
	TimerRunning       bool                 `json:"timer_running"`
	RunningSince       *time.Time           `json:"running_since"`
	CreatedAt          time.Time            `json:"created_at"`
	AcceptedAt         *time.Time           `json:"accepted_at"`
	ClosedAt           *time.Time           `json:"closed_at"`
	Sequence           int64                `json:"sequence"`
	Billed             bool                 `json:"billed"`
}

// CommandResponse is returned by trigger endpoints.
type CommandResponse struct {
	Request  RequestResponse       `json:"request"`
	Event    domain.LifecycleEvent `json:"event"`
	Replayed bool                  `json:"replayed"`
}

// NewRequestResponse maps a request observed at the given instant.
func NewRequestResponse(req *domain.Request, at time.Time) RequestResponse {
	return RequestResponse{
		ID:                 req.ID,
		ClientRef:          req.ClientRef,
		CategoryRef:        req.CategoryRef,
		CreatorRef:         req.CreatorRef,
		AssigneeRef:        req.AssigneeRef,
		Title:              req.Title,
		Status:             req.Status,
		DisplayStatus:      req.DisplayStatus(),
		Cost:               req.Cost,
		AccumulatedSeconds: req.Time.AccumulatedSeconds,
		ElapsedSeconds:     req.Time.Snapshot(at),
		TimerRunning:       req.Time.Running(),
		RunningSince:       req.Time.RunningSince,
		CreatedAt:          req.CreatedAt,
		AcceptedAt:         req.AcceptedAt,
		ClosedAt:           req.ClosedAt,
		Sequence:           req.Sequence,
		Billed:             req.Billed(),
	}
}

// NewCommandResponse maps a ledger result. Elapsed time is reported at the
// instant of the event.
func NewCommandResponse(res *service.Result) CommandResponse {
	return CommandResponse{
		Request:  NewRequestResponse(res.Request, res.Event.OccurredAt),
		Event:    res.Event,
		Replayed: res.Replayed,
	}
}
