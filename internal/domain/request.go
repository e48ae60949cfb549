package domain

import "time"

// RequestStatus enumerates lifecycle states for work requests.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "PENDING"
	RequestStatusInProgress RequestStatus = "IN_PROGRESS"
	RequestStatusResolved   RequestStatus = "RESOLVED"
	RequestStatusCancelled  RequestStatus = "CANCELLED"
)

// DisplayStatusPaused is the derived label for an in-progress request whose timer is halted.
const DisplayStatusPaused = "PAUSED"

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusResolved || s == RequestStatusCancelled
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusInProgress, RequestStatusResolved, RequestStatusCancelled:
		return true
	}
	return false
}

// Request is the aggregate for a billable unit of work.
type Request struct {
	ID             int64
	ClientRef      int64
	CategoryRef    int64
	CreatorRef     int64
	AssigneeRef    *int64
	Title          string
	Status         RequestStatus
	Cost           int64
	Time           TimeAccount
	CreatedAt      time.Time
	AcceptedAt     *time.Time
	ClosedAt       *time.Time
	Sequence       int64
	BilledPeriodID *string
}

// DisplayStatus returns the user-facing label, deriving PAUSED from the timer.
func (r *Request) DisplayStatus() string {
	if r.Status == RequestStatusInProgress && !r.Time.Running() {
		return DisplayStatusPaused
	}
	return string(r.Status)
}

// Billed reports whether the request is attached to a billing period.
func (r *Request) Billed() bool {
	return r.BilledPeriodID != nil
}

// Clone returns a deep copy that shares no pointers with r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.AssigneeRef = cloneInt64(r.AssigneeRef)
	out.AcceptedAt = cloneTime(r.AcceptedAt)
	out.ClosedAt = cloneTime(r.ClosedAt)
	out.Time.RunningSince = cloneTime(r.Time.RunningSince)
	if r.BilledPeriodID != nil {
		id := *r.BilledPeriodID
		out.BilledPeriodID = &id
	}
	return &out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
