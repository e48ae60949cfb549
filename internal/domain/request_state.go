package domain

import "time"

// Trigger names a lifecycle action applied to a request.
type Trigger string

const (
	TriggerAccept   Trigger = "accept"
	TriggerPause    Trigger = "pause"
	TriggerResume   Trigger = "resume"
	TriggerResolve  Trigger = "resolve"
	TriggerCancel   Trigger = "cancel"
	TriggerTransfer Trigger = "transfer"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerAccept, TriggerPause, TriggerResume, TriggerResolve, TriggerCancel, TriggerTransfer:
		return true
	}
	return false
}

// TransitionInput carries one trigger to the state machine. Authorization is
// the caller's concern; the machine only checks state legality.
type TransitionInput struct {
	Trigger    Trigger
	Actor      int64
	At         time.Time
	TransferTo *int64
}

const (
	reasonNotAccepted     = "request has not been accepted yet"
	reasonAlreadyAccepted = "already accepted by someone else"
	reasonClosed          = "request is already closed"
	reasonPaused          = "timer is already paused"
	reasonRunning         = "timer is already running"
	reasonSameAssignee    = "request is already assigned to that agent"
)

// Transition applies in to a copy of req and returns the copy. On error req
// is untouched and the returned request is nil.
func Transition(req *Request, in TransitionInput) (*Request, error) {
	if req.Status.Terminal() {
		return nil, reject(req, in.Trigger, reasonClosed, ErrInvalidTransition)
	}

	next := req.Clone()
	switch in.Trigger {
	case TriggerAccept:
		if req.Status != RequestStatusPending {
			return nil, reject(req, in.Trigger, reasonAlreadyAccepted, ErrInvalidTransition)
		}
		assignee := in.Actor
		accepted := in.At
		next.Status = RequestStatusInProgress
		next.AssigneeRef = &assignee
		next.AcceptedAt = &accepted
		if err := next.Time.Start(in.At); err != nil {
			return nil, reject(req, in.Trigger, reasonRunning, err)
		}

	case TriggerPause:
		if req.Status != RequestStatusInProgress {
			return nil, reject(req, in.Trigger, reasonNotAccepted, ErrInvalidTransition)
		}
		if _, err := next.Time.Stop(in.At); err != nil {
			return nil, reject(req, in.Trigger, reasonPaused, err)
		}

	case TriggerResume:
		if req.Status != RequestStatusInProgress {
			return nil, reject(req, in.Trigger, reasonNotAccepted, ErrInvalidTransition)
		}
		if err := next.Time.Start(in.At); err != nil {
			return nil, reject(req, in.Trigger, reasonRunning, err)
		}

	case TriggerResolve:
		if req.Status != RequestStatusInProgress {
			return nil, reject(req, in.Trigger, reasonNotAccepted, ErrInvalidTransition)
		}
		closeRequest(next, RequestStatusResolved, in.At)

	case TriggerCancel:
		closeRequest(next, RequestStatusCancelled, in.At)

	case TriggerTransfer:
		if req.Status != RequestStatusInProgress {
			return nil, reject(req, in.Trigger, reasonNotAccepted, ErrInvalidTransition)
		}
		if in.TransferTo == nil {
			return nil, ValidationError("transfer requires a target assignee")
		}
		if req.AssigneeRef != nil && *req.AssigneeRef == *in.TransferTo {
			return nil, reject(req, in.Trigger, reasonSameAssignee, ErrInvalidTransition)
		}
		target := *in.TransferTo
		next.AssigneeRef = &target

	default:
		return nil, ValidationError("unknown trigger %q", in.Trigger)
	}
	return next, nil
}

// closeRequest flushes a running timer so no interval survives a terminal state.
func closeRequest(req *Request, status RequestStatus, at time.Time) {
	if req.Time.Running() {
		_, _ = req.Time.Stop(at)
	}
	closed := at
	req.Status = status
	req.ClosedAt = &closed
}

func reject(req *Request, trigger Trigger, reason string, err error) error {
	return &TransitionError{
		RequestID: req.ID,
		Trigger:   trigger,
		Status:    req.Status,
		Reason:    reason,
		Err:       err,
	}
}
