package domain

import "time"

// LifecycleEvent is the immutable record of one applied trigger.
type LifecycleEvent struct {
	ID             string        `json:"id" cbor:"id"`
	RequestID      int64         `json:"request_id" cbor:"request_id"`
	ClientRef      int64         `json:"client_ref" cbor:"client_ref"`
	AssigneeRef    *int64        `json:"assignee_ref,omitempty" cbor:"assignee_ref,omitempty"`
	Trigger        Trigger       `json:"trigger" cbor:"trigger"`
	From           RequestStatus `json:"from_status" cbor:"from_status"`
	To             RequestStatus `json:"to_status" cbor:"to_status"`
	ActorRef       int64         `json:"actor_ref" cbor:"actor_ref"`
	Sequence       int64         `json:"sequence" cbor:"sequence"`
	ElapsedSeconds int64         `json:"elapsed_seconds" cbor:"elapsed_seconds"`
	TimerRunning   bool          `json:"timer_running" cbor:"timer_running"`
	OccurredAt     time.Time     `json:"occurred_at" cbor:"occurred_at"`
}

// NewLifecycleEvent builds the event describing the step from before to after.
func NewLifecycleEvent(id string, before, after *Request, trigger Trigger, actor int64, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		ID:             id,
		RequestID:      after.ID,
		ClientRef:      after.ClientRef,
		AssigneeRef:    cloneInt64(after.AssigneeRef),
		Trigger:        trigger,
		From:           before.Status,
		To:             after.Status,
		ActorRef:       actor,
		Sequence:       after.Sequence,
		ElapsedSeconds: after.Time.Snapshot(at),
		TimerRunning:   after.Time.Running(),
		OccurredAt:     at,
	}
}
