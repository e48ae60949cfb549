package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRequest() *Request {
	return &Request{ID: 7, ClientRef: 1, CategoryRef: 2, CreatorRef: 3, Status: RequestStatusPending, Cost: 90000, CreatedAt: t0}
}

func mustTransition(t *testing.T, req *Request, trigger Trigger, actor int64, seconds int) *Request {
	t.Helper()
	next, err := Transition(req, TransitionInput{Trigger: trigger, Actor: actor, At: at(seconds)})
	require.NoError(t, err)
	return next
}

func TestTransitionLifecycleScenario(t *testing.T) {
	req := pendingRequest()
	req = mustTransition(t, req, TriggerAccept, 42, 0)
	assert.Equal(t, RequestStatusInProgress, req.Status)
	require.NotNil(t, req.AssigneeRef)
	assert.Equal(t, int64(42), *req.AssigneeRef)
	assert.Equal(t, at(0), *req.AcceptedAt)
	assert.True(t, req.Time.Running())

	req = mustTransition(t, req, TriggerPause, 42, 300)
	assert.Equal(t, int64(300), req.Time.AccumulatedSeconds)
	assert.Equal(t, DisplayStatusPaused, req.DisplayStatus())
	assert.Equal(t, RequestStatusInProgress, req.Status)

	req = mustTransition(t, req, TriggerResume, 42, 600)
	assert.Equal(t, string(RequestStatusInProgress), req.DisplayStatus())

	req = mustTransition(t, req, TriggerResolve, 42, 900)
	assert.Equal(t, RequestStatusResolved, req.Status)
	assert.Equal(t, int64(600), req.Time.AccumulatedSeconds)
	assert.False(t, req.Time.Running())
	assert.Equal(t, at(900), *req.ClosedAt)
}

func TestTransitionCancelFlushesTimer(t *testing.T) {
	req := mustTransition(t, pendingRequest(), TriggerAccept, 42, 0)
	req = mustTransition(t, req, TriggerCancel, 1, 75)
	assert.Equal(t, RequestStatusCancelled, req.Status)
	assert.Equal(t, int64(75), req.Time.AccumulatedSeconds)
	assert.Nil(t, req.Time.RunningSince)
	assert.NotNil(t, req.ClosedAt)
}

func TestTransitionCancelFromPending(t *testing.T) {
	req := mustTransition(t, pendingRequest(), TriggerCancel, 3, 10)
	assert.Equal(t, RequestStatusCancelled, req.Status)
	assert.Nil(t, req.AssigneeRef)
	assert.Nil(t, req.AcceptedAt)
	assert.Zero(t, req.Time.AccumulatedSeconds)
}

func TestTransitionRejectsIllegalPairs(t *testing.T) {
	running := mustTransition(t, pendingRequest(), TriggerAccept, 42, 0)
	paused := mustTransition(t, running, TriggerPause, 42, 10)
	resolved := mustTransition(t, running, TriggerResolve, 42, 20)
	cancelled := mustTransition(t, pendingRequest(), TriggerCancel, 42, 20)


	type illegalCase struct {
		name    string
		req     *Request
		trigger Trigger
		reason  string
		target  error
	}
	cases := []illegalCase{
		{"pause pending", pendingRequest(), TriggerPause, reasonNotAccepted, ErrInvalidTransition},
		{"resume pending", pendingRequest(), TriggerResume, reasonNotAccepted, ErrInvalidTransition},
		{"resolve pending", pendingRequest(), TriggerResolve, reasonNotAccepted, ErrInvalidTransition},
		{"transfer pending", pendingRequest(), TriggerTransfer, reasonNotAccepted, ErrInvalidTransition},
		{"accept in progress", running, TriggerAccept, reasonAlreadyAccepted, ErrInvalidTransition},
		{"resume running", running, TriggerResume, reasonRunning, ErrAlreadyRunning},
		{"pause paused", paused, TriggerPause, reasonPaused, ErrNotRunning},
		{"accept paused", paused, TriggerAccept, reasonAlreadyAccepted, ErrInvalidTransition},
	}
	for _, terminal := range []*Request{resolved, cancelled} {
		for _, trig := range []Trigger{TriggerAccept, TriggerPause, TriggerResume, TriggerResolve, TriggerCancel, TriggerTransfer} {
			cases = append(cases, illegalCase{string(trig) + " " + string(terminal.Status), terminal, trig, reasonClosed, ErrInvalidTransition})
		}
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.req.Clone()
			other := int64(99)
			next, err := Transition(tc.req, TransitionInput{Trigger: tc.trigger, Actor: 5, At: at(500), TransferTo: &other})
			require.Error(t, err)
			assert.Nil(t, next)
			assert.ErrorIs(t, err, tc.target)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			var terr *TransitionError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tc.reason, terr.Reason)
			assert.Equal(t, before, tc.req)
		})
	}
}

func TestTransitionTransfer(t *testing.T) {
	req := mustTransition(t, pendingRequest(), TriggerAccept, 42, 0)
	target := int64(77)
	next, err := Transition(req, TransitionInput{Trigger: TriggerTransfer, Actor: 1, At: at(10), TransferTo: &target})
	require.NoError(t, err)
	assert.Equal(t, int64(77), *next.AssigneeRef)
	assert.Equal(t, RequestStatusInProgress, next.Status)
	assert.True(t, next.Time.Running())
	assert.Equal(t, int64(42), *req.AssigneeRef)

	_, err = Transition(next, TransitionInput{Trigger: TriggerTransfer, Actor: 1, At: at(20), TransferTo: &target})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Transition(next, TransitionInput{Trigger: TriggerTransfer, Actor: 1, At: at(20)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransitionDoesNotAliasInput(t *testing.T) {
	req := mustTransition(t, pendingRequest(), TriggerAccept, 42, 0)
	next := mustTransition(t, req, TriggerPause, 42, 30)
	assert.True(t, req.Time.Running())
	assert.False(t, next.Time.Running())
}

func TestTransitionUnknownTrigger(t *testing.T) {
	_, err := Transition(pendingRequest(), TransitionInput{Trigger: "archive", At: at(0)})
	assert.ErrorIs(t, err, ErrValidation)
}
