package errorutil

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/domain"
)

func TestToDomainErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("ledger: %w", domain.ErrBusy), CodeBusy, http.StatusServiceUnavailable},
		{fmt.Errorf("get request 9: %w", domain.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{pgx.ErrNoRows, CodeNotFound, http.StatusNotFound},
		{domain.ErrAlreadyBilled, CodeAlreadyBilled, http.StatusConflict},
		{domain.ErrNoEligibleRequests, CodeNoEligibleRequests, http.StatusUnprocessableEntity},
		{domain.ErrPeriodClosed, CodePeriodClosed, http.StatusConflict},
		{domain.ValidationError("cost must be >= 0"), CodeValidation, http.StatusBadRequest},
		{domain.ErrAlreadyRunning, CodeInvalidTransition, http.StatusConflict},
		{context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		de := ToDomainError(tc.err)
		require.NotNil(t, de, tc.err.Error())
		assert.Equal(t, tc.code, de.Code, tc.err.Error())
		assert.Equal(t, tc.status, de.HTTPStatus, tc.err.Error())
	}
}

func TestToDomainErrorUsesTransitionReason(t *testing.T) {
	err := fmt.Errorf("apply: %w", &domain.TransitionError{
		RequestID: 7,
		Trigger:   domain.TriggerAccept,
		Status:    domain.RequestStatusInProgress,
		Reason:    "already accepted by someone else",
		Err:       domain.ErrInvalidTransition,
	})

	de := ToDomainError(err)
	require.NotNil(t, de)
	assert.Equal(t, CodeInvalidTransition, de.Code)
	assert.Equal(t, "already accepted by someone else", de.Message)
	assert.Equal(t, int64(7), de.Details["request_id"])
	assert.False(t, de.Retriable)
}

func TestBusyIsRetriable(t *testing.T) {
	assert.True(t, ToDomainError(domain.ErrBusy).Retriable)
	assert.Nil(t, ToDomainError(nil))
	assert.Nil(t, MapError(nil))
}

func TestDomainErrorPassesThrough(t *testing.T) {
	original := NewForbidden("admins only")
	de := ToDomainError(fmt.Errorf("wrapped: %w", original))
	assert.Same(t, original, de)
}
