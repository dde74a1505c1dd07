package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/services/intake"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.NotFoundError{ID: "x"}, http.StatusNotFound},
		{&domain.AccessDeniedError{}, http.StatusForbidden},
		{&intake.InvalidCandidateError{Reason: "r"}, http.StatusBadRequest},
		{&domain.ExpiredOpportunityError{}, http.StatusGone},
		{&domain.InvalidTransitionError{}, http.StatusConflict},
		{&domain.AlreadyProcessedError{}, http.StatusConflict},
		{&domain.RetryExhaustedError{}, http.StatusConflict},
		{&domain.DuplicateCompletionError{}, http.StatusConflict},
		{fmt.Errorf("cancel: %w", domain.ErrConcurrencyConflict), http.StatusConflict},
		{&domain.GenerationError{Err: errors.New("model down")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), "%T", tc.err)
	}
}
