package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/workflow"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

// mapWorkflowErr converts the decision core's typed errors to the API
// error taxonomy. Core errors carry user-presentable messages.
func mapWorkflowErr(err error) error {
	var transition *workflow.TransitionError
	var forbidden *workflow.ForbiddenError
	var stale *workflow.StaleError
	var validation *workflow.ValidationError

	switch {
	case errors.As(err, &transition):
		return appErrors.Clone(appErrors.ErrInvalidTransition, transition.Error())
	case errors.As(err, &forbidden):
		return appErrors.Clone(appErrors.ErrForbidden, forbidden.Error())
	case errors.As(err, &stale):
		return appErrors.Clone(appErrors.ErrStaleState, stale.Error())
	case errors.As(err, &validation):
		return appErrors.Clone(appErrors.ErrValidation, validation.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "workflow decision failed")
}

// mapStoreErr converts persistence failures: missing rows become
// not-found, timeouts and cancellations become retryable unavailable,
// unique violations become conflicts. Everything else is an internal
// fault logged upstream.
func mapStoreErr(err error, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return appErrors.Clone(appErrors.ErrUnavailable, "persistence timed out, retry shortly")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return appErrors.Clone(appErrors.ErrConflict, "a conflicting record already exists")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// mapSwapErr is mapStoreErr for compare-and-swap writes, where a
// missed row means the record changed underneath the caller.
func mapSwapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrStaleState
	}
	return mapStoreErr(err, "failed to persist transition")
}

// EditDeniedError carries the structured eligibility denial to the
// HTTP layer, which renders it in the legacy payload shape.
type EditDeniedError struct {
	Entity models.VersionRef
	Result workflow.Eligibility
}

func (e *EditDeniedError) Error() string {
	return e.Result.Reason
}
