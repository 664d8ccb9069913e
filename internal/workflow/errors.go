package workflow

import (
	"fmt"

	"github.com/acadeon/curricula-api/internal/models"
)

// TransitionError reports an action that is not legal from the record's
// current status. The caller corrects the action; nothing is retried.
type TransitionError struct {
	Resource string
	From     string
	Action   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: action %q is not permitted from status %q", e.Resource, e.Action, e.From)
}

// ForbiddenError reports an actor whose role or scope does not cover
// the attempted action.
type ForbiddenError struct {
	Action string
	Role   models.UserRole
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("role %s may not %s: %s", e.Role, e.Action, e.Reason)
	}
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// StaleError reports that the record already moved past the state the
// caller acted on. The caller should reload and re-evaluate.
type StaleError struct {
	Resource string
	Expected string
	Actual   string
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("%s: expected status %q but found %q, reload and retry", e.Resource, e.Expected, e.Actual)
}

// ValidationError reports malformed transition input, such as a reject
// without a reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
