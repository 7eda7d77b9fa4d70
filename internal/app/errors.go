package app

import (
	"errors"

	"todo-go/internal/todo"
)

// DescribeError turns an error from a use case into a message for the user.
// Store failures are described by their code; anything else uses err's text.
func DescribeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, todo.ErrEmptyTitle):
		return "The task needs a title."
	case errors.Is(err, todo.ErrEmptyName):
		return "The category needs a name."
	case errors.Is(err, todo.ErrEmptyID):
		return "Say which task or category you mean."
	case errors.Is(err, todo.ErrBulkActionsDisabled):
		return "Bulk actions are not enabled right now."
	}

	switch todo.ErrorCodeOf(err) {
	case todo.CodeUnavailable:
		return "Could not reach the server. Your change was undone; try again when you are back online."
	case todo.CodePermissionDenied:
		return "You do not have permission to make this change."
	case todo.CodeNotFound:
		return "That item no longer exists. It may have been deleted elsewhere."
	case todo.CodeAborted:
		return "Someone else changed this at the same time. Please try again."
	case todo.CodeDeadlineExceeded:
		return "The server took too long to answer. Your change was undone."
	case todo.CodeInvalidArgument:
		return "The change was rejected as invalid."
	}
	return err.Error()
}
