package todo

import (
	"context"

	"todo-go/internal/model"
)

// TaskRepository owns the live task list. Every mutation is applied to the
// in-memory list and the cache before any remote work, and is undone exactly
// if the remote write fails. The error of a failed mutation is returned after
// the rollback.
type TaskRepository interface {
	// Tasks streams the task list, newest first.
	Tasks() Observable[[]model.Task]

	// Create prepends a new incomplete task and returns its id.
	// An empty categoryID leaves the task uncategorized.
	Create(ctx context.Context, title, categoryID string) (string, error)

	ToggleComplete(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	// SetCategory assigns the task to categoryID, or clears it when empty.
	SetCategory(ctx context.Context, id, categoryID string) error

	// SetAllCompleted sets every task's completion flag to completed.
	// Tasks already in that state are left untouched.
	SetAllCompleted(ctx context.Context, completed bool) error

	// RemoveCompleted deletes every completed task.
	RemoveCompleted(ctx context.Context) error

	// ClearCategoryAssignments uncategorizes every task assigned to categoryID.
	ClearCategoryAssignments(ctx context.Context, categoryID string) error

	Close() error
}

// CategoryRepository owns the live category list with the same optimistic
// guarantees as TaskRepository.
type CategoryRepository interface {
	// Categories streams the category list ordered by name.
	Categories() Observable[[]model.Category]

	// Create adds a category and returns its id. An empty color means none.
	Create(ctx context.Context, name, color string) (string, error)

	Update(ctx context.Context, id, name, color string) error

	// Delete removes the category only. Task assignments are cleared by the
	// caller, see Service.DeleteCategory.
	Delete(ctx context.Context, id string) error

	Close() error
}
