package todo

import (
	"context"
	"fmt"

	"todo-go/internal/model"
)

// Service exposes the to-do use cases. Each method delegates to one
// repository operation, except DeleteCategory which needs both repositories.
type Service struct {
	tasks      TaskRepository
	categories CategoryRepository
	logger     Logger
}

// NewService creates a Service over the given repositories.
func NewService(tasks TaskRepository, categories CategoryRepository, logger Logger) *Service {
	return &Service{tasks: tasks, categories: categories, logger: logger}
}

// Tasks streams the current task list.
func (s *Service) Tasks() Observable[[]model.Task] { return s.tasks.Tasks() }

// Categories streams the current category list.
func (s *Service) Categories() Observable[[]model.Category] { return s.categories.Categories() }

// AddTask creates a task and returns its id.
func (s *Service) AddTask(ctx context.Context, title, categoryID string) (string, error) {
	return s.tasks.Create(ctx, title, categoryID)
}

func (s *Service) ToggleTask(ctx context.Context, id string) error {
	return s.tasks.ToggleComplete(ctx, id)
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.tasks.Delete(ctx, id)
}

// SetTaskCategory assigns a task to a category; an empty categoryID clears it.
func (s *Service) SetTaskCategory(ctx context.Context, id, categoryID string) error {
	return s.tasks.SetCategory(ctx, id, categoryID)
}

// CompleteAllTasks marks every task completed, or pending when completed is false.
func (s *Service) CompleteAllTasks(ctx context.Context, completed bool) error {
	return s.tasks.SetAllCompleted(ctx, completed)
}

// ClearCompletedTasks deletes every completed task.
func (s *Service) ClearCompletedTasks(ctx context.Context) error {
	return s.tasks.RemoveCompleted(ctx)
}

// CreateCategory adds a category and returns its id.
func (s *Service) CreateCategory(ctx context.Context, name, color string) (string, error) {
	return s.categories.Create(ctx, name, color)
}

func (s *Service) UpdateCategory(ctx context.Context, id, name, color string) error {
	return s.categories.Update(ctx, id, name, color)
}

// DeleteCategory removes the category and then uncategorizes its tasks.
// The two steps are not atomic: if clearing the assignments fails, the
// category stays deleted and the tasks keep the dangling id until the next
// attempt. The Store treats such ids as unresolved.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.categories.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	if err := s.tasks.ClearCategoryAssignments(ctx, id); err != nil {
		s.logger.Warn("category deleted but task assignments remain", "category_id", id, "error", err)
		return fmt.Errorf("clearing category assignments: %w", err)
	}
	return nil
}
