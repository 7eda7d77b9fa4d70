package repository

import (
	"context"
	"fmt"
	"slices"

	"todo-go/internal/model"
	"todo-go/internal/todo"
)

// localList is the state behind a local-only repository. Writes go to the
// cache first and are published only once stored, so there is nothing to
// roll back.
type localList[T any] struct {
	channel  string
	cacheKey string
	cache    todo.Cache
	logger   todo.Logger
	queue    mutationQueue
	state    *todo.Stream[[]T]
}

// newLocalList loads the cached list and reports the channel online.
// An unreadable cache starts the list empty.
func newLocalList[T any](ctx context.Context, channel, cacheKey string, opts Options) *localList[T] {
	l := &localList[T]{
		channel:  channel,
		cacheKey: cacheKey,
		cache:    opts.Cache,
		logger:   opts.Logger,
	}
	items, err := todo.CacheGet(ctx, l.cache, cacheKey, []T{})
	if err != nil {
		l.logger.Warn("loading local list failed, starting empty", "channel", channel, "error", err)
		items = []T{}
	}
	l.state = todo.NewStream(items)
	opts.Status.Update(channel, todo.PhaseOnline, "")
	return l
}

func (l *localList[T]) mutate(ctx context.Context, op string, apply func([]T) []T) error {
	release, err := l.queue.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	next := apply(slices.Clone(l.state.Value()))
	if err := todo.CacheSet(ctx, l.cache, l.cacheKey, next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	l.state.Publish(next)
	l.logger.Debug("local mutation stored", "channel", l.channel, "op", op)
	return nil
}

// LocalTaskRepository keeps tasks in the cache only.
type LocalTaskRepository struct {
	list  *localList[model.Task]
	clock todo.Clock
	ids   todo.IDGenerator
}

var _ todo.TaskRepository = (*LocalTaskRepository)(nil)

func NewLocalTaskRepository(ctx context.Context, opts Options) *LocalTaskRepository {
	opts = opts.withDefaults()
	return &LocalTaskRepository{
		list:  newLocalList[model.Task](ctx, todo.TasksChannel, todo.LocalTasksKey, opts),
		clock: opts.Clock,
		ids:   opts.IDs,
	}
}

func (r *LocalTaskRepository) Tasks() todo.Observable[[]model.Task] { return r.list.state }

func (r *LocalTaskRepository) Create(ctx context.Context, title, categoryID string) (string, error) {
	now := todo.NowMillis(r.clock)
	task := model.Task{ID: r.ids.New(), Title: title, CategoryID: categoryID, CreatedAt: now, UpdatedAt: now}
	err := r.list.mutate(ctx, "create task", func(tasks []model.Task) []model.Task {
		return append([]model.Task{task}, tasks...)
	})
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

func (r *LocalTaskRepository) ToggleComplete(ctx context.Context, id string) error {
	return r.list.mutate(ctx, "toggle task", func(tasks []model.Task) []model.Task {
		for i := range tasks {
			if tasks[i].ID == id {
				tasks[i].Completed = !tasks[i].Completed
				tasks[i].UpdatedAt = r.touch(tasks[i].UpdatedAt)
			}
		}
		return tasks
	})
}

func (r *LocalTaskRepository) Delete(ctx context.Context, id string) error {
	return r.list.mutate(ctx, "delete task", func(tasks []model.Task) []model.Task {
		return removeTask(tasks, id)
	})
}

func (r *LocalTaskRepository) SetCategory(ctx context.Context, id, categoryID string) error {
	return r.list.mutate(ctx, "set task category", func(tasks []model.Task) []model.Task {
		for i := range tasks {
			if tasks[i].ID == id {
				tasks[i].CategoryID = categoryID
				tasks[i].UpdatedAt = r.touch(tasks[i].UpdatedAt)
			}
		}
		return tasks
	})
}

func (r *LocalTaskRepository) SetAllCompleted(ctx context.Context, completed bool) error {
	return r.list.mutate(ctx, "set all completed", func(tasks []model.Task) []model.Task {
		for i := range tasks {
			if tasks[i].Completed != completed {
				tasks[i].Completed = completed
				tasks[i].UpdatedAt = r.touch(tasks[i].UpdatedAt)
			}
		}
		return tasks
	})
}

func (r *LocalTaskRepository) RemoveCompleted(ctx context.Context) error {
	return r.list.mutate(ctx, "remove completed", func(tasks []model.Task) []model.Task {
		kept := tasks[:0]
		for _, t := range tasks {
			if !t.Completed {
				kept = append(kept, t)
			}
		}
		return kept
	})
}

func (r *LocalTaskRepository) ClearCategoryAssignments(ctx context.Context, categoryID string) error {
	return r.list.mutate(ctx, "clear category assignments", func(tasks []model.Task) []model.Task {
		for i := range tasks {
			if tasks[i].CategoryID == categoryID {
				tasks[i].CategoryID = ""
				tasks[i].UpdatedAt = r.touch(tasks[i].UpdatedAt)
			}
		}
		return tasks
	})
}

func (r *LocalTaskRepository) Close() error { return nil }

// touch returns now, or previous+1 when the clock has not moved past it.
func (r *LocalTaskRepository) touch(previous int64) int64 {
	return max(todo.NowMillis(r.clock), previous+1)
}

// LocalCategoryRepository keeps categories in the cache only.
type LocalCategoryRepository struct {
	list  *localList[model.Category]
	ids   todo.IDGenerator
	order *nameOrder
}

var _ todo.CategoryRepository = (*LocalCategoryRepository)(nil)

func NewLocalCategoryRepository(ctx context.Context, opts Options) *LocalCategoryRepository {
	opts = opts.withDefaults()
	return &LocalCategoryRepository{
		list:  newLocalList[model.Category](ctx, todo.CategoriesChannel, todo.LocalCategoriesKey, opts),
		ids:   opts.IDs,
		order: newNameOrder(),
	}
}

func (r *LocalCategoryRepository) Categories() todo.Observable[[]model.Category] {
	return r.list.state
}

func (r *LocalCategoryRepository) Create(ctx context.Context, name, color string) (string, error) {
	c := model.Category{ID: r.ids.New(), Name: name, Color: color}
	err := r.list.mutate(ctx, "create category", func(categories []model.Category) []model.Category {
		return r.order.sort(append(categories, c))
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (r *LocalCategoryRepository) Update(ctx context.Context, id, name, color string) error {
	return r.list.mutate(ctx, "update category", func(categories []model.Category) []model.Category {
		for i := range categories {
			if categories[i].ID == id {
				categories[i].Name = name
				categories[i].Color = color
			}
		}
		return r.order.sort(categories)
	})
}

func (r *LocalCategoryRepository) Delete(ctx context.Context, id string) error {
	return r.list.mutate(ctx, "delete category", func(categories []model.Category) []model.Category {
		return removeCategory(categories, id)
	})
}

func (r *LocalCategoryRepository) Close() error { return nil }
