package repository

import (
	"context"
	"sync"

	"todo-go/internal/model"
	"todo-go/internal/todo"
)

// RemoteTaskRepository keeps the task list in sync with the tasks collection
// of a document store.
type RemoteTaskRepository struct {
	list  *syncedList[model.Task]
	store todo.DocumentStore
	clock todo.Clock
	ids   todo.IDGenerator
	life  *lifecycle

	stampMu   sync.Mutex
	lastStamp int64
}

var _ todo.TaskRepository = (*RemoteTaskRepository)(nil)

// NewRemoteTaskRepository starts syncing with store. The channel reports
// connecting until the first snapshot arrives.
func NewRemoteTaskRepository(store todo.DocumentStore, opts Options) *RemoteTaskRepository {
	opts = opts.withDefaults()
	r := &RemoteTaskRepository{
		list:  newSyncedList[model.Task](todo.TasksChannel, todo.TasksCacheKey, opts),
		store: store,
		clock: opts.Clock,
		ids:   opts.IDs,
	}
	r.life = start(r.list, store,
		todo.Query{Collection: todo.TasksCollection, OrderBy: fieldCreatedAt, Descending: true},
		r.decode,
	)
	return r
}

func (r *RemoteTaskRepository) decode(docs []todo.Document) []model.Task {
	now := todo.NowMillis(r.clock)
	tasks := make([]model.Task, len(docs))
	for i, d := range docs {
		tasks[i] = taskFromDocument(d, now)
	}
	return tasks
}

// stamp returns a timestamp later than every earlier stamp and than floor,
// so updatedAt strictly increases even when the clock does not.
func (r *RemoteTaskRepository) stamp(floor int64) int64 {
	r.stampMu.Lock()
	defer r.stampMu.Unlock()
	now := todo.NowMillis(r.clock)
	if now <= r.lastStamp {
		now = r.lastStamp + 1
	}
	if now <= floor {
		now = floor + 1
	}
	r.lastStamp = now
	return now
}

func (r *RemoteTaskRepository) Tasks() todo.Observable[[]model.Task] { return r.list.state }

// Restored is closed once the cached snapshot has been read.
func (r *RemoteTaskRepository) Restored() <-chan struct{} { return r.list.restored }

func (r *RemoteTaskRepository) Create(ctx context.Context, title, categoryID string) (string, error) {
	id := r.ids.New()
	var task model.Task
	err := r.list.mutate(ctx, "create task",
		func(tasks []model.Task) []model.Task {
			now := r.stamp(0)
			task = model.Task{ID: id, Title: title, CategoryID: categoryID, CreatedAt: now, UpdatedAt: now}
			return append([]model.Task{task}, tasks...)
		},
		func(ctx context.Context) error {
			return r.store.Set(ctx, todo.TasksCollection, id, taskFields(task))
		},
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ToggleComplete flips the task locally, then flips whatever value the
// remote document holds at commit time, so concurrent toggles cancel out.
func (r *RemoteTaskRepository) ToggleComplete(ctx context.Context, id string) error {
	var updatedAt int64
	return r.list.mutate(ctx, "toggle task",
		func(tasks []model.Task) []model.Task {
			var floor int64
			for _, t := range tasks {
				if t.ID == id {
					floor = t.UpdatedAt
				}
			}
			updatedAt = r.stamp(floor)
			for i := range tasks {
				if tasks[i].ID == id {
					tasks[i].Completed = !tasks[i].Completed
					tasks[i].UpdatedAt = updatedAt
				}
			}
			return tasks
		},
		func(ctx context.Context) error {
			return r.store.RunTransaction(ctx, func(ctx context.Context, tx todo.Transaction) error {
				doc, err := tx.Get(ctx, todo.TasksCollection, id)
				if err != nil {
					return err
				}
				if doc == nil {
					return nil
				}
				completed, _ := doc.Fields[fieldCompleted].(bool)
				tx.Update(todo.TasksCollection, id, todo.Fields{
					fieldCompleted: !completed,
					fieldUpdatedAt: updatedAt,
				})
				return nil
			})
		},
	)
}

func (r *RemoteTaskRepository) Delete(ctx context.Context, id string) error {
	return r.list.mutate(ctx, "delete task",
		func(tasks []model.Task) []model.Task {
			return removeTask(tasks, id)
		},
		func(ctx context.Context) error {
			return r.store.Delete(ctx, todo.TasksCollection, id)
		},
	)
}

func (r *RemoteTaskRepository) SetCategory(ctx context.Context, id, categoryID string) error {
	var updatedAt int64
	return r.list.mutate(ctx, "set task category",
		func(tasks []model.Task) []model.Task {
			var floor int64
			for _, t := range tasks {
				if t.ID == id {
					floor = t.UpdatedAt
				}
			}
			updatedAt = r.stamp(floor)
			for i := range tasks {
				if tasks[i].ID == id {
					tasks[i].CategoryID = categoryID
					tasks[i].UpdatedAt = updatedAt
				}
			}
			return tasks
		},
		func(ctx context.Context) error {
			return r.store.Update(ctx, todo.TasksCollection, id, todo.Fields{
				fieldCategoryID: nullable(categoryID),
				fieldUpdatedAt:  updatedAt,
			})
		},
	)
}

// SetAllCompleted updates only the remote documents whose current value
// differs, as found by a fresh query.
func (r *RemoteTaskRepository) SetAllCompleted(ctx context.Context, completed bool) error {
	var updatedAt int64
	return r.list.mutate(ctx, "set all completed",
		func(tasks []model.Task) []model.Task {
			var floor int64
			for _, t := range tasks {
				floor = max(floor, t.UpdatedAt)
			}
			updatedAt = r.stamp(floor)
			for i := range tasks {
				if tasks[i].Completed != completed {
					tasks[i].Completed = completed
					tasks[i].UpdatedAt = updatedAt
				}
			}
			return tasks
		},
		func(ctx context.Context) error {
			docs, err := r.store.Query(ctx, todo.Query{Collection: todo.TasksCollection})
			if err != nil {
				return err
			}
			batch := r.store.NewBatch()
			for _, d := range docs {
				if current, _ := d.Fields[fieldCompleted].(bool); current != completed {
					batch.Update(todo.TasksCollection, d.ID, todo.Fields{
						fieldCompleted: completed,
						fieldUpdatedAt: updatedAt,
					})
				}
			}
			if batch.Len() == 0 {
				return nil
			}
			return batch.Commit(ctx)
		},
	)
}

// RemoveCompleted deletes the remote documents a fresh query reports as
// completed, which may differ from the local set.
func (r *RemoteTaskRepository) RemoveCompleted(ctx context.Context) error {
	return r.list.mutate(ctx, "remove completed",
		func(tasks []model.Task) []model.Task {
			kept := tasks[:0]
			for _, t := range tasks {
				if !t.Completed {
					kept = append(kept, t)
				}
			}
			return kept
		},
		func(ctx context.Context) error {
			docs, err := r.store.Query(ctx, todo.Query{
				Collection: todo.TasksCollection,
				Where:      []todo.Filter{{Field: fieldCompleted, Value: true}},
			})
			if err != nil {
				return err
			}
			batch := r.store.NewBatch()
			for _, d := range docs {
				batch.Delete(todo.TasksCollection, d.ID)
			}
			if batch.Len() == 0 {
				return nil
			}
			return batch.Commit(ctx)
		},
	)
}

func (r *RemoteTaskRepository) ClearCategoryAssignments(ctx context.Context, categoryID string) error {
	var updatedAt int64
	return r.list.mutate(ctx, "clear category assignments",
		func(tasks []model.Task) []model.Task {
			var floor int64
			for _, t := range tasks {
				if t.CategoryID == categoryID {
					floor = max(floor, t.UpdatedAt)
				}
			}
			updatedAt = r.stamp(floor)
			for i := range tasks {
				if tasks[i].CategoryID == categoryID {
					tasks[i].CategoryID = ""
					tasks[i].UpdatedAt = updatedAt
				}
			}
			return tasks
		},
		func(ctx context.Context) error {
			docs, err := r.store.Query(ctx, todo.Query{
				Collection: todo.TasksCollection,
				Where:      []todo.Filter{{Field: fieldCategoryID, Value: categoryID}},
			})
			if err != nil {
				return err
			}
			batch := r.store.NewBatch()
			for _, d := range docs {
				batch.Update(todo.TasksCollection, d.ID, todo.Fields{
					fieldCategoryID: nil,
					fieldUpdatedAt:  updatedAt,
				})
			}
			if batch.Len() == 0 {
				return nil
			}
			return batch.Commit(ctx)
		},
	)
}

// Close stops the subscription. It does not close the document store.
func (r *RemoteTaskRepository) Close() error {
	r.life.close(r.list.restored)
	return nil
}

func removeTask(tasks []model.Task, id string) []model.Task {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	return kept
}
