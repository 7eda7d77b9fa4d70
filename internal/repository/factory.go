package repository

import (
	"context"
	"errors"
	"fmt"

	"todo-go/internal/config"
	"todo-go/internal/docstore"
	"todo-go/internal/todo"
)

// Repositories is the task and category pair selected by configuration,
// plus the document store they share when remote-synced.
type Repositories struct {
	Tasks      todo.TaskRepository
	Categories todo.CategoryRepository

	store    todo.DocumentStore
	restored []<-chan struct{}
}

// NewRepositoriesFromConfig builds local-only repositories for store type
// "local" and remote-synced repositories over the configured document store
// otherwise.
func NewRepositoriesFromConfig(ctx context.Context, cfg config.StoreConfig, opts Options) (*Repositories, error) {
	opts = opts.withDefaults()
	if cfg.Type == "local" {
		return &Repositories{
			Tasks:      NewLocalTaskRepository(ctx, opts),
			Categories: NewLocalCategoryRepository(ctx, opts),
		}, nil
	}

	store, err := docstore.NewDocumentStoreFromConfig(cfg, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating document store: %w", err)
	}
	return NewRemoteRepositories(store, opts), nil
}

// NewRemoteRepositories syncs both repositories with store. Closing the
// result closes store.
func NewRemoteRepositories(store todo.DocumentStore, opts Options) *Repositories {
	tasks := NewRemoteTaskRepository(store, opts)
	categories := NewRemoteCategoryRepository(store, opts)
	return &Repositories{
		Tasks:      tasks,
		Categories: categories,
		store:      store,
		restored:   []<-chan struct{}{tasks.Restored(), categories.Restored()},
	}
}

// WaitRestored blocks until both repositories have read their cached
// snapshots, or ctx is done. Local-only repositories are restored on creation.
func (r *Repositories) WaitRestored(ctx context.Context) error {
	for _, ch := range r.restored {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops both repositories and then closes the document store.
func (r *Repositories) Close() error {
	errs := []error{r.Tasks.Close(), r.Categories.Close()}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
