package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"todo-go/internal/cache"
	"todo-go/internal/config"
	"todo-go/internal/model"
	"todo-go/internal/remoteconfig"
	"todo-go/internal/repository"
	"todo-go/internal/todo"
)

// restoreTimeout bounds how long start-up waits for cached snapshots.
const restoreTimeout = 5 * time.Second

// TodoApp is the application layer between the outer surfaces (CLI, HTTP)
// and the to-do Service. It constructs all dependencies from config,
// validates raw input before it reaches a repository, gates bulk actions on
// the remote feature flag, and releases everything on Close.
type TodoApp struct {
	cfg     *config.Config
	session *Session
	clock   todo.Clock
	logger  todo.Logger
	logFile io.Closer

	cache   todo.Cache
	status  *todo.SyncStatus
	repos   *repository.Repositories
	service *todo.Service
	store   *todo.Store
	flags   *remoteconfig.Service
}

// NewTodoApp creates a fully wired TodoApp from the given config.
// command identifies the CLI command being run (e.g. "add", "serve").
// passphrase unlocks the cache key when cache encryption is enabled.
// The caller must call Close when done.
func NewTodoApp(ctx context.Context, cfg *config.Config, command, passphrase string) (*TodoApp, error) {
	clock := todo.RealClock{}
	ids := todo.UUIDGenerator{}
	session := NewSession(command, clock, ids)

	slogger, logFile, err := newLogger(cfg.LogDir, cfg.Log, session.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	c, err := cache.NewCacheFromConfig(cfg.Cache, clock, passphrase)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	status := todo.NewSyncStatus()
	repos, err := repository.NewRepositoriesFromConfig(ctx, cfg.Store, repository.Options{
		Cache:  c,
		Status: status,
		Clock:  clock,
		IDs:    ids,
		Logger: logger,
	})
	if err != nil {
		c.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating repositories: %w", err)
	}

	fetcher, err := remoteconfig.NewFetcherFromConfig(ctx, cfg.RemoteConfig)
	if err != nil {
		repos.Close()
		c.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating remote config fetcher: %w", err)
	}
	flags := remoteconfig.NewService(fetcher, c, clock, logger)
	flags.Init(ctx)

	restoreCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()
	if err := repos.WaitRestored(restoreCtx); err != nil {
		logger.Warn("cached snapshots not restored in time", "error", err)
	}

	svc := todo.NewService(repos.Tasks, repos.Categories, logger)
	logger.Info("session started", "command", command, "store", cfg.Store.Type)

	return &TodoApp{
		cfg:     cfg,
		session: session,
		clock:   clock,
		logger:  logger,
		logFile: logFile,
		cache:   c,
		status:  status,
		repos:   repos,
		service: svc,
		store:   todo.NewStore(svc.Tasks(), svc.Categories()),
		flags:   flags,
	}, nil
}

// Store returns the derived views over tasks and categories.
func (a *TodoApp) Store() *todo.Store { return a.store }

// Status returns the sync status aggregator.
func (a *TodoApp) Status() *todo.SyncStatus { return a.status }

// Flags returns the remote feature flags.
func (a *TodoApp) Flags() *remoteconfig.Service { return a.flags }

// Tasks returns the current task list.
func (a *TodoApp) Tasks() []model.Task { return a.service.Tasks().Value() }

// Categories returns the current category list.
func (a *TodoApp) Categories() []model.Category { return a.service.Categories().Value() }

// WaitSynced blocks until the sync status leaves connecting, so a one-shot
// command sees the remote state rather than only the cache.
// It returns the status reached, or the last one seen when ctx ends first.
func (a *TodoApp) WaitSynced(ctx context.Context) todo.SyncSnapshot {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var last todo.SyncSnapshot
	for snap := range a.status.State().Subscribe(ctx) {
		last = snap
		if snap.Phase != todo.PhaseConnecting {
			return snap
		}
	}
	return last
}

// AddTask trims title and creates a task. A blank title is rejected.
func (a *TodoApp) AddTask(ctx context.Context, title, categoryID string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", todo.ErrEmptyTitle
	}
	id, err := a.service.AddTask(ctx, title, strings.TrimSpace(categoryID))
	return id, a.track("add task", err)
}

func (a *TodoApp) ToggleTask(ctx context.Context, id string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}
	return a.track("toggle task", a.service.ToggleTask(ctx, id))
}

func (a *TodoApp) DeleteTask(ctx context.Context, id string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}
	return a.track("delete task", a.service.DeleteTask(ctx, id))
}

// SetTaskCategory assigns a task to a category; an empty categoryID clears it.
func (a *TodoApp) SetTaskCategory(ctx context.Context, id, categoryID string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}
	return a.track("set task category", a.service.SetTaskCategory(ctx, id, strings.TrimSpace(categoryID)))
}

// CompleteAllTasks marks every task completed (or pending). It is refused
// unless bulk actions are enabled remotely or force is set.
func (a *TodoApp) CompleteAllTasks(ctx context.Context, completed, force bool) error {
	if err := a.checkBulk(force); err != nil {
		return err
	}
	return a.track("complete all", a.service.CompleteAllTasks(ctx, completed))
}

// ClearCompletedTasks deletes every completed task, under the same gate as
// CompleteAllTasks.
func (a *TodoApp) ClearCompletedTasks(ctx context.Context, force bool) error {
	if err := a.checkBulk(force); err != nil {
		return err
	}
	return a.track("clear completed", a.service.ClearCompletedTasks(ctx))
}

// CreateCategory trims name and color and creates a category.
func (a *TodoApp) CreateCategory(ctx context.Context, name, color string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", todo.ErrEmptyName
	}
	id, err := a.service.CreateCategory(ctx, name, strings.TrimSpace(color))
	return id, a.track("create category", err)
}

func (a *TodoApp) UpdateCategory(ctx context.Context, id, name, color string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return todo.ErrEmptyName
	}
	return a.track("update category", a.service.UpdateCategory(ctx, id, name, strings.TrimSpace(color)))
}

// DeleteCategory deletes a category and uncategorizes its tasks. A blank id
// is rejected: it would match every uncategorized task.
func (a *TodoApp) DeleteCategory(ctx context.Context, id string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}
	return a.track("delete category", a.service.DeleteCategory(ctx, id))
}

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", todo.ErrEmptyID
	}
	return id, nil
}

func (a *TodoApp) checkBulk(force bool) error {
	if force || a.flags.IsBulkActionsEnabled() {
		return nil
	}
	return todo.ErrBulkActionsDisabled
}

// track logs a failed use case and marks the session failed.
func (a *TodoApp) track(op string, err error) error {
	if err != nil {
		a.session.Fail()
		a.logger.Error("use case failed", "op", op, "code", string(todo.ErrorCodeOf(err)), "error", err)
	}
	return err
}

// Close stops the views and repositories, then closes the document store,
// the cache and the log file.
func (a *TodoApp) Close() error {
	a.store.Close()
	errs := []error{a.repos.Close(), a.cache.Close()}

	a.logger.Info("session finished", "command", a.session.Command, "status", a.session.Status,
		"elapsed", a.session.Elapsed(a.clock).String())
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}
