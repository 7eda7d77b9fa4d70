package repository_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"todo-go/internal/model"
	"todo-go/internal/repository"
	"todo-go/internal/testutil"
	"todo-go/internal/todo"
)

func newLocalOptions(t *testing.T) (repository.Options, *testutil.FlakyCache, *testutil.StubClock) {
	t.Helper()
	c := testutil.NewFlakyCache(testutil.NewTestCache(t))
	clock := testutil.FixedClock()
	return repository.Options{
		Cache:  c,
		Status: todo.NewSyncStatus(),
		Clock:  clock,
		IDs:    testutil.NewStubIDGenerator(),
	}, c, clock
}

func TestLocalTaskRepository_PersistsAcrossInstances(t *testing.T) {
	opts, _, _ := newLocalOptions(t)
	ctx := context.Background()

	repo := repository.NewLocalTaskRepository(ctx, opts)
	if _, err := repo.Create(ctx, "a", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.Create(ctx, "b", "c1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	reopened := repository.NewLocalTaskRepository(ctx, opts)
	if got, want := reopened.Tasks().Value(), repo.Tasks().Value(); !reflect.DeepEqual(got, want) {
		t.Errorf("reopened Tasks() = %+v, want %+v", got, want)
	}
	if got := taskIDs(reopened.Tasks().Value()); !reflect.DeepEqual(got, []string{"id-2", "id-1"}) {
		t.Errorf("Tasks() ids = %v, want [id-2 id-1]", got)
	}
}

func TestLocalTaskRepository_UsesLocalKey(t *testing.T) {
	opts, c, _ := newLocalOptions(t)
	ctx := context.Background()

	repo := repository.NewLocalTaskRepository(ctx, opts)
	if _, err := repo.Create(ctx, "a", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	local, err := todo.CacheGet(ctx, c, todo.LocalTasksKey, []model.Task{})
	if err != nil {
		t.Fatalf("CacheGet() error = %v", err)
	}
	if len(local) != 1 {
		t.Errorf("local key holds %d tasks, want 1", len(local))
	}
	remote, err := todo.CacheGet(ctx, c, todo.TasksCacheKey, []model.Task{})
	if err != nil {
		t.Fatalf("CacheGet() error = %v", err)
	}
	if len(remote) != 0 {
		t.Errorf("remote-synced key holds %d tasks, want 0", len(remote))
	}
}

func TestLocalTaskRepository_Operations(t *testing.T) {
	opts, _, clock := newLocalOptions(t)
	ctx := context.Background()
	repo := repository.NewLocalTaskRepository(ctx, opts)

	for _, cat := range []string{"c1", "c1", ""} {
		if _, err := repo.Create(ctx, "task", cat); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	clock.Advance(time.Second)

	if err := repo.ToggleComplete(ctx, "id-1"); err != nil {
		t.Fatalf("ToggleComplete() error = %v", err)
	}
	toggled := findTask(repo.Tasks().Value(), "id-1")
	if toggled.UpdatedAt != clock.Millis() {
		t.Errorf("id-1 UpdatedAt after toggle = %d, want %d", toggled.UpdatedAt, clock.Millis())
	}
	if err := repo.SetCategory(ctx, "id-3", "c2"); err != nil {
		t.Fatalf("SetCategory() error = %v", err)
	}
	if err := repo.ClearCategoryAssignments(ctx, "c1"); err != nil {
		t.Fatalf("ClearCategoryAssignments() error = %v", err)
	}

	byID := map[string]model.Task{}
	for _, task := range repo.Tasks().Value() {
		byID[task.ID] = task
	}
	if !byID["id-1"].Completed {
		t.Error("id-1 not completed after toggle")
	}
	// Clearing c1 touched id-1 again with the clock frozen.
	if got := byID["id-1"].UpdatedAt; got != toggled.UpdatedAt+1 {
		t.Errorf("id-1 UpdatedAt = %d, want %d", got, toggled.UpdatedAt+1)
	}
	if byID["id-1"].CategoryID != "" || byID["id-2"].CategoryID != "" {
		t.Errorf("c1 assignments not cleared: %+v", byID)
	}
	if byID["id-3"].CategoryID != "c2" {
		t.Errorf("id-3 CategoryID = %q, want c2", byID["id-3"].CategoryID)
	}

	if err := repo.SetAllCompleted(ctx, true); err != nil {
		t.Fatalf("SetAllCompleted() error = %v", err)
	}
	if err := repo.Delete(ctx, "id-3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := taskIDs(repo.Tasks().Value()); !reflect.DeepEqual(got, []string{"id-2", "id-1"}) {
		t.Errorf("Tasks() ids = %v, want [id-2 id-1]", got)
	}
	if err := repo.RemoveCompleted(ctx); err != nil {
		t.Fatalf("RemoveCompleted() error = %v", err)
	}
	if got := repo.Tasks().Value(); len(got) != 0 {
		t.Errorf("Tasks() = %+v, want empty", got)
	}
}

func TestLocalTaskRepository_CacheFailureLeavesListUnchanged(t *testing.T) {
	opts, c, _ := newLocalOptions(t)
	ctx := context.Background()
	repo := repository.NewLocalTaskRepository(ctx, opts)

	if _, err := repo.Create(ctx, "kept", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before := repo.Tasks().Value()

	full := errors.New("disk full")
	c.FailSet(full)
	if err := repo.Delete(ctx, "id-1"); !errors.Is(err, full) {
		t.Fatalf("Delete() error = %v, want %v", err, full)
	}
	if got := repo.Tasks().Value(); !reflect.DeepEqual(got, before) {
		t.Errorf("Tasks() = %+v, want %+v", got, before)
	}
}

func TestLocalRepositories_ReportOnline(t *testing.T) {
	opts, _, _ := newLocalOptions(t)
	ctx := context.Background()
	repository.NewLocalTaskRepository(ctx, opts)
	repository.NewLocalCategoryRepository(ctx, opts)

	if got := opts.Status.State().Value(); got.Phase != todo.PhaseOnline {
		t.Errorf("status = %+v, want online", got)
	}
}

func TestLocalCategoryRepository(t *testing.T) {
	opts, _, _ := newLocalOptions(t)
	ctx := context.Background()
	repo := repository.NewLocalCategoryRepository(ctx, opts)

	for _, name := range []string{"Oso", "nube", "Ábaco"} {
		if _, err := repo.Create(ctx, name, ""); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}
	want := []string{"Ábaco", "nube", "Oso"}
	if got := categoryNames(repo.Categories().Value()); !reflect.DeepEqual(got, want) {
		t.Errorf("Categories() = %v, want %v", got, want)
	}

	if err := repo.Update(ctx, "id-2", "Abeja", "#ff0"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := repo.Delete(ctx, "id-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	wantCats := []model.Category{
		{ID: "id-3", Name: "Ábaco"},
		{ID: "id-2", Name: "Abeja", Color: "#ff0"},
	}
	reopened := repository.NewLocalCategoryRepository(ctx, opts)
	if got := reopened.Categories().Value(); !reflect.DeepEqual(got, wantCats) {
		t.Errorf("reopened Categories() = %+v, want %+v", got, wantCats)
	}
}

func findTask(tasks []model.Task, id string) model.Task {
	for _, task := range tasks {
		if task.ID == id {
			return task
		}
	}
	return model.Task{}
}
