package docstore

import (
	"context"
	"errors"
	"testing"

	"todo-go/internal/todo"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) todo.DocumentStore {
		s := NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore_SubscribeDeliversSynchronously(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	rec := &recorder{}
	unsubscribe := s.Subscribe(todo.Query{Collection: todo.TasksCollection}, rec.onSnapshot, rec.onError)
	defer unsubscribe()

	if rec.count() != 1 {
		t.Fatalf("deliveries after Subscribe() = %d, want 1", rec.count())
	}
	if len(rec.latest()) != 0 {
		t.Errorf("initial snapshot = %v, want empty", rec.latest())
	}

	if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "a"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("deliveries after Set() = %d, want 2", rec.count())
	}
}

func TestMemoryStore_SkipsIdenticalSnapshots(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	rec := &recorder{}
	defer s.Subscribe(todo.Query{Collection: todo.TasksCollection}, rec.onSnapshot, rec.onError)()

	if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "a"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	// Same content, and a write to another collection.
	if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "a"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, todo.CategoriesCollection, "c1", todo.Fields{"name": "x"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if got := rec.count(); got != 2 {
		t.Errorf("deliveries = %d, want 2", got)
	}
}

func TestMemoryStore_DeliversUnchangedSnapshotAfterError(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	rec := &recorder{}
	defer s.Subscribe(todo.Query{Collection: todo.TasksCollection}, rec.onSnapshot, rec.onError)()
	if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "a"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	s.reportError(errors.New("disk unplugged"))
	if len(rec.errs) != 1 {
		t.Fatalf("errors = %v, want one", rec.errs)
	}
	if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "a"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := rec.count(); got != 3 {
		t.Errorf("deliveries = %d, want 3 (the unchanged snapshot after the error)", got)
	}
}

func TestMemoryStore_SnapshotsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	fields := todo.Fields{"title": "a"}
	if err := s.Set(ctx, todo.TasksCollection, "t1", fields); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	fields["title"] = "mutated"

	doc, _ := s.Get(ctx, todo.TasksCollection, "t1")
	doc.Fields["title"] = "mutated again"

	doc, _ = s.Get(ctx, todo.TasksCollection, "t1")
	if doc.Fields["title"] != "a" {
		t.Errorf("title = %v, want %q", doc.Fields["title"], "a")
	}
}

func TestMemoryStore_TransactionRejectsReadAfterWrite(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx todo.Transaction) error {
		tx.Set(todo.TasksCollection, "t1", todo.Fields{})
		_, err := tx.Get(ctx, todo.TasksCollection, "t1")
		return err
	})
	if todo.ErrorCodeOf(err) != todo.CodeInvalidArgument {
		t.Errorf("RunTransaction() error = %v, want invalid-argument", err)
	}
}

func TestMemoryStore_Close(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := &recorder{}
	s.Subscribe(todo.Query{Collection: todo.TasksCollection}, rec.onSnapshot, rec.onError)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{}); !errors.Is(err, todo.ErrClosed) {
		t.Errorf("Set() after Close() error = %v, want ErrClosed", err)
	}
	if _, err := s.Query(ctx, todo.Query{Collection: todo.TasksCollection}); !errors.Is(err, todo.ErrClosed) {
		t.Errorf("Query() after Close() error = %v, want ErrClosed", err)
	}
	if rec.count() != 1 {
		t.Errorf("deliveries = %d, want only the initial one", rec.count())
	}

	late := &recorder{}
	s.Subscribe(todo.Query{Collection: todo.TasksCollection}, late.onSnapshot, late.onError)
	if len(late.errs) != 1 || !errors.Is(late.errs[0], todo.ErrClosed) {
		t.Errorf("Subscribe() after Close() errors = %v, want [ErrClosed]", late.errs)
	}
}
