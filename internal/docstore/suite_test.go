package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"todo-go/internal/todo"
)

// recorder collects subscription deliveries.
type recorder struct {
	mu    sync.Mutex
	snaps [][]todo.Document
	errs  []error
}

func (r *recorder) onSnapshot(docs []todo.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, docs)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder) latest() []todo.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 3s")
}

func ids(docs []todo.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func equalIDs(got []todo.Document, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

// runStoreSuite checks the DocumentStore contract against the store open returns.
func runStoreSuite(t *testing.T, open func(t *testing.T) todo.DocumentStore) {
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		s := open(t)
		err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{
			"title":      "Buy milk",
			"completed":  false,
			"categoryId": nil,
			"createdAt":  int64(1700000000000),
		})
		if err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		doc, err := s.Get(ctx, todo.TasksCollection, "t1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if doc == nil {
			t.Fatal("Get() = nil, want document")
		}
		if doc.Fields["title"] != "Buy milk" {
			t.Errorf("title = %v, want %q", doc.Fields["title"], "Buy milk")
		}
		if doc.Fields["createdAt"] != float64(1700000000000) {
			t.Errorf("createdAt = %#v, want float64 1700000000000", doc.Fields["createdAt"])
		}
		if v, ok := doc.Fields["categoryId"]; ok && v != nil {
			t.Errorf("categoryId = %v, want null", v)
		}

		missing, err := s.Get(ctx, todo.TasksCollection, "nope")
		if err != nil {
			t.Fatalf("Get() missing error = %v", err)
		}
		if missing != nil {
			t.Errorf("Get() missing = %+v, want nil", missing)
		}
	})

	t.Run("update merges and requires existing document", func(t *testing.T) {
		s := open(t)
		if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "a", "completed": false}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := s.Update(ctx, todo.TasksCollection, "t1", todo.Fields{"completed": true}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		doc, _ := s.Get(ctx, todo.TasksCollection, "t1")
		if doc.Fields["title"] != "a" || doc.Fields["completed"] != true {
			t.Errorf("after Update() fields = %v", doc.Fields)
		}

		err := s.Update(ctx, todo.TasksCollection, "missing", todo.Fields{"completed": true})
		if !errors.Is(err, todo.ErrNotFound) {
			t.Errorf("Update() missing error = %v, want ErrNotFound", err)
		}
		if code := todo.ErrorCodeOf(err); code != todo.CodeNotFound {
			t.Errorf("ErrorCodeOf() = %q, want %q", code, todo.CodeNotFound)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := open(t)
		if err := s.Set(ctx, todo.CategoriesCollection, "c1", todo.Fields{"name": "Work"}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := s.Delete(ctx, todo.CategoriesCollection, "c1"); err != nil {
				t.Fatalf("Delete() #%d error = %v", i+1, err)
			}
		}
		doc, _ := s.Get(ctx, todo.CategoriesCollection, "c1")
		if doc != nil {
			t.Errorf("Get() after Delete() = %+v, want nil", doc)
		}
	})

	t.Run("query filters and orders", func(t *testing.T) {
		s := open(t)
		seed := map[string]todo.Fields{
			"a": {"completed": true, "createdAt": 3, "categoryId": "work"},
			"b": {"completed": false, "createdAt": 1, "categoryId": nil},
			"c": {"completed": true, "createdAt": 2},
			"d": {"completed": false},
		}
		for id, f := range seed {
			if err := s.Set(ctx, todo.TasksCollection, id, f); err != nil {
				t.Fatalf("Set(%s) error = %v", id, err)
			}
		}

		docs, err := s.Query(ctx, todo.Query{Collection: todo.TasksCollection, OrderBy: "createdAt", Descending: true})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if !equalIDs(docs, "a", "c", "b", "d") {
			t.Errorf("Query() order = %v, want [a c b d]", ids(docs))
		}

		docs, _ = s.Query(ctx, todo.Query{
			Collection: todo.TasksCollection,
			Where:      []todo.Filter{{Field: "completed", Value: true}},
			OrderBy:    "createdAt",
		})
		if !equalIDs(docs, "c", "a") {
			t.Errorf("Query(completed) = %v, want [c a]", ids(docs))
		}

		docs, _ = s.Query(ctx, todo.Query{
			Collection: todo.TasksCollection,
			Where:      []todo.Filter{{Field: "categoryId", Value: nil}},
		})
		if !equalIDs(docs, "b", "c", "d") {
			t.Errorf("Query(categoryId=null) = %v, want [b c d]", ids(docs))
		}
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		s := open(t)
		b := s.NewBatch()
		b.Set(todo.TasksCollection, "t1", todo.Fields{"title": "x"})
		b.Update(todo.TasksCollection, "missing", todo.Fields{"title": "y"})
		if b.Len() != 2 {
			t.Errorf("Len() = %d, want 2", b.Len())
		}
		if err := b.Commit(ctx); !errors.Is(err, todo.ErrNotFound) {
			t.Fatalf("Commit() error = %v, want ErrNotFound", err)
		}
		if doc, _ := s.Get(ctx, todo.TasksCollection, "t1"); doc != nil {
			t.Errorf("partial batch applied: %+v", doc)
		}

		b = s.NewBatch()
		b.Set(todo.TasksCollection, "t1", todo.Fields{"title": "x"})
		b.Set(todo.TasksCollection, "t2", todo.Fields{"title": "y"})
		b.Delete(todo.TasksCollection, "t2")
		if err := b.Commit(ctx); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		docs, _ := s.Query(ctx, todo.Query{Collection: todo.TasksCollection})
		if !equalIDs(docs, "t1") {
			t.Errorf("after batch = %v, want [t1]", ids(docs))
		}
	})

	t.Run("transaction reads then writes", func(t *testing.T) {
		s := open(t)
		if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"completed": false}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		toggle := func(ctx context.Context, tx todo.Transaction) error {
			doc, err := tx.Get(ctx, todo.TasksCollection, "t1")
			if err != nil || doc == nil {
				return err
			}
			completed, _ := doc.Fields["completed"].(bool)
			tx.Update(todo.TasksCollection, "t1", todo.Fields{"completed": !completed})
			return nil
		}
		if err := s.RunTransaction(ctx, toggle); err != nil {
			t.Fatalf("RunTransaction() error = %v", err)
		}
		doc, _ := s.Get(ctx, todo.TasksCollection, "t1")
		if doc.Fields["completed"] != true {
			t.Errorf("completed = %v, want true", doc.Fields["completed"])
		}

		sentinel := errors.New("stop")
		err := s.RunTransaction(ctx, func(ctx context.Context, tx todo.Transaction) error {
			tx.Set(todo.TasksCollection, "t2", todo.Fields{"title": "never"})
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Errorf("RunTransaction() error = %v, want %v", err, sentinel)
		}
		if doc, _ := s.Get(ctx, todo.TasksCollection, "t2"); doc != nil {
			t.Errorf("failed transaction wrote %+v", doc)
		}
	})

	t.Run("subscribe delivers initial and changed snapshots", func(t *testing.T) {
		s := open(t)
		if err := s.Set(ctx, todo.CategoriesCollection, "c1", todo.Fields{"name": "Work"}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		rec := &recorder{}
		unsubscribe := s.Subscribe(todo.Query{Collection: todo.CategoriesCollection, OrderBy: "name"}, rec.onSnapshot, rec.onError)
		defer unsubscribe()

		eventually(t, func() bool { return equalIDs(rec.latest(), "c1") })

		if err := s.Set(ctx, todo.CategoriesCollection, "c0", todo.Fields{"name": "Home"}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		eventually(t, func() bool { return equalIDs(rec.latest(), "c0", "c1") })

		unsubscribe()
		n := rec.count()
		if err := s.Set(ctx, todo.CategoriesCollection, "c2", todo.Fields{"name": "Zoo"}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if got := rec.count(); got != n {
			t.Errorf("deliveries after unsubscribe = %d, want %d", got, n)
		}
	})
}
