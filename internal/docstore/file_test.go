package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"todo-go/internal/todo"
)

func openFileStore(t *testing.T, path string) *FileStore {
	t.Helper()
	s, err := NewFileStore(path, todo.NewNopLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileStore_Contract(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) todo.DocumentStore {
		return openFileStore(t, filepath.Join(t.TempDir(), "documents.json"))
	})
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "documents.json")
	ctx := context.Background()

	s, err := NewFileStore(path, todo.NewNopLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "persisted"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := openFileStore(t, path)
	doc, err := reopened.Get(ctx, todo.TasksCollection, "t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc == nil || doc.Fields["title"] != "persisted" {
		t.Errorf("Get() = %+v, want persisted task", doc)
	}
}

func TestFileStore_SharedBetweenStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	ctx := context.Background()

	a := openFileStore(t, path)
	b := openFileStore(t, path)

	rec := &recorder{}
	defer b.Subscribe(todo.Query{Collection: todo.TasksCollection}, rec.onSnapshot, rec.onError)()

	if err := a.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "from a"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	eventually(t, func() bool { return equalIDs(rec.latest(), "t1") })

	// b's write starts from a's state rather than overwriting it.
	if err := b.Set(ctx, todo.TasksCollection, "t2", todo.Fields{"title": "from b"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	eventually(t, func() bool {
		docs, err := a.Query(ctx, todo.Query{Collection: todo.TasksCollection})
		return err == nil && equalIDs(docs, "t1", "t2")
	})
}

func TestFileStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := NewFileStore(path, todo.NewNopLogger()); err == nil {
		t.Fatal("NewFileStore() expected error for corrupt file")
	}
}

// replaceFile swaps path's contents in one rename, as another process's
// commit would.
func replaceFile(t *testing.T, path string, data []byte) {
	t.Helper()
	tmp := path + ".incoming"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
}

func TestFileStore_RedeliversAfterUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	ctx := context.Background()
	s := openFileStore(t, path)

	if err := s.Set(ctx, todo.TasksCollection, "t1", todo.Fields{"title": "a"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	good, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	rec := &recorder{}
	defer s.Subscribe(todo.Query{Collection: todo.TasksCollection}, rec.onSnapshot, rec.onError)()
	if got := rec.count(); got != 1 {
		t.Fatalf("deliveries after Subscribe() = %d, want 1", got)
	}

	replaceFile(t, path, []byte("{half written"))
	eventually(t, func() bool { return rec.errCount() > 0 })

	// Same documents as before the error, so only the recovery is news.
	replaceFile(t, path, good)
	eventually(t, func() bool { return rec.count() >= 2 })
	if !equalIDs(rec.latest(), "t1") {
		t.Errorf("latest snapshot = %v, want [t1]", ids(rec.latest()))
	}
}
