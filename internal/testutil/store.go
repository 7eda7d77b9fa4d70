package testutil

import (
	"context"
	"sync"
	"testing"

	"todo-go/internal/docstore"
	"todo-go/internal/todo"
)

// NewTestStore creates an in-memory document store that is closed when the
// test completes.
func NewTestStore(t *testing.T) *docstore.MemoryStore {
	t.Helper()
	s := docstore.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// Operation names understood by FlakyStore. A batch fails on OpCommit and a
// transaction on OpTransaction.
const (
	OpGet         = "get"
	OpSet         = "set"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpQuery       = "query"
	OpCommit      = "commit"
	OpTransaction = "transaction"
)

// FlakyStore wraps a DocumentStore and injects failures per operation.
// Safe for concurrent use.
type FlakyStore struct {
	todo.DocumentStore

	mu       sync.Mutex
	failures map[string]error
	gates    map[string]chan struct{}
	calls    map[string]int
	subErr   error
	onErrors map[int]func(error)
	nextSub  int
}

// NewFlakyStore wraps store. With no failures armed it behaves exactly like store.
func NewFlakyStore(store todo.DocumentStore) *FlakyStore {
	return &FlakyStore{
		DocumentStore: store,
		failures:      make(map[string]error),
		gates:         make(map[string]chan struct{}),
		calls:         make(map[string]int),
		onErrors:      make(map[int]func(error)),
	}
}

// FailOn makes every later call of op return err until Clear is called.
func (s *FlakyStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Clear removes every armed failure.
func (s *FlakyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]error)
}

// Block holds every later call of op until the returned func is called.
func (s *FlakyStore) Block(op string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[op] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[op] == gate {
				delete(s.gates, op)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls reports how many times op has been called.
func (s *FlakyStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// FailSubscriptions makes later Subscribe calls report err instead of
// delivering snapshots.
func (s *FlakyStore) FailSubscriptions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subErr = err
}

// EmitError reports err to every live subscription.
func (s *FlakyStore) EmitError(err error) {
	s.mu.Lock()
	fns := make([]func(error), 0, len(s.onErrors))
	for _, fn := range s.onErrors {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// enter counts a call of op, waits on any gate and returns the armed failure.
func (s *FlakyStore) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	gate := s.gates[op]
	err := s.failures[op]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *FlakyStore) Get(ctx context.Context, collection, id string) (*todo.Document, error) {
	if err := s.enter(ctx, OpGet); err != nil {
		return nil, err
	}
	return s.DocumentStore.Get(ctx, collection, id)
}

func (s *FlakyStore) Set(ctx context.Context, collection, id string, fields todo.Fields) error {
	if err := s.enter(ctx, OpSet); err != nil {
		return err
	}
	return s.DocumentStore.Set(ctx, collection, id, fields)
}

func (s *FlakyStore) Update(ctx context.Context, collection, id string, fields todo.Fields) error {
	if err := s.enter(ctx, OpUpdate); err != nil {
		return err
	}
	return s.DocumentStore.Update(ctx, collection, id, fields)
}

func (s *FlakyStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.enter(ctx, OpDelete); err != nil {
		return err
	}
	return s.DocumentStore.Delete(ctx, collection, id)
}

func (s *FlakyStore) Query(ctx context.Context, q todo.Query) ([]todo.Document, error) {
	if err := s.enter(ctx, OpQuery); err != nil {
		return nil, err
	}
	return s.DocumentStore.Query(ctx, q)
}

func (s *FlakyStore) NewBatch() todo.WriteBatch {
	return &flakyBatch{WriteBatch: s.DocumentStore.NewBatch(), store: s}
}

func (s *FlakyStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx todo.Transaction) error) error {
	if err := s.enter(ctx, OpTransaction); err != nil {
		return err
	}
	return s.DocumentStore.RunTransaction(ctx, fn)
}

func (s *FlakyStore) Subscribe(q todo.Query, onSnapshot func([]todo.Document), onError func(error)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.onErrors[id] = onError
	subErr := s.subErr
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.onErrors, id)
		s.mu.Unlock()
	}
	if subErr != nil {
		onError(subErr)
		return forget
	}
	unsubscribe := s.DocumentStore.Subscribe(q, onSnapshot, onError)
	return func() {
		forget()
		unsubscribe()
	}
}

type flakyBatch struct {
	todo.WriteBatch
	store *FlakyStore
}

func (b *flakyBatch) Commit(ctx context.Context) error {
	if err := b.store.enter(ctx, OpCommit); err != nil {
		return err
	}
	return b.WriteBatch.Commit(ctx)
}
