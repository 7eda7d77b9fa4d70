package docstore

import (
	"context"
	"fmt"
	"sync"

	"todo-go/internal/todo"
)

// collections maps collection name -> document id -> fields.
// Stored Fields are never mutated; writers replace them.
type collections map[string]map[string]todo.Fields

// persister backs a MemoryStore with shared storage. lock serializes commits
// across processes; load returns the latest committed state.
type persister interface {
	lock() (unlock func(), err error)
	load() (collections, error)
	save(collections) error
}

// MemoryStore is an in-process DocumentStore. Snapshots are delivered
// synchronously from the goroutine that committed the change, and a
// subscription is never handed the same result twice in a row.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	data   collections
	subs   map[int]*memorySubscription
	nextID int
	closed bool

	persist persister
}

var _ todo.DocumentStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(collections),
		subs: make(map[int]*memorySubscription),
	}
}

type memorySubscription struct {
	store      *MemoryStore
	query      todo.Query
	onSnapshot func([]todo.Document)
	onError    func(error)

	mu     sync.Mutex // serializes delivery
	active bool
	gate   snapshotGate
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*todo.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, todo.ErrClosed
	}
	fields, ok := s.data[collection][id]
	if !ok {
		return nil, nil
	}
	return &todo.Document{ID: id, Fields: cloneFields(fields)}, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields todo.Fields) error {
	return s.commit(ctx, []write{{kind: writeSet, collection: collection, id: id, fields: fields}})
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields todo.Fields) error {
	return s.commit(ctx, []write{{kind: writeUpdate, collection: collection, id: id, fields: fields}})
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return s.commit(ctx, []write{{kind: writeDelete, collection: collection, id: id}})
}

func (s *MemoryStore) Query(ctx context.Context, q todo.Query) ([]todo.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, todo.ErrClosed
	}
	return s.queryLocked(q), nil
}

func (s *MemoryStore) queryLocked(q todo.Query) []todo.Document {
	coll := s.data[q.Collection]
	docs := make([]todo.Document, 0, len(coll))
	for id, fields := range coll {
		docs = append(docs, todo.Document{ID: id, Fields: fields})
	}
	docs = applyQuery(docs, q)
	for i := range docs {
		docs[i].Fields = cloneFields(docs[i].Fields)
	}
	return docs
}

func (s *MemoryStore) NewBatch() todo.WriteBatch {
	return &memoryBatch{store: s}
}

// RunTransaction holds the store lock for the whole of fn, so fn runs exactly
// once and must not call back into the store.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx todo.Transaction) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return todo.ErrClosed
	}
	unlock, err := s.refreshLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	tx := &memoryTransaction{data: s.data}
	if err := fn(ctx, tx); err != nil {
		unlock()
		s.mu.Unlock()
		return err
	}
	err = s.applyLocked(tx.writes)
	unlock()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if len(tx.writes) > 0 {
		s.notify()
	}
	return nil
}

// Subscribe delivers the current result before returning.
func (s *MemoryStore) Subscribe(q todo.Query, onSnapshot func([]todo.Document), onError func(error)) func() {
	sub := &memorySubscription{
		store:      s,
		query:      q,
		onSnapshot: onSnapshot,
		onError:    onError,
		active:     true,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if onError != nil {
			onError(todo.ErrClosed)
		}
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	sub.deliver()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()

			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		})
	}
}

// Close stops every subscription. Later calls fail with todo.ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[int]*memorySubscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
	return nil
}

func (s *MemoryStore) commit(ctx context.Context, writes []write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return todo.ErrClosed
	}
	unlock, err := s.refreshLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	err = s.applyLocked(writes)
	unlock()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// refreshLocked takes the shared lock and reloads state when the store is
// persisted. The caller must call unlock once its writes are saved.
func (s *MemoryStore) refreshLocked() (unlock func(), err error) {
	if s.persist == nil {
		return func() {}, nil
	}
	unlock, err = s.persist.lock()
	if err != nil {
		return nil, &todo.StoreError{Code: todo.CodeUnavailable, Op: "lock", Err: err}
	}
	data, err := s.persist.load()
	if err != nil {
		unlock()
		return nil, &todo.StoreError{Code: todo.CodeUnavailable, Op: "load", Err: err}
	}
	s.data = data
	return unlock, nil
}

// applyLocked applies writes all-or-nothing.
func (s *MemoryStore) applyLocked(writes []write) error {
	next := make(collections, len(s.data))
	for name, coll := range s.data {
		next[name] = coll
	}
	copied := make(map[string]bool)

	for _, w := range writes {
		if !copied[w.collection] {
			coll := make(map[string]todo.Fields, len(next[w.collection])+1)
			for id, f := range next[w.collection] {
				coll[id] = f
			}
			next[w.collection] = coll
			copied[w.collection] = true
		}
		coll := next[w.collection]

		switch w.kind {
		case writeSet:
			fields, err := normalizeFields(w.fields)
			if err != nil {
				return err
			}
			coll[w.id] = fields
		case writeUpdate:
			current, ok := coll[w.id]
			if !ok {
				return &todo.StoreError{
					Code: todo.CodeNotFound,
					Op:   "update",
					Err:  fmt.Errorf("%s/%s: %w", w.collection, w.id, todo.ErrNotFound),
				}
			}
			patch, err := normalizeFields(w.fields)
			if err != nil {
				return err
			}
			coll[w.id] = mergeFields(current, patch)
		case writeDelete:
			delete(coll, w.id)
		}
	}

	if s.persist != nil {
		if err := s.persist.save(next); err != nil {
			return &todo.StoreError{Code: todo.CodeUnavailable, Op: "save", Err: err}
		}
	}
	s.data = next
	return nil
}

// reload picks up state committed by another process and notifies.
func (s *MemoryStore) reload() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	unlock, err := s.refreshLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	unlock()
	s.mu.Unlock()
	s.notify()
	return nil
}

// reportError hands err to every subscription.
func (s *MemoryStore) reportError(err error) {
	s.mu.Lock()
	subs := make([]*memorySubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if sub.active {
			sub.gate.failed()
			if sub.onError != nil {
				sub.onError(err)
			}
		}
		sub.mu.Unlock()
	}
}

func (s *MemoryStore) notify() {
	s.mu.Lock()
	subs := make([]*memorySubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver()
	}
}

func (sub *memorySubscription) deliver() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.active {
		return
	}

	sub.store.mu.Lock()
	closed := sub.store.closed
	var docs []todo.Document
	if !closed {
		docs = sub.store.queryLocked(sub.query)
	}
	sub.store.mu.Unlock()

	if closed {
		return
	}
	if !sub.gate.admit(docs) {
		return
	}

	out := make([]todo.Document, len(docs))
	for i, d := range docs {
		out[i] = todo.Document{ID: d.ID, Fields: cloneFields(d.Fields)}
	}
	sub.onSnapshot(out)
}

type writeKind int

const (
	writeSet writeKind = iota
	writeUpdate
	writeDelete
)

type write struct {
	kind       writeKind
	collection string
	id         string
	fields     todo.Fields
}

// writeList is the write-collecting half shared by batches and transactions.
type writeList struct {
	writes []write
}

func (l *writeList) Set(collection, id string, fields todo.Fields) {
	l.writes = append(l.writes, write{kind: writeSet, collection: collection, id: id, fields: cloneFields(fields)})
}

func (l *writeList) Update(collection, id string, fields todo.Fields) {
	l.writes = append(l.writes, write{kind: writeUpdate, collection: collection, id: id, fields: cloneFields(fields)})
}

func (l *writeList) Delete(collection, id string) {
	l.writes = append(l.writes, write{kind: writeDelete, collection: collection, id: id})
}

func (l *writeList) Len() int { return len(l.writes) }

type memoryBatch struct {
	writeList
	store *MemoryStore
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	return b.store.commit(ctx, b.writes)
}

type memoryTransaction struct {
	writeList
	data collections
}

func (tx *memoryTransaction) Get(ctx context.Context, collection, id string) (*todo.Document, error) {
	if len(tx.writes) > 0 {
		return nil, &todo.StoreError{
			Code: todo.CodeInvalidArgument,
			Op:   "transaction get",
			Err:  fmt.Errorf("reads must come before writes"),
		}
	}
	fields, ok := tx.data[collection][id]
	if !ok {
		return nil, nil
	}
	return &todo.Document{ID: id, Fields: cloneFields(fields)}, nil
}
