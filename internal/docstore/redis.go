package docstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-go/internal/todo"
)

const (
	// maxTxAttempts bounds optimistic retries when a watched key changes.
	maxTxAttempts   = 5
	resubscribeWait = time.Second
)

// RedisStore keeps each document as a JSON string under
// <prefix>:<collection>:doc:<id>, with the ids of a collection in the set
// <prefix>:<collection>:ids. Every commit publishes the changed collection on
// <prefix>:<collection>:changes so subscribers can re-query.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger todo.Logger

	mu     sync.Mutex
	subs   map[int]context.CancelFunc
	nextID int
	closed bool
	wg     sync.WaitGroup
}

var _ todo.DocumentStore = (*RedisStore)(nil)

// NewRedisStore wraps client. An empty prefix defaults to "todo".
func NewRedisStore(client *redis.Client, prefix string, logger todo.Logger) *RedisStore {
	if prefix == "" {
		prefix = "todo"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
		subs:   make(map[int]context.CancelFunc),
	}
}

// ParseRedisOptions accepts a redis:// URL or the "host:port,password=...,ssl=true"
// form used by Azure Cache for Redis connection strings.
func ParseRedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("redis connection string is empty")
	}
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.Contains(parts[0], "://") {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func (s *RedisStore) docKey(collection, id string) string {
	return s.prefix + ":" + collection + ":doc:" + id
}

func (s *RedisStore) idsKey(collection string) string {
	return s.prefix + ":" + collection + ":ids"
}

func (s *RedisStore) channel(collection string) string {
	return s.prefix + ":" + collection + ":changes"
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) (*todo.Document, error) {
	data, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisError("get", err)
	}
	return decodeDocument(id, data)
}

func (s *RedisStore) Set(ctx context.Context, collection, id string, fields todo.Fields) error {
	return s.apply(ctx, []write{{kind: writeSet, collection: collection, id: id, fields: fields}})
}

func (s *RedisStore) Update(ctx context.Context, collection, id string, fields todo.Fields) error {
	return s.apply(ctx, []write{{kind: writeUpdate, collection: collection, id: id, fields: fields}})
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	return s.apply(ctx, []write{{kind: writeDelete, collection: collection, id: id}})
}

func (s *RedisStore) Query(ctx context.Context, q todo.Query) ([]todo.Document, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey(q.Collection)).Result()
	if err != nil {
		return nil, redisError("query", err)
	}
	if len(ids) == 0 {
		return []todo.Document{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(q.Collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, redisError("query", err)
	}

	docs := make([]todo.Document, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		doc, err := decodeDocument(ids[i], []byte(str))
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return applyQuery(docs, q), nil
}

func (s *RedisStore) NewBatch() todo.WriteBatch {
	return &redisBatch{store: s}
}

func (s *RedisStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx todo.Transaction) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTransaction{store: s, tx: rtx}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return s.commitWrites(ctx, rtx, tx.writes)
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return &todo.StoreError{Code: todo.CodeAborted, Op: "transaction", Err: todo.ErrConflict}
}

func (s *RedisStore) apply(ctx context.Context, writes []write) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx todo.Transaction) error {
		tx.(*redisTransaction).writes = writes
		return nil
	})
}

// commitWrites resolves updates against the watched current values and
// executes every write in one MULTI/EXEC, publishing each touched collection.
func (s *RedisStore) commitWrites(ctx context.Context, rtx *redis.Tx, writes []write) error {
	if len(writes) == 0 {
		return nil
	}

	type target struct {
		collection, id string
	}
	state := make(map[target]todo.Fields) // nil value: deleted
	var order []target

	for _, w := range writes {
		t := target{w.collection, w.id}
		if _, seen := state[t]; !seen {
			order = append(order, t)
		}

		switch w.kind {
		case writeSet:
			fields, err := normalizeFields(w.fields)
			if err != nil {
				return err
			}
			state[t] = fields
		case writeUpdate:
			current, seen := state[t]
			if !seen {
				doc, err := readWatched(ctx, rtx, s.docKey(w.collection, w.id), w.id)
				if err != nil {
					return err
				}
				if doc != nil {
					current = doc.Fields
				}
			}
			if current == nil {
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
			state[t] = mergeFields(current, patch)
		case writeDelete:
			state[t] = nil
		}
	}

	touched := make(map[string]bool)
	_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range order {
			fields := state[t]
			if fields == nil {
				pipe.Del(ctx, s.docKey(t.collection, t.id))
				pipe.SRem(ctx, s.idsKey(t.collection), t.id)
			} else {
				data, err := json.Marshal(fields)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.docKey(t.collection, t.id), data, 0)
				pipe.SAdd(ctx, s.idsKey(t.collection), t.id)
			}
			touched[t.collection] = true
		}
		for collection := range touched {
			pipe.Publish(ctx, s.channel(collection), "changed")
		}
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return err
	}
	return redisError("commit", err)
}

func readWatched(ctx context.Context, rtx *redis.Tx, key, id string) (*todo.Document, error) {
	if err := rtx.Watch(ctx, key).Err(); err != nil {
		return nil, redisError("watch", err)
	}
	data, err := rtx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisError("get", err)
	}
	return decodeDocument(id, data)
}

// Subscribe re-runs q whenever the collection's change channel fires.
// A dropped pub/sub connection is reported to onError and re-established.
func (s *RedisStore) Subscribe(q todo.Query, onSnapshot func([]todo.Document), onError func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		if onError != nil {
			onError(todo.ErrClosed)
		}
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.watch(ctx, q, onSnapshot, onError)
	}()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		cancel()
	}
}

func (s *RedisStore) watch(ctx context.Context, q todo.Query, onSnapshot func([]todo.Document), onError func(error)) {
	var gate snapshotGate
	report := func(err error) {
		gate.failed()
		if ctx.Err() == nil && onError != nil {
			onError(err)
		}
	}
	deliver := func() {
		docs, err := s.Query(ctx, q)
		if err != nil {
			report(err)
			return
		}
		if ctx.Err() != nil || !gate.admit(docs) {
			return
		}
		onSnapshot(docs)
	}

	for {
		sub := s.client.Subscribe(ctx, s.channel(q.Collection))
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			report(redisError("subscribe", err))
			if !sleepCtx(ctx, resubscribeWait) {
				return
			}
			continue
		}

		deliver()
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break recv
				}
				drain(ch)
				deliver()
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("pubsub channel closed, reconnecting", "collection", q.Collection)
		if !sleepCtx(ctx, resubscribeWait) {
			return
		}
	}
}

// drain discards notifications that queued up while a query ran.
func drain(ch <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close stops every subscription and closes the client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cancel := range s.subs {
		cancel()
	}
	s.subs = nil
	s.mu.Unlock()

	s.wg.Wait()
	return s.client.Close()
}

func decodeDocument(id string, data []byte) (*todo.Document, error) {
	var fields todo.Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &todo.StoreError{Code: todo.CodeUnknown, Op: "decode", Err: fmt.Errorf("document %s: %w", id, err)}
	}
	if fields == nil {
		fields = todo.Fields{}
	}
	return &todo.Document{ID: id, Fields: fields}, nil
}

func redisError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *todo.StoreError
	switch {
	case errors.As(err, &se), errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &todo.StoreError{Code: todo.CodeDeadlineExceeded, Op: op, Err: err}
	case errors.Is(err, redis.TxFailedErr):
		return &todo.StoreError{Code: todo.CodeAborted, Op: op, Err: err}
	case strings.HasPrefix(err.Error(), "NOAUTH"), strings.HasPrefix(err.Error(), "WRONGPASS"), strings.HasPrefix(err.Error(), "NOPERM"):
		return &todo.StoreError{Code: todo.CodePermissionDenied, Op: op, Err: err}
	}
	return &todo.StoreError{Code: todo.CodeUnavailable, Op: op, Err: err}
}

type redisBatch struct {
	writeList
	store *RedisStore
}

func (b *redisBatch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	return b.store.apply(ctx, b.writes)
}

type redisTransaction struct {
	writeList
	store *RedisStore
	tx    *redis.Tx
}

func (t *redisTransaction) Get(ctx context.Context, collection, id string) (*todo.Document, error) {
	if len(t.writes) > 0 {
		return nil, &todo.StoreError{
			Code: todo.CodeInvalidArgument,
			Op:   "transaction get",
			Err:  errors.New("reads must come before writes"),
		}
	}
	return readWatched(ctx, t.tx, t.store.docKey(collection, id), id)
}
