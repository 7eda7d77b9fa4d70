package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"todo-go/internal/todo"
)

const (
	partitionKey = "todo"
	// maxTransactionActions is the entity group transaction limit.
	maxTransactionActions = 100
)

// TableStore keeps each collection in its own Azure table, every document in
// a single partition. Changes are discovered by polling.
type TableStore struct {
	svc          *aztables.ServiceClient
	tablePrefix  string
	pollInterval time.Duration
	logger       todo.Logger

	tablesMu sync.Mutex
	tables   map[string]*aztables.Client

	mu     sync.Mutex
	subs   map[int]context.CancelFunc
	nextID int
	closed bool
	wg     sync.WaitGroup
}

var _ todo.DocumentStore = (*TableStore)(nil)

// NewTableStore connects with connStr. Table names are tablePrefix followed
// by the collection name.
func NewTableStore(connStr, tablePrefix string, pollInterval time.Duration, logger todo.Logger) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, fmt.Errorf("creating table service client: %w", err)
	}
	if tablePrefix == "" {
		tablePrefix = "todo"
	}
	return &TableStore{
		svc:          svc,
		tablePrefix:  tablePrefix,
		pollInterval: pollInterval,
		logger:       logger,
		tables:       make(map[string]*aztables.Client),
		subs:         make(map[int]context.CancelFunc),
	}, nil
}

// table returns the client for collection, creating the table on first use.
func (s *TableStore) table(ctx context.Context, collection string) (*aztables.Client, error) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	if c, ok := s.tables[collection]; ok {
		return c, nil
	}

	c := s.svc.NewClient(s.tablePrefix + collection)
	if _, err := c.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return nil, tableError("create table", err)
		}
	}
	s.tables[collection] = c
	return c, nil
}

func (s *TableStore) Get(ctx context.Context, collection, id string) (*todo.Document, error) {
	doc, _, err := s.getWithETag(ctx, collection, id)
	return doc, err
}

func (s *TableStore) getWithETag(ctx context.Context, collection, id string) (*todo.Document, *azcore.ETag, error) {
	c, err := s.table(ctx, collection)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.GetEntity(ctx, partitionKey, id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, nil, nil
		}
		return nil, nil, tableError("get", err)
	}
	doc, err := decodeEntity(resp.Value)
	if err != nil {
		return nil, nil, err
	}
	etag := resp.ETag
	return doc, &etag, nil
}

func (s *TableStore) Set(ctx context.Context, collection, id string, fields todo.Fields) error {
	return s.apply(ctx, []write{{kind: writeSet, collection: collection, id: id, fields: fields}})
}

func (s *TableStore) Update(ctx context.Context, collection, id string, fields todo.Fields) error {
	return s.apply(ctx, []write{{kind: writeUpdate, collection: collection, id: id, fields: fields}})
}

func (s *TableStore) Delete(ctx context.Context, collection, id string) error {
	return s.apply(ctx, []write{{kind: writeDelete, collection: collection, id: id}})
}

func (s *TableStore) Query(ctx context.Context, q todo.Query) ([]todo.Document, error) {
	c, err := s.table(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	filter := "PartitionKey eq '" + partitionKey + "'"
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	docs := []todo.Document{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, tableError("query", err)
		}
		for _, e := range resp.Entities {
			doc, err := decodeEntity(e)
			if err != nil {
				return nil, err
			}
			docs = append(docs, *doc)
		}
	}
	return applyQuery(docs, q), nil
}

func (s *TableStore) NewBatch() todo.WriteBatch {
	return &tableBatch{store: s}
}

// RunTransaction records the ETag of every document fn reads and submits
// fn's writes conditioned on them. A lost race re-runs fn.
func (s *TableStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx todo.Transaction) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		tx := &tableTransaction{store: s, reads: make(map[docRef]*readState)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commit(ctx, tx.writes, tx.reads)
		if isConflict(err) {
			continue
		}
		return err
	}
	return &todo.StoreError{Code: todo.CodeAborted, Op: "transaction", Err: todo.ErrConflict}
}

func (s *TableStore) apply(ctx context.Context, writes []write) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.commit(ctx, writes, nil)
		if isConflict(err) {
			continue
		}
		return err
	}
	return &todo.StoreError{Code: todo.CodeAborted, Op: "commit", Err: todo.ErrConflict}
}

type docRef struct {
	collection, id string
}

type readState struct {
	fields todo.Fields // nil: missing
	etag   *azcore.ETag
}

// commit resolves writes to one final action per document and submits them
// per collection. Groups larger than the transaction limit are split, so a
// very large batch is only atomic per chunk.
func (s *TableStore) commit(ctx context.Context, writes []write, reads map[docRef]*readState) error {
	if len(writes) == 0 {
		return nil
	}
	if reads == nil {
		reads = make(map[docRef]*readState)
	}

	final := make(map[docRef]todo.Fields)
	var order []docRef
	current := func(ref docRef) (*readState, error) {
		if st, ok := reads[ref]; ok {
			return st, nil
		}
		doc, etag, err := s.getWithETag(ctx, ref.collection, ref.id)
		if err != nil {
			return nil, err
		}
		st := &readState{etag: etag}
		if doc != nil {
			st.fields = doc.Fields
		}
		reads[ref] = st
		return st, nil
	}

	for _, w := range writes {
		ref := docRef{w.collection, w.id}
		if _, seen := final[ref]; !seen {
			order = append(order, ref)
		}
		switch w.kind {
		case writeSet:
			fields, err := normalizeFields(w.fields)
			if err != nil {
				return err
			}
			final[ref] = fields
		case writeUpdate:
			base, seen := final[ref]
			if !seen {
				st, err := current(ref)
				if err != nil {
					return err
				}
				base = st.fields
			}
			if base == nil {
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
			final[ref] = mergeFields(base, patch)
		case writeDelete:
			if _, err := current(ref); err != nil {
				return err
			}
			final[ref] = nil
		}
	}

	grouped := make(map[string][]aztables.TransactionAction)
	var collectionsInOrder []string
	for _, ref := range order {
		action, skip, err := buildAction(ref, final[ref], reads[ref])
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		if _, ok := grouped[ref.collection]; !ok {
			collectionsInOrder = append(collectionsInOrder, ref.collection)
		}
		grouped[ref.collection] = append(grouped[ref.collection], action)
	}

	for _, collection := range collectionsInOrder {
		c, err := s.table(ctx, collection)
		if err != nil {
			return err
		}
		actions := grouped[collection]
		for start := 0; start < len(actions); start += maxTransactionActions {
			end := min(start+maxTransactionActions, len(actions))
			if _, err := c.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
				return tableError("commit", err)
			}
		}
	}
	return nil
}

// buildAction picks the transaction action for one document. Documents that
// were read are written conditionally on the ETag seen.
func buildAction(ref docRef, fields todo.Fields, read *readState) (aztables.TransactionAction, bool, error) {
	if fields == nil {
		if read != nil && read.fields == nil {
			return aztables.TransactionAction{}, true, nil
		}
		entity, err := json.Marshal(map[string]string{"PartitionKey": partitionKey, "RowKey": ref.id})
		if err != nil {
			return aztables.TransactionAction{}, false, err
		}
		action := aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: entity}
		if read != nil {
			action.IfMatch = read.etag
		} else {
			etag := azcore.ETagAny
			action.IfMatch = &etag
		}
		return action, false, nil
	}

	entity, err := encodeEntity(ref.id, fields)
	if err != nil {
		return aztables.TransactionAction{}, false, err
	}
	switch {
	case read == nil:
		return aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: entity}, false, nil
	case read.fields == nil:
		return aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: entity}, false, nil
	}
	return aztables.TransactionAction{
		ActionType: aztables.TransactionTypeUpdateReplace,
		Entity:     entity,
		IfMatch:    read.etag,
	}, false, nil
}

// Subscribe polls q every poll interval and delivers when the result changes.
func (s *TableStore) Subscribe(q todo.Query, onSnapshot func([]todo.Document), onError func(error)) func() {
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
		s.poll(ctx, q, onSnapshot, onError)
	}()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		cancel()
	}
}

func (s *TableStore) poll(ctx context.Context, q todo.Query, onSnapshot func([]todo.Document), onError func(error)) {
	var gate snapshotGate
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		docs, err := s.Query(ctx, q)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			gate.failed()
			if onError != nil {
				onError(err)
			}
		case gate.admit(docs):
			onSnapshot(docs)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops polling. The service client holds no connections to release.
func (s *TableStore) Close() error {
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
	return nil
}

// encodeEntity flattens fields into a table entity. Numbers are sent as
// Edm.Double so millisecond timestamps keep their type; nil fields are
// omitted since a missing property reads back as null.
func encodeEntity(id string, fields todo.Fields) ([]byte, error) {
	entity := map[string]any{
		"PartitionKey": partitionKey,
		"RowKey":       id,
	}
	for k, v := range fields {
		switch val := v.(type) {
		case nil:
		case bool, string:
			entity[k] = val
		case float64:
			entity[k] = val
			entity[k+"@odata.type"] = "Edm.Double"
		default:
			return nil, &todo.StoreError{
				Code: todo.CodeInvalidArgument,
				Op:   "encode",
				Err:  fmt.Errorf("field %q: unsupported type %T", k, v),
			}
		}
	}
	return json.Marshal(entity)
}

func decodeEntity(data []byte) (*todo.Document, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &todo.StoreError{Code: todo.CodeUnknown, Op: "decode", Err: err}
	}
	id, _ := raw["RowKey"].(string)
	fields := todo.Fields{}
	for k, v := range raw {
		switch {
		case k == "PartitionKey", k == "RowKey", k == "Timestamp":
		case strings.HasPrefix(k, "odata."), strings.Contains(k, "@odata."):
		default:
			fields[k] = v
		}
	}
	// Int64 and Double special values arrive as strings with a type annotation.
	for k, v := range fields {
		str, ok := v.(string)
		if !ok {
			continue
		}
		switch raw[k+"@odata.type"] {
		case "Edm.Int64", "Edm.Double":
			if f, err := strconv.ParseFloat(str, 64); err == nil {
				fields[k] = f
			}
		}
	}
	return &todo.Document{ID: id, Fields: fields}, nil
}

func tableError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &todo.StoreError{Code: todo.CodeDeadlineExceeded, Op: op, Err: err}
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return &todo.StoreError{Code: todo.CodeUnavailable, Op: op, Err: err}
	}
	return &todo.StoreError{Code: codeForStatus(respErr.StatusCode), Op: op, Err: err}
}

func codeForStatus(status int) todo.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return todo.CodeNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return todo.CodePermissionDenied
	case http.StatusConflict, http.StatusPreconditionFailed:
		return todo.CodeAborted
	case http.StatusBadRequest:
		return todo.CodeInvalidArgument
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return todo.CodeDeadlineExceeded
	}
	return todo.CodeUnavailable
}

func isConflict(err error) bool {
	var se *todo.StoreError
	return errors.As(err, &se) && se.Code == todo.CodeAborted
}

type tableBatch struct {
	writeList
	store *TableStore
}

func (b *tableBatch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	return b.store.apply(ctx, b.writes)
}

type tableTransaction struct {
	writeList
	store *TableStore
	reads map[docRef]*readState
}

func (t *tableTransaction) Get(ctx context.Context, collection, id string) (*todo.Document, error) {
	if len(t.writes) > 0 {
		return nil, &todo.StoreError{
			Code: todo.CodeInvalidArgument,
			Op:   "transaction get",
			Err:  errors.New("reads must come before writes"),
		}
	}
	doc, etag, err := t.store.getWithETag(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	st := &readState{etag: etag}
	if doc != nil {
		st.fields = doc.Fields
	}
	t.reads[docRef{collection, id}] = st
	return doc, nil
}
