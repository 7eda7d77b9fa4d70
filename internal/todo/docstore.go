package todo

import "context"

// Collection names in the remote document store.
const (
	TasksCollection      = "tasks"
	CategoriesCollection = "categories"
)

// Fields is the body of a remote document. A nil value is stored as null.
// Numbers read back from a store are float64.
type Fields map[string]any

// Document is a remote document and its id.
type Document struct {
	ID     string
	Fields Fields
}

// Filter matches documents whose Field equals Value.
// A nil Value matches documents where the field is null or missing.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection.
// Documents missing the OrderBy field sort last; ties are broken by id.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Descending bool
}

// DocumentStore is the remote source of truth.
type DocumentStore interface {
	// Get returns the document, or nil, nil if it does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Set creates or fully replaces a document.
	Set(ctx context.Context, collection, id string, fields Fields) error

	// Update merges fields into an existing document.
	// Returns an error matching ErrNotFound if the document does not exist.
	Update(ctx context.Context, collection, id string, fields Fields) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query returns the documents matching q in order.
	Query(ctx context.Context, q Query) ([]Document, error)

	// NewBatch starts a group of writes that commit atomically.
	NewBatch() WriteBatch

	// RunTransaction runs fn as an atomic read-modify-write. Reads must come
	// before writes. fn may be called more than once if the documents it read
	// change before commit; its writes apply only if it returns nil.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// Subscribe delivers the full ordered result of q once at start and again
	// after every change. Delivery errors go to onError and do not end the
	// subscription. The returned func stops delivery.
	Subscribe(q Query, onSnapshot func([]Document), onError func(error)) (unsubscribe func())

	Close() error
}

// WriteBatch collects writes for a single atomic commit.
// A batch must not be reused after Commit.
type WriteBatch interface {
	Set(collection, id string, fields Fields)
	Update(collection, id string, fields Fields)
	Delete(collection, id string)
	Len() int
	Commit(ctx context.Context) error
}

// Transaction is the view of the store inside RunTransaction.
type Transaction interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(collection, id string, fields Fields)
	Update(collection, id string, fields Fields)
	Delete(collection, id string)
}
