package repository

import (
	"context"

	"todo-go/internal/model"
	"todo-go/internal/todo"
)

// RemoteCategoryRepository keeps the category list in sync with the
// categories collection of a document store.
type RemoteCategoryRepository struct {
	list  *syncedList[model.Category]
	store todo.DocumentStore
	ids   todo.IDGenerator
	order *nameOrder
	life  *lifecycle
}

var _ todo.CategoryRepository = (*RemoteCategoryRepository)(nil)

func NewRemoteCategoryRepository(store todo.DocumentStore, opts Options) *RemoteCategoryRepository {
	opts = opts.withDefaults()
	r := &RemoteCategoryRepository{
		list:  newSyncedList[model.Category](todo.CategoriesChannel, todo.CategoriesCacheKey, opts),
		store: store,
		ids:   opts.IDs,
		order: newNameOrder(),
	}
	r.life = start(r.list, store,
		todo.Query{Collection: todo.CategoriesCollection, OrderBy: fieldName},
		r.decode,
	)
	return r
}

// decode re-sorts the store's byte order into collation order.
func (r *RemoteCategoryRepository) decode(docs []todo.Document) []model.Category {
	categories := make([]model.Category, len(docs))
	for i, d := range docs {
		categories[i] = categoryFromDocument(d)
	}
	return r.order.sort(categories)
}

func (r *RemoteCategoryRepository) Categories() todo.Observable[[]model.Category] {
	return r.list.state
}

// Restored is closed once the cached snapshot has been read.
func (r *RemoteCategoryRepository) Restored() <-chan struct{} { return r.list.restored }

func (r *RemoteCategoryRepository) Create(ctx context.Context, name, color string) (string, error) {
	c := model.Category{ID: r.ids.New(), Name: name, Color: color}
	err := r.list.mutate(ctx, "create category",
		func(categories []model.Category) []model.Category {
			return r.order.sort(append(categories, c))
		},
		func(ctx context.Context) error {
			return r.store.Set(ctx, todo.CategoriesCollection, c.ID, categoryFields(c))
		},
	)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (r *RemoteCategoryRepository) Update(ctx context.Context, id, name, color string) error {
	return r.list.mutate(ctx, "update category",
		func(categories []model.Category) []model.Category {
			for i := range categories {
				if categories[i].ID == id {
					categories[i].Name = name
					categories[i].Color = color
				}
			}
			return r.order.sort(categories)
		},
		func(ctx context.Context) error {
			return r.store.Update(ctx, todo.CategoriesCollection, id, categoryFields(model.Category{Name: name, Color: color}))
		},
	)
}

func (r *RemoteCategoryRepository) Delete(ctx context.Context, id string) error {
	return r.list.mutate(ctx, "delete category",
		func(categories []model.Category) []model.Category {
			return removeCategory(categories, id)
		},
		func(ctx context.Context) error {
			return r.store.Delete(ctx, todo.CategoriesCollection, id)
		},
	)
}

// Close stops the subscription. It does not close the document store.
func (r *RemoteCategoryRepository) Close() error {
	r.life.close(r.list.restored)
	return nil
}

func removeCategory(categories []model.Category, id string) []model.Category {
	kept := categories[:0]
	for _, c := range categories {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	return kept
}
