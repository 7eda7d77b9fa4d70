package repository

import (
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"todo-go/internal/model"
)

// nameOrder sorts categories by name the way a Spanish-speaking user expects:
// case and accents are ignored ("árbol" sorts with "Arbol", before "casa").
// A Collator is not safe for concurrent use, hence the lock.
type nameOrder struct {
	mu       sync.Mutex
	collator *collate.Collator
}

func newNameOrder() *nameOrder {
	return &nameOrder{collator: collate.New(language.Spanish, collate.IgnoreCase, collate.IgnoreDiacritics)}
}

// sort orders categories in place. Equal names keep their relative order.
func (o *nameOrder) sort(categories []model.Category) []model.Category {
	o.mu.Lock()
	defer o.mu.Unlock()
	sort.SliceStable(categories, func(i, j int) bool {
		return o.collator.CompareString(categories[i].Name, categories[j].Name) < 0
	})
	return categories
}
