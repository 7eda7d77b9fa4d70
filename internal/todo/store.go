package todo

import (
	"sync"

	"todo-go/internal/model"
)

// Store derives read-only views from the live task and category streams.
// Each view is recomputed once per upstream change and shared by all
// observers.
type Store struct {
	mu         sync.Mutex
	tasks      []model.Task
	categories []model.Category
	filter     string
	ready      bool
	cancels    []func()

	joined        *Stream[[]model.TaskWithCategory]
	filtered      *Stream[[]model.TaskWithCategory]
	stats         *Stream[model.TaskStats]
	summary       *Stream[[]model.CategorySummary]
	uncategorized *Stream[model.TaskStats]
	selected      *Stream[string]
}

// NewStore starts observing tasks and categories. Call Close to stop.
func NewStore(tasks Observable[[]model.Task], categories Observable[[]model.Category]) *Store {
	s := &Store{
		filter:        model.FilterAll,
		joined:        NewStream[[]model.TaskWithCategory](nil),
		filtered:      NewStream[[]model.TaskWithCategory](nil),
		stats:         NewStream(model.TaskStats{}),
		summary:       NewStream[[]model.CategorySummary](nil),
		uncategorized: NewStream(model.TaskStats{}),
		selected:      NewStream(model.FilterAll),
	}

	s.cancels = append(s.cancels, tasks.Observe(func(ts []model.Task) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tasks = ts
		s.recompute()
	}))
	s.cancels = append(s.cancels, categories.Observe(func(cs []model.Category) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.categories = cs
		s.recompute()
	}))

	s.mu.Lock()
	s.ready = true
	s.recompute()
	s.mu.Unlock()
	return s
}

// SelectCategory changes the filter applied by FilteredTasks: "all", "none",
// or a category id.
func (s *Store) SelectCategory(filter string) {
	if filter == "" {
		filter = model.FilterAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if filter == s.filter {
		return
	}
	s.filter = filter
	s.selected.Publish(filter)
	if s.ready {
		s.filtered.Publish(FilterTasks(s.joined.Value(), filter))
	}
}

// SelectedCategory streams the current filter.
func (s *Store) SelectedCategory() Observable[string] { return s.selected }

// TasksWithCategory streams every task joined with its category.
func (s *Store) TasksWithCategory() Observable[[]model.TaskWithCategory] { return s.joined }

// FilteredTasks streams the joined tasks that match the selected filter.
func (s *Store) FilteredTasks() Observable[[]model.TaskWithCategory] { return s.filtered }

// Stats streams completion counts over all tasks.
func (s *Store) Stats() Observable[model.TaskStats] { return s.stats }

// CategorySummary streams per-category counts in category-list order.
func (s *Store) CategorySummary() Observable[[]model.CategorySummary] { return s.summary }

// UncategorizedSummary streams counts for tasks without a category.
func (s *Store) UncategorizedSummary() Observable[model.TaskStats] { return s.uncategorized }

// Close stops observing the upstream streams.
func (s *Store) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
}

// recompute must be called with s.mu held.
func (s *Store) recompute() {
	if !s.ready {
		return
	}
	joined := JoinTasks(s.tasks, s.categories)
	s.joined.Publish(joined)
	s.filtered.Publish(FilterTasks(joined, s.filter))
	s.stats.Publish(ComputeStats(s.tasks))
	s.summary.Publish(SummarizeCategories(s.tasks, s.categories))
	s.uncategorized.Publish(ComputeStats(uncategorizedTasks(s.tasks)))
}

// JoinTasks resolves each task's category. Unresolved ids leave Category nil.
func JoinTasks(tasks []model.Task, categories []model.Category) []model.TaskWithCategory {
	byID := make(map[string]model.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}
	out := make([]model.TaskWithCategory, 0, len(tasks))
	for _, t := range tasks {
		twc := model.TaskWithCategory{Task: t}
		if t.CategoryID != "" {
			if c, ok := byID[t.CategoryID]; ok {
				twc.Category = &c
			}
		}
		out = append(out, twc)
	}
	return out
}

// FilterTasks keeps everything for "all", tasks without a category id for
// "none", and tasks whose category id equals filter otherwise.
func FilterTasks(tasks []model.TaskWithCategory, filter string) []model.TaskWithCategory {
	if filter == model.FilterAll || filter == "" {
		return tasks
	}
	want := filter
	if filter == model.FilterNone {
		want = ""
	}
	out := make([]model.TaskWithCategory, 0)
	for _, t := range tasks {
		if t.CategoryID == want {
			out = append(out, t)
		}
	}
	return out
}

// ComputeStats counts total, completed and pending tasks.
func ComputeStats(tasks []model.Task) model.TaskStats {
	var st model.TaskStats
	for _, t := range tasks {
		st.Total++
		if t.Completed {
			st.Completed++
		}
	}
	st.Pending = st.Total - st.Completed
	return st
}

// SummarizeCategories counts tasks per category, in the order of categories.
func SummarizeCategories(tasks []model.Task, categories []model.Category) []model.CategorySummary {
	out := make([]model.CategorySummary, 0, len(categories))
	for _, c := range categories {
		sum := model.CategorySummary{Category: c}
		for _, t := range tasks {
			if t.CategoryID != c.ID {
				continue
			}
			sum.Total++
			if t.Completed {
				sum.Completed++
			}
		}
		out = append(out, sum)
	}
	return out
}

func uncategorizedTasks(tasks []model.Task) []model.Task {
	var out []model.Task
	for _, t := range tasks {
		if t.CategoryID == "" {
			out = append(out, t)
		}
	}
	return out
}
