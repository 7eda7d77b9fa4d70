package todo_test

import (
	"testing"

	"todo-go/internal/model"
	"todo-go/internal/todo"
)

func newStoreFixture(t *testing.T) (*todo.Store, *todo.Stream[[]model.Task], *todo.Stream[[]model.Category]) {
	t.Helper()
	tasks := todo.NewStream([]model.Task{
		{ID: "1", Title: "Comprar", CategoryID: "personal", CreatedAt: 1, UpdatedAt: 1},
		{ID: "2", Title: "Enviar informe", Completed: true, CategoryID: "work", CreatedAt: 1, UpdatedAt: 1},
		{ID: "3", Title: "Revisar facturas", CreatedAt: 1, UpdatedAt: 1},
	})
	categories := todo.NewStream([]model.Category{
		{ID: "work", Name: "Trabajo", Color: "#3880ff"},
		{ID: "personal", Name: "Personal", Color: "#eb445a"},
	})
	s := todo.NewStore(tasks, categories)
	t.Cleanup(s.Close)
	return s, tasks, categories
}

func taskIDs(tasks []model.TaskWithCategory) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestStore_FilteredTasks(t *testing.T) {
	s, _, _ := newStoreFixture(t)

	tests := []struct {
		filter string
		want   []string
	}{
		{filter: model.FilterAll, want: []string{"1", "2", "3"}},
		{filter: "work", want: []string{"2"}},
		{filter: model.FilterNone, want: []string{"3"}},
		{filter: "personal", want: []string{"1"}},
		{filter: "missing", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			s.SelectCategory(tt.filter)
			got := taskIDs(s.FilteredTasks().Value())
			if len(got) != len(tt.want) {
				t.Fatalf("FilteredTasks() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("FilteredTasks()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStore_FilteredTasksEmitsOnSelection(t *testing.T) {
	s, _, _ := newStoreFixture(t)

	var emissions [][]model.TaskWithCategory
	cancel := s.FilteredTasks().Observe(func(v []model.TaskWithCategory) { emissions = append(emissions, v) })
	defer cancel()

	s.SelectCategory("work")
	s.SelectCategory("work") // unchanged selection does not recompute

	if len(emissions) != 2 {
		t.Fatalf("emissions = %d, want 2", len(emissions))
	}
	if len(emissions[0]) != 3 {
		t.Errorf("initial emission has %d tasks, want 3", len(emissions[0]))
	}
	if len(emissions[1]) != 1 || emissions[1][0].Title != "Enviar informe" {
		t.Errorf("work emission = %+v, want [Enviar informe]", emissions[1])
	}
}

func TestStore_TasksWithCategory(t *testing.T) {
	s, _, _ := newStoreFixture(t)

	joined := s.TasksWithCategory().Value()
	if len(joined) != 3 {
		t.Fatalf("len(TasksWithCategory()) = %d, want 3", len(joined))
	}
	if joined[0].Category == nil || joined[0].Category.Name != "Personal" {
		t.Errorf("task 1 category = %+v, want Personal", joined[0].Category)
	}
	if joined[2].Category != nil {
		t.Errorf("task 3 category = %+v, want nil", joined[2].Category)
	}
}

func TestStore_UnresolvedCategoryIsNil(t *testing.T) {
	s, tasks, _ := newStoreFixture(t)

	tasks.Publish([]model.Task{{ID: "9", Title: "Huérfana", CategoryID: "deleted"}})

	joined := s.TasksWithCategory().Value()
	if len(joined) != 1 || joined[0].Category != nil {
		t.Errorf("TasksWithCategory() = %+v, want one task with nil category", joined)
	}
	// A dangling id is still a category id, not "none".
	s.SelectCategory(model.FilterNone)
	if got := s.FilteredTasks().Value(); len(got) != 0 {
		t.Errorf("none filter = %v, want empty", taskIDs(got))
	}
}

func TestStore_Stats(t *testing.T) {
	s, _, _ := newStoreFixture(t)

	want := model.TaskStats{Total: 3, Completed: 1, Pending: 2}
	if got := s.Stats().Value(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestStore_CategorySummary(t *testing.T) {
	s, _, _ := newStoreFixture(t)

	got := s.CategorySummary().Value()
	want := []model.CategorySummary{
		{Category: model.Category{ID: "work", Name: "Trabajo", Color: "#3880ff"}, Total: 1, Completed: 1},
		{Category: model.Category{ID: "personal", Name: "Personal", Color: "#eb445a"}, Total: 1, Completed: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("CategorySummary() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CategorySummary()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStore_UncategorizedSummary(t *testing.T) {
	s, _, _ := newStoreFixture(t)

	want := model.TaskStats{Total: 1, Completed: 0, Pending: 1}
	if got := s.UncategorizedSummary().Value(); got != want {
		t.Errorf("UncategorizedSummary() = %+v, want %+v", got, want)
	}
}

func TestStore_RecomputesOncePerUpstreamChange(t *testing.T) {
	s, tasks, _ := newStoreFixture(t)

	var statsEmissions int
	cancel := s.Stats().Observe(func(model.TaskStats) { statsEmissions++ })
	defer cancel()

	tasks.Publish([]model.Task{{ID: "1", Completed: true}})

	if statsEmissions != 2 {
		t.Errorf("stats emissions = %d, want 2 (replay + one change)", statsEmissions)
	}
	want := model.TaskStats{Total: 1, Completed: 1, Pending: 0}
	if got := s.Stats().Value(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestStore_CategoryChangeUpdatesSummary(t *testing.T) {
	s, _, categories := newStoreFixture(t)

	categories.Publish([]model.Category{{ID: "personal", Name: "Personal"}})

	got := s.CategorySummary().Value()
	if len(got) != 1 || got[0].Category.ID != "personal" || got[0].Total != 1 {
		t.Errorf("CategorySummary() = %+v, want one personal entry with total 1", got)
	}
}
