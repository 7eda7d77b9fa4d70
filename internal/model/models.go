package model

// Task is a single to-do item. IDs are generated client side and never change.
// An empty CategoryID means the task is uncategorized.
type Task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Completed  bool   `json:"completed"`
	CategoryID string `json:"categoryId,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // epoch milliseconds
	UpdatedAt  int64  `json:"updatedAt"` // epoch milliseconds, >= CreatedAt
}

// Category groups tasks. An empty Color means no color was chosen.
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// TaskWithCategory joins a task with its resolved category.
// Category is nil when the task has no category or the id does not resolve.
type TaskWithCategory struct {
	Task
	Category *Category `json:"category,omitempty"`
}

// TaskStats counts tasks by completion.
type TaskStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

// CategorySummary holds task counts for one category.
type CategorySummary struct {
	Category  Category `json:"category"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
}

// Filter values accepted by the task view besides a category id.
const (
	FilterAll  = "all"
	FilterNone = "none"
)
