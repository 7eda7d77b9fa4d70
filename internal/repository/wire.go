package repository

import (
	"encoding/json"
	"math"

	"todo-go/internal/model"
	"todo-go/internal/todo"
)

// Wire field names. An absent category or color travels as null.
const (
	fieldTitle      = "title"
	fieldCompleted  = "completed"
	fieldCategoryID = "categoryId"
	fieldCreatedAt  = "createdAt"
	fieldUpdatedAt  = "updatedAt"
	fieldName       = "name"
	fieldColor      = "color"
)

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func taskFields(t model.Task) todo.Fields {
	return todo.Fields{
		fieldTitle:      t.Title,
		fieldCompleted:  t.Completed,
		fieldCategoryID: nullable(t.CategoryID),
		fieldCreatedAt:  t.CreatedAt,
		fieldUpdatedAt:  t.UpdatedAt,
	}
}

// taskFromDocument tolerates missing fields: completed defaults to false,
// createdAt to now, and updatedAt to createdAt.
func taskFromDocument(doc todo.Document, now int64) model.Task {
	t := model.Task{ID: doc.ID}
	t.Title, _ = doc.Fields[fieldTitle].(string)
	t.Completed, _ = doc.Fields[fieldCompleted].(bool)
	t.CategoryID, _ = doc.Fields[fieldCategoryID].(string)

	createdAt, ok := millis(doc.Fields[fieldCreatedAt])
	if !ok {
		createdAt = now
	}
	t.CreatedAt = createdAt

	updatedAt, ok := millis(doc.Fields[fieldUpdatedAt])
	if !ok {
		updatedAt = createdAt
	}
	t.UpdatedAt = updatedAt
	return t
}

func categoryFields(c model.Category) todo.Fields {
	return todo.Fields{
		fieldName:  c.Name,
		fieldColor: nullable(c.Color),
	}
}

func categoryFromDocument(doc todo.Document) model.Category {
	c := model.Category{ID: doc.ID}
	c.Name, _ = doc.Fields[fieldName].(string)
	c.Color, _ = doc.Fields[fieldColor].(string)
	return c
}

// millis reads a timestamp that may have been decoded as any numeric type.
func millis(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	}
	return 0, false
}
