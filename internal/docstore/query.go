// Package docstore provides the remote document stores the repositories
// sync against: an in-process engine (optionally persisted to a shared file),
// Redis and Azure Tables.
package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"todo-go/internal/todo"
)

// normalizeFields round-trips fields through JSON so every backend stores
// and compares the same value types: nil, bool, float64, string, []any and
// map[string]any.
func normalizeFields(fields todo.Fields) (todo.Fields, error) {
	if fields == nil {
		return todo.Fields{}, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, &todo.StoreError{Code: todo.CodeInvalidArgument, Op: "encode", Err: err}
	}
	var out todo.Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &todo.StoreError{Code: todo.CodeInvalidArgument, Op: "encode", Err: err}
	}
	return out, nil
}

func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// mergeFields returns base with patch applied. Neither input is modified.
func mergeFields(base, patch todo.Fields) todo.Fields {
	out := make(todo.Fields, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func cloneFields(f todo.Fields) todo.Fields {
	if f == nil {
		return nil
	}
	return mergeFields(f, nil)
}

// matches reports whether fields satisfy every equality filter.
// A nil filter value matches a null or missing field.
func matches(fields todo.Fields, where []todo.Filter) bool {
	for _, f := range where {
		want := normalizeValue(f.Value)
		got, ok := fields[f.Field]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// applyQuery filters and orders docs in place and returns the result.
func applyQuery(docs []todo.Document, q todo.Query) []todo.Document {
	out := docs[:0]
	for _, d := range docs {
		if matches(d.Fields, q.Where) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessDocuments(out[i], out[j], q.OrderBy, q.Descending)
	})
	return out
}

func lessDocuments(a, b todo.Document, field string, desc bool) bool {
	if field != "" {
		av, aok := a.Fields[field]
		bv, bok := b.Fields[field]
		aok = aok && av != nil
		bok = bok && bv != nil
		switch {
		case aok && !bok:
			return true
		case !aok && bok:
			return false
		case aok && bok:
			if c := compareValues(av, bv); c != 0 {
				if desc {
					return c > 0
				}
				return c < 0
			}
		}
	}
	return a.ID < b.ID
}

// compareValues orders normalized values: bools, then numbers, then strings,
// then anything else by its JSON text.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case float64:
		return 1
	case string:
		return 2
	}
	return 3
}

// snapshotGate drops a query result identical to the last one delivered on a
// subscription. After an error the next result always passes, so listeners
// that went offline hear that the store is reachable again.
type snapshotGate struct {
	seen bool
	last []todo.Document
}

// admit reports whether docs should be delivered, and records them if so.
func (g *snapshotGate) admit(docs []todo.Document) bool {
	if g.seen && sameSnapshot(g.last, docs) {
		return false
	}
	g.seen = true
	g.last = docs
	return true
}

// failed forgets the last delivery after an error was reported.
func (g *snapshotGate) failed() {
	g.seen = false
	g.last = nil
}

// sameSnapshot reports whether two query results are identical.
func sameSnapshot(a, b []todo.Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || !reflect.DeepEqual(a[i].Fields, b[i].Fields) {
			return false
		}
	}
	return true
}
