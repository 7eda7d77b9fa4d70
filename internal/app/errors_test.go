package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"todo-go/internal/todo"
)

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "empty title", err: fmt.Errorf("add: %w", todo.ErrEmptyTitle), want: "The task needs a title."},
		{name: "empty name", err: todo.ErrEmptyName, want: "The category needs a name."},
		{name: "empty id", err: todo.ErrEmptyID, want: "Say which task or category you mean."},
		{name: "bulk disabled", err: todo.ErrBulkActionsDisabled, want: "Bulk actions are not enabled right now."},
		{
			name: "unavailable store error",
			err:  &todo.StoreError{Code: todo.CodeUnavailable, Op: "set", Err: errors.New("dial tcp: refused")},
			want: "Could not reach the server. Your change was undone; try again when you are back online.",
		},
		{name: "not found sentinel", err: fmt.Errorf("update: %w", todo.ErrNotFound), want: "That item no longer exists. It may have been deleted elsewhere."},
		{name: "conflict", err: todo.ErrConflict, want: "Someone else changed this at the same time. Please try again."},
		{name: "deadline", err: context.DeadlineExceeded, want: "The server took too long to answer. Your change was undone."},
		{name: "permission", err: &todo.StoreError{Code: todo.CodePermissionDenied, Op: "get", Err: errors.New("NOAUTH")}, want: "You do not have permission to make this change."},
		{name: "unknown keeps text", err: errors.New("something odd"), want: "something odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeError(tt.err); got != tt.want {
				t.Errorf("DescribeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
