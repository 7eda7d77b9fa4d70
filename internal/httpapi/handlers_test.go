package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"todo-go/internal/app"
	"todo-go/internal/config"
	"todo-go/internal/model"
	"todo-go/internal/todo"
)

func newTestServer(t *testing.T, bulk bool) (*echo.Echo, *app.TodoApp) {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		BaseDir:      base,
		LogDir:       filepath.Join(base, "log"),
		Cache:        config.CacheConfig{Type: "memory"},
		Store:        config.StoreConfig{Type: "memory"},
		RemoteConfig: config.RemoteConfigConfig{Type: "static", EnableBulkActions: bulk, Welcome: "Bienvenido"},
	}
	a, err := app.NewTodoApp(context.Background(), cfg, "serve", "")
	if err != nil {
		t.Fatalf("NewTodoApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return New(a), a
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestTasksLifecycle(t *testing.T) {
	e, _ := newTestServer(t, false)

	rec := do(e, http.MethodPost, "/categories", `{"name":"Work","color":"#f00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /categories = %d %s", rec.Code, rec.Body)
	}
	cat := decode[idResponse](t, rec).ID

	rec = do(e, http.MethodPost, "/tasks", `{"title":"report","categoryId":"`+cat+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /tasks = %d %s", rec.Code, rec.Body)
	}
	taskID := decode[idResponse](t, rec).ID
	if rec := do(e, http.MethodPost, "/tasks", `{"title":"loose"}`); rec.Code != http.StatusCreated {
		t.Fatalf("POST /tasks = %d %s", rec.Code, rec.Body)
	}

	rec = do(e, http.MethodGet, "/tasks?filter="+cat, "")
	tasks := decode[[]model.TaskWithCategory](t, rec)
	if len(tasks) != 1 || tasks[0].ID != taskID || tasks[0].Category == nil || tasks[0].Category.Name != "Work" {
		t.Errorf("GET /tasks?filter=cat = %+v", tasks)
	}
	if got := decode[[]model.TaskWithCategory](t, do(e, http.MethodGet, "/tasks?filter=none", "")); len(got) != 1 {
		t.Errorf("GET /tasks?filter=none len = %d, want 1", len(got))
	}

	if rec := do(e, http.MethodPost, "/tasks/"+taskID+"/toggle", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("toggle = %d %s", rec.Code, rec.Body)
	}
	st := decode[statsResponse](t, do(e, http.MethodGet, "/stats", ""))
	if st.Stats != (model.TaskStats{Total: 2, Completed: 1, Pending: 1}) {
		t.Errorf("stats = %+v", st.Stats)
	}
	if len(st.Categories) != 1 || st.Categories[0].Completed != 1 {
		t.Errorf("category summary = %+v", st.Categories)
	}

	if rec := do(e, http.MethodPut, "/tasks/"+taskID+"/category", `{"categoryId":""}`); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT category = %d %s", rec.Code, rec.Body)
	}
	if rec := do(e, http.MethodDelete, "/tasks/"+taskID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE task = %d %s", rec.Code, rec.Body)
	}
	if got := decode[[]model.TaskWithCategory](t, do(e, http.MethodGet, "/tasks", "")); len(got) != 1 {
		t.Errorf("GET /tasks len = %d, want 1", len(got))
	}
}

func TestCategoryRoutes(t *testing.T) {
	e, a := newTestServer(t, false)

	id := decode[idResponse](t, do(e, http.MethodPost, "/categories", `{"name":"Home"}`)).ID
	if rec := do(e, http.MethodPut, "/categories/"+id, `{"name":"Casa","color":"#0f0"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT /categories = %d %s", rec.Code, rec.Body)
	}
	cats := decode[[]model.Category](t, do(e, http.MethodGet, "/categories", ""))
	if len(cats) != 1 || cats[0].Name != "Casa" || cats[0].Color != "#0f0" {
		t.Errorf("GET /categories = %+v", cats)
	}
	if rec := do(e, http.MethodDelete, "/categories/"+id, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /categories = %d %s", rec.Code, rec.Body)
	}
	if got := a.Categories(); len(got) != 0 {
		t.Errorf("categories after delete = %+v", got)
	}
}

func TestValidationErrors(t *testing.T) {
	e, _ := newTestServer(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"blank title", http.MethodPost, "/tasks", `{"title":"  "}`, http.StatusBadRequest},
		{"blank category name", http.MethodPost, "/categories", `{"name":""}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/tasks", `{"title":`, http.StatusBadRequest},
		{"update missing category", http.MethodPut, "/categories/ghost", `{"name":"x"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body)
			}
			if resp := decode[errorResponse](t, rec); resp.Error == "" {
				t.Error("error response has no message")
			}
		})
	}
}

func TestBulkActionsGate(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		e, _ := newTestServer(t, false)
		rec := do(e, http.MethodPost, "/tasks/complete-all", "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("complete-all = %d, want 403", rec.Code)
		}
		if rec := do(e, http.MethodPost, "/tasks/clear-completed", `{"force":true}`); rec.Code != http.StatusNoContent {
			t.Fatalf("forced clear-completed = %d %s", rec.Code, rec.Body)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		e, a := newTestServer(t, true)
		do(e, http.MethodPost, "/tasks", `{"title":"a"}`)
		do(e, http.MethodPost, "/tasks", `{"title":"b"}`)

		if rec := do(e, http.MethodPost, "/tasks/complete-all", ""); rec.Code != http.StatusNoContent {
			t.Fatalf("complete-all = %d %s", rec.Code, rec.Body)
		}
		if got := a.Store().Stats().Value().Completed; got != 2 {
			t.Errorf("completed = %d, want 2", got)
		}
		if rec := do(e, http.MethodPost, "/tasks/complete-all", `{"completed":false}`); rec.Code != http.StatusNoContent {
			t.Fatalf("undo complete-all = %d %s", rec.Code, rec.Body)
		}
		if got := a.Store().Stats().Value().Completed; got != 0 {
			t.Errorf("completed after undo = %d, want 0", got)
		}
	})
}

func TestConfigAndStatus(t *testing.T) {
	e, _ := newTestServer(t, true)

	cfg := decode[configResponse](t, do(e, http.MethodGet, "/config", ""))
	if !cfg.BulkActionsEnabled || cfg.Welcome != "Bienvenido" {
		t.Errorf("GET /config = %+v", cfg)
	}
	st := decode[todo.SyncSnapshot](t, do(e, http.MethodGet, "/status", ""))
	if st.Phase != todo.PhaseOnline {
		t.Errorf("GET /status = %+v, want online", st)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{todo.ErrEmptyTitle, http.StatusBadRequest},
		{todo.ErrEmptyID, http.StatusBadRequest},
		{todo.ErrBulkActionsDisabled, http.StatusForbidden},
		{&todo.StoreError{Code: todo.CodeUnavailable, Op: "set", Err: context.Canceled}, http.StatusServiceUnavailable},
		{todo.ErrConflict, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{todo.ErrPermissionDenied, http.StatusForbidden},
		{http.ErrAbortHandler, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestEventStreams(t *testing.T) {
	e, a := newTestServer(t, false)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/tasks", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events/tasks error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(events)
	}()

	next := func() []model.TaskWithCategory {
		t.Helper()
		select {
		case data, ok := <-events:
			if !ok {
				t.Fatal("stream closed")
			}
			var tasks []model.TaskWithCategory
			if err := json.Unmarshal([]byte(data), &tasks); err != nil {
				t.Fatalf("decoding event %q: %v", data, err)
			}
			return tasks
		case <-ctx.Done():
			t.Fatal("no event received")
		}
		return nil
	}

	if got := next(); len(got) != 0 {
		t.Errorf("initial event = %+v, want empty list", got)
	}
	if _, err := a.AddTask(context.Background(), "streamed", ""); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	for {
		got := next()
		if len(got) == 1 {
			if got[0].Title != "streamed" {
				t.Errorf("event task = %+v", got[0])
			}
			break
		}
	}
}
