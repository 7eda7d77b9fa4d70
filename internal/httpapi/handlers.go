// Package httpapi exposes the to-do use cases over HTTP, with server-sent
// event streams for the task list and the sync status.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"todo-go/internal/app"
	"todo-go/internal/model"
	"todo-go/internal/remoteconfig"
	"todo-go/internal/todo"
)

// UseCases is the part of app.TodoApp the HTTP surface drives.
type UseCases interface {
	Store() *todo.Store
	Status() *todo.SyncStatus
	Flags() *remoteconfig.Service
	Categories() []model.Category

	AddTask(ctx context.Context, title, categoryID string) (string, error)
	ToggleTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
	SetTaskCategory(ctx context.Context, id, categoryID string) error
	CompleteAllTasks(ctx context.Context, completed, force bool) error
	ClearCompletedTasks(ctx context.Context, force bool) error
	CreateCategory(ctx context.Context, name, color string) (string, error)
	UpdateCategory(ctx context.Context, id, name, color string) error
	DeleteCategory(ctx context.Context, id string) error
}

var _ UseCases = (*app.TodoApp)(nil)

// New creates an Echo instance with every route registered.
func New(uc UseCases) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	Register(e, uc)
	return e
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, uc UseCases) {
	e.GET("/tasks", listTasks(uc))
	e.POST("/tasks", addTask(uc))
	e.POST("/tasks/complete-all", completeAll(uc))
	e.POST("/tasks/clear-completed", clearCompleted(uc))
	e.POST("/tasks/:id/toggle", toggleTask(uc))
	e.PUT("/tasks/:id/category", setTaskCategory(uc))
	e.DELETE("/tasks/:id", deleteTask(uc))

	e.GET("/categories", listCategories(uc))
	e.POST("/categories", createCategory(uc))
	e.PUT("/categories/:id", updateCategory(uc))
	e.DELETE("/categories/:id", deleteCategory(uc))

	e.GET("/stats", stats(uc))
	e.GET("/config", remoteConfig(uc))
	e.GET("/status", status(uc))

	e.GET("/events/tasks", streamObservable(uc.Store().TasksWithCategory()))
	e.GET("/events/status", streamObservable(uc.Status().State()))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

type taskRequest struct {
	Title      string `json:"title"`
	CategoryID string `json:"categoryId"`
}

type categoryAssignment struct {
	CategoryID string `json:"categoryId"`
}

type completeAllRequest struct {
	Completed *bool `json:"completed"`
	Force     bool  `json:"force"`
}

type clearCompletedRequest struct {
	Force bool `json:"force"`
}

type categoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type statsResponse struct {
	Stats         model.TaskStats         `json:"stats"`
	Categories    []model.CategorySummary `json:"categories"`
	Uncategorized model.TaskStats         `json:"uncategorized"`
}

type configResponse struct {
	BulkActionsEnabled bool   `json:"bulkActionsEnabled"`
	Welcome            string `json:"welcome"`
}

// fail renders err with a status chosen from its kind.
func fail(c echo.Context, err error) error {
	code := todo.ErrorCodeOf(err)
	return c.JSON(statusFor(err), errorResponse{Error: app.DescribeError(err), Code: string(code)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, todo.ErrEmptyTitle), errors.Is(err, todo.ErrEmptyName), errors.Is(err, todo.ErrEmptyID):
		return http.StatusBadRequest
	case errors.Is(err, todo.ErrBulkActionsDisabled):
		return http.StatusForbidden
	}
	switch todo.ErrorCodeOf(err) {
	case todo.CodeUnavailable:
		return http.StatusServiceUnavailable
	case todo.CodePermissionDenied:
		return http.StatusForbidden
	case todo.CodeNotFound:
		return http.StatusNotFound
	case todo.CodeAborted:
		return http.StatusConflict
	case todo.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case todo.CodeInvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
}

func listTasks(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		filter := c.QueryParam("filter")
		if filter == "" {
			filter = model.FilterAll
		}
		tasks := todo.FilterTasks(uc.Store().TasksWithCategory().Value(), filter)
		if tasks == nil {
			tasks = []model.TaskWithCategory{}
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

func addTask(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req taskRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		id, err := uc.AddTask(c.Request().Context(), req.Title, req.CategoryID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, idResponse{ID: id})
	}
}

func toggleTask(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := uc.ToggleTask(c.Request().Context(), c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func setTaskCategory(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req categoryAssignment
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		if err := uc.SetTaskCategory(c.Request().Context(), c.Param("id"), req.CategoryID); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTask(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := uc.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// completeAll marks every task completed unless the body says
// {"completed": false}.
func completeAll(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req completeAllRequest
		if c.Request().ContentLength != 0 {
			if err := c.Bind(&req); err != nil {
				return badRequest(c)
			}
		}
		completed := req.Completed == nil || *req.Completed
		if err := uc.CompleteAllTasks(c.Request().Context(), completed, req.Force); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func clearCompleted(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req clearCompletedRequest
		if c.Request().ContentLength != 0 {
			if err := c.Bind(&req); err != nil {
				return badRequest(c)
			}
		}
		if err := uc.ClearCompletedTasks(c.Request().Context(), req.Force); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listCategories(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		categories := uc.Categories()
		if categories == nil {
			categories = []model.Category{}
		}
		return c.JSON(http.StatusOK, categories)
	}
}

func createCategory(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req categoryRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		id, err := uc.CreateCategory(c.Request().Context(), req.Name, req.Color)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, idResponse{ID: id})
	}
}

func updateCategory(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req categoryRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		if err := uc.UpdateCategory(c.Request().Context(), c.Param("id"), req.Name, req.Color); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteCategory(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := uc.DeleteCategory(c.Request().Context(), c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func stats(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		store := uc.Store()
		summary := store.CategorySummary().Value()
		if summary == nil {
			summary = []model.CategorySummary{}
		}
		return c.JSON(http.StatusOK, statsResponse{
			Stats:         store.Stats().Value(),
			Categories:    summary,
			Uncategorized: store.UncategorizedSummary().Value(),
		})
	}
}

func remoteConfig(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		flags := uc.Flags()
		return c.JSON(http.StatusOK, configResponse{
			BulkActionsEnabled: flags.IsBulkActionsEnabled(),
			Welcome:            flags.WelcomeMessage(),
		})
	}
}

func status(uc UseCases) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, uc.Status().State().Value())
	}
}
