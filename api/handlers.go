package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

const (
	msgTodoAdded        = "Todo added"
	msgTodoUpdated      = "Todo updated successfully"
	msgTodoDeleted      = "Todo deleted successfully"
	msgAllCompleted     = "All to-do items have been marked as completed."
	errTaskRequired     = "Task is required"
	errNoFields         = "No fields to update"
	errInvalidBody      = "Invalid request body"
	errTodoNotFound     = "Todo not found"
	errListFailed       = "Failed to retrieve todos"
	errCreateFailed     = "Failed to add todo"
	errUpdateFailed     = "Failed to update todo"
	errCompleteFailed   = "Failed to mark all todos as completed"
	errDeleteFailed     = "Failed to delete todo"
	errStoreUnavailable = "datastore unavailable"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, logger *log.Logger) {
	e.GET("/todos", listTodos(store, logger))
	e.POST("/todos", createTodo(store, logger))
	// Static route; echo matches it before the :id parameter.
	e.PUT("/todos/complete-all", completeAll(store, logger))
	e.PUT("/todos/:id", updateTodo(store, logger))
	e.DELETE("/todos/:id", deleteTodo(store, logger))
	e.GET("/healthz", healthz(store))
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := store.Ping(c.Request().Context()); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errStoreUnavailable})
		}
		return c.NoContent(http.StatusOK)
	}
}

func listTodos(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(c, "/todos", logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		raw, present := c.QueryParams()["completed"]
		var filter *bool
		if completed, ok := domain.CompletedFilter(firstValue(raw), present); ok {
			filter = &completed
		}
		metrics.SetFilter(filter)

		fetchStart := time.Now()
		todos, storeErr := store.ListTodos(c.Request().Context(), filter)
		metrics.ObserveStore(time.Since(fetchStart))
		if storeErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(storeErr).Error("list todos")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: errListFailed})
		}
		if todos == nil {
			todos = []domain.Todo{}
		}
		metrics.SetItemsReturned(len(todos))
		err = c.JSON(http.StatusOK, todos)
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTodo(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(c, "/todos", logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		var req domain.NewTodo
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: errInvalidBody})
		}
		todo, validErr := req.Normalize()
		if validErr != nil {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: errTaskRequired})
		}

		storeStart := time.Now()
		id, storeErr := store.CreateTodo(c.Request().Context(), todo)
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(storeErr).Error("create todo")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: errCreateFailed})
		}
		metrics.SetTodoID(id)
		return c.JSON(http.StatusCreated, createResponse{Message: msgTodoAdded, TodoID: id})
	}
}

func updateTodo(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(c, "/todos/:id", logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		var patch domain.TodoPatch
		if decodeErr := decodeBody(c, &patch); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: errInvalidBody})
		}
		if patch.Empty() {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: errNoFields})
		}
		id, ok := parseID(c)
		if !ok {
			metrics.SetErrorStage("not_found")
			return c.JSON(http.StatusNotFound, errorResponse{Error: errTodoNotFound})
		}
		metrics.SetTodoID(id)

		storeStart := time.Now()
		storeErr := store.UpdateTodo(c.Request().Context(), id, patch)
		metrics.ObserveStore(time.Since(storeStart))
		if errors.Is(storeErr, domain.ErrNotFound) {
			metrics.SetErrorStage("not_found")
			return c.JSON(http.StatusNotFound, errorResponse{Error: errTodoNotFound})
		}
		if storeErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(storeErr).WithField("todo_id", id).Error("update todo")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: errUpdateFailed})
		}
		return c.JSON(http.StatusOK, messageResponse{Message: msgTodoUpdated})
	}
}

func completeAll(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(c, "/todos/complete-all", logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		storeStart := time.Now()
		n, storeErr := store.CompleteAll(c.Request().Context())
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(storeErr).Error("complete all todos")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: errCompleteFailed})
		}
		metrics.SetItemsAffected(n)
		return c.JSON(http.StatusOK, messageResponse{Message: msgAllCompleted})
	}
}

func deleteTodo(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(c, "/todos/:id", logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id, ok := parseID(c)
		if !ok {
			metrics.SetErrorStage("not_found")
			return c.JSON(http.StatusNotFound, errorResponse{Error: errTodoNotFound})
		}
		metrics.SetTodoID(id)

		storeStart := time.Now()
		storeErr := store.DeleteTodo(c.Request().Context(), id)
		metrics.ObserveStore(time.Since(storeStart))
		if errors.Is(storeErr, domain.ErrNotFound) {
			metrics.SetErrorStage("not_found")
			return c.JSON(http.StatusNotFound, errorResponse{Error: errTodoNotFound})
		}
		if storeErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(storeErr).WithField("todo_id", id).Error("delete todo")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: errDeleteFailed})
		}
		return c.JSON(http.StatusOK, messageResponse{Message: msgTodoDeleted})
	}
}

// decodeBody reads a JSON object into dst. An empty body leaves dst untouched.
func decodeBody(c echo.Context, dst any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, requestBodyMaxSize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(body, dst)
}

// parseID reports false for ids that cannot name a stored todo.
func parseID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func firstValue(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
