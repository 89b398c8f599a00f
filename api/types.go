package api

import (
	"context"

	"todo-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	Ping(ctx context.Context) error
	ListTodos(ctx context.Context, completed *bool) ([]domain.Todo, error)
	CreateTodo(ctx context.Context, t domain.Todo) (int64, error)
	UpdateTodo(ctx context.Context, id int64, patch domain.TodoPatch) error
	CompleteAll(ctx context.Context) (int64, error)
	DeleteTodo(ctx context.Context, id int64) error
}

const requestBodyMaxSize = 64 * 1024 // 64 KiB

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// POST /todos response body
type createResponse struct {
	Message string `json:"message"`
	TodoID  int64  `json:"todoId"`
}
