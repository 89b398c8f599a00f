package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

type stubBackend struct {
	listFn        func(ctx context.Context, completed *bool) ([]domain.Todo, error)
	createFn      func(ctx context.Context, t domain.Todo) (int64, error)
	updateFn      func(ctx context.Context, id int64, patch domain.TodoPatch) error
	completeAllFn func(ctx context.Context) (int64, error)
	deleteFn      func(ctx context.Context, id int64) error
}

func (s *stubBackend) Ping(context.Context) error { return nil }

func (s *stubBackend) ListTodos(ctx context.Context, completed *bool) ([]domain.Todo, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListTodos call")
	}
	return s.listFn(ctx, completed)
}

func (s *stubBackend) CreateTodo(ctx context.Context, t domain.Todo) (int64, error) {
	if s.createFn == nil {
		return 0, errors.New("unexpected CreateTodo call")
	}
	return s.createFn(ctx, t)
}

func (s *stubBackend) UpdateTodo(ctx context.Context, id int64, patch domain.TodoPatch) error {
	if s.updateFn == nil {
		return errors.New("unexpected UpdateTodo call")
	}
	return s.updateFn(ctx, id, patch)
}

func (s *stubBackend) CompleteAll(ctx context.Context) (int64, error) {
	if s.completeAllFn == nil {
		return 0, errors.New("unexpected CompleteAll call")
	}
	return s.completeAllFn(ctx)
}

func (s *stubBackend) DeleteTodo(ctx context.Context, id int64) error {
	if s.deleteFn == nil {
		return errors.New("unexpected DeleteTodo call")
	}
	return s.deleteFn(ctx, id)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheListTodosMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := []domain.Todo{{ID: 1, Task: "Buy milk", Priority: "medium"}}

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, completed *bool) ([]domain.Todo, error) {
			calls++
			if completed != nil {
				t.Fatalf("unexpected filter: %v", *completed)
			}
			return append([]domain.Todo(nil), expected...), nil
		},
	}, client, time.Minute)

	todos, err := cache.ListTodos(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(todos, expected) {
		t.Fatalf("unexpected todos: %#v", todos)
	}
	if ttl := mr.TTL(listCacheKey(0, nil)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.ListTodos(ctx, nil)
	if err != nil {
		t.Fatalf("list cached: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached todos: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached list to avoid backend, calls=%d", calls)
	}
}

func TestCacheFiltersUseSeparateKeys(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, completed *bool) ([]domain.Todo, error) {
			if completed == nil {
				return []domain.Todo{{ID: 1, Task: "a"}, {ID: 2, Task: "b", Completed: true}}, nil
			}
			if *completed {
				return []domain.Todo{{ID: 2, Task: "b", Completed: true}}, nil
			}
			return []domain.Todo{{ID: 1, Task: "a"}}, nil
		},
	}, client, time.Minute)

	all, _ := cache.ListTodos(ctx, nil)
	done, _ := cache.ListTodos(ctx, boolPtr(true))
	open, _ := cache.ListTodos(ctx, boolPtr(false))
	if len(all) != 2 || len(done) != 1 || len(open) != 1 {
		t.Fatalf("unexpected sizes all=%d done=%d open=%d", len(all), len(done), len(open))
	}
	if !done[0].Completed || open[0].Completed {
		t.Fatalf("filters mixed up: done=%#v open=%#v", done, open)
	}
}

func TestCacheMutationsInvalidateLists(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	var listCalls int
	backend := &stubBackend{
		listFn: func(ctx context.Context, completed *bool) ([]domain.Todo, error) {
			listCalls++
			return []domain.Todo{}, nil
		},
		createFn:      func(context.Context, domain.Todo) (int64, error) { return 1, nil },
		updateFn:      func(context.Context, int64, domain.TodoPatch) error { return nil },
		completeAllFn: func(context.Context) (int64, error) { return 1, nil },
		deleteFn:      func(context.Context, int64) error { return nil },
	}
	cache := NewCache(backend, client, time.Minute)

	mutations := map[string]func() error{
		"create":       func() error { _, err := cache.CreateTodo(ctx, domain.Todo{Task: "x"}); return err },
		"update":       func() error { return cache.UpdateTodo(ctx, 1, domain.TodoPatch{Completed: boolPtr(true)}) },
		"complete_all": func() error { _, err := cache.CompleteAll(ctx); return err },
		"delete":       func() error { return cache.DeleteTodo(ctx, 1) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			if _, err := cache.ListTodos(ctx, nil); err != nil {
				t.Fatalf("warm cache: %v", err)
			}
			before := listCalls
			if _, err := cache.ListTodos(ctx, nil); err != nil {
				t.Fatalf("cached list: %v", err)
			}
			if listCalls != before {
				t.Fatalf("expected warm cache hit")
			}

			if err := mutate(); err != nil {
				t.Fatalf("mutate: %v", err)
			}
			if _, err := cache.ListTodos(ctx, nil); err != nil {
				t.Fatalf("list after mutation: %v", err)
			}
			if listCalls != before+1 {
				t.Fatalf("expected list after %s to hit backend", name)
			}
		})
	}
}

func TestCacheFailedMutationKeepsGeneration(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubBackend{
		updateFn: func(context.Context, int64, domain.TodoPatch) error { return domain.ErrNotFound },
		deleteFn: func(context.Context, int64) error { return domain.ErrNotFound },
	}, client, time.Minute)

	if err := cache.UpdateTodo(ctx, 9, domain.TodoPatch{Task: strPtr("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := cache.DeleteTodo(ctx, 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mr.Exists(generationKey) {
		t.Fatalf("expected generation to stay unset after failed mutations")
	}
}

func TestCacheDoesNotStoreBackendErrors(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(context.Context, *bool) ([]domain.Todo, error) {
			calls++
			return nil, boom
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.ListTodos(ctx, nil); !errors.Is(err, boom) {
			t.Fatalf("expected backend error, got %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every call to reach backend, got %d", calls)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	if err := mr.Set(listCacheKey(0, nil), "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cache := NewCache(&stubBackend{
		listFn: func(context.Context, *bool) ([]domain.Todo, error) {
			return []domain.Todo{{ID: 3, Task: "fresh"}}, nil
		},
	}, client, time.Minute)

	todos, err := cache.ListTodos(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(todos) != 1 || todos[0].ID != 3 {
		t.Fatalf("unexpected todos: %#v", todos)
	}
}

func TestCacheRedisUnavailableFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(context.Context, *bool) ([]domain.Todo, error) {
			calls++
			return []domain.Todo{}, nil
		},
		createFn: func(context.Context, domain.Todo) (int64, error) { return 5, nil },
	}, client, time.Minute)

	if _, err := cache.ListTodos(ctx, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	id, err := cache.CreateTodo(ctx, domain.Todo{Task: "x"})
	if err != nil || id != 5 {
		t.Fatalf("create: id=%d err=%v", id, err)
	}
	if calls != 1 {
		t.Fatalf("expected backend list call, got %d", calls)
	}
}

func TestCacheZeroTTLBypasses(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(context.Context, *bool) ([]domain.Todo, error) {
			calls++
			return []domain.Todo{}, nil
		},
	}, client, 0)

	for i := 0; i < 2; i++ {
		if _, err := cache.ListTodos(ctx, nil); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected zero TTL to bypass cache, calls=%d", calls)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected nothing cached, got %v", keys)
	}
}

func TestCacheWithSQLiteBackend(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(newTestStorage(t), client, time.Minute)

	id, err := cache.CreateTodo(ctx, domain.Todo{Task: "Buy milk", Priority: "medium"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := cache.ListTodos(ctx, nil); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if err := cache.UpdateTodo(ctx, id, domain.TodoPatch{Completed: boolPtr(true)}); err != nil {
		t.Fatalf("update: %v", err)
	}

	todos, err := cache.ListTodos(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(todos) != 1 || !todos[0].Completed {
		t.Fatalf("expected list to reflect update, got %#v", todos)
	}
}
