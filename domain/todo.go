package domain

import "strings"

// DefaultPriority is assigned to todos created without a priority.
const DefaultPriority = "medium"

// Todo represents a single persisted todo item.
type Todo struct {
	ID        int64  `json:"id"`
	Task      string `json:"task"`
	Completed bool   `json:"completed"`
	Priority  string `json:"priority"`
}

// NewTodo carries the fields accepted when creating a todo.
type NewTodo struct {
	Task     *string `json:"task"`
	Priority *string `json:"priority,omitempty"`
}

// Normalize validates the request and fills in defaults.
func (n NewTodo) Normalize() (Todo, error) {
	if n.Task == nil || *n.Task == "" {
		return Todo{}, ErrTaskRequired
	}
	t := Todo{Task: *n.Task, Priority: DefaultPriority}
	if n.Priority != nil && *n.Priority != "" {
		t.Priority = *n.Priority
	}
	return t, nil
}

// TodoPatch holds the optional fields of an update. Nil means "keep the
// stored value".
type TodoPatch struct {
	Task      *string `json:"task,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Empty reports whether the patch carries no field at all.
func (p TodoPatch) Empty() bool {
	return p.Task == nil && p.Completed == nil
}

// Apply returns current with every present field of p overwritten.
// ID and Priority are never touched.
func (p TodoPatch) Apply(current Todo) Todo {
	if p.Task != nil {
		current.Task = *p.Task
	}
	if p.Completed != nil {
		current.Completed = *p.Completed
	}
	return current
}

// CompletedFilter parses the list filter. ok is false when no filter was
// supplied. Only "true" (any case) selects completed todos; every other
// value selects the open ones.
func CompletedFilter(raw string, present bool) (completed bool, ok bool) {
	if !present {
		return false, false
	}
	return strings.EqualFold(raw, "true"), true
}
