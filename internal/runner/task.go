package runner

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Task is a scheduled background job.
type Task interface {
	// Name returns the unique name of the task.
	Name() string

	// Schedule returns the cron expression (with seconds field) for this
	// task.
	Schedule() string

	// Run executes one invocation of the task.
	Run(ctx context.Context) error

	// Timeout bounds a single invocation.
	Timeout() time.Duration
}

// TaskRegistry holds registered tasks by name.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]Task
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]Task)}
}

// Register adds a task, replacing any task with the same name.
func (r *TaskRegistry) Register(task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.Name()] = task
}

// Get returns a task by name.
func (r *TaskRegistry) Get(name string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[name]
	return task, ok
}

// All returns the registered tasks in name order.
func (r *TaskRegistry) All() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	tasks := make([]Task, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, r.tasks[name])
	}
	return tasks
}
