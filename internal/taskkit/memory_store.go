package taskkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory user and task store intended for tests and dev.
type MemoryStore struct {
	mutex      sync.Mutex
	users      map[string]User
	tasks      map[uint]Task
	sequenceID uint
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		tasks: make(map[uint]Task),
		now:   time.Now,
	}
}

// UpsertGoogleUser inserts or refreshes a user keyed by the Google subject.
func (store *MemoryStore) UpsertGoogleUser(ctx context.Context, googleSub string, email string, name string, avatarURL string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	userID := "google:" + googleSub
	record, exists := store.users[userID]
	if !exists {
		record = User{
			ID:        userID,
			GoogleSub: googleSub,
			CreatedAt: store.now().UTC(),
		}
	}
	record.Email = email
	record.Name = name
	record.AvatarURL = avatarURL
	store.users[userID] = record
	return record, nil
}

// FindUser returns a user by application user id.
func (store *MemoryStore) FindUser(ctx context.Context, userID string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, exists := store.users[userID]
	if !exists {
		return User{}, fmt.Errorf("task_store.find_user.memory: %w", ErrUserNotFound)
	}
	return record, nil
}

// ListTasks returns the user's tasks, newest first.
func (store *MemoryStore) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var records []Task
	for _, record := range store.tasks {
		if record.UserID == userID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(left, right int) bool {
		if records[left].CreatedAt.Equal(records[right].CreatedAt) {
			return records[left].ID > records[right].ID
		}
		return records[left].CreatedAt.After(records[right].CreatedAt)
	})
	return records, nil
}

// CreateTask inserts a new task owned by the user.
func (store *MemoryStore) CreateTask(ctx context.Context, userID string, title string, description string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, fmt.Errorf("task_store.create.memory: %w", ErrEmptyTitle)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.sequenceID++
	record := Task{
		ID:          store.sequenceID,
		Title:       title,
		Description: strings.TrimSpace(description),
		UserID:      userID,
		CreatedAt:   store.now().UTC(),
	}
	store.tasks[record.ID] = record
	return record, nil
}

// GetTask returns a single task after checking ownership.
func (store *MemoryStore) GetTask(ctx context.Context, userID string, taskID uint) (Task, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.takeTaskLocked(userID, taskID, "get")
}

// UpdateTask applies the patch after checking ownership.
func (store *MemoryStore) UpdateTask(ctx context.Context, userID string, taskID uint, patch TaskPatch) (Task, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, err := store.takeTaskLocked(userID, taskID, "update")
	if err != nil {
		return Task{}, err
	}
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return Task{}, fmt.Errorf("task_store.update.memory: %w", ErrEmptyTitle)
		}
		record.Title = trimmed
	}
	if patch.Description != nil {
		record.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Completed != nil {
		record.Completed = *patch.Completed
	}
	store.tasks[taskID] = record
	return record, nil
}

// DeleteTask removes the task after checking ownership.
func (store *MemoryStore) DeleteTask(ctx context.Context, userID string, taskID uint) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, err := store.takeTaskLocked(userID, taskID, "delete"); err != nil {
		return err
	}
	delete(store.tasks, taskID)
	return nil
}

func (store *MemoryStore) takeTaskLocked(userID string, taskID uint, operation string) (Task, error) {
	record, exists := store.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("task_store.%s.memory: %w", operation, ErrTaskNotFound)
	}
	if record.UserID != userID {
		return Task{}, fmt.Errorf("task_store.%s.memory: %w", operation, ErrTaskForbidden)
	}
	return record, nil
}
