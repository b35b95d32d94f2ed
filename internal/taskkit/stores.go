package taskkit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrUserNotFound indicates no user matched the identifier.
	ErrUserNotFound = errors.New("task_store.user_not_found")
	// ErrTaskNotFound indicates no task matched the identifier.
	ErrTaskNotFound = errors.New("task_store.task_not_found")
	// ErrTaskForbidden indicates the task belongs to a different user.
	ErrTaskForbidden = errors.New("task_store.task_forbidden")
	// ErrEmptyTitle indicates a task was submitted without a title.
	ErrEmptyTitle = errors.New("task_store.empty_title")
)

// User is an application user keyed by the identity provider subject.
type User struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	GoogleSub string    `gorm:"column:google_sub;uniqueIndex;not null" json:"-"`
	Email     string    `gorm:"column:email;not null" json:"email"`
	Name      string    `gorm:"column:name" json:"name"`
	AvatarURL string    `gorm:"column:avatar_url" json:"avatarUrl"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
}

// TableName fixes the users table name.
func (User) TableName() string {
	return "users"
}

// Task is a single to-do item owned by a user.
type Task struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	Description string    `gorm:"column:description" json:"description"`
	Completed   bool      `gorm:"column:completed;not null;default:false" json:"completed"`
	UserID      string    `gorm:"column:user_id;index;not null" json:"userId"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"createdAt"`
}

// TableName fixes the tasks table name.
func (Task) TableName() string {
	return "tasks"
}

// TaskPatch carries the updatable task fields. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Completed   *bool
}

// UserStore persists and retrieves application users.
type UserStore interface {
	UpsertGoogleUser(ctx context.Context, googleSub string, email string, name string, avatarURL string) (User, error)
	FindUser(ctx context.Context, userID string) (User, error)
}

// TaskStore manages per-user tasks with ownership enforcement.
type TaskStore interface {
	ListTasks(ctx context.Context, userID string) ([]Task, error)
	CreateTask(ctx context.Context, userID string, title string, description string) (Task, error)
	GetTask(ctx context.Context, userID string, taskID uint) (Task, error)
	UpdateTask(ctx context.Context, userID string, taskID uint, patch TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, userID string, taskID uint) error
}
