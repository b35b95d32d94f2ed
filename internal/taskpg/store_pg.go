package taskpg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lmoraes/taskboard/internal/taskkit"
)

// PostgresStore persists users and tasks in PostgreSQL without the ORM,
// for deployments that want direct pool control.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UpsertGoogleUser inserts or refreshes a user keyed by the Google subject.
func (store *PostgresStore) UpsertGoogleUser(ctx context.Context, googleSub string, email string, name string, avatarURL string) (taskkit.User, error) {
	var record taskkit.User
	row := store.pool.QueryRow(ctx, `
INSERT INTO users (id, google_sub, email, name, avatar_url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (google_sub) DO UPDATE
SET email = EXCLUDED.email, name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url
RETURNING id, google_sub, email, name, avatar_url, created_at
`, "google:"+googleSub, googleSub, email, name, avatarURL)
	if scanErr := row.Scan(&record.ID, &record.GoogleSub, &record.Email, &record.Name, &record.AvatarURL, &record.CreatedAt); scanErr != nil {
		return taskkit.User{}, fmt.Errorf("task_store.upsert_user.pg: %w", scanErr)
	}
	return record, nil
}

// FindUser returns a user by application user id.
func (store *PostgresStore) FindUser(ctx context.Context, userID string) (taskkit.User, error) {
	var record taskkit.User
	row := store.pool.QueryRow(ctx, `
SELECT id, google_sub, email, name, avatar_url, created_at
FROM users
WHERE id = $1
`, userID)
	if scanErr := row.Scan(&record.ID, &record.GoogleSub, &record.Email, &record.Name, &record.AvatarURL, &record.CreatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return taskkit.User{}, fmt.Errorf("task_store.find_user.pg: %w", taskkit.ErrUserNotFound)
		}
		return taskkit.User{}, fmt.Errorf("task_store.find_user.pg: %w", scanErr)
	}
	return record, nil
}

// ListTasks returns the user's tasks, newest first.
func (store *PostgresStore) ListTasks(ctx context.Context, userID string) ([]taskkit.Task, error) {
	rows, queryErr := store.pool.Query(ctx, `
SELECT id, title, description, completed, user_id, created_at
FROM tasks
WHERE user_id = $1
ORDER BY created_at DESC
`, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("task_store.list.pg: %w", queryErr)
	}
	defer rows.Close()

	var records []taskkit.Task
	for rows.Next() {
		var record taskkit.Task
		if scanErr := rows.Scan(&record.ID, &record.Title, &record.Description, &record.Completed, &record.UserID, &record.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("task_store.list.pg: %w", scanErr)
		}
		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("task_store.list.pg: %w", rowsErr)
	}
	return records, nil
}

// CreateTask inserts a new task owned by the user.
func (store *PostgresStore) CreateTask(ctx context.Context, userID string, title string, description string) (taskkit.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return taskkit.Task{}, fmt.Errorf("task_store.create.pg: %w", taskkit.ErrEmptyTitle)
	}
	var record taskkit.Task
	row := store.pool.QueryRow(ctx, `
INSERT INTO tasks (title, description, user_id)
VALUES ($1, $2, $3)
RETURNING id, title, description, completed, user_id, created_at
`, title, strings.TrimSpace(description), userID)
	if scanErr := row.Scan(&record.ID, &record.Title, &record.Description, &record.Completed, &record.UserID, &record.CreatedAt); scanErr != nil {
		return taskkit.Task{}, fmt.Errorf("task_store.create.pg: %w", scanErr)
	}
	return record, nil
}

// GetTask returns a single task after checking ownership.
func (store *PostgresStore) GetTask(ctx context.Context, userID string, taskID uint) (taskkit.Task, error) {
	record, err := store.takeTask(ctx, taskID)
	if err != nil {
		return taskkit.Task{}, err
	}
	if record.UserID != userID {
		return taskkit.Task{}, fmt.Errorf("task_store.get.pg: %w", taskkit.ErrTaskForbidden)
	}
	return record, nil
}

// UpdateTask applies the patch after checking ownership.
func (store *PostgresStore) UpdateTask(ctx context.Context, userID string, taskID uint, patch taskkit.TaskPatch) (taskkit.Task, error) {
	record, err := store.takeTask(ctx, taskID)
	if err != nil {
		return taskkit.Task{}, err
	}
	if record.UserID != userID {
		return taskkit.Task{}, fmt.Errorf("task_store.update.pg: %w", taskkit.ErrTaskForbidden)
	}

	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return taskkit.Task{}, fmt.Errorf("task_store.update.pg: %w", taskkit.ErrEmptyTitle)
		}
		record.Title = trimmed
	}
	if patch.Description != nil {
		record.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Completed != nil {
		record.Completed = *patch.Completed
	}

	row := store.pool.QueryRow(ctx, `
UPDATE tasks
SET title = $1, description = $2, completed = $3
WHERE id = $4
RETURNING id, title, description, completed, user_id, created_at
`, record.Title, record.Description, record.Completed, taskID)
	if scanErr := row.Scan(&record.ID, &record.Title, &record.Description, &record.Completed, &record.UserID, &record.CreatedAt); scanErr != nil {
		return taskkit.Task{}, fmt.Errorf("task_store.update.pg: %w", scanErr)
	}
	return record, nil
}

// DeleteTask removes the task after checking ownership.
func (store *PostgresStore) DeleteTask(ctx context.Context, userID string, taskID uint) error {
	record, err := store.takeTask(ctx, taskID)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return fmt.Errorf("task_store.delete.pg: %w", taskkit.ErrTaskForbidden)
	}
	if _, execErr := store.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID); execErr != nil {
		return fmt.Errorf("task_store.delete.pg: %w", execErr)
	}
	return nil
}

func (store *PostgresStore) takeTask(ctx context.Context, taskID uint) (taskkit.Task, error) {
	var record taskkit.Task
	row := store.pool.QueryRow(ctx, `
SELECT id, title, description, completed, user_id, created_at
FROM tasks
WHERE id = $1
`, taskID)
	if scanErr := row.Scan(&record.ID, &record.Title, &record.Description, &record.Completed, &record.UserID, &record.CreatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return taskkit.Task{}, fmt.Errorf("task_store.take.pg: %w", taskkit.ErrTaskNotFound)
		}
		return taskkit.Task{}, fmt.Errorf("task_store.take.pg: %w", scanErr)
	}
	return record, nil
}
