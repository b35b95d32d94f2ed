package taskkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("task_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("task_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("task_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("task_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("task_store.unsupported_no_scheme")
)

// DatabaseStore persists users and tasks using GORM.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

// NewDatabaseStore opens the database behind the URL, migrates the schema,
// and returns the ready store.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("task_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("task_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&User{}, &Task{}); migrateErr != nil {
		return nil, fmt.Errorf("task_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Close releases the underlying connection pool.
func (store *DatabaseStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("task_store.close.%s: %w", store.driverLabel, err)
	}
	return sqlDB.Close()
}

// UpsertGoogleUser inserts or refreshes a user keyed by the Google subject.
func (store *DatabaseStore) UpsertGoogleUser(ctx context.Context, googleSub string, email string, name string, avatarURL string) (User, error) {
	var record User
	err := store.db.WithContext(ctx).Where("google_sub = ?", googleSub).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = User{
			ID:        "google:" + googleSub,
			GoogleSub: googleSub,
			Email:     email,
			Name:      name,
			AvatarURL: avatarURL,
		}
		if createErr := store.db.WithContext(ctx).Create(&record).Error; createErr != nil {
			return User{}, fmt.Errorf("task_store.upsert_user.%s: %w", store.driverLabel, createErr)
		}
		return record, nil
	}
	if err != nil {
		return User{}, fmt.Errorf("task_store.upsert_user.%s: %w", store.driverLabel, err)
	}

	record.Email = email
	record.Name = name
	record.AvatarURL = avatarURL
	if saveErr := store.db.WithContext(ctx).Save(&record).Error; saveErr != nil {
		return User{}, fmt.Errorf("task_store.upsert_user.%s: %w", store.driverLabel, saveErr)
	}
	return record, nil
}

// FindUser returns a user by application user id.
func (store *DatabaseStore) FindUser(ctx context.Context, userID string) (User, error) {
	var record User
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("task_store.find_user.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("task_store.find_user.%s: %w", store.driverLabel, err)
	}
	return record, nil
}

// ListTasks returns the user's tasks, newest first.
func (store *DatabaseStore) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	var records []Task
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("task_store.list.%s: %w", store.driverLabel, err)
	}
	return records, nil
}

// CreateTask inserts a new task owned by the user.
func (store *DatabaseStore) CreateTask(ctx context.Context, userID string, title string, description string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, fmt.Errorf("task_store.create.%s: %w", store.driverLabel, ErrEmptyTitle)
	}
	record := Task{
		Title:       title,
		Description: strings.TrimSpace(description),
		UserID:      userID,
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Task{}, fmt.Errorf("task_store.create.%s: %w", store.driverLabel, err)
	}
	return record, nil
}

// GetTask returns a single task after checking ownership.
func (store *DatabaseStore) GetTask(ctx context.Context, userID string, taskID uint) (Task, error) {
	record, err := store.takeTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if record.UserID != userID {
		return Task{}, fmt.Errorf("task_store.get.%s: %w", store.driverLabel, ErrTaskForbidden)
	}
	return record, nil
}

// UpdateTask applies the patch after checking ownership.
func (store *DatabaseStore) UpdateTask(ctx context.Context, userID string, taskID uint, patch TaskPatch) (Task, error) {
	record, err := store.takeTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if record.UserID != userID {
		return Task{}, fmt.Errorf("task_store.update.%s: %w", store.driverLabel, ErrTaskForbidden)
	}

	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return Task{}, fmt.Errorf("task_store.update.%s: %w", store.driverLabel, ErrEmptyTitle)
		}
		record.Title = trimmed
	}
	if patch.Description != nil {
		record.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Completed != nil {
		record.Completed = *patch.Completed
	}

	if saveErr := store.db.WithContext(ctx).Save(&record).Error; saveErr != nil {
		return Task{}, fmt.Errorf("task_store.update.%s: %w", store.driverLabel, saveErr)
	}
	return record, nil
}

// DeleteTask removes the task after checking ownership.
func (store *DatabaseStore) DeleteTask(ctx context.Context, userID string, taskID uint) error {
	record, err := store.takeTask(ctx, taskID)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return fmt.Errorf("task_store.delete.%s: %w", store.driverLabel, ErrTaskForbidden)
	}
	if deleteErr := store.db.WithContext(ctx).Delete(&Task{}, record.ID).Error; deleteErr != nil {
		return fmt.Errorf("task_store.delete.%s: %w", store.driverLabel, deleteErr)
	}
	return nil
}

func (store *DatabaseStore) takeTask(ctx context.Context, taskID uint) (Task, error) {
	var record Task
	err := store.db.WithContext(ctx).Where("id = ?", taskID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, fmt.Errorf("task_store.take.%s: %w", store.driverLabel, ErrTaskNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("task_store.take.%s: %w", store.driverLabel, err)
	}
	return record, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("task_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("task_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("task_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("task_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
