package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"task-master/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Connector supplies a store handle bound to the request context.
type Connector interface {
	Acquire(ctx context.Context) (*gorm.DB, error)
}

// TaskService is the owner-scoped task access layer. Every operation takes
// the caller identity explicitly; an empty identity is ErrUnauthorized.
type TaskService interface {
	CreateTask(ctx context.Context, ownerID string, input TaskInput) (*models.Task, error)
	ListTasks(ctx context.Context, ownerID string, query TaskQuery) ([]models.Task, error)
	SearchTasks(ctx context.Context, ownerID, search string, filter models.TaskFilter) ([]models.Task, error)
	GetTask(ctx context.Context, ownerID, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, ownerID, id string, update TaskUpdate) (*models.Task, error)
	ToggleTaskStatus(ctx context.Context, ownerID, id string, completed bool) (*models.Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) error
}

type TaskServiceImpl struct {
	store Connector
}

func NewTaskService(store Connector) *TaskServiceImpl {
	return &TaskServiceImpl{store: store}
}

func (s *TaskServiceImpl) CreateTask(ctx context.Context, ownerID string, input TaskInput) (*models.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	task, err := input.toTask(ownerID)
	if err != nil {
		return nil, err
	}

	db, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, classify("create task", err)
	}

	if err := db.Create(task).Error; err != nil {
		return nil, classify("create task", err)
	}

	return task, nil
}

// ListTasks returns the caller's tasks newest first. A search term routes
// to SearchTasks with the same filter. An unreachable store yields an
// empty listing rather than an error.
func (s *TaskServiceImpl) ListTasks(ctx context.Context, ownerID string, query TaskQuery) ([]models.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	if query.Search != "" {
		return s.SearchTasks(ctx, ownerID, query.Search, query.Filter)
	}

	db, ok := s.acquireForRead(ctx, "list tasks")
	if !ok {
		return []models.Task{}, nil
	}

	q := db.Where("owner_id = ?", ownerID)
	if query.Filter.Priority != nil {
		q = q.Where("priority = ?", string(*query.Filter.Priority))
	}
	if query.Filter.Completed != nil {
		q = q.Where("completed = ?", *query.Filter.Completed)
	}

	tasks := []models.Task{}
	if err := q.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return readFailure("list tasks", err)
	}

	return tasks, nil
}

// SearchTasks matches search case-insensitively against title or
// description, then narrows the result by filter.
func (s *TaskServiceImpl) SearchTasks(ctx context.Context, ownerID, search string, filter models.TaskFilter) ([]models.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	search = strings.TrimSpace(search)
	if search == "" {
		return s.ListTasks(ctx, ownerID, TaskQuery{Filter: filter})
	}

	db, ok := s.acquireForRead(ctx, "search tasks")
	if !ok {
		return []models.Task{}, nil
	}

	needle := strings.ToLower(search)
	pattern := "%" + escapeLike(needle) + "%"

	q := db.Where("owner_id = ?", ownerID)
	// SQLite's LOWER folds ASCII only; other terms are matched below
	if db.Dialector.Name() != "sqlite" || isASCII(needle) {
		q = q.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`, pattern, pattern)
	}

	var candidates []models.Task
	if err := q.Order("created_at DESC").Find(&candidates).Error; err != nil {
		return readFailure("search tasks", err)
	}

	tasks := make([]models.Task, 0, len(candidates))
	for _, task := range candidates {
		if containsFold(task, needle) && filter.Matches(task) {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func containsFold(task models.Task, needle string) bool {
	return strings.Contains(strings.ToLower(task.Title), needle) ||
		strings.Contains(strings.ToLower(task.Description), needle)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func (s *TaskServiceImpl) GetTask(ctx context.Context, ownerID, id string) (*models.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	taskID, err := parseTaskID(id)
	if err != nil {
		return nil, err
	}

	db, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, classify("get task", err)
	}

	var task models.Task
	if err := db.Where("id = ? AND owner_id = ?", taskID, ownerID).First(&task).Error; err != nil {
		return nil, classify("get task", err)
	}

	return &task, nil
}

// UpdateTask rewrites the mutable fields of one of the caller's tasks.
// DueDate is always written: a nil or blank value clears it.
func (s *TaskServiceImpl) UpdateTask(ctx context.Context, ownerID, id string, update TaskUpdate) (*models.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	changes, err := update.validate()
	if err != nil {
		return nil, err
	}

	taskID, err := parseTaskID(id)
	if err != nil {
		return nil, err
	}

	db, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, classify("update task", err)
	}

	var task models.Task
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND owner_id = ?", taskID, ownerID).First(&task).Error; err != nil {
			return err
		}

		changes.apply(&task)

		result := tx.Model(&models.Task{}).
			Where("id = ? AND owner_id = ?", taskID, ownerID).
			Updates(map[string]interface{}{
				"title":       task.Title,
				"description": task.Description,
				"priority":    string(task.Priority),
				"completed":   task.Completed,
				"due_date":    task.DueDate,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Where("id = ? AND owner_id = ?", taskID, ownerID).First(&task).Error
	})
	if err != nil {
		return nil, classify("update task", err)
	}

	return &task, nil
}

// ToggleTaskStatus sets only the completed flag.
func (s *TaskServiceImpl) ToggleTaskStatus(ctx context.Context, ownerID, id string, completed bool) (*models.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	taskID, err := parseTaskID(id)
	if err != nil {
		return nil, err
	}

	db, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, classify("toggle task", err)
	}

	result := db.Model(&models.Task{}).
		Where("id = ? AND owner_id = ?", taskID, ownerID).
		Update("completed", completed)
	if result.Error != nil {
		return nil, classify("toggle task", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var task models.Task
	if err := db.Where("id = ? AND owner_id = ?", taskID, ownerID).First(&task).Error; err != nil {
		return nil, classify("toggle task", err)
	}

	return &task, nil
}

// DeleteTask removes one of the caller's tasks. Deleting the same id twice
// fails the second time with ErrNotFound.
func (s *TaskServiceImpl) DeleteTask(ctx context.Context, ownerID, id string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	taskID, err := parseTaskID(id)
	if err != nil {
		return err
	}

	db, err := s.store.Acquire(ctx)
	if err != nil {
		return classify("delete task", err)
	}

	result := db.Where("id = ? AND owner_id = ?", taskID, ownerID).Delete(&models.Task{})
	if result.Error != nil {
		return classify("delete task", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *TaskServiceImpl) acquireForRead(ctx context.Context, op string) (*gorm.DB, bool) {
	db, err := s.store.Acquire(ctx)
	if err != nil {
		log.Printf("[tasks] %s: serving empty result: %v", op, err)
		return nil, false
	}
	return db, true
}

func readFailure(op string, err error) ([]models.Task, error) {
	err = classify(op, err)
	if errors.Is(err, ErrStoreUnavailable) {
		return []models.Task{}, nil
	}
	return nil, err
}

// Identifiers are store-assigned UUIDs, so anything else cannot exist.
func parseTaskID(id string) (uuid.UUID, error) {
	taskID, err := uuid.FromString(strings.TrimSpace(id))
	if err != nil || taskID == uuid.Nil {
		return uuid.Nil, ErrNotFound
	}
	return taskID, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
