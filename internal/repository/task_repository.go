package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"task-assistant/internal/model"
)

// TaskFilter narrows List results. Zero values mean "no restriction".
type TaskFilter struct {
	Offset      int
	Limit       int
	Query       string
	Statuses    []model.Status
	Type        model.Category
	Priority    model.Priority
	CreatedFrom *time.Time // inclusive
	CreatedTo   *time.Time // exclusive
}

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Omit("Attachments").Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// FindByID loads a task with its attachments. Missing rows surface as gorm.ErrRecordNotFound.
func (r *TaskRepository) FindByID(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	if err := preloadAttachments(r.db.WithContext(ctx)).First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// List returns a page of tasks in insertion order.
func (r *TaskRepository) List(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	q := preloadAttachments(r.db.WithContext(ctx)).Model(&model.Task{})

	if s := strings.ToLower(strings.TrimSpace(filter.Query)); s != "" {
		pattern := "%" + s + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(tags) LIKE ?", pattern, pattern, pattern)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", filter.Priority)
	}
	if filter.CreatedFrom != nil {
		q = q.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		q = q.Where("created_at < ?", filter.CreatedTo.UTC())
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var tasks []model.Task
	if err := q.Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Update loads the task inside a transaction, asks build for the column
// changes and writes them. The returned task is re-read after the write.
func (r *TaskRepository) Update(ctx context.Context, id uint, build func(current *model.Task) (map[string]any, error)) (*model.Task, error) {
	var updated model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.Task
		if err := tx.First(&current, id).Error; err != nil {
			return err
		}
		updates, err := build(&current)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(&model.Task{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("update task: %w", err)
			}
		}
		return preloadAttachments(tx).First(&updated, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the task and its attachment rows in one transaction and
// returns the task as it was before deletion, attachments included.
func (r *TaskRepository) Delete(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := preloadAttachments(tx).First(&task, id).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", id).Delete(&model.Attachment{}).Error; err != nil {
			return fmt.Errorf("delete attachments of task %d: %w", id, err)
		}
		if err := tx.Delete(&model.Task{}, id).Error; err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func preloadAttachments(db *gorm.DB) *gorm.DB {
	return db.Preload("Attachments", func(db *gorm.DB) *gorm.DB {
		return db.Order("attachments.id ASC")
	})
}
