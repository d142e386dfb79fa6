package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"task-assistant/internal/model"
)

const referencedKeysBatch = 500

// AttachmentRepository manages attachment metadata rows.
type AttachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// CreateForTask inserts the row only if the parent task exists. A missing
// task surfaces as gorm.ErrRecordNotFound.
func (r *AttachmentRepository) CreateForTask(ctx context.Context, att *model.Attachment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureTask(tx, att.TaskID); err != nil {
			return err
		}
		if err := tx.Create(att).Error; err != nil {
			return fmt.Errorf("create attachment: %w", err)
		}
		return nil
	})
}

// EnsureTask returns gorm.ErrRecordNotFound when the task does not exist.
func (r *AttachmentRepository) EnsureTask(ctx context.Context, taskID uint) error {
	return ensureTask(r.db.WithContext(ctx), taskID)
}

func ensureTask(db *gorm.DB, taskID uint) error {
	var task model.Task
	return db.Select("id").First(&task, taskID).Error
}

func (r *AttachmentRepository) FindByID(ctx context.Context, id uint) (*model.Attachment, error) {
	var att model.Attachment
	if err := r.db.WithContext(ctx).First(&att, id).Error; err != nil {
		return nil, err
	}
	return &att, nil
}

func (r *AttachmentRepository) ListByTask(ctx context.Context, taskID uint) ([]model.Attachment, error) {
	var atts []model.Attachment
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&atts).Error; err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return atts, nil
}

// Delete removes the row. Zero affected rows is reported as gorm.ErrRecordNotFound.
func (r *AttachmentRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.Attachment{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete attachment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReferencedKeys returns the subset of keys that some attachment row points at.
func (r *AttachmentRepository) ReferencedKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(keys))
	for start := 0; start < len(keys); start += referencedKeysBatch {
		end := start + referencedKeysBatch
		if end > len(keys) {
			end = len(keys)
		}
		var batch []string
		if err := r.db.WithContext(ctx).Model(&model.Attachment{}).
			Where("filepath IN ?", keys[start:end]).
			Pluck("filepath", &batch).Error; err != nil {
			return nil, fmt.Errorf("lookup attachment keys: %w", err)
		}
		for _, k := range batch {
			found[k] = struct{}{}
		}
	}
	return found, nil
}
