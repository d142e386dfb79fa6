package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"task-assistant/internal/model"
)

// SubscriberRepository keeps the chats that asked for summaries.
type SubscriberRepository struct {
	db *gorm.DB
}

func NewSubscriberRepository(db *gorm.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// Upsert finds or creates a subscriber by Telegram ID and refreshes its profile and chat.
func (r *SubscriberRepository) Upsert(ctx context.Context, sub model.Subscriber) (*model.Subscriber, error) {
	var existing model.Subscriber
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", sub.TelegramID).First(&existing).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"chat_id":    sub.ChatID,
			"first_name": sub.FirstName,
			"username":   sub.Username,
		}
		if err := db.Model(&existing).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update subscriber: %w", err)
		}
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(&sub).Error; err != nil {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}
		return &sub, nil
	default:
		return nil, fmt.Errorf("find subscriber: %w", err)
	}
}

// Remove deletes the subscriber. It reports whether a row existed.
func (r *SubscriberRepository) Remove(ctx context.Context, telegramID int64) (bool, error) {
	res := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Delete(&model.Subscriber{})
	if res.Error != nil {
		return false, fmt.Errorf("delete subscriber: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *SubscriberRepository) ListAll(ctx context.Context) ([]model.Subscriber, error) {
	var subs []model.Subscriber
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return subs, nil
}
