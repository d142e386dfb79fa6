package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"task-assistant/internal/model"
	"task-assistant/internal/repository"
	"task-assistant/internal/storage"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	maxTitleLen      = 255
	maxTagsLen       = 255
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string
	Description string
	Type        model.Category
	Priority    model.Priority
	Tags        string
}

// TaskPatch is a sparse update: nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Type        *model.Category
	Status      *model.Status
	Priority    *model.Priority
	Tags        *string
}

// ListOptions selects a page of tasks. CreatedFrom and CreatedTo are calendar
// days and both inclusive. A zero Limit means DefaultListLimit.
type ListOptions struct {
	Skip        int
	Limit       int
	Query       string
	Statuses    []model.Status
	Type        model.Category
	Priority    model.Priority
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// TaskService implements the task lifecycle.
type TaskService struct {
	tasks  *repository.TaskRepository
	store  storage.ContentStore
	logger *slog.Logger
	now    func() time.Time
}

func NewTaskService(tasks *repository.TaskRepository, store storage.ContentStore, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{tasks: tasks, store: store, logger: logger, now: time.Now}
}

// clock returns the current instant at the precision the store keeps.
func (s *TaskService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *TaskService) Create(ctx context.Context, input TaskInput) (*model.Task, error) {
	title, err := validTitle(input.Title)
	if err != nil {
		return nil, err
	}
	if input.Type == "" {
		input.Type = model.CategoryKnowledge
	}
	if !input.Type.Valid() {
		return nil, invalid("type", "must be one of knowledge, work; got %q", input.Type)
	}
	if input.Priority == "" {
		input.Priority = model.PriorityNormal
	}
	if !input.Priority.Valid() {
		return nil, invalid("priority", "must be one of low, normal, high; got %q", input.Priority)
	}
	if utf8.RuneCountInString(input.Tags) > maxTagsLen {
		return nil, invalid("tags", "must be at most %d characters", maxTagsLen)
	}

	now := s.clock()
	task := model.Task{
		Title:       title,
		Description: input.Description,
		Type:        input.Type,
		Status:      model.StatusPending,
		Priority:    input.Priority,
		Tags:        input.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tasks.Create(ctx, &task); err != nil {
		return nil, err
	}
	task.Attachments = []model.Attachment{}
	return &task, nil
}

// Get returns the task with its attachments.
func (s *TaskService) Get(ctx context.Context, id uint) (*model.Task, error) {
	task, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "task", id)
	}
	normalize(task)
	return task, nil
}

func (s *TaskService) List(ctx context.Context, opts ListOptions) ([]model.Task, error) {
	filter, err := opts.filter()
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	for i := range tasks {
		normalize(&tasks[i])
	}
	return tasks, nil
}

// Update applies the non-nil fields of patch. updated_at always moves
// forward, and completed_at is stamped the first time the task is completed.
func (s *TaskService) Update(ctx context.Context, id uint, patch TaskPatch) (*model.Task, error) {
	updates, err := patch.columns()
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.Update(ctx, id, func(current *model.Task) (map[string]any, error) {
		now := s.clock()
		if !now.After(current.UpdatedAt) {
			now = current.UpdatedAt.UTC().Add(time.Millisecond)
		}
		updates["updated_at"] = now

		status := current.Status
		if patch.Status != nil {
			status = *patch.Status
		}
		if status == model.StatusCompleted {
			updates["completed_at"] = gorm.Expr("COALESCE(completed_at, ?)", now)
		}
		return updates, nil
	})
	if err != nil {
		return nil, mapNotFound(err, "task", id)
	}
	normalize(task)
	return task, nil
}

// Delete removes the task and its attachment rows, then the attachment bytes.
// Byte removal failures are logged; the sweeper collects what is left behind.
func (s *TaskService) Delete(ctx context.Context, id uint) (*model.Task, error) {
	task, err := s.tasks.Delete(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "task", id)
	}
	for _, att := range task.Attachments {
		if err := s.store.Delete(ctx, att.Filepath); err != nil {
			s.logger.Warn("remove attachment bytes", "task_id", id, "attachment_id", att.ID, "key", att.Filepath, "error", err)
		}
	}
	normalize(task)
	return task, nil
}

func (p TaskPatch) columns() (map[string]any, error) {
	updates := make(map[string]any)
	if p.Title != nil {
		title, err := validTitle(*p.Title)
		if err != nil {
			return nil, err
		}
		updates["title"] = title
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return nil, invalid("type", "must be one of knowledge, work; got %q", *p.Type)
		}
		updates["type"] = *p.Type
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, invalid("status", "must be one of pending, in_progress, completed, paused; got %q", *p.Status)
		}
		updates["status"] = *p.Status
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return nil, invalid("priority", "must be one of low, normal, high; got %q", *p.Priority)
		}
		updates["priority"] = *p.Priority
	}
	if p.Tags != nil {
		if utf8.RuneCountInString(*p.Tags) > maxTagsLen {
			return nil, invalid("tags", "must be at most %d characters", maxTagsLen)
		}
		updates["tags"] = *p.Tags
	}
	return updates, nil
}

func (o ListOptions) filter() (repository.TaskFilter, error) {
	if o.Skip < 0 {
		return repository.TaskFilter{}, invalid("skip", "must not be negative")
	}
	if o.Limit < 0 {
		return repository.TaskFilter{}, invalid("limit", "must not be negative")
	}
	limit := o.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	for _, st := range o.Statuses {
		if !st.Valid() {
			return repository.TaskFilter{}, invalid("status", "unknown status %q", st)
		}
	}
	if o.Type != "" && !o.Type.Valid() {
		return repository.TaskFilter{}, invalid("type", "unknown type %q", o.Type)
	}
	if o.Priority != "" && !o.Priority.Valid() {
		return repository.TaskFilter{}, invalid("priority", "unknown priority %q", o.Priority)
	}

	filter := repository.TaskFilter{
		Offset:   o.Skip,
		Limit:    limit,
		Query:    o.Query,
		Statuses: o.Statuses,
		Type:     o.Type,
		Priority: o.Priority,
	}
	if o.CreatedFrom != nil {
		from := startOfDay(*o.CreatedFrom)
		filter.CreatedFrom = &from
	}
	if o.CreatedTo != nil {
		to := startOfDay(*o.CreatedTo).AddDate(0, 0, 1)
		filter.CreatedTo = &to
	}
	if filter.CreatedFrom != nil && filter.CreatedTo != nil && !filter.CreatedFrom.Before(*filter.CreatedTo) {
		return repository.TaskFilter{}, invalid("created_from", "must not be after created_to")
	}
	return filter, nil
}

func validTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", invalid("title", "must be at most %d characters", maxTitleLen)
	}
	return title, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// normalize gives callers UTC timestamps and a non-nil attachment list.
func normalize(task *model.Task) {
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	if task.CompletedAt != nil {
		t := task.CompletedAt.UTC()
		task.CompletedAt = &t
	}
	if task.Attachments == nil {
		task.Attachments = []model.Attachment{}
	}
}
