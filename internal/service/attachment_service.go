package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"task-assistant/internal/model"
	"task-assistant/internal/repository"
	"task-assistant/internal/storage"
)

// DefaultMaxUploadBytes bounds a single upload when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// ErrTooLarge is what the upload reader fails with once the limit is passed.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Upload is one file handed to Attach.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// StoredFile is an open attachment. The caller must close Body.
type StoredFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// AttachmentService binds stored bytes to tasks.
type AttachmentService struct {
	attachments *repository.AttachmentRepository
	store       storage.ContentStore
	logger      *slog.Logger
	maxBytes    int64
	now         func() time.Time
}

func NewAttachmentService(attachments *repository.AttachmentRepository, store storage.ContentStore, maxBytes int64, logger *slog.Logger) *AttachmentService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentService{
		attachments: attachments,
		store:       store,
		logger:      logger,
		maxBytes:    maxBytes,
		now:         time.Now,
	}
}

// MaxBytes is the upload limit in bytes.
func (s *AttachmentService) MaxBytes() int64 { return s.maxBytes }

// Attach stores the bytes under a fresh key, then records the row. If the
// row cannot be written the bytes are removed again.
func (s *AttachmentService) Attach(ctx context.Context, taskID uint, up Upload) (*model.Attachment, error) {
	name := cleanFilename(up.Filename)
	if name == "" {
		return nil, invalid("file", "filename is required")
	}
	if up.Body == nil {
		return nil, invalid("file", "content is required")
	}

	key := storage.NewKey(name)
	body := &limitedReader{r: up.Body, remaining: s.maxBytes}
	size, err := s.store.Put(ctx, key, body)
	if err != nil {
		s.discard(key)
		if body.exceeded {
			return nil, &ValidationError{Field: "file", Reason: fmt.Sprintf("%v (%d bytes)", ErrTooLarge, s.maxBytes)}
		}
		if body.readErr != nil {
			// The client body failed, not the store.
			return nil, fmt.Errorf("%w: %w", invalid("file", "invalid multipart body: %v", body.readErr), body.readErr)
		}
		return nil, storageErr("store upload", err)
	}

	att := model.Attachment{
		TaskID:     taskID,
		Filename:   name,
		Filepath:   key,
		Filetype:   strings.TrimSpace(up.ContentType),
		Size:       size,
		UploadedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.attachments.CreateForTask(ctx, &att); err != nil {
		s.discard(key)
		return nil, mapNotFound(err, "task", taskID)
	}
	return &att, nil
}

// Download returns the stored bytes with the original filename.
func (s *AttachmentService) Download(ctx context.Context, id uint) (*StoredFile, error) {
	att, err := s.attachments.FindByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "attachment", id)
	}
	body, err := s.store.Open(ctx, att.Filepath)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, fmt.Errorf("content of attachment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("open attachment", err)
	}
	return &StoredFile{Filename: att.Filename, ContentType: att.Filetype, Size: att.Size, Body: body}, nil
}

// Delete removes the bytes first, then the row, so a failed byte removal
// leaves the attachment visible and retryable.
func (s *AttachmentService) Delete(ctx context.Context, id uint) error {
	att, err := s.attachments.FindByID(ctx, id)
	if err != nil {
		return mapNotFound(err, "attachment", id)
	}
	if err := s.store.Delete(ctx, att.Filepath); err != nil {
		return storageErr("delete attachment content", err)
	}
	if err := s.attachments.Delete(ctx, id); err != nil {
		return mapNotFound(err, "attachment", id)
	}
	return nil
}

// ListForTask returns the attachments of an existing task.
func (s *AttachmentService) ListForTask(ctx context.Context, taskID uint) ([]model.Attachment, error) {
	atts, err := s.attachments.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(atts) == 0 {
		// Tell an empty task apart from a missing one.
		if err := s.attachments.EnsureTask(ctx, taskID); err != nil {
			return nil, mapNotFound(err, "task", taskID)
		}
		return []model.Attachment{}, nil
	}
	return atts, nil
}

// discard removes bytes of an upload that did not make it into the database.
// It ignores the request context, which may already be cancelled.
func (s *AttachmentService) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("discard upload", "key", key, "error", err)
	}
}

func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// limitedReader fails once more than remaining bytes have been read. It
// also keeps the first error the source returned other than io.EOF.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
	readErr   error
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	if err != nil && err != io.EOF && l.readErr == nil {
		l.readErr = err
	}
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return 0, ErrTooLarge
	}
	return n, err
}
