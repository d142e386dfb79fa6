// Package storage keeps attachment bytes outside the database. The database
// only records the key an object was stored under.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotExist is returned by Open when no object is stored under the key.
var ErrNotExist = errors.New("object does not exist")

// Object describes a stored blob as seen by List.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ContentStore is a flat key/blob namespace.
type ContentStore interface {
	// Put stores r under key, replacing nothing: keys are expected to be fresh.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. A missing object is not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Object, error)
}

// NewKey returns a collision-free key that keeps the extension of the
// original filename so stored objects stay recognisable.
func NewKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return uuid.NewString() + ext
}

func validKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}
