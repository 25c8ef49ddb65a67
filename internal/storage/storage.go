// Package storage abstracts key-addressed binary storage for generation
// outputs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates no object exists under the requested key.
var ErrNotFound = errors.New("storage: object not found")

// Store is the object storage contract used by the lifecycle engine and
// the download endpoints.
type Store interface {
	// Put writes data under key. Keys are always fresh, so no overwrite
	// semantics are relied upon.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get reads the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// PresignGet returns a time-limited download URL for key.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// BuildKey returns the storage key for one generation output:
// {userID}/outputs/{token}.{ext}.
func BuildKey(userID, token, ext string) string {
	return fmt.Sprintf("%s/outputs/%s.%s", userID, token, ext)
}

// NewToken returns a fresh random token for output keys.
func NewToken() string {
	return uuid.NewString()
}
