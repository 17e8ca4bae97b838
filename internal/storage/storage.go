// Package storage provides file storage for uploaded site photos and
// exported report documents.
//
// Two implementations are available:
// - LocalStorage: filesystem storage for development
// - S3Storage: any S3-compatible object store for production
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the file storage operations the server needs. All
// methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at the specified key. Returns ErrKeyExists if the
	// key is taken and overwrite is disabled, ErrTooLarge if data exceeds
	// the configured size limit.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at the specified key. The caller must close
	// the reader. Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key. Idempotent.
	Delete(ctx context.Context, key string) error

	// URL returns a URL for accessing the object. Implementations may
	// return a permanent public URL or a presigned one valid for expires.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists reports whether an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType is the MIME type of the object. Empty means detect
	// from the key extension.
	ContentType string

	// MaxSize limits the object size in bytes. 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// =============================================================================
// Configuration
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where files are stored.
	BasePath string

	// BaseURL is the public URL prefix for accessing files.
	BaseURL string
}

// S3Config holds configuration for an S3-compatible object store.
type S3Config struct {
	// Endpoint is the object store URL, e.g. "https://minio.internal:9000".
	Endpoint string

	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// PublicURL serves objects through a CDN or custom domain. When
	// empty, presigned URLs are generated instead.
	PublicURL string
}

const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

// =============================================================================
// Key Generation
// =============================================================================

// UploadKey generates a storage key for an uploaded site photo.
// Format: uploads/{yyyy-mm-dd}/{uuid}{ext}
func UploadKey(filename string, now time.Time) string {
	return fmt.Sprintf("uploads/%s/%s%s",
		now.Format("2006-01-02"), uuid.New(), filepath.Ext(filename))
}

// ReportKey generates a storage key for an exported report document.
// Format: reports/{reportID}.pdf
func ReportKey(reportID string) string {
	return fmt.Sprintf("reports/%s.pdf", reportID)
}
