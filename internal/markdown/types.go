// Package markdown holds the value records and the service contract shared by
// every transport of the markdown file store.
package markdown

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
)

// ErrNotFound is returned by lookups when the server reports no matching file.
var ErrNotFound = errors.New("file not found")

// FileInfo is the metadata of a stored file.
type FileInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LastModified int64  `json:"lastModified"` // epoch millis
}

// ModTime converts LastModified to a time.Time. ok is false when the server
// reported no timestamp (zero or negative).
func (f FileInfo) ModTime() (t time.Time, ok bool) {
	if f.LastModified <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(f.LastModified), true
}

// FileData is a stored file including its content.
type FileData struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Content      string `json:"content"`
	LastModified int64  `json:"lastModified"`
}

// Service is implemented by every transport client.
//
// Lookups return an error wrapping ErrNotFound when the file does not exist.
// Close releases any transport resources and must be called exactly once the
// client is no longer needed.
type Service interface {
	Health(ctx context.Context) (string, error)
	ListFiles(ctx context.Context) ([]FileInfo, error)
	GetFileByID(ctx context.Context, id string) (*FileData, error)
	GetFileByName(ctx context.Context, name string) (*FileData, error)
	CreateFile(ctx context.Context, name, content string) (*FileInfo, error)
	UpdateContent(ctx context.Context, id, content string) error
	UpdateName(ctx context.Context, id, name string) error
	DeleteFile(ctx context.Context, id string) error
	Close() error
}
