package port

import (
	"context"
	"time"
)

// FileStorage keeps generated reports on disk. Paths are relative to the storage root.
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	GetFullPath(relativePath string) string
	// PathFor names a report generated at t with the given extension
	PathFor(t time.Time, ext string) string
}
