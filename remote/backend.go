package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
)

// Backend is the set of single-attempt primitives a hierarchical store offers.
// Retry, caching and pacing live in Client. Lookups return ErrNotFound when nothing matches;
// when several objects match, the oldest wins.
type Backend interface {
	Name() string
	RootID(ctx context.Context) (string, error)

	FindFolder(ctx context.Context, name, parentID string) (string, error)
	// ListFolders maps child folder names to ids
	ListFolders(ctx context.Context, parentID string) (map[string]string, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)

	FindFile(ctx context.Context, name, parentID string) (string, error)
	CreateFile(ctx context.Context, req FileRequest) (string, error)

	Close() error
}

// BatchFolderCreator is implemented by backends that can create many siblings in one go.
// The returned map holds the folders that were created even when err is set.
type BatchFolderCreator interface {
	CreateFolders(ctx context.Context, parentID string, names []string) (map[string]string, error)
}

// FileRequest describes one file upload attempt
type FileRequest struct {
	Name        string
	ParentID    string
	Body        io.Reader
	Size        int64
	ContentType string
	ChunkSize   int
}

// CreateBackend builds the backend selected by cfg
func CreateBackend(ctx context.Context, cfg *config.RemoteConfig, log logger.Logger) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote configuration: %w", err)
	}

	switch cfg.RemoteType {
	case config.RemoteTypeDrive:
		return NewDriveBackendFromConfig(ctx, cfg.Drive, log)
	case config.RemoteTypeFTP:
		return NewFTPBackend(cfg.FTP, &cfg.Common, log)
	case config.RemoteTypeS3:
		return NewS3Backend(ctx, cfg.S3)
	case config.RemoteTypeMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported remote type: %s", cfg.RemoteType)
	}
}
