// Package storage defines the provider-agnostic interface the transfer core
// uses to talk to remote storage services, plus the shared error taxonomy.
// Concrete adapters live under providers/.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/mrlokans/skyferry/internal/entities"
)

// FileInfo contains metadata about a file or folder on a remote provider.
type FileInfo struct {
	ID          string
	Name        string
	Path        string
	IsDir       bool
	Size        int64
	MimeType    string
	ModifiedAt  time.Time
	ContentHash string // provider-specific content hash, empty if unavailable
	URL         string // provider web link, empty if unavailable
}

// ResourceKind distinguishes parsed file URLs from folder URLs.
type ResourceKind string

const (
	ResourceFile   ResourceKind = "file"
	ResourceFolder ResourceKind = "folder"
)

// Resource is the result of parsing a provider share/resource URL.
type Resource struct {
	ID   string
	Kind ResourceKind
}

// UploadOptions describes a single upload call.
type UploadOptions struct {
	Name         string
	Content      io.Reader
	Size         int64 // -1 when unknown
	DestFolderID string
	// ModifiedAt is preserved as upload metadata where the provider
	// supports it; the zero value means "now".
	ModifiedAt time.Time
	Overwrite  bool
}

// Provider is the capability each remote storage service implements once.
// Recursive enumeration is the core's responsibility, not the provider's:
// ListChildren is a single non-recursive level.
type Provider interface {
	Name() entities.ProviderName

	ParseResourceURL(rawURL string) (*Resource, error)
	GetMetadata(ctx context.Context, id string) (*FileInfo, error)
	ListChildren(ctx context.Context, folderID string) ([]FileInfo, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	Upload(ctx context.Context, opts UploadOptions) (*FileInfo, error)
	// Copy performs a server-side copy; same-provider only.
	Copy(ctx context.Context, sourceID, destFolderID, newName string) (*FileInfo, error)
	CreateFolder(ctx context.Context, name, parentID string) (*FileInfo, error)
}

// Resolver hands out a Provider bound to a specific user's credentials.
// The worker and sync engine resolve clients through this so per-user
// handles can be pooled and recycled in one place.
type Resolver interface {
	Resolve(ctx context.Context, provider entities.ProviderName, userID uint) (Provider, error)
}
