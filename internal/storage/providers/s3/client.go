// Package s3 implements storage.Provider for S3-compatible object stores
// (MinIO, AWS S3, most object storage gateways). Object keys double as
// resource ids; a trailing slash marks a folder prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/storage"
)

// mtimeMetadataKey preserves the source modification time across uploads;
// object stores otherwise only track their own upload timestamp.
const mtimeMetadataKey = "Mtime"

// Config holds the connection settings for one S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Client implements storage.Provider for S3-compatible stores
type Client struct {
	minioClient *minio.Client
	bucket      string
}

var _ storage.Provider = (*Client)(nil)

// NewClient creates a new S3 storage client
func NewClient(cfg Config) (*Client, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       "auto",
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      cfg.Bucket,
	}, nil
}

func (c *Client) Name() entities.ProviderName {
	return entities.ProviderS3
}

// ParseResourceURL accepts s3://bucket/key URLs. Keys ending in "/" (or the
// bucket root) are folders.
func (c *Client) ParseResourceURL(rawURL string) (*storage.Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, storage.NewError(storage.KindInvalidInput, c.Name(), "parse_url",
			fmt.Errorf("failed to parse URL: %w", err))
	}
	if u.Scheme != "s3" {
		return nil, storage.NewError(storage.KindInvalidInput, c.Name(), "parse_url",
			fmt.Errorf("not an s3 URL: %s", rawURL))
	}

	key := strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return &storage.Resource{ID: key, Kind: storage.ResourceFolder}, nil
	}
	return &storage.Resource{ID: key, Kind: storage.ResourceFile}, nil
}

func (c *Client) GetMetadata(ctx context.Context, id string) (*storage.FileInfo, error) {
	stat, err := c.minioClient.StatObject(ctx, c.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return nil, c.wrapError("get_metadata", err)
	}
	info := c.objectToFileInfo(id, stat)
	return &info, nil
}

func (c *Client) ListChildren(ctx context.Context, folderID string) ([]storage.FileInfo, error) {
	prefix := folderID
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var entries []storage.FileInfo
	for object := range c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if object.Err != nil {
			return nil, c.wrapError("list_children", object.Err)
		}
		if object.Key == prefix {
			// The folder marker object itself.
			continue
		}
		if strings.HasSuffix(object.Key, "/") {
			entries = append(entries, storage.FileInfo{
				ID:    object.Key,
				Name:  path.Base(strings.TrimSuffix(object.Key, "/")),
				Path:  object.Key,
				IsDir: true,
			})
			continue
		}
		entries = append(entries, c.objectToFileInfo(object.Key, minio.ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			ETag:         object.ETag,
			LastModified: object.LastModified,
			UserMetadata: object.UserMetadata,
		}))
	}
	return entries, nil
}

func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	object, err := c.minioClient.GetObject(ctx, c.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.wrapError("download", err)
	}
	// GetObject is lazy; surface missing keys now instead of at first read.
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, c.wrapError("download", err)
	}
	return object, nil
}

func (c *Client) Upload(ctx context.Context, opts storage.UploadOptions) (*storage.FileInfo, error) {
	key := path.Join(opts.DestFolderID, opts.Name)

	putOpts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}
	if !opts.ModifiedAt.IsZero() {
		putOpts.UserMetadata = map[string]string{
			mtimeMetadataKey: opts.ModifiedAt.UTC().Format(time.RFC3339),
		}
	}

	size := opts.Size
	if size < 0 {
		size = -1
	}

	uploaded, err := c.minioClient.PutObject(ctx, c.bucket, key, opts.Content, size, putOpts)
	if err != nil {
		return nil, c.wrapError("upload", err)
	}

	modified := opts.ModifiedAt
	if modified.IsZero() {
		modified = time.Now()
	}
	return &storage.FileInfo{
		ID:          uploaded.Key,
		Name:        opts.Name,
		Path:        uploaded.Key,
		Size:        uploaded.Size,
		ModifiedAt:  modified,
		ContentHash: strings.Trim(uploaded.ETag, `"`),
	}, nil
}

func (c *Client) Copy(ctx context.Context, sourceID, destFolderID, newName string) (*storage.FileInfo, error) {
	name := newName
	if name == "" {
		name = path.Base(sourceID)
	}
	destKey := path.Join(destFolderID, name)

	copied, err := c.minioClient.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: c.bucket, Object: destKey},
		minio.CopySrcOptions{Bucket: c.bucket, Object: sourceID},
	)
	if err != nil {
		return nil, c.wrapError("copy", err)
	}

	return &storage.FileInfo{
		ID:          copied.Key,
		Name:        name,
		Path:        copied.Key,
		ModifiedAt:  copied.LastModified,
		ContentHash: strings.Trim(copied.ETag, `"`),
	}, nil
}

// CreateFolder writes a zero-byte folder marker object. Object stores have
// no real folders; the marker makes the prefix visible to listings.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*storage.FileInfo, error) {
	key := path.Join(parentID, name) + "/"

	_, err := c.minioClient.PutObject(ctx, c.bucket, key, strings.NewReader(""), 0, minio.PutObjectOptions{})
	if err != nil {
		return nil, c.wrapError("create_folder", err)
	}

	return &storage.FileInfo{
		ID:    key,
		Name:  name,
		Path:  key,
		IsDir: true,
	}, nil
}

func (c *Client) objectToFileInfo(key string, stat minio.ObjectInfo) storage.FileInfo {
	modified := stat.LastModified
	if raw, ok := stat.UserMetadata[mtimeMetadataKey]; ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			modified = parsed
		}
	}
	return storage.FileInfo{
		ID:          key,
		Name:        path.Base(key),
		Path:        key,
		Size:        stat.Size,
		ModifiedAt:  modified,
		ContentHash: strings.Trim(stat.ETag, `"`),
	}
}

// wrapError classifies minio errors by their S3 error code.
func (c *Client) wrapError(op string, err error) error {
	var respErr minio.ErrorResponse
	if errors.As(err, &respErr) {
		kind := storage.KindTransient
		switch respErr.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			kind = storage.KindNotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			kind = storage.KindAuth
		case "QuotaExceeded", "EntityTooLarge":
			kind = storage.KindQuotaExceeded
		case "InvalidObjectName", "KeyTooLongError":
			kind = storage.KindInvalidInput
		case "SlowDown", "InternalError", "ServiceUnavailable":
			kind = storage.KindTransient
		default:
			kind = storage.KindFromStatus(respErr.StatusCode)
		}
		return storage.NewError(kind, c.Name(), op, err)
	}
	return storage.NewError(storage.KindTransient, c.Name(), op, err)
}
