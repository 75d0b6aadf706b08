// Package googledrive implements storage.Provider against the Google Drive
// v3 REST API. Files and folders are addressed by opaque Drive file ids.
package googledrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/storage"
)

const (
	driveAPIURL    = "https://www.googleapis.com/drive/v3"
	driveUploadURL = "https://www.googleapis.com/upload/drive/v3"

	folderMimeType = "application/vnd.google-apps.folder"

	fileFields = "id,name,mimeType,size,modifiedTime,md5Checksum,webViewLink"
)

// TokenSource supplies a valid access token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client implements storage.Provider for Google Drive
type Client struct {
	tokenSource TokenSource
	httpClient  *http.Client
	apiURL      string
	uploadURL   string
}

var _ storage.Provider = (*Client)(nil)

// NewClient creates a new Google Drive storage client
func NewClient(tokenSource TokenSource) *Client {
	return &Client{
		tokenSource: tokenSource,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		apiURL:    driveAPIURL,
		uploadURL: driveUploadURL,
	}
}

// NewClientWithBaseURLs creates a client against custom endpoints, used in tests.
func NewClientWithBaseURLs(tokenSource TokenSource, apiURL, uploadURL string) *Client {
	c := NewClient(tokenSource)
	c.apiURL = apiURL
	c.uploadURL = uploadURL
	return c
}

func (c *Client) Name() entities.ProviderName {
	return entities.ProviderGoogleDrive
}

var (
	fileURLPattern   = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	folderURLPattern = regexp.MustCompile(`/(?:drive/)?folders/([a-zA-Z0-9_-]+)`)
)

// ParseResourceURL extracts a Drive file id from sharing URLs of the forms
// .../file/d/<id>/..., .../drive/folders/<id> and ...?id=<id>.
func (c *Client) ParseResourceURL(rawURL string) (*storage.Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, storage.NewError(storage.KindInvalidInput, c.Name(), "parse_url",
			fmt.Errorf("failed to parse URL: %w", err))
	}

	if !strings.Contains(u.Host, "google.com") {
		return nil, storage.NewError(storage.KindInvalidInput, c.Name(), "parse_url",
			fmt.Errorf("not a Google Drive URL: %s", rawURL))
	}

	if m := fileURLPattern.FindStringSubmatch(u.Path); m != nil {
		return &storage.Resource{ID: m[1], Kind: storage.ResourceFile}, nil
	}
	if m := folderURLPattern.FindStringSubmatch(u.Path); m != nil {
		return &storage.Resource{ID: m[1], Kind: storage.ResourceFolder}, nil
	}
	if id := u.Query().Get("id"); id != "" {
		return &storage.Resource{ID: id, Kind: storage.ResourceFile}, nil
	}

	return nil, storage.NewError(storage.KindInvalidInput, c.Name(), "parse_url",
		fmt.Errorf("unrecognized Google Drive URL: %s", rawURL))
}

type fileJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         string    `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	MD5Checksum  string    `json:"md5Checksum"`
	WebViewLink  string    `json:"webViewLink"`
}

func (f fileJSON) toFileInfo() storage.FileInfo {
	size, _ := strconv.ParseInt(f.Size, 10, 64)
	return storage.FileInfo{
		ID:          f.ID,
		Name:        f.Name,
		IsDir:       f.MimeType == folderMimeType,
		Size:        size,
		MimeType:    f.MimeType,
		ModifiedAt:  f.ModifiedTime,
		ContentHash: f.MD5Checksum,
		URL:         f.WebViewLink,
	}
}

func (c *Client) GetMetadata(ctx context.Context, id string) (*storage.FileInfo, error) {
	endpoint := fmt.Sprintf("%s/files/%s?fields=%s", c.apiURL, url.PathEscape(id), url.QueryEscape(fileFields))

	var file fileJSON
	if err := c.getJSON(ctx, "get_metadata", endpoint, &file); err != nil {
		return nil, err
	}

	info := file.toFileInfo()
	return &info, nil
}

func (c *Client) ListChildren(ctx context.Context, folderID string) ([]storage.FileInfo, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)

	var all []storage.FileInfo
	pageToken := ""
	for {
		endpoint := fmt.Sprintf("%s/files?q=%s&fields=%s&pageSize=1000",
			c.apiURL, url.QueryEscape(query), url.QueryEscape("nextPageToken,files("+fileFields+")"))
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var listResp struct {
			NextPageToken string     `json:"nextPageToken"`
			Files         []fileJSON `json:"files"`
		}
		if err := c.getJSON(ctx, "list_children", endpoint, &listResp); err != nil {
			return nil, err
		}

		for _, f := range listResp.Files {
			all = append(all, f.toFileInfo())
		}

		if listResp.NextPageToken == "" {
			return all, nil
		}
		pageToken = listResp.NextPageToken
	}
}

func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, storage.NewError(storage.KindAuth, c.Name(), "download",
			fmt.Errorf("failed to get token: %w", err))
	}

	endpoint := fmt.Sprintf("%s/files/%s?alt=media", c.apiURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, storage.NewError(storage.KindTransient, c.Name(), "download",
			fmt.Errorf("failed to download file: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.apiError("download", resp)
	}

	return resp.Body, nil
}

// Upload uses the multipart upload protocol: a JSON metadata part followed by
// the media part. modifiedTime in the metadata preserves the source mtime.
func (c *Client) Upload(ctx context.Context, opts storage.UploadOptions) (*storage.FileInfo, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, storage.NewError(storage.KindAuth, c.Name(), "upload",
			fmt.Errorf("failed to get token: %w", err))
	}

	metadata := map[string]any{
		"name": opts.Name,
	}
	if opts.DestFolderID != "" {
		metadata["parents"] = []string{opts.DestFolderID}
	}
	if !opts.ModifiedAt.IsZero() {
		metadata["modifiedTime"] = opts.ModifiedAt.UTC().Format(time.RFC3339)
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata part: %w", err)
	}
	if _, err := metaPart.Write(metadataBytes); err != nil {
		return nil, fmt.Errorf("failed to write metadata part: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", "application/octet-stream")
	mediaPart, err := writer.CreatePart(mediaHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create media part: %w", err)
	}
	if _, err := io.Copy(mediaPart, opts.Content); err != nil {
		return nil, fmt.Errorf("failed to write media part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/files?uploadType=multipart&fields=%s", c.uploadURL, url.QueryEscape(fileFields))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, storage.NewError(storage.KindTransient, c.Name(), "upload",
			fmt.Errorf("failed to upload file: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError("upload", resp)
	}

	var file fileJSON
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	info := file.toFileInfo()
	return &info, nil
}

func (c *Client) Copy(ctx context.Context, sourceID, destFolderID, newName string) (*storage.FileInfo, error) {
	body := map[string]any{}
	if destFolderID != "" {
		body["parents"] = []string{destFolderID}
	}
	if newName != "" {
		body["name"] = newName
	}

	endpoint := fmt.Sprintf("%s/files/%s/copy?fields=%s", c.apiURL, url.PathEscape(sourceID), url.QueryEscape(fileFields))

	var file fileJSON
	if err := c.postJSON(ctx, "copy", endpoint, body, &file); err != nil {
		return nil, err
	}

	info := file.toFileInfo()
	return &info, nil
}

func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*storage.FileInfo, error) {
	body := map[string]any{
		"name":     name,
		"mimeType": folderMimeType,
	}
	if parentID != "" {
		body["parents"] = []string{parentID}
	}

	endpoint := fmt.Sprintf("%s/files?fields=%s", c.apiURL, url.QueryEscape(fileFields))

	var file fileJSON
	if err := c.postJSON(ctx, "create_folder", endpoint, body, &file); err != nil {
		return nil, err
	}

	info := file.toFileInfo()
	info.IsDir = true
	return &info, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return storage.NewError(storage.KindAuth, c.Name(), op,
			fmt.Errorf("failed to get token: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.doJSON(op, req, out)
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, body, out any) error {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return storage.NewError(storage.KindAuth, c.Name(), op,
			fmt.Errorf("failed to get token: %w", err))
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return c.doJSON(op, req, out)
}

func (c *Client) doJSON(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return storage.NewError(storage.KindTransient, c.Name(), op,
			fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(op, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// apiError classifies a non-200 Drive response. Drive reports quota
// exhaustion as 403 with a structured reason, so the reason is inspected
// before mapping 403 to an auth failure.
func (c *Client) apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	kind := storage.KindFromStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusForbidden {
		var apiErr struct {
			Error struct {
				Errors []struct {
					Reason string `json:"reason"`
				} `json:"errors"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil {
			for _, e := range apiErr.Error.Errors {
				switch e.Reason {
				case "storageQuotaExceeded", "quotaExceeded":
					kind = storage.KindQuotaExceeded
				case "rateLimitExceeded", "userRateLimitExceeded":
					kind = storage.KindTransient
				}
			}
		}
	}

	return storage.NewError(kind, c.Name(), op,
		fmt.Errorf("google drive API error (status %d): %s", resp.StatusCode, string(body)))
}
