// Package dropbox implements storage.Provider against the Dropbox HTTP API.
// Dropbox addresses files by path, so resource ids are lowercase paths.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/storage"
)

const (
	dropboxAPIURL     = "https://api.dropboxapi.com/2"
	dropboxContentURL = "https://content.dropboxapi.com/2"
)

// TokenSource supplies a valid access token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client implements storage.Provider for Dropbox
type Client struct {
	tokenSource TokenSource
	httpClient  *http.Client
	apiURL      string
	contentURL  string
}

var _ storage.Provider = (*Client)(nil)

// NewClient creates a new Dropbox storage client
func NewClient(tokenSource TokenSource) *Client {
	return &Client{
		tokenSource: tokenSource,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		apiURL:     dropboxAPIURL,
		contentURL: dropboxContentURL,
	}
}

// NewClientWithBaseURLs creates a client against custom endpoints, used in tests.
func NewClientWithBaseURLs(tokenSource TokenSource, apiURL, contentURL string) *Client {
	c := NewClient(tokenSource)
	c.apiURL = apiURL
	c.contentURL = contentURL
	return c
}

func (c *Client) Name() entities.ProviderName {
	return entities.ProviderDropbox
}

// ParseResourceURL extracts a Dropbox path from a web URL such as
// https://www.dropbox.com/home/Docs/report.pdf. Paths without a file
// extension are treated as folders.
func (c *Client) ParseResourceURL(rawURL string) (*storage.Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, storage.NewError(storage.KindInvalidInput, c.Name(), "parse_url",
			fmt.Errorf("failed to parse URL: %w", err))
	}

	if !strings.Contains(u.Host, "dropbox.com") {
		return nil, storage.NewError(storage.KindInvalidInput, c.Name(), "parse_url",
			fmt.Errorf("not a Dropbox URL: %s", rawURL))
	}

	p := u.Path
	if rest, ok := strings.CutPrefix(p, "/home"); ok {
		p = rest
	}
	if p == "" || p == "/" {
		return &storage.Resource{ID: "", Kind: storage.ResourceFolder}, nil
	}

	kind := storage.ResourceFolder
	if path.Ext(p) != "" {
		kind = storage.ResourceFile
	}
	return &storage.Resource{ID: p, Kind: kind}, nil
}

type entryJSON struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ID             string    `json:"id"`
	ClientModified time.Time `json:"client_modified"`
	ServerModified time.Time `json:"server_modified"`
	Size           int64     `json:"size"`
	ContentHash    string    `json:"content_hash"`
}

func (e entryJSON) toFileInfo() storage.FileInfo {
	modified := e.ClientModified
	if modified.IsZero() {
		modified = e.ServerModified
	}
	return storage.FileInfo{
		// Dropbox calls are path-addressed, so the path doubles as the id.
		ID:          e.PathLower,
		Name:        e.Name,
		Path:        e.PathDisplay,
		IsDir:       e.Tag == "folder",
		Size:        e.Size,
		ModifiedAt:  modified,
		ContentHash: e.ContentHash,
	}
}

type listFolderResponse struct {
	Entries []entryJSON `json:"entries"`
	Cursor  string      `json:"cursor"`
	HasMore bool        `json:"has_more"`
}

func (c *Client) ListChildren(ctx context.Context, folderID string) ([]storage.FileInfo, error) {
	requestBody := map[string]any{
		"path":                           folderID,
		"recursive":                      false,
		"include_media_info":             false,
		"include_deleted":                false,
		"include_mounted_folders":        true,
		"include_non_downloadable_files": false,
	}

	var listResp listFolderResponse
	if err := c.callAPI(ctx, "list_children", "/files/list_folder", requestBody, &listResp); err != nil {
		return nil, err
	}

	allEntries := make([]storage.FileInfo, 0, len(listResp.Entries))
	for _, e := range listResp.Entries {
		allEntries = append(allEntries, e.toFileInfo())
	}

	for listResp.HasMore {
		cont := map[string]string{"cursor": listResp.Cursor}
		listResp = listFolderResponse{}
		if err := c.callAPI(ctx, "list_children", "/files/list_folder/continue", cont, &listResp); err != nil {
			return nil, err
		}
		for _, e := range listResp.Entries {
			allEntries = append(allEntries, e.toFileInfo())
		}
	}

	return allEntries, nil
}

func (c *Client) GetMetadata(ctx context.Context, id string) (*storage.FileInfo, error) {
	requestBody := map[string]any{
		"path":               id,
		"include_media_info": false,
		"include_deleted":    false,
	}

	var entry entryJSON
	if err := c.callAPI(ctx, "get_metadata", "/files/get_metadata", requestBody, &entry); err != nil {
		return nil, err
	}

	info := entry.toFileInfo()
	return &info, nil
}

func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, storage.NewError(storage.KindAuth, c.Name(), "download",
			fmt.Errorf("failed to get token: %w", err))
	}

	pathArgBytes, err := json.Marshal(map[string]string{"path": id})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal path arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.contentURL+"/files/download", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(pathArgBytes))

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

func (c *Client) Upload(ctx context.Context, opts storage.UploadOptions) (*storage.FileInfo, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, storage.NewError(storage.KindAuth, c.Name(), "upload",
			fmt.Errorf("failed to get token: %w", err))
	}

	destPath := path.Join(opts.DestFolderID, opts.Name)
	if !strings.HasPrefix(destPath, "/") {
		destPath = "/" + destPath
	}

	mode := "add"
	if opts.Overwrite {
		mode = "overwrite"
	}
	uploadArg := map[string]any{
		"path":       destPath,
		"mode":       mode,
		"autorename": false,
		"mute":       true,
	}
	// Dropbox keeps the original modification time via client_modified.
	if !opts.ModifiedAt.IsZero() {
		uploadArg["client_modified"] = opts.ModifiedAt.UTC().Format("2006-01-02T15:04:05Z")
	}

	uploadArgBytes, err := json.Marshal(uploadArg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.contentURL+"/files/upload", opts.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if opts.Size >= 0 {
		req.ContentLength = opts.Size
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(uploadArgBytes))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, storage.NewError(storage.KindTransient, c.Name(), "upload",
			fmt.Errorf("failed to upload file: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError("upload", resp)
	}

	var entry entryJSON
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	info := entry.toFileInfo()
	return &info, nil
}

func (c *Client) Copy(ctx context.Context, sourceID, destFolderID, newName string) (*storage.FileInfo, error) {
	name := newName
	if name == "" {
		name = path.Base(sourceID)
	}
	destPath := path.Join(destFolderID, name)
	if !strings.HasPrefix(destPath, "/") {
		destPath = "/" + destPath
	}

	requestBody := map[string]any{
		"from_path":  sourceID,
		"to_path":    destPath,
		"autorename": false,
	}

	var result struct {
		Metadata entryJSON `json:"metadata"`
	}
	if err := c.callAPI(ctx, "copy", "/files/copy_v2", requestBody, &result); err != nil {
		return nil, err
	}

	info := result.Metadata.toFileInfo()
	return &info, nil
}

func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*storage.FileInfo, error) {
	folderPath := path.Join(parentID, name)
	if !strings.HasPrefix(folderPath, "/") {
		folderPath = "/" + folderPath
	}

	requestBody := map[string]any{
		"path":       folderPath,
		"autorename": false,
	}

	var result struct {
		Metadata entryJSON `json:"metadata"`
	}
	err := c.callAPI(ctx, "create_folder", "/files/create_folder_v2", requestBody, &result)
	if err != nil {
		// An existing folder at the path is fine; reuse it.
		if storage.KindOf(err) == storage.KindInvalidInput {
			if existing, metaErr := c.GetMetadata(ctx, strings.ToLower(folderPath)); metaErr == nil && existing.IsDir {
				return existing, nil
			}
		}
		return nil, err
	}

	info := result.Metadata.toFileInfo()
	info.IsDir = true
	return &info, nil
}

// callAPI performs a JSON RPC-style call against the Dropbox API endpoint.
func (c *Client) callAPI(ctx context.Context, op, endpoint string, body any, out any) error {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return storage.NewError(storage.KindAuth, c.Name(), op,
			fmt.Errorf("failed to get token: %w", err))
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

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

// apiError classifies a non-200 Dropbox response. Dropbox reports routing
// errors (missing paths, name conflicts, full quota) as 409 with a structured
// error_summary tag, so the tag is inspected before falling back to the
// status code.
func (c *Client) apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	kind := storage.KindFromStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusConflict {
		var apiErr struct {
			ErrorSummary string `json:"error_summary"`
		}
		kind = storage.KindInvalidInput
		if json.Unmarshal(body, &apiErr) == nil {
			switch {
			case strings.Contains(apiErr.ErrorSummary, "not_found"):
				kind = storage.KindNotFound
			case strings.Contains(apiErr.ErrorSummary, "insufficient_space"):
				kind = storage.KindQuotaExceeded
			}
		}
	}

	return storage.NewError(kind, c.Name(), op,
		fmt.Errorf("dropbox API error (status %d): %s", resp.StatusCode, string(body)))
}
