package immich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"immich-migrate/internal/migrate"
)

// jsonTimeout bounds the small JSON calls (album listing, creation,
// attachment). Uploads get no deadline: a large video over a slow link
// takes as long as it takes, and run cancellation still applies.
const jsonTimeout = 30 * time.Second

// StatusError is a non-2xx response from the Immich API.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("immich api error %d: %s", e.Code, e.Status)
}

// Retryable classifies the response for the scheduler's retry loop:
// server errors and rate limiting are worth another attempt, any other
// client error is terminal.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Album is the remote album representation.
type Album struct {
	ID        string `json:"id"`
	AlbumName string `json:"albumName"`
}

// Client talks to the Immich API. It is the only component in the tool
// that performs network I/O.
type Client struct {
	baseURL    string
	apiKey     string
	deviceID   string
	httpClient *http.Client
	logger     migrate.Logger
}

var _ migrate.Gateway = (*Client)(nil)

// NewClient creates a client for the Immich instance at baseURL
// (e.g. http://immich.local:2283/api). deviceID identifies this install
// in uploaded asset metadata.
func NewClient(baseURL, apiKey, deviceID string, logger migrate.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		deviceID: deviceID,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   10,
			},
		},
		logger: logger,
	}
}

// Ping verifies the server is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var about struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/server/about", &about); err != nil {
		return fmt.Errorf("verifying connection: %w", err)
	}
	c.logger.Debug("connected to immich", "version", about.Version)
	return nil
}

// ListAlbums returns every album on the server.
func (c *Client) ListAlbums(ctx context.Context) ([]Album, error) {
	var albums []Album
	if err := c.getJSON(ctx, "/albums", &albums); err != nil {
		return nil, fmt.Errorf("listing albums: %w", err)
	}
	return albums, nil
}

// FindAlbumByName returns the id of the album with an exact name match,
// or "" if none exists. The API has no name filter, so this lists and
// scans.
func (c *Client) FindAlbumByName(ctx context.Context, name string) (string, error) {
	albums, err := c.ListAlbums(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range albums {
		if a.AlbumName == name {
			return a.ID, nil
		}
	}
	return "", nil
}

// CreateAlbum creates an album and returns its id.
func (c *Client) CreateAlbum(ctx context.Context, name string) (string, error) {
	body, err := json.Marshal(map[string]string{"albumName": name})
	if err != nil {
		return "", fmt.Errorf("encoding album request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, jsonTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/albums", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building album request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var album Album
	if err := c.do(req, &album); err != nil {
		return "", fmt.Errorf("creating album %q: %w", name, err)
	}
	return album.ID, nil
}

// UploadAsset streams the file behind entry to the server as a multipart
// upload and returns the asset id. If the server already holds the asset
// (it deduplicates by deviceAssetId and checksum), the existing id is
// returned and the upload counts as a success.
func (c *Client) UploadAsset(ctx context.Context, entry migrate.FileEntry) (string, error) {
	f, err := os.Open(entry.AbsPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", entry.AbsPath, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeAssetForm(mw, entry, f, c.deviceID)
		if closeErr := mw.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assets", pr)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var uploaded struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(req, &uploaded); err != nil {
		var serr *StatusError
		// 409 with an id in the body means the asset already exists.
		if errors.As(err, &serr) && serr.Code == http.StatusConflict {
			if id := idFromBody(serr.Body); id != "" {
				c.logger.Debug("asset already on server", "file", entry.RelPath(), "asset", id)
				return id, nil
			}
		}
		return "", fmt.Errorf("uploading %s: %w", entry.RelPath(), err)
	}

	if uploaded.Status == "duplicate" {
		c.logger.Debug("asset deduplicated by server", "file", entry.RelPath(), "asset", uploaded.ID)
	}
	return uploaded.ID, nil
}

// AddAssetToAlbum attaches an uploaded asset to an album.
func (c *Client) AddAssetToAlbum(ctx context.Context, assetID, albumID string) error {
	body, err := json.Marshal(map[string][]string{"ids": {assetID}})
	if err != nil {
		return fmt.Errorf("encoding attach request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, jsonTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, c.baseURL+"/albums/"+albumID+"/assets", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building attach request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("attaching asset %s to album %s: %w", assetID, albumID, err)
	}
	return nil
}

// writeAssetForm writes the multipart fields Immich expects for an upload.
func writeAssetForm(mw *multipart.Writer, entry migrate.FileEntry, content io.Reader, deviceID string) error {
	fields := map[string]string{
		"deviceAssetId":  entry.Fingerprint(),
		"deviceId":       deviceID,
		"fileCreatedAt":  entry.ModTime.UTC().Format(time.RFC3339),
		"fileModifiedAt": entry.ModTime.UTC().Format(time.RFC3339),
		"isFavorite":     "false",
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return fmt.Errorf("writing field %s: %w", name, err)
		}
	}

	part, err := mw.CreateFormFile("assetData", entry.Name)
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("streaming file content: %w", err)
	}
	return nil
}

// getJSON performs a GET with the standard timeout and decodes the body.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, jsonTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

// do executes a request with auth headers, maps non-2xx responses to
// StatusError, and decodes a JSON body into out when it is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   string(body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// idFromBody pulls an asset id out of an error response body, if present.
func idFromBody(body string) string {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return payload.ID
}
