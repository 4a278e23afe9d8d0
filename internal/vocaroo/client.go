// Package vocaroo is an HTTP client for the Vocaroo upload and media APIs.
//
// Uploads are chunked: a session is identified by a client-chosen token,
// chunks are posted with increasing indexes, and a finalize call returns
// the media identifier and an owner token. Media is fetched whole by
// identifier.
package vocaroo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"vocafs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("vocaroo")

	// ErrRejected is returned when the finalize response reports a
	// non-zero status.
	ErrRejected = errors.New("upload rejected by remote")
)

// FormatMarker is the MP3 frame header the service expects at the start of
// an upload. It is prepended to uploads and stripped from downloads.
var FormatMarker = []byte{0xFF, 0xFB, 0xA0, 0x40}

// downloadHeaders are required by the media host; requests without them
// are refused.
var downloadHeaders = map[string]string{
	"Referer":        "https://vocaroo.com/",
	"Sec-Fetch-Dest": "audio",
	"Sec-Fetch-Mode": "no-cors",
	"Sec-Fetch-Site": "same-site",
}

// Media identifies a finalized upload.
type Media struct {
	ID         string
	OwnerToken string
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("vocaroo: %s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("vocaroo: %s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Config holds configuration for creating a Client.
type Config struct {
	// UploadURL is the upload API base URL.
	UploadURL string

	// DownloadURL is the media base URL.
	DownloadURL string

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// HTTPClient is used for all requests. Defaults to a client without
	// a cookie jar or timeout.
	HTTPClient *http.Client
}

// Client talks to the remote upload and media endpoints.
type Client struct {
	uploadURL   string
	downloadURL string
	userAgent   string
	httpClient  *http.Client
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.UploadURL == "" || cfg.DownloadURL == "" {
		return nil, fmt.Errorf("vocaroo: upload and download URLs are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		uploadURL:   strings.TrimRight(cfg.UploadURL, "/"),
		downloadURL: strings.TrimRight(cfg.DownloadURL, "/"),
		userAgent:   cfg.UserAgent,
		httpClient:  httpClient,
	}, nil
}

// Alive probes the upload service. Only the transport error is checked;
// the response itself is ignored.
func (c *Client) Alive(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodHead, c.uploadURL+"/alive", nil, "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	logger.Trace("Alive probe answered HTTP %d", resp.StatusCode)
	return nil
}

// UploadChunk posts one chunk of the session identified by token.
func (c *Client) UploadChunk(ctx context.Context, token string, index int, chunk []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="chunk"; filename="chunk"`)
	header.Set("Content-Type", "application/octet-stream")
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("vocaroo: create chunk part: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("vocaroo: write chunk part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("vocaroo: close chunk body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/chunk/%d", c.uploadURL, token, index)
	resp, err := c.do(ctx, http.MethodPost, url, &body, writer.FormDataContentType(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	logger.Trace("Uploaded chunk %d of session %s (%d bytes)", index, token, len(chunk))
	return nil
}

type finalizeResponse struct {
	Status     *int   `json:"status"`
	MediaID    string `json:"mediaId"`
	OwnerToken string `json:"ownerToken"`
}

// Finalize closes the session identified by token and returns the
// resulting media identity.
func (c *Client) Finalize(ctx context.Context, token string) (Media, error) {
	url := fmt.Sprintf("%s/%s/finalize", c.uploadURL, token)
	resp, err := c.do(ctx, http.MethodPost, url, nil, "", nil)
	if err != nil {
		return Media{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return Media{}, err
	}

	var result finalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Media{}, fmt.Errorf("vocaroo: decode finalize response: %w", err)
	}
	if result.Status == nil {
		return Media{}, fmt.Errorf("%w: session %s finalize response has no status", ErrRejected, token)
	}
	if *result.Status != 0 {
		return Media{}, fmt.Errorf("%w: session %s finalize status %d", ErrRejected, token, *result.Status)
	}

	logger.Debug("Finalized session %s as media %s", token, result.MediaID)
	return Media{ID: result.MediaID, OwnerToken: result.OwnerToken}, nil
}

// Download fetches the complete media body for mediaID.
func (c *Client) Download(ctx context.Context, mediaID string) ([]byte, error) {
	url := c.downloadURL + "/" + mediaID
	resp, err := c.do(ctx, http.MethodGet, url, nil, "", downloadHeaders)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vocaroo: read media %s: %w", mediaID, err)
	}
	logger.Trace("Downloaded media %s (%d bytes)", mediaID, len(data))
	return data, nil
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader, contentType string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("vocaroo: build %s %s: %w", method, url, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vocaroo: %s %s: %w", method, url, err)
	}
	return resp, nil
}

// checkStatus returns a *StatusError for non-2xx responses, carrying a
// bounded excerpt of the body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(excerpt)),
	}
}
