// Package blobstore provides a client for the external file storage service.
// The share engine never opens file bytes itself; this client is how the HTTP
// layer moves them in and out of storage.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linkvault/linkvault/internal/platform/logutil"
)

// Config holds client settings for the file service.
type Config struct {
	// BaseURL is the file service origin, e.g. "http://localhost:8081".
	BaseURL string

	// Timeout bounds every request.
	Timeout time.Duration

	// MaxRetries bounds retry attempts for idempotent requests.
	MaxRetries uint
}

// DefaultConfig returns client defaults matching a local file service.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:8081",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// UploadResult is the file service's response to an upload.
type UploadResult struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileHash string `json:"file_hash"`
	Message  string `json:"message,omitempty"`
}

// Client talks to the external file service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint
	logger     *slog.Logger
}

// New creates a file service client.
func New(cfg *Config, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		logger:     logutil.NoopIfNil(logger),
	}
}

// Upload stores file content and returns the service-assigned metadata.
// Not retried: uploads are not idempotent.
func (c *Client) Upload(ctx context.Context, content []byte, fileName string) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("file upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file upload failed: status %d", resp.StatusCode)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid upload response: %w", err)
	}
	return &result, nil
}

// Download fetches file content by id. Transient failures (network errors,
// 5xx) are retried with exponential backoff; 4xx responses are permanent.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	type downloaded struct {
		content  []byte
		fileName string
	}

	operation := func() (*downloaded, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/download/"+fileID, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			// carry on below
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("file service returned status %d", resp.StatusCode)
		default:
			return nil, backoff.Permanent(fmt.Errorf("file download failed: status %d", resp.StatusCode))
		}

		content, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		return &downloaded{
			content:  content,
			fileName: fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
		}, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxRetries),
	)
	if err != nil {
		c.logger.Warn("file download failed", "file_id", fileID, "error", err)
		return nil, "", err
	}
	return result.content, result.fileName, nil
}

// Delete removes a file from storage.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/files/delete/"+fileID, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("file deletion failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("file deletion failed: status %d", resp.StatusCode)
	}
	return nil
}

// Verify asks the file service to check stored content against a hash.
func (c *Client) Verify(ctx context.Context, fileID, expectedHash string) (bool, error) {
	payload, err := json.Marshal(map[string]string{"expected_hash": expectedHash})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/verify/"+fileID, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("file verification failed: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// fileNameFromDisposition extracts the filename from a Content-Disposition
// header, falling back to "attachment".
func fileNameFromDisposition(disposition string) string {
	if disposition == "" {
		return "attachment"
	}
	const marker = "filename="
	idx := strings.Index(disposition, marker)
	if idx < 0 {
		return "attachment"
	}
	name := disposition[idx+len(marker):]
	name = strings.Trim(name, `"`)
	if name == "" {
		return "attachment"
	}
	return name
}
