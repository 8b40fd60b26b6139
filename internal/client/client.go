package client

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadResult is the server's response to a single upload.
type UploadResult struct {
	Token       string `json:"token"`
	DownloadURL string `json:"download_url"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ExpiresAt   string `json:"expires_at"`
}

// GroupRecipient is one recipient's grant in a group upload response.
type GroupRecipient struct {
	Email     string `json:"email"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// GroupResult is the server's response to a group upload.
type GroupResult struct {
	Name               string           `json:"name"`
	RecipientsCount    int              `json:"recipients_count"`
	Recipients         []GroupRecipient `json:"recipients"`
	Notified           int              `json:"notified"`
	NotificationFailed []string         `json:"notification_failed"`
}

// Client talks to a filedrop server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given server base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Upload shares a single file and returns its one-time download link.
func (c *Client) Upload(req *Request) (*UploadResult, error) {
	var out UploadResult
	if err := c.postFile("/api/upload", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupUpload shares a file with every recipient in the request.
func (c *Client) GroupUpload(req *Request) (*GroupResult, error) {
	fields := map[string]string{
		"members": strings.Join(req.Recipients, ","),
	}
	var out GroupResult
	if err := c.postFile("/api/group", req, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// postFile sends the file as a multipart form and decodes the JSON response.
func (c *Client) postFile(endpoint string, req *Request, extraFields map[string]string, out any) error {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", req.FilePath, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		defer form.Close()

		if req.Title != "" {
			form.WriteField("title", req.Title)
		}
		for k, v := range extraFields {
			form.WriteField(k, v)
		}
		part, err := form.CreateFormFile("file", filepath.Base(req.FilePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
		}
	}()

	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+endpoint, pr)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server rejected upload: %s", apiErr.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
