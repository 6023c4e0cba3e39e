// Package httpclient talks to the markdown file server over its HTTP API.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/notassigned/markdowncli/internal/logging"
	"github.com/notassigned/markdowncli/internal/markdown"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// StatusError is returned for responses with a status of 400 or above.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Client implements markdown.Service against a server base URL such as
// http://localhost:8080.
type Client struct {
	client *resty.Client
}

var _ markdown.Service = (*Client)(nil)

// New builds a client. timeout bounds each request; zero means DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: DefaultConnectTimeout}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetTransport(&http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: dialer.DialContext,
		}).
		SetHeader("Accept", "application/json")

	return &Client{client: client}
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body any) ([]byte, error) {
	req := c.client.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	logging.L().Debug("http request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("took", resp.Time()))

	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, statusError(resp.StatusCode(), resp.Body())
	}
	return resp.Body(), nil
}

func statusError(code int, body []byte) *StatusError {
	var payload struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		return &StatusError{StatusCode: code, Message: *payload.Error}
	}
	return &StatusError{StatusCode: code, Message: fmt.Sprintf("HTTP error %d", code)}
}

func (c *Client) Health(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return "", err
	}
	return markdown.DecodeHealth(body)
}

func (c *Client) ListFiles(ctx context.Context) ([]markdown.FileInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/files", nil, nil)
	if err != nil {
		return nil, err
	}
	return markdown.DecodeFileList(body)
}

func (c *Client) GetFileByID(ctx context.Context, id string) (*markdown.FileData, error) {
	body, err := c.do(ctx, http.MethodGet, "/file", map[string]string{"id": id}, nil)
	if err != nil {
		return nil, err
	}
	return markdown.DecodeFileData(body)
}

func (c *Client) GetFileByName(ctx context.Context, name string) (*markdown.FileData, error) {
	body, err := c.do(ctx, http.MethodGet, "/file", map[string]string{"name": name}, nil)
	if err != nil {
		return nil, err
	}
	return markdown.DecodeFileData(body)
}

func (c *Client) CreateFile(ctx context.Context, name, content string) (*markdown.FileInfo, error) {
	body, err := c.do(ctx, http.MethodPost, "/file", nil, map[string]string{
		"name":    name,
		"content": content,
	})
	if err != nil {
		return nil, err
	}
	return markdown.DecodeFileInfo(body)
}

func (c *Client) UpdateContent(ctx context.Context, id, content string) error {
	_, err := c.do(ctx, http.MethodPut, "/file", map[string]string{"id": id},
		map[string]string{"content": content})
	return err
}

func (c *Client) UpdateName(ctx context.Context, id, name string) error {
	_, err := c.do(ctx, http.MethodPut, "/file", map[string]string{"id": id},
		map[string]string{"name": name})
	return err
}

func (c *Client) DeleteFile(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/file", map[string]string{"id": id}, nil)
	return err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}
