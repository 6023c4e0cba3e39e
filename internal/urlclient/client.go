// Package urlclient implements markdown.Service on top of url:// RPC calls.
package urlclient

import (
	"context"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"github.com/notassigned/markdowncli/internal/logging"
	"github.com/notassigned/markdowncli/internal/markdown"
)

// Caller sends one RPC request to the service behind serviceURL. A nil
// result means the service produced no response.
type Caller interface {
	SendServiceRpcRequest(ctx context.Context, serviceURL, method string, params map[string]string) (*string, error)
	Close() error
}

// RPC method names exposed by the markdown service.
const (
	MethodHealth        = "health"
	MethodGetAllFiles   = "getAllFiles"
	MethodGetFile       = "getFile"
	MethodGetFileByName = "getFileByName"
	MethodCreateFile    = "createFile"
	MethodSetContent    = "setContent"
	MethodSetName       = "setName"
	MethodDeleteFile    = "deleteFile"
)

type Client struct {
	serviceURL string
	caller     Caller
}

var _ markdown.Service = (*Client)(nil)

// New wraps caller. Nothing is sent until the first method call.
func New(serviceURL string, caller Caller) *Client {
	return &Client{serviceURL: serviceURL, caller: caller}
}

func (c *Client) call(ctx context.Context, method string, params map[string]string) (*string, error) {
	if params == nil {
		params = map[string]string{}
	}
	result, err := c.caller.SendServiceRpcRequest(ctx, c.serviceURL, method, params)
	if err != nil {
		return nil, errors.Wrapf(err, "RPC call to %s failed", method)
	}
	logging.L().Debug("rpc call",
		zap.String("service_url", c.serviceURL),
		zap.String("method", method),
		zap.Bool("has_result", result != nil))
	return result, nil
}

// decodeError reports an unparsable result like a failed call. Not-found
// answers pass through unchanged.
func decodeError(method string, err error) error {
	if errors.Is(err, markdown.ErrNotFound) {
		return err
	}
	return errors.Wrapf(err, "RPC call to %s failed", method)
}

func (c *Client) Health(ctx context.Context) (string, error) {
	result, err := c.call(ctx, MethodHealth, nil)
	if err != nil {
		return "", err
	}
	if result == nil {
		return markdown.DefaultHealth, nil
	}
	health, err := markdown.DecodeHealth([]byte(*result))
	if err != nil {
		return "", decodeError(MethodHealth, err)
	}
	return health, nil
}

func (c *Client) ListFiles(ctx context.Context) ([]markdown.FileInfo, error) {
	result, err := c.call(ctx, MethodGetAllFiles, nil)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return []markdown.FileInfo{}, nil
	}
	files, err := markdown.DecodeFileList([]byte(*result))
	if err != nil {
		return nil, decodeError(MethodGetAllFiles, err)
	}
	return files, nil
}

func (c *Client) getFile(ctx context.Context, method string, params map[string]string) (*markdown.FileData, error) {
	result, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, markdown.ErrNotFound
	}
	file, err := markdown.DecodeFileData([]byte(*result))
	if err != nil {
		return nil, decodeError(method, err)
	}
	return file, nil
}

func (c *Client) GetFileByID(ctx context.Context, id string) (*markdown.FileData, error) {
	return c.getFile(ctx, MethodGetFile, map[string]string{"id": id})
}

func (c *Client) GetFileByName(ctx context.Context, name string) (*markdown.FileData, error) {
	return c.getFile(ctx, MethodGetFileByName, map[string]string{"name": name})
}

func (c *Client) CreateFile(ctx context.Context, name, content string) (*markdown.FileInfo, error) {
	result, err := c.call(ctx, MethodCreateFile, map[string]string{
		"name":    name,
		"content": content,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("Failed to create file: no response from server")
	}
	info, err := markdown.DecodeFileInfo([]byte(*result))
	if err != nil {
		return nil, decodeError(MethodCreateFile, err)
	}
	return info, nil
}

func (c *Client) UpdateContent(ctx context.Context, id, content string) error {
	_, err := c.call(ctx, MethodSetContent, map[string]string{"id": id, "content": content})
	return err
}

func (c *Client) UpdateName(ctx context.Context, id, name string) error {
	_, err := c.call(ctx, MethodSetName, map[string]string{"id": id, "name": name})
	return err
}

func (c *Client) DeleteFile(ctx context.Context, id string) error {
	_, err := c.call(ctx, MethodDeleteFile, map[string]string{"id": id})
	return err
}

// Close releases the caller.
func (c *Client) Close() error {
	return c.caller.Close()
}
