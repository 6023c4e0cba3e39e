package markdown

import (
	"bytes"
	"encoding/json"

	"github.com/Laisky/errors/v2"
)

// DefaultHealth is reported when the server answers without a result.
const DefaultHealth = "OK"

// fileResponse is the wire shape of a single-file lookup.
// found defaults to true when absent.
type fileResponse struct {
	Found        *bool   `json:"found"`
	Error        *string `json:"error"`
	ID           *string `json:"id"`
	Name         string  `json:"name"`
	Content      string  `json:"content"`
	LastModified int64   `json:"lastModified"`
}

type fileListResponse struct {
	Files []FileInfo `json:"files"`
}

type healthResponse struct {
	Result *string `json:"result"`
}

func isEmpty(raw []byte) bool {
	return len(bytes.TrimSpace(raw)) == 0
}

// DecodeFileData parses a lookup response. A response with "found": false or
// any "error" field yields ErrNotFound. An empty body is malformed.
func DecodeFileData(raw []byte) (*FileData, error) {
	if isEmpty(raw) {
		return nil, errors.New("malformed file response: empty body")
	}

	var resp fileResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode file response")
	}
	if resp.Found != nil && !*resp.Found {
		return nil, ErrNotFound
	}
	if resp.Error != nil {
		return nil, errors.Wrap(ErrNotFound, *resp.Error)
	}
	if resp.ID == nil {
		return nil, errors.New("malformed file response: missing id")
	}

	return &FileData{
		ID:           *resp.ID,
		Name:         resp.Name,
		Content:      resp.Content,
		LastModified: resp.LastModified,
	}, nil
}

// DecodeFileInfo parses the response of a create call.
func DecodeFileInfo(raw []byte) (*FileInfo, error) {
	var info struct {
		ID           *string `json:"id"`
		Name         string  `json:"name"`
		LastModified int64   `json:"lastModified"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, errors.Wrap(err, "decode file info")
	}
	if info.ID == nil {
		return nil, errors.New("malformed file info: missing id")
	}

	return &FileInfo{ID: *info.ID, Name: info.Name, LastModified: info.LastModified}, nil
}

// DecodeFileList parses a listing. A missing "files" array is an empty list.
func DecodeFileList(raw []byte) ([]FileInfo, error) {
	if isEmpty(raw) {
		return []FileInfo{}, nil
	}

	var resp fileListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode file list")
	}
	if resp.Files == nil {
		return []FileInfo{}, nil
	}
	return resp.Files, nil
}

// DecodeHealth returns the "result" field, or DefaultHealth when absent.
func DecodeHealth(raw []byte) (string, error) {
	if isEmpty(raw) {
		return DefaultHealth, nil
	}

	var resp healthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Wrap(err, "decode health")
	}
	if resp.Result == nil {
		return DefaultHealth, nil
	}
	return *resp.Result, nil
}
