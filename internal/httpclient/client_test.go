package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/notassigned/markdowncli/internal/markdown"
)

type recorded struct {
	method string
	path   string
	query  map[string]string
	body   map[string]string
}

// newTestServer answers every request with status and body and records the
// last request it saw.
func newTestServer(t *testing.T, status int, body string) (*Client, *recorded) {
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = map[string]string{}
		for k := range r.URL.Query() {
			rec.query[k] = r.URL.Query().Get(k)
		}
		rec.body = nil
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, time.Second)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c, rec
}

func TestHealth(t *testing.T) {
	ctx := context.Background()

	c, rec := newTestServer(t, http.StatusOK, `{"result":"healthy"}`)
	got, err := c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "healthy", got)
	require.Equal(t, http.MethodGet, rec.method)
	require.Equal(t, "/health", rec.path)

	c, _ = newTestServer(t, http.StatusOK, `{}`)
	got, err = c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "OK", got)
}

func TestListFiles(t *testing.T) {
	c, rec := newTestServer(t, http.StatusOK,
		`{"files":[{"id":"1","name":"a.md","lastModified":1700000000000},{"id":"2","name":"b.md","lastModified":0}]}`)
	files, err := c.ListFiles(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/files", rec.path)
	require.Equal(t, []markdown.FileInfo{
		{ID: "1", Name: "a.md", LastModified: 1700000000000},
		{ID: "2", Name: "b.md"},
	}, files)

	c, _ = newTestServer(t, http.StatusOK, `{}`)
	files, err = c.ListFiles(context.Background())
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestGetFileByNameEncodesQuery(t *testing.T) {
	c, rec := newTestServer(t, http.StatusOK,
		`{"id":"x1","name":"my notes & more.md","content":"# hi","lastModified":5}`)
	f, err := c.GetFileByName(context.Background(), "my notes & more.md")
	require.NoError(t, err)
	require.Equal(t, "/file", rec.path)
	require.Equal(t, "my notes & more.md", rec.query["name"])
	require.Equal(t, &markdown.FileData{ID: "x1", Name: "my notes & more.md", Content: "# hi", LastModified: 5}, f)
}

func TestGetFileNotFound(t *testing.T) {
	for _, body := range []string{
		`{"found":false}`,
		`{"error":"no such file"}`,
	} {
		c, rec := newTestServer(t, http.StatusOK, body)
		_, err := c.GetFileByID(context.Background(), "abc")
		require.ErrorIs(t, err, markdown.ErrNotFound, body)
		require.Equal(t, "abc", rec.query["id"])

		_, err = c.GetFileByName(context.Background(), "a.md")
		require.ErrorIs(t, err, markdown.ErrNotFound, body)
	}
}

func TestGetFileEmptyBody(t *testing.T) {
	c, _ := newTestServer(t, http.StatusOK, ``)
	_, err := c.GetFileByName(context.Background(), "a.md")
	require.Error(t, err)
	require.False(t, errors.Is(err, markdown.ErrNotFound))
}

func TestCreateFile(t *testing.T) {
	c, rec := newTestServer(t, http.StatusOK, `{"id":"n1","name":"new.md","lastModified":9}`)
	info, err := c.CreateFile(context.Background(), "new.md", "body")
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, rec.method)
	require.Equal(t, "/file", rec.path)
	require.Equal(t, map[string]string{"name": "new.md", "content": "body"}, rec.body)
	require.Equal(t, &markdown.FileInfo{ID: "n1", Name: "new.md", LastModified: 9}, info)
}

func TestUpdatesAndDelete(t *testing.T) {
	ctx := context.Background()
	c, rec := newTestServer(t, http.StatusOK, `{"success":true}`)

	require.NoError(t, c.UpdateContent(ctx, "id 1", "new body"))
	require.Equal(t, http.MethodPut, rec.method)
	require.Equal(t, "id 1", rec.query["id"])
	require.Equal(t, map[string]string{"content": "new body"}, rec.body)

	require.NoError(t, c.UpdateName(ctx, "id 1", "renamed.md"))
	require.Equal(t, map[string]string{"name": "renamed.md"}, rec.body)

	require.NoError(t, c.DeleteFile(ctx, "id 1"))
	require.Equal(t, http.MethodDelete, rec.method)
	require.Equal(t, "id 1", rec.query["id"])
}

func TestStatusErrors(t *testing.T) {
	for _, tc := range []struct {
		status int
		body   string
		msg    string
	}{
		{http.StatusInternalServerError, `{"error":"disk full"}`, "disk full"},
		{http.StatusNotFound, `not json`, "HTTP error 404"},
		{http.StatusBadRequest, ``, "HTTP error 400"},
		{http.StatusBadRequest, `{"message":"x"}`, "HTTP error 400"},
	} {
		c, _ := newTestServer(t, tc.status, tc.body)
		err := c.DeleteFile(context.Background(), "1")
		require.EqualError(t, err, tc.msg)

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		require.Equal(t, tc.status, statusErr.StatusCode)
	}
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second)
	defer c.Close()
	_, err := c.Health(context.Background())
	require.Error(t, err)
}
