// Package commands implements the markdown-cli subcommands on top of a
// markdown.Service.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"github.com/notassigned/markdowncli/internal/logging"
	"github.com/notassigned/markdowncli/internal/markdown"
)

const (
	DefaultEditor = "vim"

	separatorWidth = 80
	timeLayout     = "2006-01-02 15:04:05"
	rowFormat      = "%-36s  %-30s  %s\n"
)

// Handlers runs one command against Service and writes its report to Out.
type Handlers struct {
	Service markdown.Service
	Out     io.Writer

	// Editor is the editor command line, split on whitespace.
	Editor    string
	RunEditor EditorFunc
	// TempDir holds edit buffers; empty means os.TempDir().
	TempDir string
}

func (h *Handlers) printf(format string, args ...any) {
	fmt.Fprintf(h.Out, format, args...)
}

// lookup returns nil, nil when name does not exist.
func (h *Handlers) lookup(ctx context.Context, name string) (*markdown.FileData, error) {
	file, err := h.Service.GetFileByName(ctx, name)
	if errors.Is(err, markdown.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (h *Handlers) mustLookup(ctx context.Context, name string) (*markdown.FileData, error) {
	file, err := h.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, errors.Errorf("File not found: %s", name)
	}
	return file, nil
}

// Upload stores a local file under its base name, replacing the content of
// an existing file with that name.
func (h *Handlers) Upload(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("upload requires a file path argument")
	}
	path := args[0]

	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("File does not exist: %s", path)
		}
		return errors.Wrapf(err, "stat %s", path)
	}
	if !stat.Mode().IsRegular() {
		return errors.Errorf("Path is not a file: %s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	name := filepath.Base(path)
	content := string(raw)
	logging.L().Debug("upload",
		zap.String("name", name),
		zap.Int("bytes", len(raw)),
		zap.String("blake3", markdown.Digest(content)))

	existing, err := h.lookup(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := h.Service.UpdateContent(ctx, existing.ID, content); err != nil {
			return err
		}
		h.printf("Updated: %s (id: %s)\n", name, existing.ID)
		return nil
	}

	info, err := h.Service.CreateFile(ctx, name, content)
	if err != nil {
		return err
	}
	h.printf("Uploaded: %s (id: %s)\n", name, info.ID)
	return nil
}

// Download writes the content of name to output, or to ./name when output
// is empty.
func (h *Handlers) Download(ctx context.Context, args []string, output string) error {
	if len(args) == 0 {
		return errors.New("download requires a file name argument")
	}
	name := args[0]

	file, err := h.mustLookup(ctx, name)
	if err != nil {
		return err
	}

	if output == "" {
		output = name
	}
	abs, err := filepath.Abs(output)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", output)
	}
	if err := os.WriteFile(abs, []byte(file.Content), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", abs)
	}
	logging.L().Debug("download",
		zap.String("name", name),
		zap.String("blake3", markdown.Digest(file.Content)))

	h.printf("Downloaded: %s -> %s\n", name, abs)
	return nil
}

// List prints every stored file as a table.
func (h *Handlers) List(ctx context.Context) error {
	files, err := h.Service.ListFiles(ctx)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		h.printf("No files found\n")
		return nil
	}

	separator := strings.Repeat("-", separatorWidth) + "\n"
	h.printf("Files:\n")
	h.printf("%s", separator)
	h.printf(rowFormat, "ID", "Name", "Last Modified")
	h.printf("%s", separator)
	for _, f := range files {
		h.printf(rowFormat, f.ID, f.Name, formatModTime(f))
	}
	h.printf("%s", separator)
	h.printf("Total: %d file(s)\n", len(files))
	return nil
}

func formatModTime(f markdown.FileInfo) string {
	t, ok := f.ModTime()
	if !ok {
		return "N/A"
	}
	return t.In(time.Local).Format(timeLayout)
}

func (h *Handlers) Delete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("delete requires a file name argument")
	}
	name := args[0]

	file, err := h.mustLookup(ctx, name)
	if err != nil {
		return err
	}
	if err := h.Service.DeleteFile(ctx, file.ID); err != nil {
		return err
	}
	h.printf("Deleted: %s (id: %s)\n", name, file.ID)
	return nil
}

func (h *Handlers) Health(ctx context.Context) error {
	result, err := h.Service.Health(ctx)
	if err != nil {
		return err
	}
	h.printf("Server health: %s\n", result)
	return nil
}

// Rename changes the name of an existing file.
func (h *Handlers) Rename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("rename requires a file name and a new name argument")
	}
	name, newName := args[0], args[1]

	file, err := h.mustLookup(ctx, name)
	if err != nil {
		return err
	}
	if err := h.Service.UpdateName(ctx, file.ID, newName); err != nil {
		return err
	}
	h.printf("Renamed: %s -> %s (id: %s)\n", name, newName, file.ID)
	return nil
}

// Show prints the content of the file with the given id.
func (h *Handlers) Show(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("show requires a file id argument")
	}
	id := args[0]

	file, err := h.Service.GetFileByID(ctx, id)
	if errors.Is(err, markdown.ErrNotFound) {
		return errors.Errorf("File not found: %s", id)
	}
	if err != nil {
		return err
	}

	h.printf("%s", file.Content)
	if !strings.HasSuffix(file.Content, "\n") {
		h.printf("\n")
	}
	return nil
}
