package commands

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"github.com/notassigned/markdowncli/internal/logging"
	"github.com/notassigned/markdowncli/internal/markdown"
)

// EditorFunc opens path in editor and blocks until it exits.
type EditorFunc func(ctx context.Context, editor, path string) error

// ExecEditor runs the editor as a child process attached to the terminal.
// A non-zero exit status is reported as "Editor exited with code <n>".
// The editor is not bound to ctx: it shares the terminal's signals and
// decides itself when to exit.
func ExecEditor(_ context.Context, editor, path string) error {
	argv := strings.Fields(editor)
	if len(argv) == 0 {
		argv = []string{DefaultEditor}
	}

	cmd := exec.Command(argv[0], append(argv[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return errors.Errorf("Editor exited with code %d", exitErr.ExitCode())
	}
	if err != nil {
		return errors.Wrapf(err, "run editor `%s`", argv[0])
	}
	return nil
}

// Edit opens the content of name in the editor and saves it back when the
// buffer was written. A name that does not exist yet starts from an empty
// buffer and is created on save.
func (h *Handlers) Edit(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("edit requires a file name argument")
	}
	name := args[0]

	file, err := h.lookup(ctx, name)
	if err != nil {
		return err
	}
	var content string
	if file != nil {
		content = file.Content
	}

	tmp, err := os.CreateTemp(h.TempDir, "markdown-edit-*.md")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmpPath)
	}

	before, err := os.Stat(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "stat %s", tmpPath)
	}

	editor := h.Editor
	if strings.TrimSpace(editor) == "" {
		editor = DefaultEditor
	}
	run := h.RunEditor
	if run == nil {
		run = ExecEditor
	}
	if err := run(ctx, editor, tmpPath); err != nil {
		return err
	}

	after, err := os.Stat(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "stat %s", tmpPath)
	}
	if after.ModTime().Equal(before.ModTime()) {
		h.printf("No changes made, skipping save\n")
		return nil
	}

	raw, err := os.ReadFile(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "read %s", tmpPath)
	}
	newContent := string(raw)
	logging.L().Debug("edited",
		zap.String("name", name),
		zap.String("blake3_before", markdown.Digest(content)),
		zap.String("blake3_after", markdown.Digest(newContent)))

	if file != nil {
		if err := h.Service.UpdateContent(ctx, file.ID, newContent); err != nil {
			return err
		}
		h.printf("Updated: %s\n", name)
		return nil
	}

	info, err := h.Service.CreateFile(ctx, name, newContent)
	if err != nil {
		return err
	}
	h.printf("Created: %s (id: %s)\n", name, info.ID)
	return nil
}
