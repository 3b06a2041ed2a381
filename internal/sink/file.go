package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes documents to a local directory as
// {sender}_{message_id}{ext}.
type FileSink struct {
	dir string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink returns a sink writing under dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Name() string { return "file" }

// Deliver writes doc.Data, replacing any existing file of the same name.
func (s *FileSink) Deliver(_ context.Context, doc Document) error {
	if doc.SenderEmail == "" || doc.MessageID == "" {
		return errors.New("file sink: sender and message id are required")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir %s: %w", s.dir, err)
	}

	path := filepath.Join(s.dir, FileName(doc))
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// FileName returns the base name a document is written under. Every
// component is sanitized so the name cannot escape the output dir.
func FileName(doc Document) string {
	ext := doc.Attachment.Extension
	if ext != "" {
		ext = "." + sanitize(strings.TrimPrefix(ext, "."))
	}
	name := sanitize(doc.SenderEmail) + "_" + sanitize(doc.MessageID) + ext
	if strings.HasPrefix(name, ".") {
		name = "_" + name[1:]
	}
	return name
}
