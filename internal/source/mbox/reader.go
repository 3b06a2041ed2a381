// Package mbox reads candidate messages from a local mbox file, for
// replaying exported mail through the pipeline.
package mbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/source"
	"github.com/nhle/mailingest/internal/source/mimemsg"
)

// Reader implements source.Source over an mbox file. The file is
// rescanned on every call, so it may be appended to between runs.
type Reader struct {
	path string
}

var _ source.Source = (*Reader)(nil)

// ErrMessageNotFound is returned when no message in the file has the id.
var ErrMessageNotFound = errors.New("message not found in mbox")

// NewReader returns a source reading the mbox file at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

type entry struct {
	index int
	id    string
	date  time.Time
	raw   []byte
}

// ListMessages returns the messages dated after q.After.
func (r *Reader) ListMessages(ctx context.Context, _ string, q source.Query) ([]model.MessageRef, error) {
	var refs []model.MessageRef

	err := r.scan(ctx, func(e entry) (bool, error) {
		if !q.After.IsZero() && !e.date.After(q.After) {
			return false, nil
		}
		if q.HasAttachment {
			msg, err := mimemsg.Parse(e.id, e.raw)
			if err != nil || !hasAttachment(msg) {
				return false, nil
			}
		}
		refs = append(refs, model.MessageRef{ID: e.id})
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// GetMessage returns the parsed message with the given id.
func (r *Reader) GetMessage(ctx context.Context, _ string, messageID string) (*model.Message, error) {
	e, err := r.find(ctx, messageID)
	if err != nil {
		return nil, err
	}

	msg, err := mimemsg.Parse(messageID, e.raw)
	if err != nil {
		return nil, fmt.Errorf("parsing message %s: %w", messageID, err)
	}
	msg.HistoryID = uint64(e.index)
	msg.InternalDate = e.date
	return msg, nil
}

// GetAttachment returns part attachmentID as URL-safe base64.
func (r *Reader) GetAttachment(ctx context.Context, _ string, messageID, attachmentID string) (string, error) {
	e, err := r.find(ctx, messageID)
	if err != nil {
		return "", err
	}

	data, err := mimemsg.EncodedPartBody(e.raw, attachmentID)
	if err != nil {
		return "", fmt.Errorf("attachment %s of %s: %w", attachmentID, messageID, err)
	}
	return data, nil
}

func (r *Reader) find(ctx context.Context, messageID string) (entry, error) {
	var found *entry
	err := r.scan(ctx, func(e entry) (bool, error) {
		if e.id == messageID {
			found = &e
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return entry{}, err
	}
	if found == nil {
		return entry{}, fmt.Errorf("%s: %w", messageID, ErrMessageNotFound)
	}
	return *found, nil
}

// scan calls fn for every message in file order until fn returns true.
func (r *Reader) scan(ctx context.Context, fn func(entry) (bool, error)) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("opening mbox %s: %w", r.path, err)
	}
	defer f.Close()

	mr := mbox.NewReader(f)
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := mr.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading mbox %s: %w", r.path, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("reading message %d of %s: %w", index, r.path, err)
		}

		e := describe(index, raw)
		stop, err := fn(e)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// describe derives the stable id and date of a raw message. Messages
// without a Message-Id get a content hash; an unparseable Date leaves
// the zero time.
func describe(index int, raw []byte) entry {
	e := entry{index: index, raw: raw}

	if m, err := message.Read(bytes.NewReader(raw)); err == nil || message.IsUnknownCharset(err) {
		h := mail.Header{Header: m.Header}
		if id, err := h.MessageID(); err == nil {
			e.id = id
		}
		if d, err := h.Date(); err == nil {
			e.date = d.UTC()
		}
	}

	if e.id == "" {
		sum := sha256.Sum256(raw)
		e.id = "sha256-" + hex.EncodeToString(sum[:16])
	}
	return e
}

func hasAttachment(msg *model.Message) bool {
	for _, p := range msg.Parts {
		if p.AttachmentID != "" {
			return true
		}
	}
	return false
}
