package mbox

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailingest/internal/source"
)

const fixture = "From john@x.com Mon Jan  2 10:00:00 2023\n" +
	"From: John Doe <john@x.com>\n" +
	"Subject: Bank Statement\n" +
	"Date: Mon, 2 Jan 2023 10:00:00 +0000\n" +
	"Message-Id: <first@x.com>\n" +
	"MIME-Version: 1.0\n" +
	"Content-Type: multipart/mixed; boundary=\"B\"\n" +
	"\n" +
	"--B\n" +
	"Content-Type: text/plain\n" +
	"\n" +
	"see attached\n" +
	"--B\n" +
	"Content-Type: application/pdf\n" +
	"Content-Disposition: attachment; filename=\"march.pdf\"\n" +
	"Content-Transfer-Encoding: base64\n" +
	"\n" +
	"aGVsbG8=\n" +
	"--B--\n" +
	"\n" +
	"From jane@x.com Tue Jan  3 10:00:00 2023\n" +
	"From: Jane <jane@x.com>\n" +
	"Subject: hello\n" +
	"Date: Tue, 3 Jan 2023 10:00:00 +0000\n" +
	"\n" +
	"no attachment here\n"

func newReader(t *testing.T) *Reader {
	t.Helper()

	path := filepath.Join(t.TempDir(), "inbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	return NewReader(path)
}

func TestListMessages(t *testing.T) {
	r := newReader(t)
	ctx := context.Background()

	refs, err := r.ListMessages(ctx, "me", source.Query{})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "first@x.com", refs[0].ID)
	assert.Contains(t, refs[1].ID, "sha256-")

	refs, err = r.ListMessages(ctx, "me", source.Query{HasAttachment: true})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "first@x.com", refs[0].ID)

	refs, err = r.ListMessages(ctx, "me", source.Query{After: time.Date(2023, 1, 2, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.NotEqual(t, "first@x.com", refs[0].ID)
}

func TestGetMessageAndAttachment(t *testing.T) {
	r := newReader(t)
	ctx := context.Background()

	msg, err := r.GetMessage(ctx, "me", "first@x.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.HistoryID)
	assert.Equal(t, time.Date(2023, 1, 2, 10, 0, 0, 0, time.UTC), msg.InternalDate)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, "march.pdf", msg.Parts[1].Filename)

	data, err := r.GetAttachment(ctx, "me", "first@x.com", msg.Parts[1].AttachmentID)
	require.NoError(t, err)
	decoded, err := base64.URLEncoding.DecodeString(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(decoded))
}

func TestGetMessage_NotFound(t *testing.T) {
	r := newReader(t)

	_, err := r.GetMessage(context.Background(), "me", "missing@x.com")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMissingFile(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "nope.mbox"))

	_, err := r.ListMessages(context.Background(), "me", source.Query{})
	assert.Error(t, err)
}
