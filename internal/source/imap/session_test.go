package imap

import (
	"context"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/source"
)

const (
	testUser     = "clerk@example.com"
	testPassword = "secret"
)

func rawMessage(subject, attachment string) string {
	var b strings.Builder
	b.WriteString("From: John Doe <john@x.com>\r\n")
	b.WriteString("To: clerk@example.com\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Message-Id: <" + strings.ReplaceAll(subject, " ", ".") + "@x.com>\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	if attachment == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\nno files here\r\n")
		return b.String()
	}
	b.WriteString("Content-Type: multipart/mixed; boundary=\"b1\"\r\n\r\n")
	b.WriteString("--b1\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nplease find attached\r\n")
	b.WriteString("--b1\r\nContent-Type: application/pdf\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"" + attachment + "\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString("JVBERi0xLjQgdGVzdA==\r\n")
	b.WriteString("--b1--\r\n")
	return b.String()
}

// startServer runs an in-memory IMAP server with INBOX and Archive.
func startServer(t *testing.T) string {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	user.Create("INBOX", nil)
	user.Create("Archive", nil)
	memServer.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return ln.Addr().String()
}

func appendMessage(t *testing.T, addr, mailbox, raw string, received time.Time) {
	t.Helper()

	c, err := imapclient.DialInsecure(addr, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login(testUser, testPassword).Wait())

	cmd := c.Append(mailbox, int64(len(raw)), &imap.AppendOptions{Time: received})
	_, err = cmd.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, cmd.Close())
	_, err = cmd.Wait()
	require.NoError(t, err)
}

func newSessionClient(t *testing.T, addr, password string) *Client {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	c := NewClient(host, port, testUser, password, false, "")
	c.dial = func(a string) (*imapclient.Client, error) {
		return imapclient.DialInsecure(a, nil)
	}
	return c
}

func subject(msg *model.Message) string {
	s := ""
	for _, h := range msg.Headers {
		if h.Name == "Subject" {
			s = h.Value
		}
	}
	return s
}

func TestSession_ListAndFetch(t *testing.T) {
	addr := startServer(t)
	after := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)

	appendMessage(t, addr, "INBOX", rawMessage("Old statement", "old.pdf"), after.AddDate(0, 0, -10))
	appendMessage(t, addr, "INBOX", rawMessage("Bank Statement", "march.pdf"), after.AddDate(0, 1, 0))
	appendMessage(t, addr, "INBOX", rawMessage("Lunch", ""), after.AddDate(0, 1, 0))

	c := newSessionClient(t, addr, testPassword)
	ctx := context.Background()

	refs, err := c.ListMessages(ctx, "me", source.Query{After: after, HasAttachment: true})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, strings.HasPrefix(refs[0].ID, "INBOX:"), refs[0].ID)

	msg, err := c.GetMessage(ctx, "me", refs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, refs[0].ID, msg.ID)
	assert.Equal(t, "Bank Statement", subject(msg))
	assert.Equal(t, uint64(2), msg.HistoryID)
	assert.True(t, msg.InternalDate.After(after))
	require.Len(t, msg.Parts, 2)
	assert.Empty(t, msg.Parts[0].AttachmentID)
	assert.Equal(t, "1", msg.Parts[1].AttachmentID)
	assert.Equal(t, "march.pdf", msg.Parts[1].Filename)

	data, err := c.GetAttachment(ctx, "me", refs[0].ID, "1")
	require.NoError(t, err)
	decoded, err := base64.URLEncoding.DecodeString(data)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 test", string(decoded))

	all, err := c.ListMessages(ctx, "me", source.Query{After: after})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSession_LabelMailbox(t *testing.T) {
	addr := startServer(t)
	received := time.Date(2023, 3, 1, 9, 0, 0, 0, time.UTC)

	// Both mailboxes hold UID 1; fetching from the wrong one would
	// return the inbox note or fail the UIDVALIDITY check.
	appendMessage(t, addr, "INBOX", rawMessage("Inbox note", "note.pdf"), received)
	appendMessage(t, addr, "Archive", rawMessage("GST details", "gst.pdf"), received)

	c := newSessionClient(t, addr, testPassword)
	ctx := context.Background()

	refs, err := c.ListMessages(ctx, "me", source.Query{HasAttachment: true, LabelID: "Archive"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, strings.HasPrefix(refs[0].ID, "Archive:"), refs[0].ID)

	msg, err := c.GetMessage(ctx, "me", refs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "GST details", subject(msg))

	data, err := c.GetAttachment(ctx, "me", refs[0].ID, "1")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestSession_ReceivedLateInOwnZone(t *testing.T) {
	addr := startServer(t)
	received := time.Date(2023, 1, 1, 23, 0, 0, 0, time.FixedZone("EST", -5*60*60))
	appendMessage(t, addr, "INBOX", rawMessage("ITR details", "itr.pdf"), received)

	c := newSessionClient(t, addr, testPassword)
	refs, err := c.ListMessages(context.Background(), "me", source.Query{
		After: time.Date(2023, 1, 2, 1, 0, 0, 0, time.UTC), HasAttachment: true,
	})
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestSession_LoginFailure(t *testing.T) {
	addr := startServer(t)
	c := newSessionClient(t, addr, "wrong")

	_, err := c.ListMessages(context.Background(), "me", source.Query{})
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))

	_, err = c.GetMessage(context.Background(), "me", "INBOX:1:1")
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
}

func TestSession_UnknownMailbox(t *testing.T) {
	addr := startServer(t)
	c := newSessionClient(t, addr, testPassword)

	_, err := c.GetMessage(context.Background(), "me", "Missing:1:1")
	require.Error(t, err)
	assert.False(t, source.IsAuthError(err))
}
