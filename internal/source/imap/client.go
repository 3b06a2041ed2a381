// Package imap reads candidate messages from an IMAP mailbox.
package imap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/source"
	"github.com/nhle/mailingest/internal/source/mimemsg"
)

// Client implements source.Source over go-imap v2. Every call opens its
// own session, selects the mailbox and logs out when done.
type Client struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	mailbox  string

	// dial overrides how connections are opened. Nil uses TLS or
	// STARTTLS according to tls.
	dial func(addr string) (*imapclient.Client, error)
}

var _ source.Source = (*Client)(nil)

var errZeroUID = errors.New("uid must be positive")

// NewClient returns a client for the given server and mailbox.
func NewClient(host, port, username, password string, tls bool, mailbox string) *Client {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
		mailbox:  mailbox,
	}
}

// connect dials the server and authenticates. The caller must log out.
func (c *Client) connect(ctx context.Context) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := c.host + ":" + c.port

	var (
		client *imapclient.Client
		err    error
	)
	switch {
	case c.dial != nil:
		client, err = c.dial(addr)
	case c.tls:
		client, err = imapclient.DialTLS(addr, nil)
	default:
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Provider: model.MailProviderIMAP,
			Message:  fmt.Sprintf("authentication failed for %s: %v", c.username, err),
		}
	}
	return client, nil
}

// session connects and selects mailbox, returning its UIDVALIDITY.
func (c *Client) session(ctx context.Context, mailbox string) (*imapclient.Client, uint32, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, 0, err
	}

	data, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		return nil, 0, fmt.Errorf("selecting %s: %w", mailbox, err)
	}
	return client, data.UIDValidity, nil
}

// ListMessages searches the mailbox for messages received after q.After.
// A non-empty q.LabelID names the mailbox to search. The returned ids
// carry the mailbox so later fetches select the same one.
func (c *Client) ListMessages(ctx context.Context, _ string, q source.Query) ([]model.MessageRef, error) {
	mailbox := c.mailbox
	if q.LabelID != "" {
		mailbox = q.LabelID
	}

	client, validity, err := c.session(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	searchData, err := client.UIDSearch(searchCriteria(q), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", mailbox, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:           true,
		InternalDate:  true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	})
	defer fetchCmd.Close()

	var refs []model.MessageRef
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("collecting search results: %w", err)
		}
		if !matches(q, buf.InternalDate, buf.BodyStructure) {
			continue
		}
		refs = append(refs, model.MessageRef{ID: FormatMessageID(mailbox, validity, buf.UID)})
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching search results: %w", err)
	}
	return refs, nil
}

// GetMessage fetches and parses the message with the given id.
func (c *Client) GetMessage(ctx context.Context, _ string, messageID string) (*model.Message, error) {
	raw, uid, internalDate, err := c.fetchRaw(ctx, messageID)
	if err != nil {
		return nil, err
	}

	msg, err := mimemsg.Parse(messageID, raw)
	if err != nil {
		return nil, fmt.Errorf("parsing message %s: %w", messageID, err)
	}
	msg.HistoryID = uint64(uid)
	msg.InternalDate = internalDate.UTC()
	return msg, nil
}

// GetAttachment returns the decoded part attachmentID re-encoded as
// URL-safe base64.
func (c *Client) GetAttachment(ctx context.Context, _ string, messageID, attachmentID string) (string, error) {
	raw, _, _, err := c.fetchRaw(ctx, messageID)
	if err != nil {
		return "", err
	}

	data, err := mimemsg.EncodedPartBody(raw, attachmentID)
	if err != nil {
		return "", fmt.Errorf("attachment %s of %s: %w", attachmentID, messageID, err)
	}
	return data, nil
}

func (c *Client) fetchRaw(ctx context.Context, messageID string) ([]byte, imap.UID, time.Time, error) {
	mailbox, validity, uid, err := ParseMessageID(messageID)
	if err != nil {
		return nil, 0, time.Time{}, err
	}

	client, current, err := c.session(ctx, mailbox)
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if current != validity {
		return nil, 0, time.Time{}, fmt.Errorf("message %s: mailbox UIDVALIDITY changed to %d", messageID, current)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, 0, time.Time{}, fmt.Errorf("message %s not found", messageID)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("collecting message %s: %w", messageID, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, 0, time.Time{}, fmt.Errorf("message %s has no body", messageID)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("closing fetch: %w", err)
	}
	return raw, buf.UID, buf.InternalDate, nil
}

// FormatMessageID builds the stable id "<mailbox>:<uidvalidity>:<uid>".
func FormatMessageID(mailbox string, validity uint32, uid imap.UID) string {
	return mailbox + ":" + strconv.FormatUint(uint64(validity), 10) + ":" + strconv.FormatUint(uint64(uid), 10)
}

// ParseMessageID is the inverse of FormatMessageID. The mailbox name may
// itself contain colons; the last two fields are always numeric.
func ParseMessageID(id string) (string, uint32, imap.UID, error) {
	rest, u, ok := cutLast(id, ":")
	if !ok {
		return "", 0, 0, fmt.Errorf("invalid IMAP message id %q", id)
	}
	mailbox, v, ok := cutLast(rest, ":")
	if !ok || mailbox == "" {
		return "", 0, 0, fmt.Errorf("invalid IMAP message id %q: missing mailbox", id)
	}
	validity, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid UIDVALIDITY in %q: %w", id, err)
	}
	uid, err := strconv.ParseUint(u, 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid UID in %q: %w", id, err)
	}
	if uid == 0 {
		return "", 0, 0, fmt.Errorf("invalid UID in %q: %w", id, errZeroUID)
	}
	return mailbox, uint32(validity), imap.UID(uid), nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// searchCriteria renders the server-side part of q. SINCE compares
// dates only, in each message's own zone, so the bound is widened by a
// day and matches makes it exact.
func searchCriteria(q source.Query) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if !q.After.IsZero() {
		criteria.Since = q.After.AddDate(0, 0, -1)
	}
	return criteria
}

// matches applies the parts of q that IMAP SEARCH cannot express.
func matches(q source.Query, internalDate time.Time, bs imap.BodyStructure) bool {
	if !q.After.IsZero() && !internalDate.After(q.After) {
		return false
	}
	if q.HasAttachment && !hasAttachment(bs) {
		return false
	}
	return true
}

// hasAttachment reports whether a direct child of a multipart body is
// an attachment.
func hasAttachment(bs imap.BodyStructure) bool {
	mp, ok := bs.(*imap.BodyStructureMultiPart)
	if !ok {
		return false
	}
	for _, child := range mp.Children {
		if sp, ok := child.(*imap.BodyStructureSinglePart); ok && sp.Filename() != "" {
			return true
		}
		if d := child.Disposition(); d != nil && strings.EqualFold(d.Value, "attachment") {
			return true
		}
	}
	return false
}
