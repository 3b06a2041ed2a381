package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/source"
)

const provider = "gmail"

// Client implements source.Source on the Gmail REST API.
type Client struct {
	srv *gmail.Service
}

var _ source.Source = (*Client)(nil)

// NewClient creates a Gmail client that sends requests through
// httpClient, which must already carry OAuth credentials.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return &Client{srv: srv}, nil
}

// OAuthConfig reads an OAuth client secret file for read-only Gmail access.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	return cfg, nil
}

// ListMessages pages through every message matching q.
func (c *Client) ListMessages(ctx context.Context, userID string, q source.Query) ([]model.MessageRef, error) {
	call := c.srv.Users.Messages.List(userID).Q(q.String())
	if q.LabelID != "" {
		call = call.LabelIds(q.LabelID)
	}

	var refs []model.MessageRef
	err := call.Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
		for _, m := range resp.Messages {
			refs = append(refs, model.MessageRef{ID: m.Id})
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(err, "listing messages")
	}
	return refs, nil
}

// GetMessage fetches a message in full format and keeps its headers and
// direct payload parts.
func (c *Client) GetMessage(ctx context.Context, userID, messageID string) (*model.Message, error) {
	msg, err := c.srv.Users.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err, "getting message "+messageID)
	}
	return convertMessage(msg), nil
}

// GetAttachment returns the attachment body exactly as Gmail sends it,
// URL-safe base64.
func (c *Client) GetAttachment(ctx context.Context, userID, messageID, attachmentID string) (string, error) {
	body, err := c.srv.Users.Messages.Attachments.Get(userID, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return "", wrapErr(err, "getting attachment of "+messageID)
	}
	return body.Data, nil
}

func convertMessage(msg *gmail.Message) *model.Message {
	out := &model.Message{
		ID:        msg.Id,
		HistoryID: msg.HistoryId,
	}
	if msg.InternalDate > 0 {
		out.InternalDate = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return out
	}

	for _, h := range msg.Payload.Headers {
		out.Headers = append(out.Headers, model.Header{Name: h.Name, Value: h.Value})
	}
	for _, p := range msg.Payload.Parts {
		part := model.Part{
			PartID:   p.PartId,
			Filename: p.Filename,
			MIMEType: p.MimeType,
		}
		if p.Body != nil {
			part.AttachmentID = p.Body.AttachmentId
		}
		out.Parts = append(out.Parts, part)
	}
	return out
}

// wrapErr turns 401/403 responses into source.AuthError.
func wrapErr(err error, action string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) &&
		(gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return &source.AuthError{
			Provider: provider,
			Message:  fmt.Sprintf("%s: %s", action, gerr.Message),
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}
