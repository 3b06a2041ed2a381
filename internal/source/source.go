package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailingest/internal/model"
)

// AuthError indicates that authentication has failed or expired for a
// mail source. It is fatal for a run.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Query selects candidate messages.
type Query struct {
	// After restricts results to messages received after this instant.
	// Zero means unbounded.
	After time.Time

	// HasAttachment restricts results to messages with attachments.
	HasAttachment bool

	// LabelID scopes the query to a provider label or folder.
	LabelID string
}

// String renders the query in Gmail search syntax, e.g.
// "has:attachment after:1672531200". The label is not part of it.
func (q Query) String() string {
	var terms []string
	if q.HasAttachment {
		terms = append(terms, "has:attachment")
	}
	if !q.After.IsZero() {
		terms = append(terms, "after:"+strconv.FormatInt(q.After.Unix(), 10))
	}
	return strings.Join(terms, " ")
}

// Source is the mail provider contract consumed by the ingestion run.
type Source interface {
	// ListMessages returns references to every message matching q.
	ListMessages(ctx context.Context, userID string, q Query) ([]model.MessageRef, error)

	// GetMessage fetches headers and top-level parts of one message.
	GetMessage(ctx context.Context, userID, messageID string) (*model.Message, error)

	// GetAttachment returns an attachment payload in URL-safe base64.
	GetAttachment(ctx context.Context, userID, messageID, attachmentID string) (string, error)
}
