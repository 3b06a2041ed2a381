// Package sink delivers extracted attachments to their destinations.
// Sinks are independent: each is enabled on its own and a failure in
// one does not affect the others.
package sink

import (
	"context"
	"strings"

	"github.com/nhle/mailingest/internal/model"
)

// Document is a decoded attachment together with the message facts a
// sink needs to file it.
type Document struct {
	MessageID   string
	SenderEmail string
	Subject     string
	// Phrase is the subject phrase that matched, if any.
	Phrase     string
	Attachment model.AttachmentRef
	Data       []byte
}

// Sink receives documents.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, doc Document) error
}

// sanitize keeps characters that are safe in a file name and replaces
// everything else with '_'.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '@', r == '.', r == '_', r == '+', r == '-':
			return r
		}
		return '_'
	}, s)
}
