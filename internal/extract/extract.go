// Package extract locates a message's attachment and retrieves its
// decoded payload from the mail source.
package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/source"
)

// LocateAttachment returns the first direct part carrying an attachment
// id. Nested multiparts are not searched.
func LocateAttachment(msg *model.Message) (model.AttachmentRef, bool) {
	if msg == nil {
		return model.AttachmentRef{}, false
	}
	for _, p := range msg.Parts {
		if p.AttachmentID == "" {
			continue
		}
		return model.AttachmentRef{
			ID:        p.AttachmentID,
			Filename:  p.Filename,
			Extension: path.Ext(p.Filename),
			MIMEType:  p.MIMEType,
		}, true
	}
	return model.AttachmentRef{}, false
}

// Extractor fetches attachment payloads for one mailbox user.
type Extractor struct {
	src    source.Source
	userID string
}

// New returns an Extractor reading from src on behalf of userID.
func New(src source.Source, userID string) *Extractor {
	return &Extractor{src: src, userID: userID}
}

// FetchBytes retrieves the attachment and decodes it to raw bytes.
func (e *Extractor) FetchBytes(ctx context.Context, messageID string, ref model.AttachmentRef) ([]byte, error) {
	encoded, err := e.src.GetAttachment(ctx, e.userID, messageID, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching attachment %s: %w", ref.ID, err)
	}

	data, err := Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment %s: %w", ref.ID, err)
	}
	return data, nil
}

// Decode accepts URL-safe base64 with or without padding.
func Decode(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasSuffix(encoded, "=") {
		return base64.URLEncoding.DecodeString(encoded)
	}
	return base64.RawURLEncoding.DecodeString(encoded)
}
